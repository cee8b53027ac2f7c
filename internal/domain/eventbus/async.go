package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

// AsyncEventBus delivers published events on a single worker so producers
// never block on slow subscribers. Events keep their publication order.
type AsyncEventBus struct {
	bus      evbus.Bus
	workChan chan asyncEvent
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	pending  sync.WaitGroup
	dropped  atomic.Int64
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// NewAsyncEventBus creates a bus with room for buffer undelivered events.
func NewAsyncEventBus(buffer int) *AsyncEventBus {
	if buffer <= 0 {
		buffer = 1000
	}

	return &AsyncEventBus{
		bus:      evbus.New(),
		workChan: make(chan asyncEvent, buffer),
		stopChan: make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (aeb *AsyncEventBus) Start() {
	aeb.wg.Add(1)
	go aeb.worker()
}

// Stop delivers what is queued and ends the worker.
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() { close(aeb.stopChan) })
	aeb.wg.Wait()
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for {
		select {
		case event := <-aeb.workChan:
			aeb.deliver(event)
		case <-aeb.stopChan:
			for {
				select {
				case event := <-aeb.workChan:
					aeb.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (aeb *AsyncEventBus) deliver(event asyncEvent) {
	defer aeb.pending.Done()
	defer func() {
		// a panicking subscriber must not kill the worker
		_ = recover()
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// Publish queues an event. When the buffer is full the event is dropped.
func (aeb *AsyncEventBus) Publish(topic string, args ...interface{}) {
	select {
	case <-aeb.stopChan:
		aeb.dropped.Add(1)
		return
	default:
	}

	aeb.pending.Add(1)
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		aeb.pending.Done()
		aeb.dropped.Add(1)
	}
}

// PublishSync delivers an event on the caller's goroutine.
func (aeb *AsyncEventBus) PublishSync(topic string, args ...interface{}) {
	aeb.bus.Publish(topic, args...)
}

// Subscribe registers fn for topic.
func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

// Unsubscribe removes fn from topic.
func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

// HasCallback reports whether topic has subscribers.
func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Dropped counts events lost to a full buffer or a stopped bus.
func (aeb *AsyncEventBus) Dropped() int64 {
	return aeb.dropped.Load()
}

// WaitAsync blocks until every queued event has been delivered.
func (aeb *AsyncEventBus) WaitAsync() {
	aeb.pending.Wait()
}
