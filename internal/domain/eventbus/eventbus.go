package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Publisher is the write side handed to producers.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// New creates a synchronous event bus.
func New() evbus.Bus {
	return evbus.New()
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, ...interface{}) {}
