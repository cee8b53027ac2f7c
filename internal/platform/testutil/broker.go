package testutil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

// BrokerPath is where the broker accepts websocket upgrades.
const BrokerPath = "/websocket"

// Subscription is one SUBSCRIBE frame seen by the broker.
type Subscription struct {
	ID          string
	Destination string
	Headers     map[string]string
}

// Broker is an in-process STOMP 1.2 broker speaking over websocket.
type Broker struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	sessions   map[*brokerSession]struct{}
	logins     []string
	rejectWith func(login string) string

	messageID atomic.Int64
}

type brokerSession struct {
	socket *websocket.Conn
	wmu    sync.Mutex
	mu     sync.Mutex
	subs   map[string]Subscription
	closed atomic.Bool
}

// NewBroker starts a broker that is shut down with the test.
func NewBroker(t *testing.T) *Broker {
	t.Helper()
	b := &Broker{
		t:        t,
		sessions: make(map[*brokerSession]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(BrokerPath, b.handle)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// BaseURL is the http root of the broker, usable as an ordering base URL.
func (b *Broker) BaseURL() string {
	return b.srv.URL
}

// URL is the websocket address of the broker.
func (b *Broker) URL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + BrokerPath
}

// RejectLogins makes CONNECT answer with an ERROR frame whenever fn returns
// a non-empty message. Pass nil to accept every login again.
func (b *Broker) RejectLogins(fn func(login string) string) {
	b.mu.Lock()
	b.rejectWith = fn
	b.mu.Unlock()
}

// Logins lists the login header of every CONNECT frame, in order.
func (b *Broker) Logins() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.logins...)
}

// Connections is the number of live sessions.
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Subscriptions lists the active subscriptions of every live session.
func (b *Broker) Subscriptions() []Subscription {
	var out []Subscription
	for _, s := range b.liveSessions() {
		s.mu.Lock()
		for _, sub := range s.subs {
			out = append(out, sub)
		}
		s.mu.Unlock()
	}
	return out
}

// HasSubscription reports whether destination has a subscriber.
func (b *Broker) HasSubscription(destination string) bool {
	for _, sub := range b.Subscriptions() {
		if sub.Destination == destination {
			return true
		}
	}
	return false
}

// Send delivers body to every subscriber of destination and returns how
// many received it.
func (b *Broker) Send(destination string, body []byte) int {
	delivered := 0
	for _, s := range b.liveSessions() {
		s.mu.Lock()
		var ids []string
		for id, sub := range s.subs {
			if sub.Destination == destination {
				ids = append(ids, id)
			}
		}
		s.mu.Unlock()

		for _, id := range ids {
			f := frame.New(frame.MESSAGE,
				frame.Destination, destination,
				frame.Subscription, id,
				frame.MessageId, strconv.FormatInt(b.messageID.Add(1), 10),
				frame.ContentType, "application/json",
				frame.ContentLength, strconv.Itoa(len(body)),
			)
			f.Body = body
			if err := s.write(f); err == nil {
				delivered++
			}
		}
	}
	return delivered
}

// SendError sends an ERROR frame to every session and closes them.
func (b *Broker) SendError(message string) {
	for _, s := range b.liveSessions() {
		_ = s.write(frame.New(frame.ERROR, frame.Message, message))
		b.drop(s)
	}
}

// DropConnections closes every socket without a STOMP goodbye.
func (b *Broker) DropConnections() {
	for _, s := range b.liveSessions() {
		b.drop(s)
	}
}

// Close stops the broker.
func (b *Broker) Close() {
	b.DropConnections()
	b.srv.Close()
}

// WaitFor polls cond until it holds or fails the test after timeout.
func (b *Broker) WaitFor(timeout time.Duration, cond func() bool, msg string) {
	b.t.Helper()
	Eventually(b.t, timeout, cond, msg)
}

func (b *Broker) liveSessions() []*brokerSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*brokerSession, 0, len(b.sessions))
	for s := range b.sessions {
		out = append(out, s)
	}
	return out
}

func (b *Broker) drop(s *brokerSession) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		_ = s.socket.Close()
	}
}

func (b *Broker) handle(w http.ResponseWriter, r *http.Request) {
	socket, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := &brokerSession{socket: socket, subs: make(map[string]Subscription)}
	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()
	defer b.drop(s)

	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			return
		}
		reader := frame.NewReader(bytes.NewReader(payload))
		for {
			f, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return
			}
			if f == nil {
				continue
			}
			if !b.process(s, f) {
				return
			}
		}
	}
}

// process handles one client frame and reports whether the session stays
// open.
func (b *Broker) process(s *brokerSession, f *frame.Frame) bool {
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		login := f.Header.Get(frame.Login)
		b.mu.Lock()
		b.logins = append(b.logins, login)
		reject := b.rejectWith
		b.mu.Unlock()

		if reject != nil {
			if msg := reject(login); msg != "" {
				_ = s.write(frame.New(frame.ERROR, frame.Message, msg))
				return false
			}
		}
		return s.write(frame.New(frame.CONNECTED,
			frame.Version, "1.2",
			frame.HeartBeat, "0,0",
		)) == nil

	case frame.SUBSCRIBE:
		headers := make(map[string]string, f.Header.Len())
		for i := 0; i < f.Header.Len(); i++ {
			k, v := f.Header.GetAt(i)
			headers[k] = v
		}
		sub := Subscription{
			ID:          f.Header.Get(frame.Id),
			Destination: f.Header.Get(frame.Destination),
			Headers:     headers,
		}
		s.mu.Lock()
		s.subs[sub.ID] = sub
		s.mu.Unlock()

	case frame.UNSUBSCRIBE:
		s.mu.Lock()
		delete(s.subs, f.Header.Get(frame.Id))
		s.mu.Unlock()

	case frame.DISCONNECT:
		if receipt := f.Header.Get(frame.Receipt); receipt != "" {
			_ = s.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
		}
		return false
	}

	if receipt := f.Header.Get(frame.Receipt); receipt != "" {
		_ = s.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
	}
	return true
}

func (s *brokerSession) write(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.socket.WriteMessage(websocket.TextMessage, buf.Bytes())
}
