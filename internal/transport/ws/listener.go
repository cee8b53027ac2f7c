package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"ordersync-go/internal/domain/auth/model"
	"ordersync-go/internal/domain/eventbus"
	platformerrors "ordersync-go/internal/platform/errors"
	"ordersync-go/internal/util"
)

// State is the lifecycle state of a Listener.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateErrored
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateErrored:
		return "ERRORED"
	case StateShutDown:
		return "SHUT_DOWN"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Channel names the logical subscriptions of a Listener.
type Channel string

const (
	ChannelKDS           Channel = "kds"
	ChannelOrderChanges  Channel = "order-changes"
	ChannelNotifications Channel = "notifications"
	ChannelSteering      Channel = "steering"
)

// Destination builds "/{channel}/{tenant}/{scope}".
func Destination(ch Channel, tenant, scope string) string {
	return "/" + string(ch) + "/" + tenant + "/" + scope
}

// MessageHandler consumes one message body. A returned error drops the
// message; it never affects the connection.
type MessageHandler func(ctx context.Context, body []byte) error

// Handlers are the callbacks of a Listener. Nil message handlers skip the
// corresponding subscription.
type Handlers struct {
	// OnConnected runs after the handshake and before subscribing.
	OnConnected    func(ctx context.Context, accessToken string)
	OnDisconnect   func()
	OnAuthFailure  func()
	OnKDS          MessageHandler
	OnOrderChange  MessageHandler
	OnNotification MessageHandler
	OnSteering     MessageHandler
}

// Config describes one event connection.
type Config struct {
	// BaseURL is the ordering API root; the broker lives at its
	// websocket equivalent plus "/websocket".
	BaseURL string
	// BrokerURL overrides the derived broker address.
	BrokerURL string
	Tenant    string
	Venue     string
	KDS       bool
	Steering  bool

	ReconnectDelay    time.Duration
	BrokerErrorDelay  time.Duration
	HandshakeTimeout  time.Duration
	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration
	TokenRetry        util.RetryPolicy
}

// BrokerURL derives the broker address from a base URL: https becomes wss,
// http becomes ws, and "/websocket" is appended.
func BrokerURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss", "":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	return u.String(), nil
}

// Option customises a Listener.
type Option func(*Listener)

// WithBus publishes lifecycle events on bus.
func WithBus(bus eventbus.Publisher) Option {
	return func(l *Listener) {
		if bus != nil {
			l.bus = bus
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(l *Listener) {
		if d != nil {
			l.dialer = d
		}
	}
}

// Listener keeps one supervised STOMP session per tenant and venue alive.
type Listener struct {
	cfg       Config
	brokerURL string
	provider  model.CredentialProvider
	handlers  Handlers
	logger    Logger
	bus       eventbus.Publisher
	dialer    *websocket.Dialer

	state      atomic.Int32
	stateSince atomic.Int64
	sessions   atomic.Int64
	conn       atomic.Pointer[Connection]

	mu       sync.Mutex
	running  bool
	disposed bool
	cancel   context.CancelFunc
	done     chan struct{}
	exitErr  error
}

// Logger provides the minimal logging contract required by the transport.
type Logger = model.Logger

// NewListener validates cfg and builds an idle Listener.
func NewListener(cfg Config, provider model.CredentialProvider, handlers Handlers, logger Logger, opts ...Option) (*Listener, error) {
	if provider == nil {
		return nil, errors.New("event connection requires a credential provider")
	}
	if logger == nil {
		return nil, errors.New("event connection requires a logger")
	}
	if cfg.Tenant == "" {
		return nil, errors.New("event connection requires a tenant")
	}
	if cfg.KDS && cfg.Venue == "" {
		return nil, errors.New("kitchen display mode requires a venue")
	}

	brokerURL := cfg.BrokerURL
	if brokerURL == "" {
		derived, err := BrokerURL(cfg.BaseURL)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "ws.broker_url", "invalid base url", err)
		}
		brokerURL = derived
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.TokenRetry.MaxAttempts <= 0 && cfg.TokenRetry.Base <= 0 {
		cfg.TokenRetry = util.DefaultTokenRetry
	}

	l := &Listener{
		cfg:       cfg,
		brokerURL: brokerURL,
		provider:  provider,
		handlers:  handlers,
		logger:    logger,
		bus:       eventbus.Discard,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.stateSince.Store(time.Now().UnixNano())
	return l, nil
}

// Tenant is the tenant this listener serves.
func (l *Listener) Tenant() string { return l.cfg.Tenant }

// Venue is the venue this listener serves.
func (l *Listener) Venue() string { return l.cfg.Venue }

// URL is the broker address.
func (l *Listener) URL() string { return l.brokerURL }

// State returns the current lifecycle state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// StateSince is when the current state was entered.
func (l *Listener) StateSince() time.Time {
	return time.Unix(0, l.stateSince.Load())
}

// Sessions counts successful handshakes.
func (l *Listener) Sessions() int64 {
	return l.sessions.Load()
}

// LastActive is when the open session last sent or received a frame. It is
// the zero time while no session is open.
func (l *Listener) LastActive() time.Time {
	conn := l.conn.Load()
	if conn == nil || conn.IsClosed() {
		return time.Time{}
	}
	return conn.LastActive()
}

// Running reports whether the supervisor is active.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done is closed when the current supervisor exits. It returns nil when
// Connect has never been called.
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err reports why the last supervisor exited: ErrAuthFailure or ErrShutDown.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exitErr
}

// Connect starts supervising the connection in the background and returns
// the disposer. Cancelling ctx has the same effect as calling the disposer.
// The disposer never blocks, so handlers and OnAuthFailure may call it.
// After an auth failure Connect may be called again.
func (l *Listener) Connect(ctx context.Context) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed {
		return nil, ErrShutDown
	}
	if l.running {
		return nil, ErrAlreadyConnected
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	l.exitErr = nil

	go l.supervise(runCtx, l.done)
	return l.Dispose, nil
}

// Dispose deactivates the connection and stops any pending reconnect
// without waiting for the supervisor. It is safe to call more than once and
// from inside handlers.
func (l *Listener) Dispose() {
	l.mu.Lock()
	l.disposed = true
	cancel, running := l.cancel, l.running
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// a running supervisor records SHUT_DOWN itself on exit
	if !running && l.State() != StateShutDown {
		l.setState(StateShutDown, "disposed")
	}
}

// Wait blocks until the current supervisor has exited and returns Err.
// It must not be called from a handler.
func (l *Listener) Wait() error {
	if done := l.Done(); done != nil {
		<-done
	}
	return l.Err()
}

// Close disposes the connection and waits for the supervisor to exit.
func (l *Listener) Close() {
	l.Dispose()
	_ = l.Wait()
}

type outcome int

const (
	outcomeCancelled outcome = iota
	outcomeClosed
	outcomeBrokerError
	outcomeDialFailed
)

func (l *Listener) supervise(ctx context.Context, done chan struct{}) {
	exitErr := ErrShutDown
	defer func() {
		l.mu.Lock()
		disposed := l.disposed
		if disposed {
			exitErr = ErrShutDown
		}
		l.running = false
		l.exitErr = exitErr
		l.mu.Unlock()

		if disposed && l.State() != StateShutDown {
			l.setState(StateShutDown, "disposed")
		}
		close(done)

		// runs after done so the callback may dispose, wait or reconnect
		if exitErr == ErrAuthFailure && l.handlers.OnAuthFailure != nil {
			l.handlers.OnAuthFailure()
		}
	}()

	for {
		l.setState(StateConnecting, "")
		access, err := l.awaitToken(ctx)
		if ctx.Err() != nil {
			// a credential obtained after disposal is discarded
			l.setState(StateShutDown, "disposed")
			return
		}
		if err != nil {
			exitErr = ErrAuthFailure
			l.logger.Error("no access token for %s after %d attempts, manual authorisation required",
				l.cfg.Tenant, l.cfg.TokenRetry.MaxAttempts)
			l.publish(eventbus.EventConnectionAuthFailure, eventbus.ConnectionEvent{Reason: "credential unavailable", Err: err})
			l.setState(StateDisconnected, "auth failure")
			return
		}

		var delay time.Duration
		switch l.runSession(ctx, access) {
		case outcomeCancelled:
			l.setState(StateShutDown, "disposed")
			return
		case outcomeBrokerError:
			l.setState(StateErrored, "broker error")
			delay = l.cfg.BrokerErrorDelay
		case outcomeClosed, outcomeDialFailed:
			l.setState(StateDisconnected, "connection lost")
			delay = l.cfg.ReconnectDelay
		}

		if err := util.Sleep(ctx, delay); err != nil {
			l.setState(StateShutDown, "disposed")
			return
		}
	}
}

// awaitToken asks the provider until it yields a token or the retry budget
// is used up.
func (l *Listener) awaitToken(ctx context.Context) (model.AccessData, error) {
	policy := l.cfg.TokenRetry
	for attempt := 1; ; attempt++ {
		access := l.provider(ctx)
		if ctx.Err() != nil {
			return model.AccessData{}, ctx.Err()
		}
		if !access.Empty() {
			return access, nil
		}
		if policy.Exhausted(attempt) {
			return model.AccessData{}, platformerrors.New(platformerrors.KindCredentialUnavailable, "ws.await_token",
				fmt.Sprintf("no token after %d attempts", attempt))
		}
		l.logger.Warn("no access token for %s yet, retrying (attempt %d)", l.cfg.Tenant, attempt)
		l.publish(eventbus.EventConnectionError, eventbus.ConnectionEvent{
			Reason: fmt.Sprintf("no token, backoff attempt %d", attempt),
		})
		if err := policy.Wait(ctx, attempt); err != nil {
			return model.AccessData{}, err
		}
	}
}

func (l *Listener) runSession(ctx context.Context, access model.AccessData) outcome {
	conn, stompConn, err := l.dial(ctx, access.Token)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		if conn != nil {
			if msg, ok := conn.BrokerMessage(); ok {
				l.logger.Error("broker rejected connection for %s: %s", l.cfg.Tenant, msg)
				l.publish(eventbus.EventConnectionBrokerError, eventbus.ConnectionEvent{Reason: msg})
				return outcomeBrokerError
			}
		}
		l.logger.Warn("connect to %s failed: %v", l.brokerURL, err)
		l.publish(eventbus.EventConnectionError, eventbus.ConnectionEvent{Reason: "connect failed", Err: err})
		return outcomeDialFailed
	}

	l.sessions.Add(1)
	l.conn.Store(conn)
	l.setState(StateConnected, "")
	l.publish(eventbus.EventConnectionConnected, eventbus.ConnectionEvent{})
	l.logger.Info("event connection established for %s/%s", l.cfg.Tenant, l.cfg.Venue)

	sessionDone := make(chan struct{})
	var pumps sync.WaitGroup
	teardown := func() {
		close(sessionDone)
		l.conn.CompareAndSwap(conn, nil)
		_ = stompConn.MustDisconnect()
		_ = conn.Close()
		pumps.Wait()
		if l.handlers.OnDisconnect != nil {
			l.handlers.OnDisconnect()
		}
	}

	if l.handlers.OnConnected != nil {
		l.handlers.OnConnected(ctx, access.Token)
	}

	for _, sub := range l.subscriptions(access.Subject) {
		subscription, err := stompConn.Subscribe(sub.destination, stomp.AckAuto, sub.opts...)
		if err != nil {
			l.logger.Warn("subscribe to %s failed: %v", sub.destination, err)
			continue
		}
		pumps.Add(1)
		go func(s subscriptionSpec, c <-chan *stomp.Message) {
			defer pumps.Done()
			l.pump(ctx, s, c, sessionDone)
		}(sub, subscription.C)
	}

	select {
	case <-ctx.Done():
		teardown()
		return outcomeCancelled
	case <-conn.BrokerError():
		msg, _ := conn.BrokerMessage()
		l.logger.Error("broker error on %s: %s", l.brokerURL, msg)
		l.publish(eventbus.EventConnectionBrokerError, eventbus.ConnectionEvent{Reason: msg})
		teardown()
		return outcomeBrokerError
	case <-conn.Done():
		teardown()
		if msg, ok := conn.BrokerMessage(); ok {
			l.publish(eventbus.EventConnectionBrokerError, eventbus.ConnectionEvent{Reason: msg})
			return outcomeBrokerError
		}
		l.logger.Warn("event connection for %s closed: %v", l.cfg.Tenant, conn.Err())
		l.publish(eventbus.EventConnectionClosed, eventbus.ConnectionEvent{Reason: "socket closed", Err: conn.Err()})
		return outcomeClosed
	}
}

func (l *Listener) dial(ctx context.Context, token string) (*Connection, *stomp.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
	defer cancel()

	socket, resp, err := l.dialer.DialContext(dialCtx, l.brokerURL, nil)
	if err != nil {
		if resp != nil {
			return nil, nil, platformerrors.Wrap(platformerrors.KindNetwork, "ws.dial",
				fmt.Sprintf("handshake rejected with status %d", resp.StatusCode), err)
		}
		return nil, nil, platformerrors.Wrap(platformerrors.KindNetwork, "ws.dial", "dial failed", err)
	}

	conn := NewConnection(socket)
	_ = conn.SetReadDeadline(time.Now().Add(l.cfg.HandshakeTimeout))

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Login(token, ""),
		stomp.ConnOpt.HeartBeat(l.cfg.HeartbeatOutgoing, l.cfg.HeartbeatIncoming),
	}
	if u, err := url.Parse(l.brokerURL); err == nil && u.Hostname() != "" {
		opts = append(opts, stomp.ConnOpt.Host(u.Hostname()))
	}

	stompConn, err := stomp.Connect(conn, opts...)
	if err != nil {
		_ = conn.Close()
		kind := platformerrors.KindNetwork
		if _, ok := conn.BrokerMessage(); ok {
			kind = platformerrors.KindBroker
		}
		return conn, nil, platformerrors.Wrap(kind, "ws.stomp_connect", "stomp handshake failed", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, stompConn, nil
}

type subscriptionSpec struct {
	channel     Channel
	destination string
	handler     MessageHandler
	opts        []func(*frame.Frame) error
}

func (l *Listener) subscriptions(subject string) []subscriptionSpec {
	var venueOpts []func(*frame.Frame) error
	if l.cfg.Venue != "" {
		venueOpts = append(venueOpts, stomp.SubscribeOpt.Header("x-venue", l.cfg.Venue))
	}

	var specs []subscriptionSpec
	if l.cfg.KDS && l.handlers.OnKDS != nil {
		specs = append(specs, subscriptionSpec{
			channel:     ChannelKDS,
			destination: Destination(ChannelKDS, l.cfg.Tenant, l.cfg.Venue),
			handler:     l.handlers.OnKDS,
		})
	}
	if l.handlers.OnOrderChange != nil {
		specs = append(specs, subscriptionSpec{
			channel:     ChannelOrderChanges,
			destination: Destination(ChannelOrderChanges, l.cfg.Tenant, subject),
			handler:     l.handlers.OnOrderChange,
			opts:        venueOpts,
		})
	}
	if l.handlers.OnNotification != nil {
		specs = append(specs, subscriptionSpec{
			channel:     ChannelNotifications,
			destination: Destination(ChannelNotifications, l.cfg.Tenant, subject),
			handler:     l.handlers.OnNotification,
			opts:        venueOpts,
		})
	}
	if l.cfg.Steering && l.cfg.Venue != "" && l.handlers.OnSteering != nil {
		specs = append(specs, subscriptionSpec{
			channel:     ChannelSteering,
			destination: Destination(ChannelSteering, l.cfg.Tenant, l.cfg.Venue),
			handler:     l.handlers.OnSteering,
		})
	}
	return specs
}

func (l *Listener) pump(ctx context.Context, s subscriptionSpec, c <-chan *stomp.Message, sessionDone <-chan struct{}) {
	for {
		select {
		case <-sessionDone:
			return
		case msg, ok := <-c:
			if !ok {
				return
			}
			if msg.Err != nil {
				l.logger.Debug("subscription %s ended: %v", s.destination, msg.Err)
				continue
			}
			l.dispatch(ctx, s, msg.Body)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, s subscriptionSpec, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("handler for %s panicked: %v", s.destination, r)
			l.publish(eventbus.EventMessageDropped, eventbus.ConnectionEvent{
				Channel: string(s.channel),
				Reason:  fmt.Sprintf("handler panic: %v", r),
			})
		}
	}()

	if err := s.handler(ctx, body); err != nil {
		l.logger.Warn("dropped message on %s: %v", s.destination, err)
		l.publish(eventbus.EventMessageDropped, eventbus.ConnectionEvent{
			Channel: string(s.channel),
			Reason:  "handler rejected message",
			Err:     err,
		})
	}
}

func (l *Listener) setState(s State, reason string) {
	l.state.Store(int32(s))
	l.stateSince.Store(time.Now().UnixNano())
	l.publish(eventbus.EventConnectionState, eventbus.ConnectionEvent{State: s.String(), Reason: reason})
}

func (l *Listener) publish(topic string, ev eventbus.ConnectionEvent) {
	ev.Tenant = l.cfg.Tenant
	ev.Venue = l.cfg.Venue
	if ev.State == "" {
		ev.State = l.State().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	l.bus.Publish(topic, ev)
}
