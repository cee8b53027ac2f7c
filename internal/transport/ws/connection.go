package ws

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

var errorCommand = []byte("ERROR")

// Connection adapts a gorilla websocket to the byte stream the STOMP codec
// expects. Each outgoing write becomes one text message; incoming messages
// are concatenated. An incoming ERROR frame is recorded so the caller can
// tell a broker rejection from a network failure.
type Connection struct {
	socket *websocket.Conn

	rmu       sync.Mutex
	reader    io.Reader
	sniffing  bool
	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	readErr   atomic.Pointer[error]

	brokerOnce sync.Once
	brokerErr  chan struct{}
	brokerMsg  atomic.Pointer[string]

	lastActive atomic.Int64
}

// NewConnection wraps socket.
func NewConnection(socket *websocket.Conn) *Connection {
	conn := &Connection{
		socket:    socket,
		done:      make(chan struct{}),
		brokerErr: make(chan struct{}),
	}
	conn.touch()
	return conn
}

// Read implements io.Reader over consecutive websocket messages.
func (c *Connection) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if c.reader == nil {
			messageType, r, err := c.socket.NextReader()
			if err != nil {
				c.fail(err)
				return 0, err
			}
			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
			c.sniffing = true
			c.touch()
		}

		n, err := c.reader.Read(p)
		if n > 0 && c.sniffing {
			c.sniff(p[:n])
		}
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			c.fail(err)
		}
		return n, err
	}
}

// sniff inspects the start of a message for an ERROR frame. Leading EOLs
// are heart-beats.
func (c *Connection) sniff(chunk []byte) {
	trimmed := bytes.TrimLeft(chunk, "\r\n")
	if len(trimmed) == 0 {
		return
	}
	c.sniffing = false

	if !bytes.HasPrefix(trimmed, errorCommand) {
		return
	}
	rest := trimmed[len(errorCommand):]
	if len(rest) > 0 && rest[0] != '\n' && rest[0] != '\r' {
		return
	}

	msg := brokerMessage(rest)
	c.brokerMsg.Store(&msg)
	c.brokerOnce.Do(func() { close(c.brokerErr) })
}

// brokerMessage extracts the "message" header of an ERROR frame.
func brokerMessage(frame []byte) string {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("message:")) {
			return string(line[len("message:"):])
		}
	}
	return "broker error"
}

// Write sends p as one text message.
func (c *Connection) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	if err := c.socket.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	c.touch()
	return len(p), nil
}

// Close sends a close frame and releases the socket.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.wmu.Lock()
	_ = c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
	c.wmu.Unlock()

	err := c.socket.Close()
	c.closeOnce.Do(func() { close(c.done) })
	return err
}

// Done is closed once the socket failed or was closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection, if any.
func (c *Connection) Err() error {
	if p := c.readErr.Load(); p != nil {
		return *p
	}
	return nil
}

// BrokerError is closed when an ERROR frame has been received.
func (c *Connection) BrokerError() <-chan struct{} {
	return c.brokerErr
}

// BrokerMessage returns the message of the received ERROR frame.
func (c *Connection) BrokerMessage() (string, bool) {
	if p := c.brokerMsg.Load(); p != nil {
		return *p, true
	}
	return "", false
}

// SetReadDeadline bounds the next reads; the zero time clears it.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.socket.SetReadDeadline(t)
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// LastActive is when a message was last sent or received.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) fail(err error) {
	c.readErr.CompareAndSwap(nil, &err)
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}
