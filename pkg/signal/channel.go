package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the signaling endpoint a broadcaster dials by default
const DefaultURL = "ws://127.0.0.1:5178/ws/rtc"

// ErrNotConnected is returned by Send when the connection is not open.
var ErrNotConnected = errors.New("signaling channel not connected")

// ConnectError reports a failed initial connect
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Options configures Dial
type Options struct {
	URL    string
	Room   string
	Role   string // defaults to RoleBroadcaster
	Dialer *websocket.Dialer
	Log    *slog.Logger
}

// Endpoint returns the URL with role and room query parameters set
func (o Options) Endpoint() (string, error) {
	raw := o.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	role := o.Role
	if role == "" {
		role = RoleBroadcaster
	}
	q := u.Query()
	q.Set("type", role)
	q.Set("roomId", NormalizeRoomID(o.Room))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Channel is a broadcaster's persistent connection to the signaling
// endpoint. Frames are received by Run in arrival order; Send is safe for
// concurrent use.
type Channel struct {
	conn *websocket.Conn
	id   string
	role string
	log  *slog.Logger

	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
	done    chan struct{}
}

// Dial connects to the endpoint and announces the broadcaster with a Join
// message. Failures are returned as *ConnectError.
func Dial(ctx context.Context, opts Options) (*Channel, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	endpoint, err := opts.Endpoint()
	if err != nil {
		return nil, &ConnectError{URL: opts.URL, Err: err}
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, &ConnectError{URL: endpoint, Err: err}
	}

	role := opts.Role
	if role == "" {
		role = RoleBroadcaster
	}
	c := &Channel{
		conn: conn,
		id:   NormalizeRoomID(opts.Room),
		role: role,
		log:  log.With("component", "signal-channel"),
		done: make(chan struct{}),
	}

	if err := c.Send(TypeJoin, RoleServer, ""); err != nil {
		conn.Close()
		return nil, &ConnectError{URL: endpoint, Err: err}
	}
	c.log.Info("connected to signaling server", "url", endpoint)
	return c, nil
}

// Run reads frames until the connection closes or ctx is cancelled,
// passing each decoded envelope to dispatch. dispatch must not block.
// Malformed frames are logged and dropped.
func (c *Channel) Run(ctx context.Context, dispatch func(Envelope)) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			local := !c.Connected()
			c.shutdown(false)
			if local || ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("signaling connection closed by server")
				return nil
			}
			return fmt.Errorf("signaling read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		dispatch(env)
	}
}

// Send writes one envelope addressed to receiverID. It returns
// ErrNotConnected if the connection is not open; nothing is queued.
func (c *Channel) Send(msgType, receiverID, payload string) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	data, err := Encode(Envelope{
		Type:       msgType,
		SenderID:   c.id,
		SenderType: c.role,
		ReceiverID: receiverID,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s to %s: %w", msgType, receiverID, err)
	}
	return nil
}

// Connected reports whether the connection is open
func (c *Channel) Connected() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return !c.closed
}

// Done is closed once the connection is closed
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close sends a normal closure and closes the connection. Safe to call
// more than once.
func (c *Channel) Close() error {
	return c.shutdown(true)
}

func (c *Channel) shutdown(sendClose bool) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.closeMu.Unlock()

	if sendClose {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	return c.conn.Close()
}
