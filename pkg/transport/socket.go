package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"walletsync/pkg/auth"
	"walletsync/pkg/config"
	"walletsync/pkg/model"
)

var (
	ErrClosed       = errors.New("socket closed")
	errNotConnected = errors.New("socket not connected")
)

const defaultRetryDelay = 5 * time.Second

// Socket maintains a single websocket connection to the backend, dialled on
// first use and shared by every sender and subscriber.
type Socket struct {
	cfg    *config.Store
	dialer *websocket.Dialer

	mu     sync.Mutex // guards conn and closed; held while dialling
	conn   *websocket.Conn
	closed bool
	done   chan struct{}

	wmu       sync.Mutex // one writer at a time
	listeners *registry
	redialing atomic.Bool

	RetryDelay time.Duration
}

func NewSocket(cfg *config.Store) *Socket {
	return &Socket{
		cfg:        cfg,
		dialer:     websocket.DefaultDialer,
		done:       make(chan struct{}),
		listeners:  newRegistry(),
		RetryDelay: defaultRetryDelay,
	}
}

// SetTLSConfig makes later dials use tc for wss:// endpoints.
func (c *Socket) SetTLSConfig(tc *tls.Config) {
	d := *websocket.DefaultDialer
	d.TLSClientConfig = tc
	c.mu.Lock()
	c.dialer = &d
	c.mu.Unlock()
}

// Connect dials the backend unless a connection is already open.
func (c *Socket) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}
	endpoint := c.cfg.SocketURL()
	header := http.Header{}
	if tok, err := auth.GenerateService(c.cfg.SecretKey(), c.cfg.TokenTTL()); err == nil {
		header.Set("Authorization", "Bearer "+tok)
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Printf("socket dial failed: %v (url=%s status=%d)", err, endpoint, status)
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	c.conn = conn
	log.Printf("socket connected url=%s", endpoint)
	go c.readLoop(conn)
	return nil
}

// Connected reports whether a connection is currently open.
func (c *Socket) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendKey emits a sendKey event. Like HTTP.SendKey it reports failures in
// the result instead of returning an error.
func (c *Socket) SendKey(ctx context.Context, p model.KeyPayload) model.SendResult {
	payload, err := json.Marshal(p)
	if err != nil {
		return model.Failed(fmt.Errorf("marshal payload: %w", err))
	}
	if err := c.Connect(ctx); err != nil {
		return model.Failed(fmt.Errorf("socket connect: %w", err))
	}
	if err := c.write(model.Envelope{Type: model.EventSendKey, Payload: payload}); err != nil {
		return model.Failed(fmt.Errorf("socket send: %w", err))
	}
	return model.SendResult{Success: true}
}

// Subscribe registers fn for every inbound event named event and makes sure
// a connection is being established. The returned func removes exactly this
// registration and is safe to call more than once.
func (c *Socket) Subscribe(event string, fn Handler) (unsubscribe func()) {
	id := c.listeners.add(event, fn)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout())
		defer cancel()
		if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrClosed) {
			c.redial()
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { c.listeners.remove(event, id) })
	}
}

// Close drops the connection and stops reconnecting. Further sends fail.
func (c *Socket) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return conn.Close()
}

func (c *Socket) write(msg model.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout()))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("socket send failed: %v", err)
		c.drop(conn)
		return err
	}
	return nil
}

func (c *Socket) readLoop(conn *websocket.Conn) {
	for {
		var msg model.Envelope
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		hs := c.listeners.handlers(msg.Type)
		log.Printf("socket recv type=%s listeners=%d", msg.Type, len(hs))
		for _, h := range hs {
			go h(msg.Payload)
		}
	}
	if c.drop(conn) {
		log.Printf("socket disconnected")
		if c.listeners.len() > 0 {
			c.redial()
		}
	}
}

// drop forgets conn if it is still current. It reports whether conn was the
// live connection of an open socket.
func (c *Socket) drop(conn *websocket.Conn) bool {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()
	_ = conn.Close()
	return current && !closed
}

// redial keeps retrying in the background while listeners remain.
func (c *Socket) redial() {
	if !c.redialing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.redialing.Store(false)
		for {
			select {
			case <-c.done:
				return
			case <-time.After(c.RetryDelay):
			}
			if c.listeners.len() == 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout())
			err := c.Connect(ctx)
			cancel()
			if err == nil || errors.Is(err, ErrClosed) {
				return
			}
			log.Printf("socket reconnect failed, retrying in %s", c.RetryDelay)
		}
	}()
}
