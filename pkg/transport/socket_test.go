package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletsync/pkg/config"
	"walletsync/pkg/model"
)

// pushServer is a minimal backend: it records inbound envelopes and can
// broadcast to every connected client.
type pushServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	received chan model.Envelope
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{received: make(chan model.Envelope, 16)}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := ps.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, c)
		ps.accepted++
		ps.mu.Unlock()
		for {
			var msg model.Envelope
			if err := c.ReadJSON(&msg); err != nil {
				return
			}
			ps.received <- msg
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http")
}

func (ps *pushServer) connCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.accepted
}

// kick closes every server-side connection, as a backend restart would.
func (ps *pushServer) kick() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, c := range ps.conns {
		_ = c.Close()
	}
	ps.conns = nil
}

func (ps *pushServer) emit(t *testing.T, event string, payload interface{}) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, c := range ps.conns {
		require.NoError(t, c.WriteJSON(model.Envelope{Type: event, Payload: b}))
	}
}

func newTestSocket(ps *pushServer) *Socket {
	cfg := config.New()
	cfg.Set(config.Config{SocketURL: ps.wsURL(), RequestTimeout: "2s"})
	s := NewSocket(cfg)
	s.RetryDelay = 20 * time.Millisecond
	return s
}

func TestSocketConnectIsIdempotent(t *testing.T) {
	ps := newPushServer(t)
	s := newTestSocket(ps)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Connect(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, ps.connCount())
	assert.True(t, s.Connected())
}

func TestSocketSendKey(t *testing.T) {
	ps := newPushServer(t)
	s := newTestSocket(ps)
	defer s.Close()

	res := s.SendKey(context.Background(), model.KeyPayload{UserID: "u1", KeyType: model.KeyTypeEnter, Keys: "\n"})
	require.True(t, res.Success, res.Error)

	select {
	case msg := <-ps.received:
		assert.Equal(t, model.EventSendKey, msg.Type)
		var p model.KeyPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, "u1", p.UserID)
		assert.Equal(t, model.KeyTypeEnter, p.KeyType)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive sendKey")
	}
}

func TestSocketSendKeyUnreachable(t *testing.T) {
	ps := newPushServer(t)
	s := newTestSocket(ps)
	ps.Close()

	res := s.SendKey(context.Background(), model.KeyPayload{UserID: "u1"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "socket connect")
}

func TestSocketSendAfterClose(t *testing.T) {
	ps := newPushServer(t)
	s := newTestSocket(ps)
	require.NoError(t, s.Close())

	res := s.SendKey(context.Background(), model.KeyPayload{UserID: "u1"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrClosed.Error())
}

func TestSocketSubscribersAreIndependent(t *testing.T) {
	ps := newPushServer(t)
	s := newTestSocket(ps)
	defer s.Close()

	first := make(chan json.RawMessage, 4)
	second := make(chan json.RawMessage, 4)
	unsubFirst := s.Subscribe("showMacModal", func(p json.RawMessage) { first <- p })
	_ = s.Subscribe("showMacModal", func(p json.RawMessage) { second <- p })

	require.Eventually(t, func() bool { return ps.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	ps.emit(t, "showMacModal", map[string]string{"user_id": "u1"})

	for _, ch := range []chan json.RawMessage{first, second} {
		select {
		case p := <-ch:
			assert.JSONEq(t, `{"user_id":"u1"}`, string(p))
		case <-time.After(2 * time.Second):
			t.Fatal("listener not called")
		}
	}

	unsubFirst()
	unsubFirst()
	ps.emit(t, "showMacModal", map[string]string{"user_id": "u2"})

	select {
	case p := <-second:
		assert.JSONEq(t, `{"user_id":"u2"}`, string(p))
	case <-time.After(2 * time.Second):
		t.Fatal("remaining listener not called")
	}
	select {
	case <-first:
		t.Fatal("unsubscribed listener was called")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocketRedialsForListeners(t *testing.T) {
	ps := newPushServer(t)
	s := newTestSocket(ps)
	defer s.Close()

	got := make(chan json.RawMessage, 4)
	s.Subscribe("showMacModal", func(p json.RawMessage) { got <- p })
	require.Eventually(t, func() bool { return ps.connCount() == 1 && s.Connected() }, 2*time.Second, 10*time.Millisecond)

	ps.kick()
	require.Eventually(t, func() bool { return ps.connCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)

	ps.emit(t, "showMacModal", map[string]string{"user_id": "u1"})
	select {
	case p := <-got:
		assert.JSONEq(t, `{"user_id":"u1"}`, string(p))
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called after reconnect")
	}
}

func TestSocketDoesNotRedialWithoutListeners(t *testing.T) {
	ps := newPushServer(t)
	s := newTestSocket(ps)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return ps.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ps.kick()
	require.Eventually(t, func() bool { return !s.Connected() }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(10 * s.RetryDelay)
	assert.Equal(t, 1, ps.connCount())
}

func TestSocketIgnoresOtherEvents(t *testing.T) {
	ps := newPushServer(t)
	s := newTestSocket(ps)
	defer s.Close()

	called := make(chan struct{}, 1)
	s.Subscribe("showMacModal", func(json.RawMessage) { called <- struct{}{} })
	require.Eventually(t, func() bool { return ps.connCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ps.emit(t, "somethingElse", map[string]string{})
	select {
	case <-called:
		t.Fatal("listener called for another event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryHandleIdentity(t *testing.T) {
	r := newRegistry()
	fn := func(json.RawMessage) {}
	a := r.add("e", fn)
	b := r.add("e", fn)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.len())

	r.remove("e", a)
	assert.Len(t, r.handlers("e"), 1)
	r.remove("e", b)
	assert.Equal(t, 0, r.len())
	r.remove("missing", "x")
}
