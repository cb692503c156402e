package macmodal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletsync/pkg/model"
	"walletsync/pkg/transport"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

// fakeClock records scheduled callbacks; tests expire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

// expire runs every scheduled callback, stopped or not, the way a timer that
// already started its goroutine would.
func (c *fakeClock) expire() {
	for _, t := range c.pending() {
		t.f()
	}
}

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[int]transport.Handler
	next     int
	events   []string
}

func (s *fakeSubscriber) Subscribe(event string, fn transport.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[int]transport.Handler{}
	}
	id := s.next
	s.next++
	s.handlers[id] = fn
	s.events = append(s.events, event)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *fakeSubscriber) push(t *testing.T, payload interface{}) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	s.mu.Lock()
	hs := make([]transport.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(b)
	}
}

func (s *fakeSubscriber) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

type fakeSettings struct {
	s       *model.MacModalSettings
	err     error
	release chan struct{}
}

func (f *fakeSettings) Settings(ctx context.Context, _ string) (*model.MacModalSettings, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.s, f.err
}

type recorder struct {
	mu    sync.Mutex
	fires []Trigger
}

func (r *recorder) onShow(t Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fires = append(r.fires, t)
}

func (r *recorder) all() []Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trigger(nil), r.fires...)
}

func mount(t *testing.T, src SettingsSource, opts Options) (*Engine, *fakeSubscriber, *fakeClock, *recorder) {
	t.Helper()
	sub := &fakeSubscriber{}
	clock := &fakeClock{}
	rec := &recorder{}
	opts.OnShow = rec.onShow
	opts.afterFunc = clock.AfterFunc
	e := Mount(context.Background(), sub, src, "showMacModal", opts)
	t.Cleanup(e.Unmount)
	return e, sub, clock, rec
}

func settingsWith(timing int) *fakeSettings {
	return &fakeSettings{s: &model.MacModalSettings{UserID: "u1", DisplayName: "Alex", TimingSeconds: timing}}
}

func waitState(t *testing.T, e *Engine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State() == want }, time.Second, 5*time.Millisecond,
		"state %s, want %s", e.State(), want)
}

func TestSubscribesImmediately(t *testing.T) {
	src := &fakeSettings{release: make(chan struct{})}
	e, sub, _, _ := mount(t, src, Options{UserID: "u1"})

	assert.Equal(t, []string{"showMacModal"}, sub.events)
	assert.Equal(t, 1, sub.active())
	assert.Equal(t, StateAwaitingSettings, e.State())
	close(src.release)
}

func TestPushWinsOverTimer(t *testing.T) {
	e, sub, clock, rec := mount(t, settingsWith(2), Options{UserID: "u1"})
	waitState(t, e, StateArmed)

	timers := clock.pending()
	require.Len(t, timers, 1)
	assert.Equal(t, 2*time.Second, timers[0].d)

	sub.push(t, map[string]string{"user_id": "u1", "message": "hi"})
	clock.expire()

	fires := rec.all()
	require.Len(t, fires, 1)
	assert.Equal(t, FiredByPush, fires[0].By)
	assert.Equal(t, "Alex", fires[0].DisplayName)
	require.NotNil(t, fires[0].Push)
	assert.Equal(t, "hi", fires[0].Push.Message)
	assert.True(t, timers[0].stopped.Load())
	assert.Equal(t, 0, sub.active())
	assert.Equal(t, StateFired, e.State())
}

func TestTimerFiresWithoutPush(t *testing.T) {
	e, sub, clock, rec := mount(t, settingsWith(2), Options{UserID: "u1"})
	waitState(t, e, StateArmed)

	clock.expire()
	sub.push(t, map[string]string{"user_id": "u1"})

	fires := rec.all()
	require.Len(t, fires, 1)
	assert.Equal(t, FiredByTimer, fires[0].By)
	assert.Nil(t, fires[0].Push)
	by, ok := e.FiredBy()
	assert.True(t, ok)
	assert.Equal(t, FiredByTimer, by)
	assert.Equal(t, 0, sub.active())
}

func TestTimerArmedFromSettingsResolution(t *testing.T) {
	src := settingsWith(5)
	src.release = make(chan struct{})
	e, _, clock, _ := mount(t, src, Options{UserID: "u1"})

	assert.Empty(t, clock.pending())
	close(src.release)
	waitState(t, e, StateArmed)
	assert.Len(t, clock.pending(), 1)
}

func TestZeroTimingArmsImmediateTimer(t *testing.T) {
	e, _, clock, rec := mount(t, settingsWith(0), Options{UserID: "u1"})
	waitState(t, e, StateArmed)
	require.Len(t, clock.pending(), 1)
	assert.Equal(t, time.Duration(0), clock.pending()[0].d)
	clock.expire()
	assert.Len(t, rec.all(), 1)
}

func TestPushOnlySettings(t *testing.T) {
	e, sub, clock, rec := mount(t, settingsWith(model.TimingPushOnly), Options{UserID: "u1"})
	waitState(t, e, StateSubscribedOnly)
	assert.Empty(t, clock.pending())

	sub.push(t, map[string]string{"user_id": "u1"})
	require.Len(t, rec.all(), 1)
	assert.Equal(t, "Alex", rec.all()[0].DisplayName)
}

func TestIdentityFilter(t *testing.T) {
	e, sub, _, rec := mount(t, settingsWith(model.TimingPushOnly), Options{UserID: "u1"})
	waitState(t, e, StateSubscribedOnly)

	sub.push(t, map[string]string{"user_id": "u2"})
	sub.push(t, map[string]string{"message": "broadcast"})
	assert.Empty(t, rec.all())
	assert.Equal(t, 1, sub.active())

	sub.push(t, map[string]interface{}{"user_id": "u1"})
	assert.Len(t, rec.all(), 1)
}

func TestNumericUserIDMatches(t *testing.T) {
	_, sub, _, rec := mount(t, nil, Options{UserID: "42"})
	sub.push(t, map[string]interface{}{"user_id": 42})
	assert.Len(t, rec.all(), 1)
}

func TestAllowBroadcast(t *testing.T) {
	_, sub, _, rec := mount(t, nil, Options{UserID: "u1", AllowBroadcast: true})

	sub.push(t, map[string]string{"user_id": "u2"})
	assert.Empty(t, rec.all())
	sub.push(t, map[string]string{"text": "everyone"})
	require.Len(t, rec.all(), 1)
	assert.Equal(t, "everyone", rec.all()[0].Push.Text)
}

func TestMalformedPushIgnored(t *testing.T) {
	_, sub, _, rec := mount(t, nil, Options{UserID: "u1"})
	sub.mu.Lock()
	var h transport.Handler
	for _, fn := range sub.handlers {
		h = fn
	}
	sub.mu.Unlock()
	h(json.RawMessage(`{"user_id": [}`))
	assert.Empty(t, rec.all())
}

func TestSettingsFailureFallsBackToPush(t *testing.T) {
	e, sub, clock, rec := mount(t, &fakeSettings{err: errors.New("500")}, Options{UserID: "u1"})
	waitState(t, e, StateSubscribedOnly)
	assert.Empty(t, clock.pending())

	sub.push(t, map[string]string{"user_id": "u1"})
	require.Len(t, rec.all(), 1)
	assert.Empty(t, rec.all()[0].DisplayName)
}

func TestMissingSettingsFallsBackToPush(t *testing.T) {
	e, _, _, _ := mount(t, &fakeSettings{}, Options{UserID: "u1"})
	waitState(t, e, StateSubscribedOnly)
	_, ok := e.Settings()
	assert.False(t, ok)
}

func TestUnmountWhileArmed(t *testing.T) {
	e, sub, clock, rec := mount(t, settingsWith(3), Options{UserID: "u1"})
	waitState(t, e, StateArmed)

	e.Unmount()
	assert.Equal(t, StateUnmounted, e.State())
	assert.Equal(t, 0, sub.active())
	assert.True(t, clock.pending()[0].stopped.Load())

	clock.expire()
	sub.push(t, map[string]string{"user_id": "u1"})
	assert.Empty(t, rec.all())
}

func TestUnmountBeforeSettingsResolve(t *testing.T) {
	src := settingsWith(1)
	src.release = make(chan struct{})
	e, _, clock, rec := mount(t, src, Options{UserID: "u1"})

	e.Unmount()
	close(src.release)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, clock.pending())
	assert.Empty(t, rec.all())
	assert.Equal(t, StateUnmounted, e.State())
}

func TestAtMostOnceUnderConcurrency(t *testing.T) {
	for i := 0; i < 50; i++ {
		e, sub, clock, rec := mount(t, settingsWith(1), Options{UserID: "u1"})
		waitState(t, e, StateArmed)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); sub.push(t, map[string]string{"user_id": "u1"}) }()
		go func() { defer wg.Done(); clock.expire() }()
		go func() { defer wg.Done(); sub.push(t, map[string]string{"user_id": "u1"}) }()
		wg.Wait()
		e.Unmount()

		assert.Len(t, rec.all(), 1)
	}
}

func TestReentrantUnmountFromCallback(t *testing.T) {
	sub := &fakeSubscriber{}
	var e *Engine
	calls := 0
	e = Mount(context.Background(), sub, nil, "showMacModal", Options{
		UserID: "u1",
		OnShow: func(Trigger) {
			calls++
			e.Unmount()
		},
	})
	sub.push(t, map[string]string{"user_id": "u1"})
	sub.push(t, map[string]string{"user_id": "u1"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateFired, e.State())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "armed", StateArmed.String())
	assert.Equal(t, "push", FiredByPush.String())
	assert.Equal(t, "timer", FiredByTimer.String())
}
