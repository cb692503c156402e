package macmodal

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"walletsync/pkg/model"
	"walletsync/pkg/transport"
)

// Subscriber is the push side of the persistent channel.
type Subscriber interface {
	Subscribe(event string, fn transport.Handler) (unsubscribe func())
}

// Timer is the part of *time.Timer the engine needs.
type Timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type State int

const (
	StateIdle State = iota
	StateAwaitingSettings
	StateArmed
	StateSubscribedOnly
	StateFired
	StateUnmounted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSettings:
		return "awaiting_settings"
	case StateArmed:
		return "armed"
	case StateSubscribedOnly:
		return "subscribed_only"
	case StateFired:
		return "fired"
	case StateUnmounted:
		return "unmounted"
	}
	return "unknown"
}

// FiredBy tells which signal opened the modal.
type FiredBy int

const (
	FiredByPush FiredBy = iota + 1
	FiredByTimer
)

func (f FiredBy) String() string {
	switch f {
	case FiredByPush:
		return "push"
	case FiredByTimer:
		return "timer"
	}
	return "none"
}

// Trigger is handed to OnShow when the modal should open.
type Trigger struct {
	By          FiredBy
	UserID      string
	DisplayName string             // from settings, empty when none were loaded
	Push        *model.PushPayload // set when By == FiredByPush
}

type Options struct {
	UserID string
	// AllowBroadcast lets pushes without a user_id open the modal. By default
	// only pushes addressed to UserID do.
	AllowBroadcast bool
	OnShow         func(Trigger)

	afterFunc func(time.Duration, func()) Timer
}

// Engine decides once per mount whether to open the modal: on a matching
// push, or when the settings countdown expires, whichever comes first.
type Engine struct {
	opts  Options
	event string

	done atomic.Bool // set by the first of fire or Unmount

	mu          sync.Mutex
	state       State
	settings    *model.MacModalSettings
	timer       Timer
	unsubscribe func()
	cancel      context.CancelFunc
	firedBy     FiredBy
}

// Mount subscribes to event right away and loads settings in the
// background. src may be nil, in which case the engine is push-only.
func Mount(ctx context.Context, sub Subscriber, src SettingsSource, event string, opts Options) *Engine {
	if opts.afterFunc == nil {
		opts.afterFunc = realAfterFunc
	}
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{opts: opts, event: event, state: StateAwaitingSettings, cancel: cancel}
	if src == nil {
		e.state = StateSubscribedOnly
	}

	// Subscribe without holding mu: a push may be delivered before it returns.
	unsub := sub.Subscribe(event, e.onPush)
	e.mu.Lock()
	if e.done.Load() {
		e.mu.Unlock()
		unsub()
		return e
	}
	e.unsubscribe = unsub
	e.mu.Unlock()

	if src != nil {
		go e.loadSettings(ctx, src)
	}
	log.Printf("mac modal mounted user=%s event=%s", opts.UserID, event)
	return e
}

// Unmount releases the timer and subscription. No callback runs afterwards.
func (e *Engine) Unmount() {
	if !e.done.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	e.state = StateUnmounted
	e.teardownLocked()
	e.mu.Unlock()
	log.Printf("mac modal unmounted user=%s", e.opts.UserID)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// FiredBy reports what fired the engine, if anything did.
func (e *Engine) FiredBy() (FiredBy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firedBy, e.firedBy != 0
}

// Settings returns the loaded settings, if any.
func (e *Engine) Settings() (model.MacModalSettings, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settings == nil {
		return model.MacModalSettings{}, false
	}
	return *e.settings, true
}

func (e *Engine) loadSettings(ctx context.Context, src SettingsSource) {
	s, err := src.Settings(ctx, e.opts.UserID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done.Load() {
		return
	}
	if err != nil || s == nil {
		if err != nil {
			log.Printf("mac modal settings fetch failed user=%s: %v; push-only", e.opts.UserID, err)
		}
		e.state = StateSubscribedOnly
		return
	}
	e.settings = s
	if s.PushOnly() {
		e.state = StateSubscribedOnly
		return
	}
	e.state = StateArmed
	e.timer = e.opts.afterFunc(time.Duration(s.TimingSeconds)*time.Second, func() {
		e.fire(FiredByTimer, nil)
	})
	log.Printf("mac modal armed user=%s timing=%ds", e.opts.UserID, s.TimingSeconds)
}

func (e *Engine) onPush(raw json.RawMessage) {
	if e.done.Load() {
		return
	}
	var p model.PushPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Printf("mac modal bad push payload: %v", err)
			return
		}
	}
	if !e.addressedToMe(p) {
		return
	}
	e.fire(FiredByPush, &p)
}

func (e *Engine) addressedToMe(p model.PushPayload) bool {
	if p.UserID == "" {
		return e.opts.AllowBroadcast
	}
	return string(p.UserID) == e.opts.UserID
}

// fire runs OnShow at most once; the guard is taken before any other work.
func (e *Engine) fire(by FiredBy, p *model.PushPayload) {
	if !e.done.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	e.state = StateFired
	e.firedBy = by
	t := Trigger{By: by, UserID: e.opts.UserID, Push: p}
	if e.settings != nil {
		t.DisplayName = e.settings.DisplayName
	}
	e.teardownLocked()
	e.mu.Unlock()

	log.Printf("mac modal fired user=%s by=%s", e.opts.UserID, by)
	if e.opts.OnShow != nil {
		e.opts.OnShow(t)
	}
}

func (e *Engine) teardownLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.cancel()
}
