package transport

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// registry maps event names to listeners keyed by handle, so two identical
// callbacks registered twice stay independent.
type registry struct {
	mu      sync.RWMutex
	byEvent map[string]map[string]Handler
}

func newRegistry() *registry {
	return &registry{byEvent: map[string]map[string]Handler{}}
}

func (r *registry) add(event string, fn Handler) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byEvent[event] == nil {
		r.byEvent[event] = map[string]Handler{}
	}
	r.byEvent[event][id] = fn
	return id
}

func (r *registry) remove(event, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byEvent[event]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.byEvent, event)
	}
}

func (r *registry) handlers(event string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.byEvent[event]
	out := make([]Handler, 0, len(subs))
	for _, h := range subs {
		out = append(out, h)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.byEvent {
		n += len(subs)
	}
	return n
}
