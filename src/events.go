package tern

import (
	"sync"

	"github.com/ternlib/tern/src/gateway"
)

// Handler consumes one decoded gateway event. The payload is passed
// through raw; decoding domain objects is the application's business.
type Handler func(event *gateway.Event)

// handlerRegistry fans decoded events out to named handlers. Handlers
// run on the single dispatch goroutine, so per-shard ordering is kept
// without callback nesting.
type handlerRegistry struct {
	mu       sync.RWMutex
	named    map[gateway.EventName][]Handler
	catchAll []Handler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		named: make(map[gateway.EventName][]Handler),
	}
}

func (r *handlerRegistry) on(name gateway.EventName, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = append(r.named[name], h)
}

func (r *handlerRegistry) onAny(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchAll = append(r.catchAll, h)
}

func (r *handlerRegistry) dispatch(event *gateway.Event) {
	r.mu.RLock()
	named := r.named[event.Name]
	catchAll := r.catchAll
	r.mu.RUnlock()
	for _, h := range named {
		h(event)
	}
	for _, h := range catchAll {
		h(event)
	}
}
