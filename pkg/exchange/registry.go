package exchange

import "sync"

// handler is the progress callback of one call. Each call owns its handler,
// so calls that reuse a message id never see each other's snapshots.
type handler struct {
	id string

	mu     sync.Mutex
	fn     ProgressFunc
	closed bool
}

// deliver passes s to the callback unless the handler was released. The
// callback runs outside the lock so a slow consumer cannot hold up release.
func (h *handler) deliver(s Snapshot) {
	h.mu.Lock()
	fn := h.fn
	if h.closed {
		fn = nil
	}
	h.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// registry tracks the handlers of in-flight calls by message id.
type registry struct {
	mu       sync.Mutex
	handlers map[string]map[*handler]struct{}
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]map[*handler]struct{})}
}

// register installs fn for a call sending id. It returns the call's handler
// and an idempotent release func; deliveries that start after release are
// dropped.
func (r *registry) register(id string, fn ProgressFunc) (*handler, func()) {
	h := &handler{id: id, fn: fn}

	r.mu.Lock()
	set := r.handlers[id]
	if set == nil {
		set = make(map[*handler]struct{})
		r.handlers[id] = set
	}
	set[h] = struct{}{}
	r.mu.Unlock()

	release := func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		r.mu.Lock()
		if set, ok := r.handlers[id]; ok {
			delete(set, h)
			if len(set) == 0 {
				delete(r.handlers, id)
			}
		}
		r.mu.Unlock()
	}
	return h, release
}

// inFlight reports how many calls are registered for id.
func (r *registry) inFlight(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[id])
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.handlers {
		n += len(set)
	}
	return n
}
