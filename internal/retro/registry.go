package retro

import "sync"

const (
	// DefaultMaxSubscribers limits live viewers per session.
	DefaultMaxSubscribers = 100

	subscriberBuffer = 8
)

// Registry tracks the live viewers of each session. A viewer is a buffered
// channel that receives client-safe state snapshots encoded as JSON.
type Registry struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
	max  int
}

// NewRegistry creates a registry allowing at most max viewers per session.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultMaxSubscribers
	}
	return &Registry{
		subs: make(map[string]map[chan []byte]struct{}),
		max:  max,
	}
}

// Subscribe registers a viewer for code, queueing initial first when it is
// non-nil. The returned function unregisters the viewer and closes the
// channel; calling it more than once is harmless.
func (r *Registry) Subscribe(code string, initial []byte) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)
	if initial != nil {
		ch <- initial
	}

	r.mu.Lock()
	set, ok := r.subs[code]
	if !ok {
		set = make(map[chan []byte]struct{})
		r.subs[code] = set
	}
	if len(set) >= r.max {
		r.mu.Unlock()
		return nil, nil, ErrTooManySubscribers
	}
	set[ch] = struct{}{}
	r.mu.Unlock()

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		set, ok := r.subs[code]
		if !ok {
			return
		}
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(r.subs, code)
		}
	}
	return ch, unsubscribe, nil
}

// Broadcast delivers data to every viewer of code without blocking. A viewer
// whose buffer is full loses its oldest pending snapshot instead of this one,
// so it always ends up with the latest state.
func (r *Registry) Broadcast(code string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ch := range r.subs[code] {
		deliver(ch, data)
	}
}

func deliver(ch chan []byte, data []byte) {
	select {
	case ch <- data:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- data:
	default:
	}
}

// Count returns the number of viewers of code.
func (r *Registry) Count(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[code])
}
