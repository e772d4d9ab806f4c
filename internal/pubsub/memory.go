package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// Memory is an in-process broker. It lets several hubs share one process,
// which is how multi-instance behaviour is exercised in tests.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[chan []byte]struct{}
	closed bool
}

// NewMemory creates an in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish copies msg to every subscriber of topic. A subscriber with a full
// buffer misses the message rather than stalling the publisher.
func (m *Memory) Publish(_ context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for ch := range m.subs[topic] {
		cp := append([]byte(nil), msg...)
		select {
		case ch <- cp:
		default:
			slog.Warn("pubsub: dropping message for slow subscriber", "topic", topic)
		}
	}
	return nil
}

// Subscribe registers a subscriber on topic until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := m.subs[topic]
	if !ok {
		set = make(map[chan []byte]struct{})
		m.subs[topic] = set
	}
	set[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[topic][ch]; ok {
			delete(m.subs[topic], ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close closes every open subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, set := range m.subs {
		for ch := range set {
			close(ch)
		}
		delete(m.subs, topic)
	}
	return nil
}
