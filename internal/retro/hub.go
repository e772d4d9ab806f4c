package retro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"thirdcoast.systems/retro/internal/pubsub"
)

const (
	// DefaultVoteLimit is used when a session is created without a positive limit.
	DefaultVoteLimit = 5
	// DefaultReconcileTimeout bounds how long Ensure waits for a peer.
	DefaultReconcileTimeout = 1200 * time.Millisecond
	// DefaultTopic is the broker topic shared by all instances.
	DefaultTopic = "retro_hub"

	publishTimeout = 5 * time.Second
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrUnknownEvent       = errors.New("unknown event type")
	ErrTooManySubscribers = errors.New("too many subscribers for session")
)

// Options configure a Hub. The zero value is a standalone hub.
type Options struct {
	// Broker connects this hub to its peers. Nil means no peers.
	Broker           pubsub.Broker
	Topic            string
	ReconcileTimeout time.Duration
	MaxSubscribers   int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Hub is one instance of the retrospective session service. It owns the
// session store and viewer registry, applies events, and keeps peers in sync
// through the broker. Construct one per process with NewHub.
type Hub struct {
	id       string
	store    *Store
	registry *Registry

	broker  pubsub.Broker
	topic   string
	timeout time.Duration
	now     func() time.Time

	waitMu  sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

// NewHub creates a hub. Call Start before serving requests when a broker is set.
func NewHub(opts Options) *Hub {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = DefaultReconcileTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		id:       uuid.NewString(),
		store:    NewStore(),
		registry: NewRegistry(opts.MaxSubscribers),
		broker:   opts.Broker,
		topic:    opts.Topic,
		timeout:  opts.ReconcileTimeout,
		now:      opts.Now,
		waiters:  make(map[string]map[chan struct{}]struct{}),
	}
}

// ID returns the random identity this instance stamps on peer messages.
func (h *Hub) ID() string {
	return h.id
}

// Created is the result of CreateSession. HostSecret is only ever returned here.
type Created struct {
	Code       string `json:"code"`
	HostSecret string `json:"hostSecret"`
	VoteLimit  int    `json:"voteLimit"`
}

// CreateSession starts a new session. A non-positive voteLimit falls back to
// DefaultVoteLimit.
func (h *Hub) CreateSession(voteLimit int) (Created, error) {
	if voteLimit <= 0 {
		voteLimit = DefaultVoteLimit
	}
	code, secret, err := h.store.Create(voteLimit, h.now())
	if err != nil {
		return Created{}, err
	}
	slog.Info("session created", "code", code, "vote_limit", voteLimit)
	return Created{Code: code, HostSecret: secret, VoteLimit: voteLimit}, nil
}

// State returns the client-safe state of code, asking peers for it first if
// this instance does not hold it.
func (h *Hub) State(ctx context.Context, code string) (*ClientView, error) {
	h.Ensure(ctx, code)
	view, ok := h.store.ProjectClientSafe(code)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return view, nil
}

// Submit applies evt to the session code and relays it to peers.
// Host-gated events with a wrong secret are discarded without error.
func (h *Hub) Submit(ctx context.Context, code string, evt Event) error {
	if !evt.Type.Known() {
		return ErrUnknownEvent
	}
	h.Ensure(ctx, code)
	evt.At = h.now().UnixMilli()
	return h.apply(code, evt, false, true)
}

// Subscribe registers a viewer of code. The channel first receives the
// current state, then one snapshot per applied event. The returned function
// must be called when the viewer goes away.
func (h *Hub) Subscribe(ctx context.Context, code string) (<-chan []byte, func(), error) {
	h.Ensure(ctx, code)
	held := h.store.get(code)
	if held == nil {
		return nil, nil, ErrSessionNotFound
	}

	held.mu.Lock()
	defer held.mu.Unlock()

	data, err := json.Marshal(held.session.ClientView)
	if err != nil {
		return nil, nil, fmt.Errorf("encode session state: %w", err)
	}
	return h.registry.Subscribe(code, data)
}

// Viewers returns the number of live viewers of code on this instance.
func (h *Hub) Viewers(code string) int {
	return h.registry.Count(code)
}

// apply runs one event through the processor under the session lock, then
// fans the new state out to local viewers and, when forward is set, to peers.
// Both happen before the lock is released so viewers and peers observe
// events in apply order.
func (h *Hub) apply(code string, evt Event, hostTrusted, forward bool) error {
	held := h.store.get(code)
	if held == nil {
		return ErrSessionNotFound
	}

	held.mu.Lock()
	defer held.mu.Unlock()

	if !applyEvent(held.session, evt, hostTrusted) {
		slog.Debug("event discarded", "code", code, "type", evt.Type)
		return nil
	}

	h.fanOut(code, held.session)

	if forward {
		relayed := evt
		relayed.HostSecret = ""
		h.publish(message{
			Kind:        kindForwardEvent,
			Code:        code,
			Event:       &relayed,
			HostGranted: evt.Type.HostOnly(),
		})
	}
	return nil
}

// fanOut encodes the client-safe projection once and hands it to every
// viewer. Callers hold the session lock.
func (h *Hub) fanOut(code string, s *Session) {
	data, err := json.Marshal(s.ClientView)
	if err != nil {
		slog.Error("failed to encode session state", "code", code, "error", err)
		return
	}
	h.registry.Broadcast(code, data)
}
