package retro

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

type messageKind string

const (
	kindRequestState messageKind = "request-state"
	kindProvideState messageKind = "provide-state"
	kindForwardEvent messageKind = "forward-event"
)

// message is the envelope exchanged between instances over the broker.
//
// HostVerifier travels with provide-state so the receiving instance can
// authorize the original host. HostGranted marks a forwarded host-gated event
// that the origin instance already authorized; forwarded events never carry
// the secret itself.
type message struct {
	Kind   messageKind `json:"kind"`
	Code   string      `json:"code"`
	Origin string      `json:"origin"`

	State        *ClientView `json:"state,omitempty"`
	HostVerifier string      `json:"hostVerifier,omitempty"`

	Event       *Event `json:"event,omitempty"`
	HostGranted bool   `json:"hostGranted,omitempty"`
}

// Start subscribes to the broker and begins handling peer messages until ctx
// is done. It is a no-op for a standalone hub.
func (h *Hub) Start(ctx context.Context) error {
	if h.broker == nil {
		return nil
	}
	msgs, err := h.broker.Subscribe(ctx, h.topic)
	if err != nil {
		return err
	}
	go h.consume(msgs)
	return nil
}

// consume handles peer messages one at a time, so forwarded events apply in
// the order the broker delivers them.
func (h *Hub) consume(msgs <-chan []byte) {
	for raw := range msgs {
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("undecodable peer message", "error", err)
			continue
		}
		h.handle(msg)
	}
}

func (h *Hub) handle(msg message) {
	if msg.Origin == h.id {
		return
	}

	switch msg.Kind {
	case kindRequestState:
		h.provideState(msg.Code)

	case kindProvideState:
		if msg.State == nil {
			return
		}
		if held := h.store.hydrate(msg.Code, msg.State, msg.HostVerifier); held != nil {
			slog.Info("session hydrated from peer", "code", msg.Code, "peer", msg.Origin)
			held.mu.Lock()
			h.fanOut(msg.Code, held.session)
			held.mu.Unlock()
		}
		h.wake(msg.Code)

	case kindForwardEvent:
		if msg.Event == nil {
			return
		}
		if err := h.apply(msg.Code, *msg.Event, msg.HostGranted, false); err != nil {
			slog.Debug("forwarded event ignored", "code", msg.Code, "type", msg.Event.Type, "error", err)
		}

	default:
		slog.Debug("unknown peer message", "kind", msg.Kind)
	}
}

func (h *Hub) provideState(code string) {
	held := h.store.get(code)
	if held == nil {
		return
	}

	// Publishing under the lock orders this snapshot before the forward of
	// any event applied after it.
	held.mu.Lock()
	defer held.mu.Unlock()
	if err := held.session.ensureVerifier(); err != nil {
		slog.Warn("failed to derive host verifier", "code", code, "error", err)
	}
	h.publish(message{
		Kind:         kindProvideState,
		Code:         code,
		State:        held.session.ClientView.Clone(),
		HostVerifier: held.session.HostVerifier,
	})
}

// Ensure makes sure code is held locally, asking peers for it when it is not.
// It waits at most the reconcile timeout for a reply, or less if ctx ends
// first, and reports whether the session is held afterwards.
func (h *Hub) Ensure(ctx context.Context, code string) bool {
	if h.store.Has(code) {
		return true
	}
	if h.broker == nil {
		return false
	}

	woken := h.addWaiter(code)
	defer h.removeWaiter(code, woken)

	// A reply may have landed between the first check and registering.
	if h.store.Has(code) {
		return true
	}

	h.publish(message{Kind: kindRequestState, Code: code})

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case <-woken:
	case <-timer.C:
		slog.Debug("no peer holds session", "code", code)
	case <-ctx.Done():
	}
	return h.store.Has(code)
}

func (h *Hub) addWaiter(code string) chan struct{} {
	ch := make(chan struct{})
	h.waitMu.Lock()
	defer h.waitMu.Unlock()
	set, ok := h.waiters[code]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.waiters[code] = set
	}
	set[ch] = struct{}{}
	return ch
}

func (h *Hub) removeWaiter(code string, ch chan struct{}) {
	h.waitMu.Lock()
	defer h.waitMu.Unlock()
	set, ok := h.waiters[code]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.waiters, code)
	}
}

// wake releases every Ensure call waiting on code.
func (h *Hub) wake(code string) {
	h.waitMu.Lock()
	defer h.waitMu.Unlock()
	for ch := range h.waiters[code] {
		close(ch)
	}
	delete(h.waiters, code)
}

func (h *Hub) publish(msg message) {
	if h.broker == nil {
		return
	}
	msg.Origin = h.id
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to encode peer message", "kind", msg.Kind, "code", msg.Code, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.broker.Publish(ctx, h.topic, data); err != nil {
		slog.Warn("failed to publish peer message", "kind", msg.Kind, "code", msg.Code, "error", err)
	}
}
