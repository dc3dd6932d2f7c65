// Package hub implements the signaling hub: the process-wide registry
// of connected peers and the single mutation point that routes
// directed envelopes and broadcasts membership changes between them.
package hub

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"relayhub/internal/peer"
	"relayhub/internal/signaling"
)

// EnvelopeKind discriminates the three directed envelope types Route
// forwards between peers.
type EnvelopeKind int

const (
	KindOffer EnvelopeKind = iota
	KindAnswer
	KindIceCandidate
)

// entry is the hub's bookkeeping for one connection, covering both the
// Attached and Registered states of the per-peer state machine.
// Absence from the registry map is the Gone state.
type entry struct {
	identity    string
	displayName string
	outbox      peer.Outbox
	registered  bool
}

// Stats is a point-in-time snapshot of hub counters, read by the
// diagnostics endpoint. It never gates behavior.
type Stats struct {
	RegisteredPeers  int64
	EnvelopesRouted  int64
	EnvelopesDropped int64
}

// Hub owns the registry and is the sole mutator of it. All mutation
// runs on a single goroutine (Run) consuming cmdCh, so per-peer
// operations are linearizable without ever holding a lock across I/O.
type Hub struct {
	log *slog.Logger

	cmdCh chan command

	registered atomic.Int64
	routed     atomic.Int64
	dropped    atomic.Int64
}

// New constructs a Hub. Call Run to start its coordinator goroutine.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log.With("component", "hub"),
		cmdCh: make(chan command, 256),
	}
}

// Run is the hub's single coordinator loop. It runs on the calling
// goroutine and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	reg := make(map[string]*entry)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub coordinator stopped")
			return
		case cmd := <-h.cmdCh:
			cmd.apply(h, reg)
		}
	}
}

// NewIdentity allocates a fresh, globally unique peer identity. It does
// not touch the registry and may be called concurrently.
func NewIdentity() string {
	return uuid.NewString()
}

// Attach installs a pre-registration slot for identity. Any envelope
// other than Register received while only attached produces a
// NotRegistered error into the peer's own outbox rather than a
// disconnect.
func (h *Hub) Attach(identity string, outbox peer.Outbox) {
	h.cmdCh <- attachCmd{identity: identity, outbox: outbox}
}

// Register moves identity from Attached to Registered, emitting
// Registered and UserList to the caller and UserJoined to every other
// registered peer, in that order.
func (h *Hub) Register(identity, displayName string) error {
	ack := make(chan error, 1)
	h.cmdCh <- registerCmd{identity: identity, displayName: displayName, ack: ack}
	return <-ack
}

// Discover emits a user_list snapshot to identity alone.
func (h *Hub) Discover(identity string) {
	h.cmdCh <- discoverCmd{identity: identity}
}

// Route forwards payload from identity to target as the envelope kind
// given. TargetMissing surfaces as an Error envelope to the caller.
func (h *Hub) Route(from, target string, kind EnvelopeKind, payload []byte) {
	h.cmdCh <- routeCmd{from: from, target: target, kind: kind, payload: payload}
}

// Detach removes identity's Peer Record, if present, and notifies
// every remaining registered peer. Idempotent. Blocks until applied so
// callers can rely on the removal being visible once Detach returns.
func (h *Hub) Detach(identity string) {
	done := make(chan struct{})
	h.cmdCh <- detachCmd{identity: identity, done: done}
	<-done
}

// Stats returns a snapshot of the hub's counters.
func (h *Hub) Stats() Stats {
	return Stats{
		RegisteredPeers:  h.registered.Load(),
		EnvelopesRouted:  h.routed.Load(),
		EnvelopesDropped: h.dropped.Load(),
	}
}

type command interface {
	apply(h *Hub, reg map[string]*entry)
}

type attachCmd struct {
	identity string
	outbox   peer.Outbox
}

func (c attachCmd) apply(h *Hub, reg map[string]*entry) {
	reg[c.identity] = &entry{identity: c.identity, outbox: c.outbox}
}

type registerCmd struct {
	identity    string
	displayName string
	ack         chan error
}

func (c registerCmd) apply(h *Hub, reg map[string]*entry) {
	e, ok := reg[c.identity]
	if !ok {
		c.ack <- signaling.ErrNotRegistered
		return
	}
	if e.registered {
		c.ack <- signaling.ErrAlreadyRegistered
		return
	}

	e.displayName = c.displayName
	e.registered = true
	h.registered.Add(1)

	snapshot := snapshotUsers(reg)

	e.outbox.Send(signaling.NewRegistered(c.identity))
	e.outbox.Send(signaling.NewUserList(snapshot))

	joined := signaling.NewUserJoined(c.identity, c.displayName)
	for id, other := range reg {
		if id == c.identity || !other.registered {
			continue
		}
		if !other.outbox.Send(joined) {
			h.dropped.Add(1)
		}
	}

	c.ack <- nil
}

type discoverCmd struct {
	identity string
}

func (c discoverCmd) apply(h *Hub, reg map[string]*entry) {
	e, ok := reg[c.identity]
	if !ok {
		return
	}
	if !e.registered {
		e.outbox.Send(signaling.NewError(signaling.ErrNotRegistered.Error()))
		return
	}
	e.outbox.Send(signaling.NewUserList(snapshotUsers(reg)))
}

type routeCmd struct {
	from    string
	target  string
	kind    EnvelopeKind
	payload []byte
}

func (c routeCmd) apply(h *Hub, reg map[string]*entry) {
	sender, ok := reg[c.from]
	if !ok {
		return
	}
	if !sender.registered {
		sender.outbox.Send(signaling.NewError(signaling.ErrNotRegistered.Error()))
		return
	}

	target, ok := reg[c.target]
	if !ok || !target.registered {
		sender.outbox.Send(signaling.NewError(signaling.ErrTargetMissing.Error()))
		return
	}

	var out any
	switch c.kind {
	case KindOffer:
		out = signaling.NewOfferOut(c.from, c.payload)
	case KindAnswer:
		out = signaling.NewAnswerOut(c.from, c.payload)
	case KindIceCandidate:
		out = signaling.NewIceCandidateOut(c.from, c.payload)
	}

	if target.outbox.Send(out) {
		h.routed.Add(1)
	} else {
		h.dropped.Add(1)
	}
}

type detachCmd struct {
	identity string
	done     chan struct{}
}

func (c detachCmd) apply(h *Hub, reg map[string]*entry) {
	defer close(c.done)

	e, ok := reg[c.identity]
	if !ok {
		return
	}
	delete(reg, c.identity)
	if !e.registered {
		return
	}
	h.registered.Add(-1)

	left := signaling.NewUserLeft(c.identity)
	for _, other := range reg {
		if !other.registered {
			continue
		}
		if !other.outbox.Send(left) {
			h.dropped.Add(1)
		}
	}
}

func snapshotUsers(reg map[string]*entry) []signaling.UserInfo {
	users := make([]signaling.UserInfo, 0, len(reg))
	for _, e := range reg {
		if !e.registered {
			continue
		}
		users = append(users, signaling.UserInfo{UserID: e.identity, DisplayName: e.displayName})
	}
	return users
}
