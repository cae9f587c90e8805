// Package state implements the JobContract state machine (spec §4.1): a
// directed graph of legal transitions with terminal sinks, append-only
// event history, and expiry handling that tolerates chain reorganization.
package state

import (
	"time"

	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/log"
)

var logger = log.NewModuleLogger(log.StateMachine)

// State enumerates the lifecycle of a JobContract (spec §3).
type State int

const (
	Created State = iota
	Open
	Assigned
	InProgress
	Completed
	Disputed
	Resolved
	Cancelled
	Expired
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Open:
		return "Open"
	case Assigned:
		return "Assigned"
	case InProgress:
		return "InProgress"
	case Completed:
		return "Completed"
	case Disputed:
		return "Disputed"
	case Resolved:
		return "Resolved"
	case Cancelled:
		return "Cancelled"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return s == Resolved || s == Cancelled || s == Expired
}

// AtLeastAssigned reports s >= Assigned in the lifecycle ordering spec.md
// uses for invariants like "assigned_worker valid iff state >= Assigned".
// Disputed/Resolved also satisfy this since they are reachable only via
// Assigned or later.
func (s State) AtLeastAssigned() bool {
	switch s {
	case Assigned, InProgress, Completed, Disputed, Resolved:
		return true
	default:
		return false
	}
}

// transitions is the legal edge set from spec §4.1, built once at package
// init as a static table — mirroring the teacher's convention of
// package-level constant tables (params/protocol_params.go) rather than
// scattering the graph through branching logic.
var transitions = map[State]map[State]bool{
	Created:    {Open: true, Cancelled: true},
	Open:       {Assigned: true, Cancelled: true, Expired: true},
	Assigned:   {InProgress: true, Cancelled: true, Expired: true},
	InProgress: {Completed: true, Disputed: true, Cancelled: true, Expired: true},
	Completed:  {Resolved: true, Disputed: true, Expired: true},
	Disputed:   {Resolved: true, Expired: true},
	Resolved:   {},
	Cancelled:  {},
	Expired:    {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Event is a single recorded transition (spec §3 ContractEvent), carrying a
// Sequence number that Machine assigns on append, one above the highest
// recorded so far (restored history included), so hosts can detect gaps
// when replaying history across process restarts.
type Event struct {
	Sequence  uint64
	Timestamp time.Time
	PrevState State
	NewState  State
	Txid      [32]byte
	Memo      string
}

// Machine wraps a State plus the append-only Events slice it emits into.
// It holds no guard itself — locking is the caller's (store package)
// responsibility per spec §5; Machine assumes single-writer discipline.
type Machine struct {
	Current          State
	CompletionTime   *time.Time
	DisputeTimestamp *time.Time
	Events           []Event
	nextSeq          uint64
}

// New creates a Machine starting in Created.
func New() *Machine {
	return &Machine{Current: Created}
}

// Transition attempts from Current -> to (spec §4.1). locked indicates the
// caller already determined the reentrancy guard is unavailable; Machine
// itself does not manage the guard (see store.Store).
func (m *Machine) Transition(to State, now time.Time, txid [32]byte, memo string, locked bool) error {
	if locked {
		return kerrors.New(kerrors.TransitionLocked, "reentrancy guard held")
	}
	if m.Current.Terminal() {
		return kerrors.New(kerrors.TransitionLocked, "state is terminal")
	}
	if !CanTransition(m.Current, to) {
		return kerrors.Newf(kerrors.InvalidTransition, "no edge %s -> %s", m.Current, to)
	}

	prev := m.Current
	m.Current = to
	if to == Completed {
		t := now
		m.CompletionTime = &t
	}
	if to == Disputed {
		t := now
		m.DisputeTimestamp = &t
	}
	m.nextSeq = m.lastSeq() + 1
	m.Events = append(m.Events, Event{
		Sequence:  m.nextSeq,
		Timestamp: now,
		PrevState: prev,
		NewState:  to,
		Txid:      txid,
		Memo:      memo,
	})
	logger.Info("state transition", "from", prev, "to", to, "memo", memo)
	return nil
}

// lastSeq returns the highest sequence number recorded so far, including
// events restored into Events from a persisted history.
func (m *Machine) lastSeq() uint64 {
	if n := len(m.Events); n > 0 && m.Events[n-1].Sequence > m.nextSeq {
		return m.Events[n-1].Sequence
	}
	return m.nextSeq
}

// AddEvent appends a non-transition audit event (e.g. a rotation record)
// without changing Current, keeping event_history append-only per spec §3.
func (m *Machine) AddEvent(now time.Time, txid [32]byte, memo string) {
	m.nextSeq = m.lastSeq() + 1
	m.Events = append(m.Events, Event{
		Sequence:  m.nextSeq,
		Timestamp: now,
		PrevState: m.Current,
		NewState:  m.Current,
		Txid:      txid,
		Memo:      memo,
	})
}

// IsExpired implements spec §4.1's reorg-tolerant expiry check: if
// current_height < created_height (a reorg rolled the chain back further
// than the job's own creation point), treat the job as not expired rather
// than underflowing the subtraction.
func IsExpired(currentHeight, createdHeight uint64, timeoutBlocks uint32) bool {
	if currentHeight < createdHeight {
		return false
	}
	return currentHeight-createdHeight >= uint64(timeoutBlocks)
}

// DeepCopy returns an independent copy for the per-contract guard's
// snapshot-and-commit discipline.
func (m *Machine) DeepCopy() *Machine {
	cp := *m
	cp.Events = make([]Event, len(m.Events))
	copy(cp.Events, m.Events)
	if m.CompletionTime != nil {
		t := *m.CompletionTime
		cp.CompletionTime = &t
	}
	if m.DisputeTimestamp != nil {
		t := *m.DisputeTimestamp
		cp.DisputeTimestamp = &t
	}
	return &cp
}
