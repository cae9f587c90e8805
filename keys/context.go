// Package keys implements KeyContext: the employer/worker/middleman key set
// for a job, its aggregated Taproot key, and the rotation policy (spec
// §3 KeyContext, §4.2). The duplicate-key and zero-weight style checks here
// are adapted from the teacher's AccountKeyWeightedMultiSig.Init
// (blockchain/types/accountkey/account_key_weighted_multi_sig.go): reject
// zero/absent components and duplicated keys before committing a new set.
package keys

import (
	"time"

	"github.com/middleman-protocol/mmp-core/collab"
	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/log"
)

var logger = log.NewModuleLogger(log.KeyContext)

// RotationEvent records one rotation in the append-only history.
type RotationEvent struct {
	Timestamp   time.Time
	IsEmergency bool
	Reason      string
}

// Context is the KeyContext aggregate (spec §3).
type Context struct {
	EmployerKey   crypto.PubKey
	WorkerKey     crypto.PubKey
	MiddlemanKey  crypto.PubKey
	AggregatedKey crypto.PubKey
	Tweak         [32]byte

	RotationCount    int
	LastRotationTime time.Time
	RotationHistory  []RotationEvent
}

// New creates a KeyContext with only the employer key present, as it exists
// immediately after new_contract() (spec §3: worker/middleman keys are
// valid only from Assigned/dispute-escalation onward).
func New(employer crypto.PubKey, now time.Time) *Context {
	return &Context{
		EmployerKey:      employer,
		LastRotationTime: now,
	}
}

// Restore reconstructs a Context from its persisted fields (spec §6
// Persisted formats), bypassing the validation New-then-mutate would
// apply — the decoder trusts that what was previously stored already
// passed it once.
func Restore(employer, worker, middleman, aggregated crypto.PubKey, tweak [32]byte, rotationCount int, lastRotation time.Time) *Context {
	return &Context{
		EmployerKey:      employer,
		WorkerKey:        worker,
		MiddlemanKey:     middleman,
		AggregatedKey:    aggregated,
		Tweak:            tweak,
		RotationCount:    rotationCount,
		LastRotationTime: lastRotation,
	}
}

// DeepCopy returns an independent copy, used by the per-contract guard to
// give a mutating operation a working copy it can discard on failure
// (spec §9 "Exceptions vs. results").
func (c *Context) DeepCopy() *Context {
	cp := *c
	cp.RotationHistory = make([]RotationEvent, len(c.RotationHistory))
	copy(cp.RotationHistory, c.RotationHistory)
	return &cp
}

// Equal reports whether two contexts hold identical key material and
// rotation state.
func (c *Context) Equal(o *Context) bool {
	if o == nil {
		return false
	}
	if c.EmployerKey != o.EmployerKey || c.WorkerKey != o.WorkerKey ||
		c.MiddlemanKey != o.MiddlemanKey || c.AggregatedKey != o.AggregatedKey ||
		c.Tweak != o.Tweak || c.RotationCount != o.RotationCount {
		return false
	}
	if len(c.RotationHistory) != len(o.RotationHistory) {
		return false
	}
	for i := range c.RotationHistory {
		if c.RotationHistory[i] != o.RotationHistory[i] {
			return false
		}
	}
	return true
}

// components returns the non-zero keys currently in play, used both for
// duplicate detection and for aggregation.
func (c *Context) components() []crypto.PubKey {
	out := make([]crypto.PubKey, 0, 3)
	if c.EmployerKey.Valid() {
		out = append(out, c.EmployerKey)
	}
	if c.WorkerKey.Valid() {
		out = append(out, c.WorkerKey)
	}
	if c.MiddlemanKey.Valid() {
		out = append(out, c.MiddlemanKey)
	}
	return out
}

// validateNoDuplicates rejects a key set with any repeated component,
// mirroring AccountKeyWeightedMultiSig.Init's duplicate-key rejection.
func validateNoDuplicates(keySet []crypto.PubKey) error {
	seen := make(map[crypto.PubKey]bool, len(keySet))
	for _, k := range keySet {
		if seen[k] {
			return kerrors.New(kerrors.InvalidKeys, "duplicated key in key set")
		}
		seen[k] = true
	}
	return nil
}

// AssignWorker sets the worker key and recomputes the aggregated key. Legal
// only while no worker is yet assigned.
func (c *Context) AssignWorker(worker crypto.PubKey, adapter crypto.Adapter) error {
	if !worker.Valid() {
		return kerrors.New(kerrors.InvalidKeys, "worker key invalid")
	}
	if c.WorkerKey.Valid() {
		return kerrors.New(kerrors.InvalidState, "worker already assigned")
	}
	candidate := *c
	candidate.WorkerKey = worker
	if err := validateNoDuplicates(candidate.components()); err != nil {
		return err
	}
	agg, err := adapter.Aggregate(candidate.components()...)
	if err != nil {
		return kerrors.Wrap(kerrors.AggregationFailed, err, "aggregate after worker assignment")
	}
	c.WorkerKey = worker
	c.AggregatedKey = agg
	return nil
}

// EscalateToMiddleman sets the middleman key (on dispute escalation) and
// recomputes the aggregated key.
func (c *Context) EscalateToMiddleman(middleman crypto.PubKey, adapter crypto.Adapter) error {
	if !middleman.Valid() {
		return kerrors.New(kerrors.InvalidKeys, "middleman key invalid")
	}
	candidate := *c
	candidate.MiddlemanKey = middleman
	if err := validateNoDuplicates(candidate.components()); err != nil {
		return err
	}
	agg, err := adapter.Aggregate(candidate.components()...)
	if err != nil {
		return kerrors.Wrap(kerrors.AggregationFailed, err, "aggregate after middleman escalation")
	}
	c.MiddlemanKey = middleman
	c.AggregatedKey = agg
	return nil
}

// RotateInput bundles the collaborators a rotation needs.
type RotateInput struct {
	Adapter crypto.Adapter
	Rng     collab.Rng
	JobID   [32]byte
	Now     time.Time
	Emergency bool
	Reason    string
	// NewEmployerKey/NewWorkerKey are the freshly generated secret keys'
	// corresponding public keys, derived by the caller (the core
	// never holds secret key material beyond the scope of key generation —
	// spec §1 "wallet key custody" is an external collaborator's job).
	NewEmployerKey crypto.PubKey
	NewWorkerKey   crypto.PubKey
}

// Due reports whether a non-emergency rotation is allowed at `now`.
func (c *Context) Due(now time.Time, params config.Params) bool {
	return now.Sub(c.LastRotationTime) >= params.RotationInterval
}

// Rotate performs key rotation per spec §4.2. The caller supplies the new
// employer/worker public keys (already generated by the host's strong RNG
// collaborator, per spec's "Generate new employer and worker secrets using
// strong RNG"); Rotate's own responsibility is entropy-mixing for the
// emergency path, aggregation, and bookkeeping.
func (c *Context) Rotate(in RotateInput, params config.Params) error {
	if !in.Emergency && !c.Due(in.Now, params) {
		return kerrors.New(kerrors.KeyRotationNotDue, "rotation interval has not elapsed")
	}
	if !in.NewEmployerKey.Valid() || !in.NewWorkerKey.Valid() {
		return kerrors.New(kerrors.KeyGenerationFailed, "rotation requires fresh employer and worker keys")
	}

	if in.Emergency {
		// Widen entropy sources: mix H(now || job_id) into a scratch
		// buffer alongside the RNG output. The mixed value is not key
		// material (key generation is delegated to the host's wallet) and
		// is not stored: the rotation history records only the timestamp,
		// the emergency flag and the caller's reason.
		var nowBuf [8]byte
		nowUnix := uint64(in.Now.Unix())
		for i := 0; i < 8; i++ {
			nowBuf[i] = byte(nowUnix >> (8 * i))
		}
		mix := in.Adapter.SHA256(nowBuf[:], in.JobID[:])
		var rngBuf [32]byte
		if err := in.Rng.Fill(rngBuf[:]); err != nil {
			return kerrors.Wrap(kerrors.KeyGenerationFailed, err, "rng fill failed")
		}
		for i := range mix {
			mix[i] ^= rngBuf[i]
		}
		logger.Debug("emergency rotation entropy mixed", "job_id", in.JobID)
	}

	candidate := *c
	candidate.EmployerKey = in.NewEmployerKey
	candidate.WorkerKey = in.NewWorkerKey
	if err := validateNoDuplicates(candidate.components()); err != nil {
		return err
	}
	agg, err := in.Adapter.Aggregate(candidate.components()...)
	if err != nil {
		return kerrors.Wrap(kerrors.AggregationFailed, err, "aggregate after rotation")
	}

	c.EmployerKey = in.NewEmployerKey
	c.WorkerKey = in.NewWorkerKey
	c.AggregatedKey = agg
	c.RotationCount++
	c.LastRotationTime = in.Now
	c.RotationHistory = append(c.RotationHistory, RotationEvent{
		Timestamp:   in.Now,
		IsEmergency: in.Emergency,
		Reason:      in.Reason,
	})
	return nil
}

// ValidateForAction enforces the key-age policy (spec §4.2
// validate_keys_for_action): refuse if the keys are stale or if the job has
// lived past twice the rotation interval with no rotation ever performed.
func (c *Context) ValidateForAction(now, createdAt time.Time, params config.Params) error {
	if now.Sub(c.LastRotationTime) > params.MaxKeyAge {
		return kerrors.New(kerrors.InvalidKeys, "keys exceed maximum age")
	}
	if c.RotationCount == 0 && now.Sub(createdAt) > 2*params.RotationInterval {
		return kerrors.New(kerrors.InvalidKeys, "no rotation has occurred within twice the rotation interval")
	}
	return nil
}
