package contract

import (
	"encoding/binary"
	"time"

	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/dispute"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/keys"
	"github.com/middleman-protocol/mmp-core/log"
	"github.com/middleman-protocol/mmp-core/script"
	"github.com/middleman-protocol/mmp-core/state"
)

var logger = log.NewModuleLogger(log.Contract)

// JobID derives the deterministic job identifier H(employer_pubkey ||
// title || created_timestamp) (spec §3 JobContract.job_id).
func JobID(employer crypto.PubKey, title string, createdAt time.Time) [32]byte {
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(createdAt.Unix()))
	return crypto.SHA256(employer[:], []byte(title), tsBuf[:])
}

// Contract is the JobContract aggregate (spec §3).
type Contract struct {
	JobID        [32]byte
	Metadata     Metadata
	Keys         *keys.Context
	ScriptPaths  script.Paths
	Machine      *state.Machine
	Applications applicationSet
	AssignedWorker crypto.PubKey
	Dispute      *dispute.Record
	DisputeConfig dispute.Config
	LastKeyRotation time.Time
	CreatedAt    time.Time
	CreatedHeight uint64

	// Funding/resolution txids, tracked for the persisted format (spec §6)
	// but set by the host once it observes the corresponding on-chain
	// transaction confirm — the core never broadcasts or watches chain
	// state itself.
	FundingTxid    [32]byte
	FundingVout    uint32
	ResolutionTxid [32]byte
}

// New constructs a fresh JobContract in the Created state (spec §4.4
// new_contract). The caller is expected to have already validated
// Metadata via Metadata.Validate.
func New(employer crypto.PubKey, meta Metadata, now time.Time, createdHeight uint64, disputeCfg dispute.Config) *Contract {
	id := JobID(employer, meta.Title, now)
	return &Contract{
		JobID:           id,
		Metadata:        meta,
		Keys:            keys.New(employer, now),
		Machine:         state.New(),
		DisputeConfig:   disputeCfg,
		LastKeyRotation: now,
		CreatedAt:       now,
		CreatedHeight:   createdHeight,
	}
}

// DeepCopy returns an independent copy for the per-contract guard's
// snapshot-and-commit discipline (spec §9).
func (c *Contract) DeepCopy() *Contract {
	cp := *c
	cp.Keys = c.Keys.DeepCopy()
	cp.Machine = c.Machine.DeepCopy()
	cp.Applications = applicationSet{items: c.Applications.List()}
	if c.Dispute != nil {
		d := *c.Dispute
		d.ProposedByEmployer = append([]crypto.PubKey(nil), c.Dispute.ProposedByEmployer...)
		d.ProposedByWorker = append([]crypto.PubKey(nil), c.Dispute.ProposedByWorker...)
		d.Evidence = append([]dispute.Evidence(nil), c.Dispute.Evidence...)
		cp.Dispute = &d
	}
	return &cp
}

// Open transitions Created -> Open, marking the job visible for
// applications (spec §4.1).
func (c *Contract) Open(now time.Time, txid [32]byte) error {
	return c.Machine.Transition(state.Open, now, txid, "open", false)
}

// Apply records a worker's application while the job is Open.
func (c *Contract) Apply(worker crypto.PubKey, now time.Time, message string) error {
	if c.Machine.Current != state.Open {
		return kerrors.New(kerrors.InvalidState, "job is not open for applications")
	}
	return c.Applications.Apply(worker, now, message)
}

// AssignWorker selects one applicant, escalates the key context, rebuilds
// script paths, and transitions Open -> Assigned (spec §4.1, §4.3, §4.4).
func (c *Contract) AssignWorker(worker crypto.PubKey, adapter crypto.Adapter, now time.Time, txid [32]byte) error {
	if c.Machine.Current != state.Open {
		return kerrors.New(kerrors.InvalidState, "job is not open")
	}
	found := false
	for _, app := range c.Applications.List() {
		if app.Worker == worker {
			found = true
			break
		}
	}
	if !found {
		return kerrors.New(kerrors.InvalidState, "worker did not apply to this job")
	}
	if err := c.Keys.AssignWorker(worker, adapter); err != nil {
		return err
	}
	paths, err := script.BuildPaths(script.KeySet{Employer: c.Keys.EmployerKey, Worker: c.Keys.WorkerKey})
	if err != nil {
		return err
	}
	if err := c.Machine.Transition(state.Assigned, now, txid, "assign_worker", false); err != nil {
		return err
	}
	c.AssignedWorker = worker
	c.ScriptPaths = paths
	return nil
}

// StartWork transitions Assigned -> InProgress.
func (c *Contract) StartWork(now time.Time, txid [32]byte) error {
	return c.Machine.Transition(state.InProgress, now, txid, "start_work", false)
}

// CompleteWork transitions InProgress -> Completed, starting the
// cooperative-timeout clock.
func (c *Contract) CompleteWork(now time.Time, txid [32]byte) error {
	return c.Machine.Transition(state.Completed, now, txid, "complete_work", false)
}

// Cancel transitions to Cancelled from any state that permits it.
func (c *Contract) Cancel(now time.Time, txid [32]byte) error {
	return c.Machine.Transition(state.Cancelled, now, txid, "cancel", false)
}

// RaiseDispute opens a dispute record and transitions to Disputed (spec
// §4.5 step 1). reason and initiator come from the raising party.
func (c *Contract) RaiseDispute(initiator crypto.PubKey, reason string, now time.Time, txid [32]byte) error {
	if c.Machine.Current != state.InProgress && c.Machine.Current != state.Completed {
		return kerrors.New(kerrors.InvalidState, "dispute can only be raised from InProgress or Completed")
	}
	if err := c.Machine.Transition(state.Disputed, now, txid, "raise_dispute", false); err != nil {
		return err
	}
	c.Dispute = dispute.Raise(initiator, reason, now)
	return nil
}

// EscalateToMiddleman sets the agreed middleman's key into the key context
// and rebuilds script paths (spec §4.3, §4.5 step 2).
func (c *Contract) EscalateToMiddleman(middleman crypto.PubKey, adapter crypto.Adapter) error {
	if err := c.Keys.EscalateToMiddleman(middleman, adapter); err != nil {
		return err
	}
	paths, err := script.BuildPaths(script.KeySet{
		Employer:  c.Keys.EmployerKey,
		Worker:    c.Keys.WorkerKey,
		Middleman: c.Keys.MiddlemanKey,
	})
	if err != nil {
		return err
	}
	c.ScriptPaths = paths
	return nil
}

// Resolve transitions Disputed/Completed -> Resolved once a resolution
// path and payout have been computed by the dispute engine. Cooperative and
// WorkerTimeout are the two paths a job reaches without ever opening a
// dispute (spec §4.5 "Cooperative timeout"); every other path requires an
// open Dispute record to resolve.
func (c *Contract) Resolve(path dispute.ResolutionPath, now time.Time, txid [32]byte) error {
	if c.Dispute == nil && path != dispute.PathWorkerTimeout && path != dispute.PathCooperative {
		return kerrors.New(kerrors.InvalidState, "no dispute is open")
	}
	if err := c.Machine.Transition(state.Resolved, now, txid, "resolve:"+path.String(), false); err != nil {
		return err
	}
	if c.Dispute != nil {
		c.Dispute.ResolutionPath = &path
	}
	return nil
}

// ClaimTimeout implements spec §6's claim_timeout(job_id, current_time): the
// worker-initiated cooperative-timeout claim. Once CooperativeTimeoutAfter
// has elapsed since CompleteWork with no dispute raised and no resolution
// reached, the worker may unilaterally claim the full escrow via the
// worker_timeout script path, landing the contract in Resolved directly
// from Completed without a Dispute record ever existing (spec §4.5).
func (c *Contract) ClaimTimeout(now time.Time, cooperativeTimeoutAfter time.Duration, txid [32]byte) error {
	if c.Machine.Current != state.Completed {
		return kerrors.New(kerrors.InvalidState, "job is not in the cooperative-timeout window")
	}
	if c.Machine.CompletionTime == nil || now.Sub(*c.Machine.CompletionTime) < cooperativeTimeoutAfter {
		return kerrors.New(kerrors.InvalidState, "cooperative timeout window has not yet elapsed")
	}
	if err := c.Machine.Transition(state.Resolved, now, txid, "claim_timeout", false); err != nil {
		return err
	}
	path := dispute.PathWorkerTimeout
	if c.Dispute != nil {
		c.Dispute.ResolutionPath = &path
	}
	return nil
}

// ExpireByBlockHeight transitions to Expired when the job's timeout_blocks
// window has elapsed without progress (spec §4.1 IsExpired). This is the
// block-height expiry check for a job that was never assigned or never
// progressed — distinct from ClaimTimeout's wall-clock cooperative-timeout
// claim, which only applies once work has already been completed.
func (c *Contract) ExpireByBlockHeight(currentHeight uint64, timeoutBlocks uint32, now time.Time, txid [32]byte) error {
	if !state.IsExpired(currentHeight, c.CreatedHeight, timeoutBlocks) {
		return kerrors.New(kerrors.InvalidState, "job has not yet timed out")
	}
	return c.Machine.Transition(state.Expired, now, txid, "expire_by_block_height", false)
}

// RotateKeys delegates to the embedded KeyContext and rebuilds script paths
// on success, keeping the "rebuild is all-or-nothing" guarantee (spec
// §4.2, §4.3): if BuildPaths fails the KeyContext mutation already
// committed is not rolled back here — callers invoke RotateKeys only
// against a DeepCopy they can discard wholesale on any error (spec §9).
func (c *Contract) RotateKeys(in keys.RotateInput, params config.Params) error {
	if err := c.Keys.Rotate(in, params); err != nil {
		return err
	}
	paths, err := script.BuildPaths(script.KeySet{
		Employer:  c.Keys.EmployerKey,
		Worker:    c.Keys.WorkerKey,
		Middleman: c.Keys.MiddlemanKey,
	})
	if err != nil {
		return err
	}
	c.ScriptPaths = paths
	c.LastKeyRotation = in.Now
	c.Machine.AddEvent(in.Now, [32]byte{}, "rotate_keys")
	return nil
}
