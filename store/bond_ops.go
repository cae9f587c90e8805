package store

import (
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/middleman-protocol/mmp-core/bond"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/metrics"
)

// newProposalID mints an opaque identifier for a slash proposal or
// insurance claim. These are handed to external callers (DAO tooling,
// insurers) that outlive a single process, so a UUID is preferable to a
// process-local counter that would collide across restarts.
func newProposalID() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", kerrors.Wrap(kerrors.Unknown, err, "generating proposal id")
	}
	return id, nil
}

// ProposeSlash opens a new slash proposal against a middleman's bond
// (spec §4.7, §6 propose_slash) and returns an opaque proposal ID the
// caller uses for subsequent Approve/Appeal/Finalize calls. Slashing
// targets a middleman, not a job, so it is not funneled through
// withContract — it is guarded by its own mutex instead.
func (s *Store) ProposeSlash(target, proposer crypto.PubKey, amount uint64, reason string, now time.Time) (string, error) {
	p, err := bond.Propose(target, proposer, amount, reason, now)
	if err != nil {
		return "", err
	}
	id, err := newProposalID()
	if err != nil {
		return "", err
	}
	s.slashMu.Lock()
	defer s.slashMu.Unlock()
	s.slashes[id] = p
	metrics.SlashesProposedTotal.Inc(1)
	return id, nil
}

// ApproveSlash records a DAO approver's vote (spec §6 approve_slash).
func (s *Store) ApproveSlash(id string, approver crypto.PubKey, now time.Time) error {
	s.slashMu.Lock()
	defer s.slashMu.Unlock()
	p, ok := s.slashes[id]
	if !ok {
		return kerrors.New(kerrors.InvalidState, "unknown slash proposal")
	}
	m, ok := s.registry.Get(p.Target)
	if !ok {
		return kerrors.New(kerrors.MiddlemanNotFound, "slash target is not a registered middleman")
	}
	return bond.Approve(p, approver, m.BondAmountSats, s.params, now)
}

// AppealSlash halts finalization of a cooling-off slash (spec §6
// appeal_slash).
func (s *Store) AppealSlash(id string) error {
	s.slashMu.Lock()
	defer s.slashMu.Unlock()
	p, ok := s.slashes[id]
	if !ok {
		return kerrors.New(kerrors.InvalidState, "unknown slash proposal")
	}
	return bond.Appeal(p)
}

// RejectSlash discards a proposal, e.g. after its appeal is upheld
// (spec §6 reject_slash).
func (s *Store) RejectSlash(id string) error {
	s.slashMu.Lock()
	defer s.slashMu.Unlock()
	p, ok := s.slashes[id]
	if !ok {
		return kerrors.New(kerrors.InvalidState, "unknown slash proposal")
	}
	bond.Reject(p)
	return nil
}

// FinalizeSlash executes an approved (and, if applicable, cooled-off)
// slash proposal, applying it to the middleman's bond in the registry
// (spec §4.7, §6 finalize_slash).
func (s *Store) FinalizeSlash(id string, now time.Time) error {
	s.slashMu.Lock()
	defer s.slashMu.Unlock()
	p, ok := s.slashes[id]
	if !ok {
		return kerrors.New(kerrors.InvalidState, "unknown slash proposal")
	}
	if err := bond.Finalize(p, now); err != nil {
		return err
	}
	if err := s.registry.ApplySlash(p.Target, p.AmountSats, now, p.Reason); err != nil {
		return err
	}
	metrics.SlashesFinalizedTotal.Inc(1)
	metrics.SlashedSatsTotal.Inc(int64(p.AmountSats))
	return nil
}

// FileInsuranceClaim opens a new claim against a middleman's bond
// (spec §4.7 supplement, §6 file_insurance_claim).
func (s *Store) FileInsuranceClaim(claimant, target crypto.PubKey, claimAmount, coverageSats uint64) (string, error) {
	if !claimant.Valid() || !target.Valid() {
		return "", kerrors.New(kerrors.InvalidKeys, "claimant and target keys required")
	}
	c := &bond.InsuranceClaim{
		Claimant:     claimant,
		Target:       target,
		ClaimAmount:  claimAmount,
		CoverageSats: coverageSats,
		Status:       bond.ClaimProposed,
	}
	id, err := newProposalID()
	if err != nil {
		return "", err
	}
	s.slashMu.Lock()
	defer s.slashMu.Unlock()
	s.claims[id] = c
	return id, nil
}

// ApproveInsuranceClaim records an approver's vote (spec §6
// approve_insurance_claim).
func (s *Store) ApproveInsuranceClaim(id string, approver crypto.PubKey) error {
	s.slashMu.Lock()
	defer s.slashMu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return kerrors.New(kerrors.InvalidState, "unknown insurance claim")
	}
	return bond.ApproveClaim(c, approver, s.params)
}

// PayInsuranceClaim computes and marks paid the bounded claim payout
// (spec §4.7 supplement, §6 pay_insurance_claim).
func (s *Store) PayInsuranceClaim(id string) (uint64, error) {
	s.slashMu.Lock()
	defer s.slashMu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return 0, kerrors.New(kerrors.InvalidState, "unknown insurance claim")
	}
	m, ok := s.registry.Get(c.Target)
	if !ok {
		return 0, kerrors.New(kerrors.MiddlemanNotFound, "claim target is not a registered middleman")
	}
	amount, err := bond.Payout(c, m.BondAmountSats, s.params)
	if err != nil {
		return 0, err
	}
	bond.MarkPaid(c)
	return amount, nil
}
