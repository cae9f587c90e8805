// Package bond implements the bond/slashing/insurance economics layered on
// top of a registered middleman (spec §4.7): DAO-approved slash proposals
// with a cooling-off period for large slashes, and insurance claim
// resolution bounded by both the claim's own coverage and the middleman's
// remaining bond. State here mirrors the teacher's preference for an
// explicit proposal-then-approve-then-finalize pipeline over an immediate
// mutation, the same shape as istanbul's multi-validator agreement before a
// state change commits.
package bond

import (
	"time"

	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/log"
)

var logger = log.NewModuleLogger(log.Bond)

// SlashStatus is the lifecycle of a slash proposal.
type SlashStatus int

const (
	SlashProposed SlashStatus = iota
	SlashApproved
	SlashCoolingOff
	SlashFinalized
	SlashAppealed
	SlashRejected
)

// SlashProposal is a proposed bond slash against a middleman (spec §4.7).
type SlashProposal struct {
	Target        crypto.PubKey
	Proposer      crypto.PubKey
	AmountSats    uint64
	Reason        string
	ProposedAt    time.Time
	Approvers     []crypto.PubKey
	Status        SlashStatus
	CoolingOffEnd *time.Time
	FinalizedAt   *time.Time
}

// requiresCoolingOff reports whether a slash of this size against a bond of
// bondAmount triggers the mandatory cooling-off window (spec §4.7: slashes
// at or above 25% of bond).
func requiresCoolingOff(amount, bondAmount uint64, params config.Params) bool {
	if bondAmount == 0 {
		return true
	}
	return float64(amount)/float64(bondAmount) >= params.SlashCoolingOffRatio
}

// Propose opens a new slash proposal.
func Propose(target, proposer crypto.PubKey, amount uint64, reason string, now time.Time) (*SlashProposal, error) {
	if !target.Valid() || !proposer.Valid() {
		return nil, kerrors.New(kerrors.InvalidKeys, "target and proposer keys required")
	}
	if amount == 0 {
		return nil, kerrors.New(kerrors.SlashInvalid, "slash amount must be positive")
	}
	return &SlashProposal{
		Target:     target,
		Proposer:   proposer,
		AmountSats: amount,
		Reason:     reason,
		ProposedAt: now,
		Status:     SlashProposed,
	}, nil
}

// Approve records a DAO approver's vote. Once MinDAOApprovers distinct
// votes are recorded the proposal moves to SlashApproved (or directly
// SlashCoolingOff if the amount requires it).
func Approve(p *SlashProposal, approver crypto.PubKey, bondAmount uint64, params config.Params, now time.Time) error {
	if p.Status != SlashProposed && p.Status != SlashApproved {
		return kerrors.New(kerrors.InvalidState, "proposal is not open for approval")
	}
	for _, a := range p.Approvers {
		if a == approver {
			return kerrors.New(kerrors.InvalidState, "approver already voted")
		}
	}
	p.Approvers = append(p.Approvers, approver)
	if len(p.Approvers) < params.MinDAOApprovers {
		return nil
	}
	if requiresCoolingOff(p.AmountSats, bondAmount, params) {
		end := now.Add(blocksToDuration(params.CoolingOffBlocks))
		p.Status = SlashCoolingOff
		p.CoolingOffEnd = &end
		logger.Warn("slash entering cooling-off", "target", p.Target, "amount_sats", p.AmountSats, "cooling_off_end", end)
	} else {
		p.Status = SlashApproved
	}
	return nil
}

// blocksToDuration converts a block count to wall time at a fixed 10
// minutes per block. Approve uses it for every cooling-off window; no
// collab.ChainView block interval is consulted.
func blocksToDuration(blocks uint32) time.Duration {
	return time.Duration(blocks) * 10 * time.Minute
}

// Finalize executes an approved (and, if applicable, cooled-off) proposal.
// The caller is responsible for applying AmountSats to the middleman's bond
// via middleman.Registry.ApplySlash once Finalize returns nil.
func Finalize(p *SlashProposal, now time.Time) error {
	switch p.Status {
	case SlashApproved:
	case SlashCoolingOff:
		if p.CoolingOffEnd == nil || now.Before(*p.CoolingOffEnd) {
			return kerrors.New(kerrors.CoolingOff, "cooling-off period has not elapsed")
		}
	case SlashAppealed:
		return kerrors.New(kerrors.AppealInvalid, "proposal is under appeal and cannot be finalized")
	default:
		return kerrors.New(kerrors.InsufficientApprovers, "proposal has not reached approval threshold")
	}
	p.Status = SlashFinalized
	t := now
	p.FinalizedAt = &t
	return nil
}

// Appeal halts finalization of a cooling-off slash pending DAO review
// (spec §4.7 appeal path). Only a slash still in its cooling-off window may
// be appealed.
func Appeal(p *SlashProposal) error {
	if p.Status != SlashCoolingOff {
		return kerrors.New(kerrors.AppealInvalid, "only a slash in cooling-off may be appealed")
	}
	p.Status = SlashAppealed
	return nil
}

// Reject discards a proposal (e.g. the appeal was upheld).
func Reject(p *SlashProposal) {
	p.Status = SlashRejected
}

// InsuranceClaimStatus mirrors SlashStatus's proposal pipeline for
// middleman-bond-backed insurance claims (SPEC_FULL.md §6.7 supplement
// resolving the over-collateralization open question).
type InsuranceClaimStatus int

const (
	ClaimProposed InsuranceClaimStatus = iota
	ClaimApproved
	ClaimPaid
	ClaimRejected
)

// InsuranceClaim requests a payout from a middleman's bond for a covered
// loss. CoverageSats may exceed the bond (over-collateralization is
// permitted at policy-issuance time), but the eventual payout is always
// bounded by both coverage and the middleman's current bond.
type InsuranceClaim struct {
	Claimant     crypto.PubKey
	Target       crypto.PubKey
	ClaimAmount  uint64
	CoverageSats uint64
	Approvers    []crypto.PubKey
	Status       InsuranceClaimStatus
}

// ApproveClaim records an approver's vote; once the approval ratio is met
// against MinInsuranceApprovers..MaxInsuranceApprovers the claim becomes
// payable.
func ApproveClaim(c *InsuranceClaim, approver crypto.PubKey, params config.Params) error {
	if c.Status != ClaimProposed && c.Status != ClaimApproved {
		return kerrors.New(kerrors.InvalidState, "claim is not open for approval")
	}
	for _, a := range c.Approvers {
		if a == approver {
			return kerrors.New(kerrors.InvalidState, "approver already voted")
		}
	}
	c.Approvers = append(c.Approvers, approver)
	needed := params.MinInsuranceApprovers
	if ratioNeeded := int(params.InsuranceApprovalRatio * float64(params.MaxInsuranceApprovers)); ratioNeeded > needed {
		needed = ratioNeeded
	}
	if len(c.Approvers) >= needed {
		c.Status = ClaimApproved
	}
	return nil
}

// Payout computes the bounded claim payout: min(claim_amount *
// MaxPayoutRatio, coverage, bond_amount_sats) — the exact resolution
// SPEC_FULL.md records for the over-collateralization open question.
func Payout(c *InsuranceClaim, bondAmountSats uint64, params config.Params) (uint64, error) {
	if c.Status != ClaimApproved {
		return 0, kerrors.New(kerrors.InsufficientApprovers, "claim has not reached approval threshold")
	}
	capped := uint64(float64(c.ClaimAmount) * params.MaxPayoutRatio)
	payout := capped
	if c.CoverageSats < payout {
		payout = c.CoverageSats
	}
	if bondAmountSats < payout {
		payout = bondAmountSats
	}
	return payout, nil
}

// MarkPaid transitions a claim to paid after its payout has been
// transferred by the caller.
func MarkPaid(c *InsuranceClaim) {
	c.Status = ClaimPaid
}
