package store

import (
	"time"

	"github.com/middleman-protocol/mmp-core/contract"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/dispute"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/metrics"
)

// RaiseDispute opens a dispute record and, per spec §4.5's "the dispute
// itself triggers an emergency key rotation" note, immediately performs an
// emergency rotation with caller-supplied fresh keys so the cosigning
// set in flight during the dispute can no longer be derived from keys
// that predate the dispute.
func (s *Store) RaiseDispute(jobID [32]byte, initiator crypto.PubKey, reason string, emergencyEmployerKey, emergencyWorkerKey crypto.PubKey, now time.Time, txid [32]byte) error {
	err := s.withContract(jobID, func(c *contract.Contract) error {
		if err := c.RaiseDispute(initiator, reason, now, txid); err != nil {
			return err
		}
		in := keysRotateInput(s, jobID, now, emergencyEmployerKey, emergencyWorkerKey)
		return c.RotateKeys(in, s.params)
	})
	if err == nil {
		metrics.DisputesRaisedTotal.Inc(1)
		metrics.EmergencyRotationsTotal.Inc(1)
	}
	return err
}

// ProposeMiddleman records one party's candidate list for a dispute
// (spec §4.5 step 2, §6 propose_middleman).
func (s *Store) ProposeMiddleman(jobID [32]byte, isEmployer bool, candidate crypto.PubKey, jobAmount uint64, disputeAgeBlocks uint32) error {
	return s.withContract(jobID, func(c *contract.Contract) error {
		if c.Dispute == nil {
			return kerrors.New(kerrors.InvalidState, "no dispute is open for this job")
		}
		if err := c.Dispute.ProposeMiddleman(isEmployer, candidate); err != nil {
			return err
		}
		err := s.disputeEngine.Reconcile(c.Dispute, jobAmount, disputeAgeBlocks, c.DisputeConfig)
		if err != nil {
			// Not yet reconciled is not a failure of propose_middleman
			// itself; only surface engine errors that aren't the
			// expected "still waiting" outcome.
			if kerrors.KindOf(err) == kerrors.NotAgreed {
				return nil
			}
			return err
		}
		if c.Dispute.AgreedMiddleman != nil {
			if err := c.EscalateToMiddleman(*c.Dispute.AgreedMiddleman, s.adapter); err != nil {
				return err
			}
			// best-effort: a middleman not found in the registry (e.g. an
			// emergency arbitrator pulled from fallback rotation rather
			// than the bonded pool) still resolves the dispute.
			_ = s.registry.RecordDispute(*c.Dispute.AgreedMiddleman)
		}
		return nil
	})
}

// SubmitEvidence validates and appends evidence to the open dispute
// (spec §4.5 step 3, §6 submit_evidence).
func (s *Store) SubmitEvidence(jobID [32]byte, ev dispute.Evidence, now time.Time) error {
	return s.withContract(jobID, func(c *contract.Contract) error {
		if c.Dispute == nil {
			return kerrors.New(kerrors.InvalidState, "no dispute is open for this job")
		}
		return s.disputeEngine.SubmitEvidence(c.Dispute, ev, c.DisputeConfig, now)
	})
}

// Resolve computes the payout for a chosen resolution path and transitions
// the contract to Resolved (spec §4.5 step 4, §6 resolve).
func (s *Store) Resolve(jobID [32]byte, path dispute.ResolutionPath, fee uint64, split [2]uint64, completionTime, now time.Time, txid [32]byte) (dispute.Payout, error) {
	var payout dispute.Payout
	err := s.withContract(jobID, func(c *contract.Contract) error {
		if c.Dispute == nil && path != dispute.PathWorkerTimeout && path != dispute.PathCooperative {
			return kerrors.New(kerrors.InvalidState, "no dispute is open for this job")
		}
		p, err := s.disputeEngine.Resolve(c.Dispute, path, c.Metadata.AmountSats, fee, split, completionTime, now)
		if err != nil {
			return err
		}
		if err := c.Resolve(path, now, txid); err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err == nil {
		metrics.DisputesResolvedTotal.Inc(1)
		metrics.ResolutionPathCounter(path.String()).Inc(1)
	}
	return payout, err
}

// FileAppeal challenges a resolution within the challenge window
// (spec §4.5 step 5, §6 file_appeal).
func (s *Store) FileAppeal(jobID [32]byte, filer crypto.PubKey, evidence dispute.Evidence, disputeAgeBlocks uint32, now time.Time) error {
	err := s.withContract(jobID, func(c *contract.Contract) error {
		if c.Dispute == nil {
			return kerrors.New(kerrors.InvalidState, "no dispute is open for this job")
		}
		return s.disputeEngine.FileAppeal(c.Dispute, filer, evidence, disputeAgeBlocks, c.DisputeConfig, now)
	})
	if err == nil {
		metrics.AppealsFiledTotal.Inc(1)
	}
	return err
}
