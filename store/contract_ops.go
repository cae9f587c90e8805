package store

import (
	"time"

	"github.com/middleman-protocol/mmp-core/contract"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/keys"
	"github.com/middleman-protocol/mmp-core/metrics"
	"github.com/middleman-protocol/mmp-core/txtpl"
)

// ApplyToJob records a worker's application (spec §6 apply_to_job).
func (s *Store) ApplyToJob(jobID [32]byte, worker crypto.PubKey, proposal string, now time.Time) error {
	return s.withContract(jobID, func(c *contract.Contract) error {
		return c.Apply(worker, now, proposal)
	})
}

// AssignWorker transitions Open -> Assigned and returns the unsigned
// WorkerSelectionUpgrade template (spec §6 assign_worker).
func (s *Store) AssignWorker(jobID [32]byte, worker crypto.PubKey, fundingIn txtpl.Input, now time.Time, txid [32]byte) (*txtpl.Factory, []byte, error) {
	factory := txtpl.NewFactory()
	var redeemScript []byte
	err := s.withContract(jobID, func(c *contract.Contract) error {
		if err := c.AssignWorker(worker, s.adapter, now, txid); err != nil {
			return err
		}
		redeemScript = c.ScriptPaths.EmployerApproval
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if _, err := factory.Build(txtpl.WorkerSelectionUpgrade, fundingIn, redeemScript); err != nil {
		return nil, nil, err
	}
	return factory, redeemScript, nil
}

// StartWork transitions Assigned -> InProgress (spec §6 start_work).
func (s *Store) StartWork(jobID [32]byte, now time.Time, txid [32]byte) error {
	return s.withContract(jobID, func(c *contract.Contract) error {
		return c.StartWork(now, txid)
	})
}

// CompleteWork transitions InProgress -> Completed (spec §6 complete_work).
func (s *Store) CompleteWork(jobID [32]byte, now time.Time, txid [32]byte) error {
	return s.withContract(jobID, func(c *contract.Contract) error {
		if err := c.CompleteWork(now, txid); err != nil {
			return err
		}
		c.ResolutionTxid = txid
		return nil
	})
}

// Cancel transitions to Cancelled where permissible (spec §6 cancel).
func (s *Store) Cancel(jobID [32]byte, reason string, now time.Time, txid [32]byte) error {
	return s.withContract(jobID, func(c *contract.Contract) error {
		if err := c.Cancel(now, txid); err != nil {
			return err
		}
		c.Machine.AddEvent(now, txid, "cancel:"+reason)
		return nil
	})
}

// ClaimTimeout lets the worker unilaterally claim the escrow once the
// cooperative-timeout window has elapsed past CompleteWork with no dispute
// or resolution reached (spec §6 claim_timeout(job_id, current_time), §4.5
// "Cooperative timeout"). Final state is Resolved with
// resolution_path = WorkerTimeout.
func (s *Store) ClaimTimeout(jobID [32]byte, now time.Time, txid [32]byte) error {
	err := s.withContract(jobID, func(c *contract.Contract) error {
		return c.ClaimTimeout(now, s.params.CooperativeTimeoutAfter, txid)
	})
	if err == nil {
		metrics.DisputesResolvedTotal.Inc(1)
		metrics.ResolutionPathCounter("WorkerTimeout").Inc(1)
	}
	return err
}

// ExpireByBlockHeight transitions a stalled job to Expired once
// timeout_blocks has elapsed since creation with no assignment/progress
// (spec §4.1 IsExpired).
func (s *Store) ExpireByBlockHeight(jobID [32]byte, currentHeight uint64, now time.Time, txid [32]byte) error {
	return s.withContract(jobID, func(c *contract.Contract) error {
		return c.ExpireByBlockHeight(currentHeight, c.Metadata.TimeoutBlocks, now, txid)
	})
}

// keysRotateInput builds a keys.RotateInput from the Store's collaborators.
func keysRotateInput(s *Store, jobID [32]byte, now time.Time, newEmployerKey, newWorkerKey crypto.PubKey) keys.RotateInput {
	return keys.RotateInput{
		Adapter:        s.adapter,
		Rng:            s.rng,
		JobID:          jobID,
		Now:            now,
		Emergency:      true,
		NewEmployerKey: newEmployerKey,
		NewWorkerKey:   newWorkerKey,
	}
}

// RotateKeys performs an ordinary or emergency key rotation (spec §6
// rotate_keys). New key material is supplied by the caller (the host's
// wallet collaborator generates fresh secrets and hands back only the
// public keys), consistent with KeyContext.Rotate's contract.
func (s *Store) RotateKeys(jobID [32]byte, emergency bool, newEmployerKey, newWorkerKey crypto.PubKey, now time.Time) error {
	err := s.withContract(jobID, func(c *contract.Contract) error {
		in := keys.RotateInput{
			Adapter:        s.adapter,
			Rng:            s.rng,
			JobID:          jobID,
			Now:            now,
			Emergency:      emergency,
			NewEmployerKey: newEmployerKey,
			NewWorkerKey:   newWorkerKey,
		}
		return c.RotateKeys(in, s.params)
	})
	if err == nil {
		metrics.RotationsTotal.Inc(1)
		if emergency {
			metrics.EmergencyRotationsTotal.Inc(1)
		}
	}
	return err
}
