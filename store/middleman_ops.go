package store

import (
	"time"

	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/metrics"
	"github.com/middleman-protocol/mmp-core/middleman"
)

// RegisterMiddleman enrolls a new middleman candidate (spec §4.6, §6
// register_middleman). The registry is process-wide, not per-job, so it is
// not funneled through withContract.
func (s *Store) RegisterMiddleman(m *middleman.Middleman, now time.Time) error {
	return s.registry.Register(m, now)
}

// UpdateHeartbeat records a liveness ping against the middleman registry
// and the fallback rotation pool, whichever of the two (or both) knows the
// key (spec §4.8, §6 update_heartbeat). It fails only when neither does.
func (s *Store) UpdateHeartbeat(key crypto.PubKey, now time.Time) error {
	regErr := s.registry.UpdateHeartbeat(key, now)
	if s.fallbackRot != nil {
		// Not every middleman sits in the fallback arbitrator pool, and
		// not every fallback arbitrator is a registered middleman.
		if err := s.fallbackRot.Heartbeat(key, now); err == nil {
			return nil
		}
	}
	return regErr
}

// CheckFallbackLiveness re-evaluates the active fallback arbitrator's
// heartbeat age and performs an emergency rotation if it has gone dark
// for too long (spec §4.8, §6 check_fallback_liveness).
func (s *Store) CheckFallbackLiveness(now time.Time) (rotated bool, newArbitrator crypto.PubKey) {
	if s.fallbackRot == nil {
		return false, crypto.PubKey{}
	}
	rotated, newArbitrator = s.fallbackRot.CheckLiveness(now)
	if rotated {
		metrics.FallbackRotationsTotal.Inc(1)
		metrics.EmergencyFallbacksTotal.Inc(1)
	}
	return rotated, newArbitrator
}

// RotateFallbackScheduled performs the policy-driven, non-emergency
// fallback rotation once due (spec §4.8, §6 rotate_fallback_scheduled).
func (s *Store) RotateFallbackScheduled(now time.Time, currentBlock uint64) (crypto.PubKey, bool) {
	if s.fallbackRot == nil || !s.fallbackRot.DueForScheduledRotation(currentBlock) {
		return crypto.PubKey{}, false
	}
	next, ok := s.fallbackRot.RotateScheduled(now, currentBlock)
	if ok {
		metrics.FallbackRotationsTotal.Inc(1)
	}
	return next, ok
}
