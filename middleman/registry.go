package middleman

import (
	"sort"
	"sync"
	"time"

	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/log"
)

var logger = log.NewModuleLogger(log.MiddlemanRegistry)

// scored pairs a Middleman with its computed weight for one selection call,
// mirroring the teacher's weightedValidator sort-then-pick idiom
// (consensus/istanbul/validator/weighted.go) generalized from stake weight
// to the five-factor blend in spec §4.6.
type scored struct {
	m     *Middleman
	score float64
}

type byScore []scored

func (s byScore) Len() int           { return len(s) }
func (s byScore) Less(i, j int) bool { return s[i].score > s[j].score } // descending
func (s byScore) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Registry holds the set of registered middlemen, guarded by a single
// RWMutex covering insertion, removal, and per-candidate field updates —
// the same granularity the teacher uses for its validator set
// (weightedCouncil.validatorMu), rather than per-candidate locks, since
// registry membership changes are rare relative to reads.
type Registry struct {
	mu      sync.RWMutex
	members map[crypto.PubKey]*Middleman
	cache   *SpecialtyCache
	params  config.Params
}

// NewRegistry constructs an empty Registry.
func NewRegistry(params config.Params) *Registry {
	cache, err := NewSpecialtyCache(params.SpecialtyCacheSize)
	if err != nil {
		logger.Warn("specialty cache disabled", "err", err)
	}
	return &Registry{
		members: make(map[crypto.PubKey]*Middleman),
		cache:   cache,
		params:  params,
	}
}

// Register adds a new candidate after validating the bond economics (spec
// §4.6 eligibility): bond within [MinBondSats, MaxBondSats], fee ratio not
// exceeding MaxFeeRatioOfBond, and a bond of at least MinMaxJobBondRatio
// of the max job amount.
func (r *Registry) Register(m *Middleman, now time.Time) error {
	if !m.PubKey.Valid() {
		return kerrors.New(kerrors.InvalidKeys, "middleman key invalid")
	}
	if m.BondAmountSats < r.params.MinBondSats || m.BondAmountSats > r.params.MaxBondSats {
		return kerrors.New(kerrors.InsufficientBond, "bond amount out of policy range")
	}
	if m.FeeRatio < 0 || m.FeeRatio > r.params.MaxFeeRatioOfBond {
		return kerrors.New(kerrors.FeeExceedsBond, "fee ratio exceeds policy maximum")
	}
	if float64(m.BondAmountSats) < r.params.MinMaxJobBondRatio*float64(m.MaxJobAmountSats) {
		return kerrors.New(kerrors.EconomicRatiosInvalid, "bond too small relative to max job amount")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[m.PubKey]; exists {
		return kerrors.New(kerrors.InvalidState, "middleman already registered")
	}
	cp := m.DeepCopy()
	cp.RegisteredAt = now
	cp.Active = true
	cp.LastHeartbeat = now
	r.members[cp.PubKey] = cp
	logger.Info("middleman registered", "pubkey", cp.PubKey, "bond_sats", cp.BondAmountSats)
	return nil
}

// Get returns a defensive copy of one member.
func (r *Registry) Get(key crypto.PubKey) (*Middleman, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[key]
	if !ok {
		return nil, false
	}
	return m.DeepCopy(), true
}

// UpdateHeartbeat records a liveness ping (spec §4.8).
func (r *Registry) UpdateHeartbeat(key crypto.PubKey, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[key]
	if !ok {
		return kerrors.New(kerrors.MiddlemanNotFound, "unknown middleman")
	}
	m.LastHeartbeat = now
	return nil
}

// Deactivate marks a middleman inactive, e.g. after slashing removes its
// bond below the minimum (spec §4.7).
func (r *Registry) Deactivate(key crypto.PubKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[key]
	if !ok {
		return kerrors.New(kerrors.MiddlemanNotFound, "unknown middleman")
	}
	m.Active = false
	return nil
}

// weight computes the five-factor blend (spec §4.6):
// rep_score*w1 + resp_score*w2 + fee_score*w3 + specialty*w4 + perf*w5.
// rep_score is effective_reputation (ReputationScore penalized by bond
// slashes, spec §4.6). resp_score and fee_score are normalized against the
// policy's fixed ResponseTimeMax/FeeRatioMax ceilings, not the candidate
// pool's own min/max, so a given middleman's score does not drift with who
// else happens to be in the pool for a given selection call.
func weight(m *Middleman, jobAmount uint64, specialty string, params config.Params) float64 {
	respScore := 0.0
	if params.ResponseTimeMax > 0 {
		respScore = 1.0 - float64(m.AvgResponseTime)/float64(params.ResponseTimeMax)
		if respScore < 0 {
			respScore = 0
		}
	}
	feeScore := 0.5
	if params.FeeRatioMax > 0 {
		feeScore = (params.FeeRatioMax - m.FeeRatio) / params.FeeRatioMax
		if feeScore < 0 {
			feeScore = 0
		}
		if feeScore > 1 {
			feeScore = 1
		}
	}
	specialtyScore := 0.0
	if specialty != "" && m.HasSpecialty(specialty) {
		specialtyScore = 1.0
	}
	perfScore := m.Performance.Score()

	return m.EffectiveReputation()*params.WeightReputation +
		respScore*params.WeightResponse +
		feeScore*params.WeightFee +
		specialtyScore*params.WeightSpecialty +
		perfScore*params.WeightPerf
}

// eligible reports whether m may handle a job of jobAmount sats: active,
// heartbeat not stale beyond the alert threshold, and max job amount
// sufficient.
func (r *Registry) eligible(m *Middleman, jobAmount uint64, now time.Time) bool {
	if !m.Active {
		return false
	}
	if m.MaxJobAmountSats < jobAmount {
		return false
	}
	if now.Sub(m.LastHeartbeat) >= r.params.HeartbeatAlert {
		return false
	}
	return true
}

// SelectBest ranks candidates (spec §4.6) and returns the top-scoring
// eligible one. Implements dispute.MiddlemanSelector via structural typing.
func (r *Registry) SelectBest(candidates []crypto.PubKey, jobAmount uint64) (crypto.PubKey, error) {
	return r.SelectBestWithSpecialty(candidates, jobAmount, "", time.Now())
}

// SelectBestWithSpecialty is the full-parameter selection entry point; the
// specialty cache keeps the winner of the last SpecialtyCacheSize
// (job_amount, specialty) selections to avoid rescanning the pool on
// repeated lookups for the same job profile (spec §4.6 "may cache recent
// scores"). A cached winner is returned only if it is in candidates and
// still eligible.
func (r *Registry) SelectBestWithSpecialty(candidates []crypto.PubKey, jobAmount uint64, specialty string, now time.Time) (crypto.PubKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.cache != nil {
		if best, ok := r.cache.Get(specialty, jobAmount); ok {
			inPool := false
			for _, c := range candidates {
				if c == best {
					inPool = true
					break
				}
			}
			if m, exists := r.members[best]; inPool && exists && r.eligible(m, jobAmount, now) {
				return best, nil
			}
		}
	}

	pool := make([]*Middleman, 0, len(candidates))
	for _, c := range candidates {
		m, ok := r.members[c]
		if !ok || !r.eligible(m, jobAmount, now) {
			continue
		}
		pool = append(pool, m)
	}
	if len(pool) == 0 {
		return crypto.PubKey{}, kerrors.New(kerrors.MiddlemanNotFound, "no eligible middleman in candidate pool")
	}

	ranked := make(byScore, 0, len(pool))
	for _, m := range pool {
		ranked = append(ranked, scored{m: m, score: weight(m, jobAmount, specialty, r.params)})
	}
	sort.Sort(ranked)

	best := ranked[0].m.PubKey
	if r.cache != nil {
		r.cache.Add(specialty, jobAmount, best)
	}
	return best, nil
}

// RankedCandidates returns all eligible candidates sorted best-first,
// exposed for hosts that want the full ranking (e.g. worker-facing
// recommendation lists) rather than just the top pick.
func (r *Registry) RankedCandidates(candidates []crypto.PubKey, jobAmount uint64, specialty string, now time.Time) []crypto.PubKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool := make([]*Middleman, 0, len(candidates))
	for _, c := range candidates {
		m, ok := r.members[c]
		if !ok || !r.eligible(m, jobAmount, now) {
			continue
		}
		pool = append(pool, m)
	}
	if len(pool) == 0 {
		return nil
	}
	ranked := make(byScore, 0, len(pool))
	for _, m := range pool {
		ranked = append(ranked, scored{m: m, score: weight(m, jobAmount, specialty, r.params)})
	}
	sort.Sort(ranked)
	out := make([]crypto.PubKey, len(ranked))
	for i, s := range ranked {
		out[i] = s.m.PubKey
	}
	return out
}

// RecordOutcome appends a resolution outcome to a middleman's performance
// window (spec §4.6 "perf" factor input).
func (r *Registry) RecordOutcome(key crypto.PubKey, o ResolutionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[key]
	if !ok {
		return kerrors.New(kerrors.MiddlemanNotFound, "unknown middleman")
	}
	m.Performance.Record(o)
	return nil
}

// ApplySlash reduces a middleman's bond and deactivates it if the bond
// falls below the policy minimum (spec §4.7). It also appends to
// slash_history and increments bond_slashes, the counters
// effective_reputation (spec §4.6) is computed from.
func (r *Registry) ApplySlash(key crypto.PubKey, amount uint64, now time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[key]
	if !ok {
		return kerrors.New(kerrors.MiddlemanNotFound, "unknown middleman")
	}
	if amount > m.BondAmountSats {
		amount = m.BondAmountSats
	}
	m.BondAmountSats -= amount
	m.TotalSlashedSats += amount
	m.SlashCount++
	m.BondSlashes++
	m.SlashHistory = append(m.SlashHistory, SlashRecord{Timestamp: now, AmountSats: amount, Reason: reason})
	if m.BondAmountSats < r.params.MinBondSats {
		m.Active = false
	}
	logger.Warn("middleman slashed", "pubkey", key, "amount_sats", amount, "remaining_bond", m.BondAmountSats)
	return nil
}

// RecordDispute increments a middleman's total_disputes counter (spec §3),
// the denominator effective_reputation divides the slash count by. Callers
// record one dispute per job escalated to this middleman regardless of
// outcome, mirroring RecordOutcome's one-call-per-resolution convention.
func (r *Registry) RecordDispute(key crypto.PubKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[key]
	if !ok {
		return kerrors.New(kerrors.MiddlemanNotFound, "unknown middleman")
	}
	m.TotalDisputes++
	return nil
}
