// Package middleman implements the MiddlemanRegistry (spec §3 Middleman,
// §4.6): bonded-candidate bookkeeping, weighted scoring, and specialty
// lookups. Scoring and ranking follow the teacher's weighted validator
// selection (consensus/istanbul/validator/weighted.go) — a candidate pool
// scored on several independent factors, sorted, and the best taken —
// generalized from validator stake weight to the core's five-factor
// reputation/response/fee/specialty/performance blend.
package middleman

import (
	"time"

	"github.com/middleman-protocol/mmp-core/crypto"
)

// ResolutionOutcome records one completed dispute a middleman resolved, for
// the rolling performance window (SPEC_FULL.md §5 supplement: the
// distilled spec names MiddlemanPerformance but not its retention policy).
type ResolutionOutcome struct {
	Timestamp    time.Time
	WasAppealed  bool
	AppealUpheld bool
	ResponseTime time.Duration
}

// maxOutcomeWindow bounds the rolling performance window.
const maxOutcomeWindow = 50

// Performance is the rolling performance record backing the "perf" scoring
// factor (spec §4.6).
type Performance struct {
	Outcomes []ResolutionOutcome
}

// Record pushes a new outcome, evicting the oldest once the window is full.
func (p *Performance) Record(o ResolutionOutcome) {
	p.Outcomes = append(p.Outcomes, o)
	if len(p.Outcomes) > maxOutcomeWindow {
		p.Outcomes = p.Outcomes[len(p.Outcomes)-maxOutcomeWindow:]
	}
}

// Score computes a [0,1] performance factor: the fraction of resolutions
// that were either not appealed or, if appealed, not overturned.
func (p *Performance) Score() float64 {
	if len(p.Outcomes) == 0 {
		return 0.5 // neutral prior for a middleman with no history yet
	}
	good := 0
	for _, o := range p.Outcomes {
		if !o.WasAppealed || !o.AppealUpheld {
			good++
		}
	}
	return float64(good) / float64(len(p.Outcomes))
}

// SlashRecord is one entry in a middleman's slash_history (spec §3
// Middleman.slash_history, §4.7 "append to slash_history").
type SlashRecord struct {
	Timestamp  time.Time
	AmountSats uint64
	Reason     string
}

// Middleman is the bonded-candidate aggregate (spec §3).
type Middleman struct {
	PubKey          crypto.PubKey
	BondAmountSats  uint64
	MaxJobAmountSats uint64
	FeeRatio        float64
	Specialties     []string
	ReputationScore float64
	AvgResponseTime time.Duration
	Active          bool
	LastHeartbeat   time.Time
	Performance     Performance
	RegisteredAt    time.Time
	SlashCount      int
	TotalSlashedSats uint64

	// TotalDisputes and BondSlashes feed effective_reputation (spec §4.6):
	// a middleman's raw ReputationScore penalized by its slash rate across
	// every dispute it has been party to, not just the ones it lost.
	TotalDisputes int
	BondSlashes   int
	SlashHistory  []SlashRecord
}

// DeepCopy returns an independent copy for snapshot-and-commit updates.
func (m *Middleman) DeepCopy() *Middleman {
	cp := *m
	cp.Specialties = append([]string(nil), m.Specialties...)
	cp.Performance.Outcomes = append([]ResolutionOutcome(nil), m.Performance.Outcomes...)
	cp.SlashHistory = append([]SlashRecord(nil), m.SlashHistory...)
	return &cp
}

// EffectiveReputation applies the bond-slash penalty to ReputationScore
// (spec §4.6): effective_reputation = reputation_score -
// floor((bond_slashes*100)/max(1, total_disputes)), clamped to
// [0, reputation_score]. ReputationScore is carried on this registry's
// [0,1] fraction rather than spec.md's [0,100] rep_score, so the floored
// percentage-point penalty is scaled back down by 100 to land in the same
// units before subtracting.
func (m *Middleman) EffectiveReputation() float64 {
	denom := m.TotalDisputes
	if denom < 1 {
		denom = 1
	}
	penaltyPercent := float64((m.BondSlashes * 100) / denom)
	eff := m.ReputationScore - penaltyPercent/100
	if eff < 0 {
		eff = 0
	}
	if eff > m.ReputationScore {
		eff = m.ReputationScore
	}
	return eff
}

// HasSpecialty reports whether m lists the given specialty tag.
func (m *Middleman) HasSpecialty(tag string) bool {
	for _, s := range m.Specialties {
		if s == tag {
			return true
		}
	}
	return false
}
