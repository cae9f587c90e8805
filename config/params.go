// Package config centralizes the core's tunable economic and timing
// constants, mirroring the teacher's params package convention of
// collecting protocol constants in one typed table
// (params/protocol_params.go in the source pack) rather than scattering
// magic numbers through call sites.
package config

import "time"

// Params groups every tunable named by spec.md. A host may start from
// DefaultParams() and override individual fields.
type Params struct {
	// Metadata bounds (spec §3 JobContract.metadata)
	MinAmountSats   uint64
	MaxAmountSats   uint64
	MinTimeoutBlocks uint32
	MaxTimeoutBlocks uint32
	MaxApplications  int

	// Key rotation (spec §4.2)
	RotationInterval time.Duration
	MaxKeyAge        time.Duration

	// Middleman economics (spec §3 Middleman, §4.6, §4.7)
	MinBondSats          uint64
	MaxBondSats          uint64
	MaxFeeRatioOfBond    float64
	MinMaxJobBondRatio   float64
	MinRepForAuto        float64
	MinDAOApprovers      int
	MinInsuranceApprovers int
	MaxInsuranceApprovers int
	InsuranceApprovalRatio float64
	MaxPayoutRatio       float64
	CoolingOffBlocks     uint32
	SlashCoolingOffRatio float64

	// Scoring weights (spec §4.6), default {0.4, 0.3, 0.2, 0.1, 0.0}
	WeightReputation float64
	WeightResponse   float64
	WeightFee        float64
	WeightSpecialty  float64
	WeightPerf       float64
	WeightSumMin     float64
	WeightSumMax     float64

	// Scoring normalization ceilings (spec §4.6 resp_score/fee_score):
	// fixed policy bounds rather than pool-relative min/max, so a single
	// middleman's score is stable across selection calls regardless of who
	// else is in the candidate pool.
	ResponseTimeMax time.Duration
	FeeRatioMax     float64

	ReputationDecayDailyRate float64
	ReputationMinRetention   float64

	SpecialtyCacheSize int

	// Dispute (spec §4.5)
	CooperativeTimeoutAfter time.Duration // 24h
	DefaultChallengePeriodMin uint32      // 144
	DefaultChallengePeriodMax uint32      // 4032
	MaxEvidenceURLLength      int         // 2048

	// FallbackRotation (spec §4.8)
	HeartbeatOK       time.Duration // <12h
	HeartbeatWarning  time.Duration // [12h,18h)
	HeartbeatAlert    time.Duration // [18h,24h)
	HeartbeatCritical time.Duration // >=36h
	CriticalStreakForEmergency int
	DefaultRotationBlocks      uint64
	MinArbitrators             int

	// OP_RETURN wire (spec §6 Wire markers)
	MaxOpReturnPayload int
}

// DefaultParams returns the defaults named throughout spec.md.
func DefaultParams() Params {
	return Params{
		MinAmountSats:    1000,
		MaxAmountSats:    2_100_000_000_000_000,
		MinTimeoutBlocks: 6,
		MaxTimeoutBlocks: 52560,
		MaxApplications:  100,

		RotationInterval: 30 * 24 * time.Hour,
		MaxKeyAge:        90 * 24 * time.Hour,

		MinBondSats:            50_000,
		MaxBondSats:            100_000_000,
		MaxFeeRatioOfBond:      0.5,
		MinMaxJobBondRatio:     0.05,
		MinRepForAuto:          0, // no floor unless host configures one
		MinDAOApprovers:        3,
		MinInsuranceApprovers:  2,
		MaxInsuranceApprovers:  5,
		InsuranceApprovalRatio: 0.60,
		MaxPayoutRatio:         0.9,
		CoolingOffBlocks:       144,
		SlashCoolingOffRatio:   0.25,

		WeightReputation: 0.4,
		WeightResponse:   0.3,
		WeightFee:        0.2,
		WeightSpecialty:  0.1,
		WeightPerf:       0.0,
		WeightSumMin:     0.99,
		WeightSumMax:     1.01,

		ResponseTimeMax: 48 * time.Hour,
		FeeRatioMax:     0.5,

		ReputationDecayDailyRate: 0.0038,
		ReputationMinRetention:   0.5,

		SpecialtyCacheSize: 1000,

		CooperativeTimeoutAfter:   24 * time.Hour,
		DefaultChallengePeriodMin: 144,
		DefaultChallengePeriodMax: 4032,
		MaxEvidenceURLLength:      2048,

		HeartbeatOK:                12 * time.Hour,
		HeartbeatWarning:           18 * time.Hour,
		HeartbeatAlert:             24 * time.Hour,
		HeartbeatCritical:          36 * time.Hour,
		CriticalStreakForEmergency: 3,
		DefaultRotationBlocks:      4032,
		MinArbitrators:             3,

		MaxOpReturnPayload: 80,
	}
}
