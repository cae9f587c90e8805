// Package dispute implements the DisputeEngine lifecycle (spec §4.5):
// evidence intake, middleman proposal reconciliation, resolution-path
// selection, payout splits, and appeals. The package is composed against
// small local interfaces (MiddlemanSelector, FallbackArbitrator) rather
// than the concrete middleman/fallback packages, so it has no import-time
// dependency on them — the host (package store) wires the concrete
// implementations in.
package dispute

import (
	"time"

	"github.com/middleman-protocol/mmp-core/crypto"
)

// EvidenceType classifies a submission in the dispute record.
type EvidenceType int

const (
	EvidenceInitial EvidenceType = iota
	EvidenceRebuttal
	EvidenceCounter
	EvidenceExpert
)

// Evidence is one party's submission (spec §3 Evidence).
type Evidence struct {
	URLs           []string
	ContentHashes  [][32]byte
	NotarySigs     [][]byte
	Submitter      crypto.PubKey
	Timestamp      time.Time
	Type           EvidenceType
	SealHash       *[32]byte
	TimestampProof []byte
	Verified       bool
}

// ResolutionPath is the middleman's chosen disposition of a dispute
// (spec §4.5 table).
type ResolutionPath int

const (
	PathCooperative ResolutionPath = iota
	PathWorkerTimeout
	PathEmployerWin
	PathWorkerWin
	PathMiddlemanSplit
	PathEmergency
)

func (p ResolutionPath) String() string {
	switch p {
	case PathCooperative:
		return "Cooperative"
	case PathWorkerTimeout:
		return "WorkerTimeout"
	case PathEmployerWin:
		return "EmployerWin"
	case PathWorkerWin:
		return "WorkerWin"
	case PathMiddlemanSplit:
		return "MiddlemanSplit"
	case PathEmergency:
		return "Emergency"
	default:
		return "Unknown"
	}
}

// SelectionMethod records how the dispute's middleman was chosen (spec
// §4.5 step 2).
type SelectionMethod int

const (
	SelectionNone SelectionMethod = iota
	SelectionMutualAgreement
	SelectionReputationBased
	SelectionFallbackArbitrator
)

// Appeal is a challenge filed against a resolution or slash within the
// challenge window (spec §4.5 step 5, §4.7).
type Appeal struct {
	Filer     crypto.PubKey
	Evidence  Evidence
	Timestamp time.Time
	Valid     bool
}

// Config bundles the per-contract dispute tunables referenced by the
// persisted format (spec §6) but left undefined by the distilled spec —
// see SPEC_FULL.md §6.5.
type Config struct {
	AutoSelectMiddleman     bool
	ResolutionTimeoutBlocks uint32
	RequiresNotary          bool
	ChallengePeriodBlocks   uint32
}

// Record is the DisputeRecord aggregate (spec §3).
type Record struct {
	Initiator        crypto.PubKey
	Reason           string
	Timestamp        time.Time
	ProposedByEmployer []crypto.PubKey
	ProposedByWorker   []crypto.PubKey
	AgreedMiddleman    *crypto.PubKey
	SelectionMethod    SelectionMethod
	Evidence           []Evidence
	ResolutionPath     *ResolutionPath
	Appeal             *Appeal
}

// Payout is the resolved output distribution for an escrow of size
// escrowAmount (spec §4.5 table).
type Payout struct {
	ToEmployer  uint64
	ToWorker    uint64
	ToMiddleman uint64
}
