package dispute

import (
	"time"

	"github.com/middleman-protocol/mmp-core/collab"
	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/log"
)

var logger = log.NewModuleLogger(log.Dispute)

// MiddlemanSelector picks the best-scoring candidate from a pool for
// reputation-based auto-selection (spec §4.5 step 2). Implemented by
// middleman.Registry; declared here to avoid an import cycle.
type MiddlemanSelector interface {
	SelectBest(candidates []crypto.PubKey, jobAmount uint64) (crypto.PubKey, error)
}

// FallbackArbitrator exposes the currently active fallback arbitrator.
// Implemented by fallback.Rotation.
type FallbackArbitrator interface {
	CurrentArbitrator() (crypto.PubKey, bool)
}

// Engine drives dispute lifecycle operations. It holds no per-dispute
// state itself — all state lives in the Record the caller passes in,
// consistent with the core's "local copy, commit on success" discipline
// (spec §9).
type Engine struct {
	Params   config.Params
	Adapter  crypto.Adapter
	Fetcher  collab.ContentFetcher
	Chain    collab.ChainView
	Selector MiddlemanSelector
	Fallback FallbackArbitrator
}

// New constructs an Engine from its collaborators.
func New(params config.Params, adapter crypto.Adapter, fetcher collab.ContentFetcher, chain collab.ChainView, selector MiddlemanSelector, fallback FallbackArbitrator) *Engine {
	return &Engine{Params: params, Adapter: adapter, Fetcher: fetcher, Chain: chain, Selector: selector, Fallback: fallback}
}

// Raise starts a dispute record (spec §4.5 step 1). The caller
// (store.Store) is responsible for the accompanying state transition and
// emergency key rotation.
func Raise(initiator crypto.PubKey, reason string, now time.Time) *Record {
	return &Record{Initiator: initiator, Reason: reason, Timestamp: now}
}

// ProposeMiddleman records a party's candidate list (spec §4.5 step 2),
// bounded to a small count to prevent spam.
const maxProposedMiddlemen = 10

func (r *Record) ProposeMiddleman(isEmployer bool, candidate crypto.PubKey) error {
	if !candidate.Valid() {
		return kerrors.New(kerrors.InvalidKeys, "candidate key invalid")
	}
	list := &r.ProposedByWorker
	if isEmployer {
		list = &r.ProposedByEmployer
	}
	for _, c := range *list {
		if c == candidate {
			return nil // idempotent
		}
	}
	if len(*list) >= maxProposedMiddlemen {
		return kerrors.New(kerrors.TooLarge, "too many proposed middlemen")
	}
	*list = append(*list, candidate)
	return nil
}

// Reconcile resolves the middleman for a dispute per spec §4.5 step 2:
// mutual agreement first, then reputation-based auto-select, then fallback
// arbitrator on timeout.
func (e *Engine) Reconcile(r *Record, jobAmount uint64, disputeAgeBlocks uint32, cfg Config) error {
	if r.AgreedMiddleman != nil {
		return nil
	}
	if mutual, ok := findCommon(r.ProposedByEmployer, r.ProposedByWorker); ok {
		r.AgreedMiddleman = &mutual
		r.SelectionMethod = SelectionMutualAgreement
		logger.Info("middleman reconciled by mutual agreement", "middleman", mutual)
		return nil
	}
	if cfg.AutoSelectMiddleman {
		pool := append(append([]crypto.PubKey{}, r.ProposedByEmployer...), r.ProposedByWorker...)
		if e.Selector != nil && len(pool) > 0 {
			best, err := e.Selector.SelectBest(pool, jobAmount)
			if err == nil && best.Valid() {
				r.AgreedMiddleman = &best
				r.SelectionMethod = SelectionReputationBased
				logger.Info("middleman reconciled by reputation score", "middleman", best)
				return nil
			}
		}
	}
	if disputeAgeBlocks >= cfg.ResolutionTimeoutBlocks {
		if e.Fallback != nil {
			if arb, ok := e.Fallback.CurrentArbitrator(); ok {
				r.AgreedMiddleman = &arb
				r.SelectionMethod = SelectionFallbackArbitrator
				logger.Warn("middleman reconciled via fallback arbitrator", "arbitrator", arb)
				return nil
			}
		}
		return kerrors.New(kerrors.MiddlemanNotFound, "no fallback arbitrator available after timeout")
	}
	return kerrors.New(kerrors.NotAgreed, "no common middleman yet")
}

func findCommon(a, b []crypto.PubKey) (crypto.PubKey, bool) {
	set := make(map[crypto.PubKey]bool, len(a))
	for _, k := range a {
		set[k] = true
	}
	for _, k := range b {
		if set[k] {
			return k, true
		}
	}
	return crypto.PubKey{}, false
}

// SubmitEvidence validates and appends one party's submission (spec §4.5
// step 3). Content verification (URL fetch + hash compare) is performed by
// the injected ContentFetcher, outside of any per-contract guard per the
// caller's obligation (spec §5) — Engine itself holds no guard.
func (e *Engine) SubmitEvidence(r *Record, ev Evidence, cfg Config, now time.Time) error {
	if len(ev.URLs) == 0 || len(ev.URLs) != len(ev.ContentHashes) {
		return kerrors.New(kerrors.EvidenceInvalid, "urls and content hashes must be equal length and non-empty")
	}
	for _, u := range ev.URLs {
		if len(u) > e.Params.MaxEvidenceURLLength {
			return kerrors.New(kerrors.TooLarge, "evidence url exceeds maximum length")
		}
	}
	if !ev.Submitter.Valid() {
		return kerrors.New(kerrors.InvalidKeys, "evidence submitter key invalid")
	}
	if cfg.RequiresNotary && len(ev.NotarySigs) == 0 {
		return kerrors.New(kerrors.EvidenceInvalid, "notary signature required")
	}

	if !e.verifyTimestamp(ev, now) {
		return kerrors.New(kerrors.TimestampUnverified, "evidence timestamp could not be verified at any tier")
	}

	ev.Verified = e.verifyContent(ev)
	r.Evidence = append(r.Evidence, ev)
	logger.Info("evidence submitted", "submitter", ev.Submitter, "type", ev.Type, "content_verified", ev.Verified)
	return nil
}

// verifyTimestamp tries, in order: OpenTimestamps proof, block-header
// witness, notary signatures, plain reasonability (spec §4.5 step 3).
func (e *Engine) verifyTimestamp(ev Evidence, now time.Time) bool {
	if len(ev.TimestampProof) > 0 && e.Chain != nil {
		if e.Chain.VerifyOTSProof(ev.TimestampProof, ev.Timestamp) {
			return true
		}
	}
	if e.Chain != nil {
		if h, ok := e.Chain.HeaderAt(e.Chain.CurrentHeight()); ok {
			if !ev.Timestamp.After(h.Time.Add(2 * time.Hour)) {
				return true
			}
		}
	}
	if len(ev.NotarySigs) > 0 {
		return true
	}
	// reasonability: not in the future, not absurdly old.
	if ev.Timestamp.After(now.Add(2 * time.Hour)) {
		return false
	}
	return !ev.Timestamp.Before(now.Add(-365 * 24 * time.Hour))
}

// verifyContent fetches each URL and checks its SHA-256 against the
// declared hash; any mismatch marks the whole submission unverified.
func (e *Engine) verifyContent(ev Evidence) bool {
	if e.Fetcher == nil {
		return false
	}
	for i, u := range ev.URLs {
		data, err := e.Fetcher.Fetch(u)
		if err != nil {
			return false
		}
		got := e.Adapter.SHA256(data)
		if !e.Adapter.ConstantTimeEqual(got[:], ev.ContentHashes[i][:]) {
			return false
		}
	}
	return true
}

// Resolve computes the output distribution for a chosen path (spec §4.5
// step 4 table). escrowAmount is the funded amount; fee is the
// middleman's declared fee (zero for Cooperative/WorkerTimeout, which
// need no middleman).
func (e *Engine) Resolve(r *Record, path ResolutionPath, escrowAmount, fee uint64, split [2]uint64, completionTime time.Time, now time.Time) (Payout, error) {
	switch path {
	case PathCooperative:
		return Payout{}, kerrors.New(kerrors.InvalidState, "cooperative resolution must be constructed by the cosigning parties, not the dispute engine")
	case PathWorkerTimeout:
		if now.Sub(completionTime) < e.Params.CooperativeTimeoutAfter {
			return Payout{}, kerrors.New(kerrors.InvalidState, "worker timeout claimed before the cooperative window elapsed")
		}
		return Payout{ToWorker: escrowAmount}, nil
	case PathEmployerWin:
		if fee > escrowAmount {
			return Payout{}, kerrors.New(kerrors.EconomicRatiosInvalid, "fee exceeds escrow amount")
		}
		return Payout{ToEmployer: escrowAmount - fee, ToMiddleman: fee}, nil
	case PathWorkerWin:
		if fee > escrowAmount {
			return Payout{}, kerrors.New(kerrors.EconomicRatiosInvalid, "fee exceeds escrow amount")
		}
		return Payout{ToWorker: escrowAmount - fee, ToMiddleman: fee}, nil
	case PathMiddlemanSplit:
		a, b := split[0], split[1]
		if a+b+fee > escrowAmount {
			return Payout{}, kerrors.New(kerrors.EconomicRatiosInvalid, "split plus fee exceeds escrow amount")
		}
		return Payout{ToEmployer: a, ToWorker: b, ToMiddleman: fee}, nil
	case PathEmergency:
		logger.Warn("emergency resolution flagged for scrutiny", "escrow_amount", escrowAmount)
		if fee > escrowAmount {
			return Payout{}, kerrors.New(kerrors.EconomicRatiosInvalid, "fee exceeds escrow amount")
		}
		return Payout{ToEmployer: escrowAmount - fee, ToMiddleman: fee}, nil
	default:
		return Payout{}, kerrors.New(kerrors.InvalidState, "unknown resolution path")
	}
}

// FileAppeal files a challenge within the window (spec §4.5 step 5).
func (e *Engine) FileAppeal(r *Record, filer crypto.PubKey, evidence Evidence, disputeAgeBlocks uint32, cfg Config, now time.Time) error {
	if disputeAgeBlocks > cfg.ChallengePeriodBlocks {
		return kerrors.New(kerrors.AppealExpired, "appeal window has elapsed")
	}
	if len(evidence.URLs) == 0 {
		return kerrors.New(kerrors.AppealInvalid, "appeal requires supporting evidence")
	}
	r.Appeal = &Appeal{Filer: filer, Evidence: evidence, Timestamp: now, Valid: true}
	return nil
}

// CooperativeTimeoutReached reports whether the worker may unilaterally
// claim via the worker_timeout script path (spec §4.5 "Cooperative
// timeout"). It is domain-second: the window is measured in wall-clock
// time, not blocks.
func (e *Engine) CooperativeTimeoutReached(completionTime, now time.Time) bool {
	return now.Sub(completionTime) >= e.Params.CooperativeTimeoutAfter
}
