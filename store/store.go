// Package store implements ContractStore (spec §4.9, §6 "Exposed by the
// core"): the concurrent job_id-keyed registry and every mutating
// operation the core exposes. It is the orchestration layer — the only
// package that imports dispute, middleman, bond, and fallback together and
// wires their small local interfaces (dispute.MiddlemanSelector,
// dispute.FallbackArbitrator) to concrete implementations, avoiding an
// import cycle between those packages.
package store

import (
	"sync"
	"time"

	"github.com/middleman-protocol/mmp-core/bond"
	"github.com/middleman-protocol/mmp-core/collab"
	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/contract"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/dispute"
	"github.com/middleman-protocol/mmp-core/fallback"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/keys"
	"github.com/middleman-protocol/mmp-core/log"
	"github.com/middleman-protocol/mmp-core/metrics"
	"github.com/middleman-protocol/mmp-core/middleman"
	"github.com/middleman-protocol/mmp-core/state"
)

var logger = log.NewModuleLogger(log.Store)

// entry pairs a contract with its per-job exclusive guard (spec §5). The
// guard is a plain sync.Mutex used with TryLock so a reentrant call from
// within an already-held operation observes contention and returns
// ReentrancyError instead of deadlocking.
type entry struct {
	mu       sync.Mutex
	contract *contract.Contract
}

// Store is ContractStore.
type Store struct {
	params  config.Params
	adapter crypto.Adapter
	chain   collab.ChainView
	rng     collab.Rng

	regMu     sync.RWMutex
	contracts map[[32]byte]*entry

	registry       *middleman.Registry
	fallbackRot    *fallback.Rotation
	disputeEngine  *dispute.Engine

	slashMu sync.Mutex
	slashes map[string]*bond.SlashProposal
	claims  map[string]*bond.InsuranceClaim
}

// Dependencies bundles the collaborators a Store needs, matching the
// capability set spec §6 "Consumed by the core" names.
type Dependencies struct {
	Params   config.Params
	Adapter  crypto.Adapter
	Chain    collab.ChainView
	Rng      collab.Rng
	Fetcher  collab.ContentFetcher
	Fallback *fallback.Rotation
}

// New constructs a Store with its own MiddlemanRegistry and a DisputeEngine
// wired to both the registry (as MiddlemanSelector) and the fallback
// rotation (as FallbackArbitrator) via structural typing.
func New(deps Dependencies) *Store {
	registry := middleman.NewRegistry(deps.Params)
	engine := dispute.New(deps.Params, deps.Adapter, deps.Fetcher, deps.Chain, registry, deps.Fallback)
	return &Store{
		params:        deps.Params,
		adapter:       deps.Adapter,
		chain:         deps.Chain,
		rng:           deps.Rng,
		contracts:     make(map[[32]byte]*entry),
		registry:      registry,
		fallbackRot:   deps.Fallback,
		disputeEngine: engine,
		slashes:       make(map[string]*bond.SlashProposal),
		claims:        make(map[string]*bond.InsuranceClaim),
	}
}

// Registry exposes the underlying MiddlemanRegistry for host-side
// introspection (e.g. listing candidates for an application's UI).
func (s *Store) Registry() *middleman.Registry { return s.registry }

// NewContract builds and stores a fresh JobContract (spec §4.4
// new_contract + §4.9 store).
func (s *Store) NewContract(employer crypto.PubKey, meta contract.Metadata, now time.Time, createdHeight uint64, disputeCfg dispute.Config) (*contract.Contract, error) {
	if err := meta.Validate(s.params); err != nil {
		return nil, err
	}
	c := contract.New(employer, meta, now, createdHeight, disputeCfg)
	if err := s.StoreContract(c); err != nil {
		return nil, err
	}
	return c, nil
}

// StoreContract performs the idempotent insertion (spec §4.9 store).
func (s *Store) StoreContract(c *contract.Contract) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if _, exists := s.contracts[c.JobID]; exists {
		return nil // idempotent
	}
	s.contracts[c.JobID] = &entry{contract: c}
	metrics.ActiveContractsGauge.Update(int64(len(s.contracts)))
	return nil
}

// GetContract returns a defensive copy (spec §4.9 get).
func (s *Store) GetContract(jobID [32]byte) (*contract.Contract, error) {
	s.regMu.RLock()
	e, ok := s.contracts[jobID]
	s.regMu.RUnlock()
	if !ok {
		return nil, kerrors.New(kerrors.InvalidState, "unknown job_id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.contract.DeepCopy(), nil
}

// ListContractsByState returns defensive copies of every contract in the
// given state (spec §4.9 list_by_state).
func (s *Store) ListContractsByState(st state.State) []*contract.Contract {
	s.regMu.RLock()
	entries := make([]*entry, 0, len(s.contracts))
	for _, e := range s.contracts {
		entries = append(entries, e)
	}
	s.regMu.RUnlock()

	out := make([]*contract.Contract, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.contract.Machine.Current == st {
			out = append(out, e.contract.DeepCopy())
		}
		e.mu.Unlock()
	}
	return out
}

// Remove deletes a contract, permitted only once it has reached a terminal
// state (spec §4.9 remove).
func (s *Store) Remove(jobID [32]byte) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	e, ok := s.contracts[jobID]
	if !ok {
		return kerrors.New(kerrors.InvalidState, "unknown job_id")
	}
	e.mu.Lock()
	terminal := e.contract.Machine.Current.Terminal()
	e.mu.Unlock()
	if !terminal {
		return kerrors.New(kerrors.InvalidState, "contract is not in a terminal state")
	}
	delete(s.contracts, jobID)
	metrics.ActiveContractsGauge.Update(int64(len(s.contracts)))
	return nil
}

// withContract is the single chokepoint every mutating operation funnels
// through (spec §4.9 with_contract, §5): it acquires the per-job exclusive
// guard via TryLock, working on a DeepCopy so that any error leaves the
// stored contract untouched, and commits the mutated copy back only on
// success.
func (s *Store) withContract(jobID [32]byte, f func(c *contract.Contract) error) error {
	s.regMu.RLock()
	e, ok := s.contracts[jobID]
	s.regMu.RUnlock()
	if !ok {
		return kerrors.New(kerrors.InvalidState, "unknown job_id")
	}

	if !e.mu.TryLock() {
		metrics.ReentrancyRejectionsTotal.Inc(1)
		return kerrors.New(kerrors.ReentrancyError, "contract guard already held")
	}
	defer e.mu.Unlock()

	working := e.contract.DeepCopy()
	if err := f(working); err != nil {
		return err
	}
	e.contract = working
	return nil
}
