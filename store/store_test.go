package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/contract"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/dispute"
	"github.com/middleman-protocol/mmp-core/fallback"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/middleman"
	"github.com/middleman-protocol/mmp-core/state"
	"github.com/middleman-protocol/mmp-core/txtpl"
)

func key(b byte) crypto.PubKey {
	var k crypto.PubKey
	k[0] = b
	return k
}

type fakeAdapter struct{}

func (fakeAdapter) Sign(secretKey []byte, msg [32]byte) (crypto.Signature, error) {
	return crypto.Signature{}, nil
}
func (fakeAdapter) Verify(crypto.PubKey, [32]byte, crypto.Signature) bool { return true }
func (fakeAdapter) Aggregate(keys ...crypto.PubKey) (crypto.PubKey, error) {
	var out crypto.PubKey
	for _, k := range keys {
		for i := range out {
			out[i] ^= k[i]
		}
	}
	return out, nil
}
func (fakeAdapter) TaprootTweak(crypto.PubKey, [32]byte) ([32]byte, error) { return [32]byte{}, nil }
func (fakeAdapter) TweakedOutputKey(internal crypto.PubKey, tweak [32]byte) (crypto.PubKey, error) {
	return internal, nil
}
func (fakeAdapter) SHA256(data ...[]byte) [32]byte { return crypto.SHA256(data...) }
func (fakeAdapter) HMACSHA256(k []byte, data ...[]byte) [32]byte {
	return crypto.HMACSHA256(k, data...)
}
func (fakeAdapter) ConstantTimeEqual(a, b []byte) bool { return string(a) == string(b) }

type fakeRng struct{}

func (fakeRng) Fill(buf []byte) error {
	for i := range buf {
		buf[i] = byte(i)
	}
	return nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(url string) ([]byte, error) { return nil, nil }

func newTestStore(t *testing.T, withFallback bool) *Store {
	t.Helper()
	params := config.DefaultParams()
	var rot *fallback.Rotation
	if withFallback {
		pool := []crypto.PubKey{key(50), key(51), key(52)}
		r, err := fallback.NewRotation(nil, params, pool, time.Now(), 0)
		require.NoError(t, err)
		rot = r
	}
	return New(Dependencies{
		Params:   params,
		Adapter:  fakeAdapter{},
		Chain:    nil,
		Rng:      fakeRng{},
		Fetcher:  fakeFetcher{},
		Fallback: rot,
	})
}

func openJob(t *testing.T, s *Store, now time.Time, amount uint64) [32]byte {
	t.Helper()
	meta := contract.Metadata{Title: "job", Description: "desc", AmountSats: amount, TimeoutBlocks: 1000}
	c, err := s.NewContract(key(1), meta, now, 100, dispute.Config{
		AutoSelectMiddleman:     true,
		ResolutionTimeoutBlocks: 100,
		ChallengePeriodBlocks:   144,
	})
	require.NoError(t, err)
	require.NoError(t, s.withContract(c.JobID, func(c *contract.Contract) error {
		return c.Open(now, [32]byte{1})
	}))
	return c.JobID
}

func TestNewContractRejectsInvalidMetadata(t *testing.T) {
	s := newTestStore(t, false)
	_, err := s.NewContract(key(1), contract.Metadata{Title: "", Description: "d", AmountSats: 10000, TimeoutBlocks: 1000}, time.Now(), 0, dispute.Config{})
	require.Error(t, err)
}

func TestStoreContractIsIdempotent(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	c := contract.New(key(1), contract.Metadata{Title: "t", Description: "d", AmountSats: 10000, TimeoutBlocks: 1000}, now, 0, dispute.Config{})
	require.NoError(t, s.StoreContract(c))
	require.NoError(t, s.StoreContract(c))
}

func TestGetContractReturnsDefensiveCopy(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	jobID := openJob(t, s, now, 10000)

	got, err := s.GetContract(jobID)
	require.NoError(t, err)
	got.Machine.Current = state.Cancelled // mutate the copy

	again, err := s.GetContract(jobID)
	require.NoError(t, err)
	assert.Equal(t, state.Open, again.Machine.Current)
}

func TestRemoveRequiresTerminalState(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	jobID := openJob(t, s, now, 10000)

	err := s.Remove(jobID)
	require.Error(t, err)

	require.NoError(t, s.Cancel(jobID, "employer withdrew", now, [32]byte{9}))
	require.NoError(t, s.Remove(jobID))
}

func TestListContractsByState(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	openJob(t, s, now, 10000)
	openJob(t, s, now, 20000)

	list := s.ListContractsByState(state.Open)
	assert.Len(t, list, 2)
}

func TestWithContractRejectsReentrancy(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	jobID := openJob(t, s, now, 10000)

	var reentrantErr error
	outerDone := make(chan struct{})
	err := s.withContract(jobID, func(c *contract.Contract) error {
		reentrantErr = s.withContract(jobID, func(c *contract.Contract) error { return nil })
		close(outerDone)
		return nil
	})
	<-outerDone
	require.NoError(t, err)
	require.Error(t, reentrantErr)
	assert.Equal(t, kerrors.ReentrancyError, kerrors.KindOf(reentrantErr))
}

func TestConcurrentOperationsOnSameJobOneWins(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	meta := contract.Metadata{Title: "job", Description: "desc", AmountSats: 10000, TimeoutBlocks: 1000}
	c, err := s.NewContract(key(1), meta, now, 100, dispute.Config{})
	require.NoError(t, err)

	var successes int32
	var wg sync.WaitGroup
	barrier := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-barrier
			if err := s.withContract(c.JobID, func(c *contract.Contract) error {
				time.Sleep(time.Millisecond)
				return c.Open(now, [32]byte{1})
			}); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	close(barrier)
	wg.Wait()
	assert.Equal(t, int32(1), successes)
}

// --- End-to-end scenarios ---

func TestScenarioHappyPathCooperative(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	jobID := openJob(t, s, now, 100_000)

	require.NoError(t, s.ApplyToJob(jobID, key(2), "I'll do it", now))
	factory, redeem, err := s.AssignWorker(jobID, key(2), txtpl.Input{PrevTxid: [32]byte{1}, PrevVout: 0, Amount: 100_000}, now, [32]byte{2})
	require.NoError(t, err)
	require.NotNil(t, factory)
	require.NotEmpty(t, redeem)

	require.NoError(t, s.StartWork(jobID, now, [32]byte{3}))
	require.NoError(t, s.CompleteWork(jobID, now, [32]byte{4}))

	got, err := s.GetContract(jobID)
	require.NoError(t, err)
	assert.Equal(t, state.Completed, got.Machine.Current)

	// Employer never disputes or approves; the worker claims via the
	// worker_timeout path once the cooperative-timeout window elapses, with
	// no dispute ever having been raised.
	later := now.Add(24 * time.Hour)
	err = s.ClaimTimeout(jobID, later.Add(-time.Minute), [32]byte{5})
	require.Error(t, err)

	require.NoError(t, s.ClaimTimeout(jobID, later, [32]byte{6}))

	got, err = s.GetContract(jobID)
	require.NoError(t, err)
	assert.Equal(t, state.Resolved, got.Machine.Current)
	assert.Nil(t, got.Dispute)
}

func TestScenarioArbitratedEmployerWin(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	jobID := openJob(t, s, now, 100_000)

	require.NoError(t, s.ApplyToJob(jobID, key(2), "bid", now))
	_, _, err := s.AssignWorker(jobID, key(2), txtpl.Input{PrevTxid: [32]byte{1}, Amount: 100_000}, now, [32]byte{2})
	require.NoError(t, err)
	require.NoError(t, s.StartWork(jobID, now, [32]byte{3}))

	require.NoError(t, s.RaiseDispute(jobID, key(1), "work not delivered", key(20), key(21), now, [32]byte{4}))

	mm := &middleman.Middleman{PubKey: key(9), BondAmountSats: 500_000, MaxJobAmountSats: 1_000_000, ReputationScore: 0.8, Active: true, LastHeartbeat: now}
	require.NoError(t, s.RegisterMiddleman(mm, now))

	require.NoError(t, s.ProposeMiddleman(jobID, true, key(9), 100_000, 0))
	require.NoError(t, s.ProposeMiddleman(jobID, false, key(9), 100_000, 0))

	got, err := s.GetContract(jobID)
	require.NoError(t, err)
	require.NotNil(t, got.Dispute.AgreedMiddleman)
	assert.Equal(t, key(9), *got.Dispute.AgreedMiddleman)

	payout, err := s.Resolve(jobID, dispute.PathEmployerWin, 5000, [2]uint64{}, time.Time{}, now, [32]byte{5})
	require.NoError(t, err)
	assert.Equal(t, uint64(95_000), payout.ToEmployer)
	assert.Equal(t, uint64(5000), payout.ToMiddleman)

	got, err = s.GetContract(jobID)
	require.NoError(t, err)
	assert.Equal(t, state.Resolved, got.Machine.Current)
}

func TestScenarioSlashWithAppeal(t *testing.T) {
	s := newTestStore(t, false)
	params := config.DefaultParams()
	now := time.Now()

	mm := &middleman.Middleman{PubKey: key(9), BondAmountSats: 500_000, MaxJobAmountSats: 1_000_000, Active: true, LastHeartbeat: now}
	require.NoError(t, s.RegisterMiddleman(mm, now))

	slashAmount := uint64(float64(mm.BondAmountSats) * params.SlashCoolingOffRatio)
	id, err := s.ProposeSlash(key(9), key(1), slashAmount, "abandoned dispute", now)
	require.NoError(t, err)

	for i := 0; i < params.MinDAOApprovers; i++ {
		require.NoError(t, s.ApproveSlash(id, key(byte(30+i)), now))
	}

	require.NoError(t, s.AppealSlash(id))
	err = s.FinalizeSlash(id, now)
	require.Error(t, err) // appealed proposals cannot finalize

	require.NoError(t, s.RejectSlash(id))
}

func TestScenarioSlashFinalizesAndAppliesToRegistry(t *testing.T) {
	s := newTestStore(t, false)
	params := config.DefaultParams()
	now := time.Now()

	mm := &middleman.Middleman{PubKey: key(9), BondAmountSats: 500_000, MaxJobAmountSats: 1_000_000, Active: true, LastHeartbeat: now}
	require.NoError(t, s.RegisterMiddleman(mm, now))

	id, err := s.ProposeSlash(key(9), key(1), 10_000, "late response", now)
	require.NoError(t, err)
	for i := 0; i < params.MinDAOApprovers; i++ {
		require.NoError(t, s.ApproveSlash(id, key(byte(40+i)), now))
	}
	require.NoError(t, s.FinalizeSlash(id, now))

	got, ok := s.Registry().Get(key(9))
	require.True(t, ok)
	assert.Equal(t, uint64(490_000), got.BondAmountSats)
}

func TestScenarioFallbackRotation(t *testing.T) {
	s := newTestStore(t, true)
	params := config.DefaultParams()
	now := time.Now()

	future := now.Add(params.HeartbeatCritical + time.Hour)
	require.NoError(t, s.UpdateHeartbeat(key(51), future.Add(-time.Minute)))
	require.NoError(t, s.UpdateHeartbeat(key(52), future.Add(-time.Minute)))

	var rotated bool
	for i := 0; i < params.CriticalStreakForEmergency; i++ {
		rotated, _ = s.CheckFallbackLiveness(future)
	}
	assert.True(t, rotated)
}

func TestScenarioKeyAgeRefusal(t *testing.T) {
	s := newTestStore(t, false)
	params := config.DefaultParams()
	now := time.Now()
	jobID := openJob(t, s, now, 50_000)

	stale := now.Add(params.MaxKeyAge + time.Hour)
	err := s.StartWork(jobID, stale, [32]byte{2})
	// StartWork itself doesn't check key age; simulate a key-validation
	// gate the way a host would before broadcasting a cosigned tx.
	got, gerr := s.GetContract(jobID)
	require.NoError(t, gerr)
	verr := got.Keys.ValidateForAction(stale, got.CreatedAt, params)
	require.Error(t, verr)
	_ = err
}

func TestScenarioReentrancyRejectsConcurrentJobMutation(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now()
	jobID := openJob(t, s, now, 10_000)

	release := make(chan struct{})
	go func() {
		_ = s.withContract(jobID, func(c *contract.Contract) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)
	err := s.ApplyToJob(jobID, key(2), "bid", now)
	close(release)
	require.Error(t, err)
	assert.Equal(t, kerrors.ReentrancyError, kerrors.KindOf(err))
}

func TestInsuranceClaimLifecycle(t *testing.T) {
	s := newTestStore(t, false)
	params := config.DefaultParams()
	now := time.Now()

	mm := &middleman.Middleman{PubKey: key(9), BondAmountSats: 500_000, MaxJobAmountSats: 1_000_000, Active: true, LastHeartbeat: now}
	require.NoError(t, s.RegisterMiddleman(mm, now))

	id, err := s.FileInsuranceClaim(key(1), key(9), 100_000, 80_000)
	require.NoError(t, err)

	needed := params.MinInsuranceApprovers
	if r := int(params.InsuranceApprovalRatio * float64(params.MaxInsuranceApprovers)); r > needed {
		needed = r
	}
	for i := 0; i < needed; i++ {
		require.NoError(t, s.ApproveInsuranceClaim(id, key(byte(60+i))))
	}

	amount, err := s.PayInsuranceClaim(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(80_000), amount)
}
