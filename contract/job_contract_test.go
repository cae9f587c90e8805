package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/dispute"
	"github.com/middleman-protocol/mmp-core/keys"
	"github.com/middleman-protocol/mmp-core/state"
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

func validMeta() Metadata {
	return Metadata{Title: "t", Description: "d", AmountSats: 100_000, TimeoutBlocks: 1000}
}

func TestJobIDDeterministic(t *testing.T) {
	now := time.Now()
	a := JobID(key(1), "title", now)
	b := JobID(key(1), "title", now)
	assert.Equal(t, a, b)
	c := JobID(key(2), "title", now)
	assert.NotEqual(t, a, c)
}

func TestMetadataValidateBounds(t *testing.T) {
	params := config.DefaultParams()
	m := validMeta()
	require.NoError(t, m.Validate(params))

	m.AmountSats = params.MinAmountSats - 1
	require.Error(t, m.Validate(params))

	m.AmountSats = 100_000
	m.TimeoutBlocks = params.MaxTimeoutBlocks + 1
	require.Error(t, m.Validate(params))
}

func newOpenContract(t *testing.T, now time.Time) *Contract {
	t.Helper()
	c := New(key(1), validMeta(), now, 100, dispute.Config{AutoSelectMiddleman: true, ResolutionTimeoutBlocks: 100, ChallengePeriodBlocks: 144})
	require.NoError(t, c.Open(now, [32]byte{1}))
	return c
}

func TestLifecycleHappyPath(t *testing.T) {
	now := time.Now()
	c := newOpenContract(t, now)

	require.NoError(t, c.Apply(key(2), now, "I can do this"))
	require.NoError(t, c.AssignWorker(key(2), fakeAdapter{}, now, [32]byte{2}))
	assert.Equal(t, state.Assigned, c.Machine.Current)
	assert.NotEmpty(t, c.ScriptPaths.EmployerApproval)

	require.NoError(t, c.StartWork(now, [32]byte{3}))
	require.NoError(t, c.CompleteWork(now, [32]byte{4}))
	assert.Equal(t, state.Completed, c.Machine.Current)
}

func TestAssignWorkerRejectsNonApplicant(t *testing.T) {
	now := time.Now()
	c := newOpenContract(t, now)
	err := c.AssignWorker(key(9), fakeAdapter{}, now, [32]byte{2})
	require.Error(t, err)
}

func TestApplyRejectedOutsideOpen(t *testing.T) {
	now := time.Now()
	c := New(key(1), validMeta(), now, 100, dispute.Config{})
	err := c.Apply(key(2), now, "too early")
	require.Error(t, err)
}

func TestRaiseDisputeRequiresInProgressOrCompleted(t *testing.T) {
	now := time.Now()
	c := newOpenContract(t, now)
	err := c.RaiseDispute(key(1), "bad work", now, [32]byte{9})
	require.Error(t, err)

	require.NoError(t, c.Apply(key(2), now, "msg"))
	require.NoError(t, c.AssignWorker(key(2), fakeAdapter{}, now, [32]byte{2}))
	require.NoError(t, c.StartWork(now, [32]byte{3}))
	require.NoError(t, c.RaiseDispute(key(1), "bad work", now, [32]byte{9}))
	assert.Equal(t, state.Disputed, c.Machine.Current)
	require.NotNil(t, c.Dispute)
}

func TestEscalateToMiddlemanRebuildsPaths(t *testing.T) {
	now := time.Now()
	c := newOpenContract(t, now)
	require.NoError(t, c.Apply(key(2), now, "msg"))
	require.NoError(t, c.AssignWorker(key(2), fakeAdapter{}, now, [32]byte{2}))
	require.NoError(t, c.StartWork(now, [32]byte{3}))
	require.NoError(t, c.RaiseDispute(key(1), "reason", now, [32]byte{9}))

	require.NoError(t, c.EscalateToMiddleman(key(3), fakeAdapter{}))
	assert.NotEmpty(t, c.ScriptPaths.MiddlemanResolution)
	assert.True(t, c.Keys.MiddlemanKey.Valid())
}

func TestResolveRequiresOpenDispute(t *testing.T) {
	now := time.Now()
	c := newOpenContract(t, now)
	err := c.Resolve(dispute.PathEmployerWin, now, [32]byte{9})
	require.Error(t, err)
}

func TestExpireByBlockHeightRequiresExpiry(t *testing.T) {
	now := time.Now()
	c := New(key(1), validMeta(), now, 100, dispute.Config{})
	err := c.ExpireByBlockHeight(100+uint64(validMeta().TimeoutBlocks)-1, validMeta().TimeoutBlocks, now, [32]byte{9})
	require.Error(t, err)

	err = c.ExpireByBlockHeight(100+uint64(validMeta().TimeoutBlocks), validMeta().TimeoutBlocks, now, [32]byte{9})
	require.NoError(t, err)
	assert.Equal(t, state.Expired, c.Machine.Current)
}

func TestClaimTimeoutRequiresCompletedAndWindowElapsed(t *testing.T) {
	now := time.Now()
	c := newOpenContract(t, now)
	require.NoError(t, c.Apply(key(2), now, "msg"))
	require.NoError(t, c.AssignWorker(key(2), fakeAdapter{}, now, [32]byte{2}))
	require.NoError(t, c.StartWork(now, [32]byte{3}))

	// Not yet Completed: no cooperative-timeout clock has started.
	err := c.ClaimTimeout(now.Add(48*time.Hour), 24*time.Hour, [32]byte{4})
	require.Error(t, err)

	require.NoError(t, c.CompleteWork(now, [32]byte{5}))

	// Completed, but window not yet elapsed.
	err = c.ClaimTimeout(now.Add(23*time.Hour), 24*time.Hour, [32]byte{6})
	require.Error(t, err)
	assert.Equal(t, state.Completed, c.Machine.Current)

	// Window elapsed: worker claims without any dispute ever being raised.
	err = c.ClaimTimeout(now.Add(24*time.Hour), 24*time.Hour, [32]byte{7})
	require.NoError(t, err)
	assert.Equal(t, state.Resolved, c.Machine.Current)
	assert.Nil(t, c.Dispute)
}

func TestRotateKeysRebuildsPathsAndRecordsEvent(t *testing.T) {
	now := time.Now()
	params := config.DefaultParams()
	c := newOpenContract(t, now)
	require.NoError(t, c.Apply(key(2), now, "msg"))
	require.NoError(t, c.AssignWorker(key(2), fakeAdapter{}, now, [32]byte{2}))

	in := keys.RotateInput{
		Adapter:        fakeAdapter{},
		Rng:            fakeRng{},
		Now:            now.Add(params.RotationInterval + time.Hour),
		NewEmployerKey: key(10),
		NewWorkerKey:   key(11),
	}
	require.NoError(t, c.RotateKeys(in, params))
	assert.Equal(t, key(10), c.Keys.EmployerKey)
	assert.Equal(t, in.Now, c.LastKeyRotation)
}

type fakeRng struct{}

func (fakeRng) Fill(buf []byte) error {
	for i := range buf {
		buf[i] = byte(i)
	}
	return nil
}

func TestDeepCopyIsIndependent(t *testing.T) {
	now := time.Now()
	c := newOpenContract(t, now)
	require.NoError(t, c.Apply(key(2), now, "msg"))

	cp := c.DeepCopy()
	require.NoError(t, cp.AssignWorker(key(2), fakeAdapter{}, now, [32]byte{2}))
	assert.Equal(t, state.Open, c.Machine.Current)
	assert.Equal(t, state.Assigned, cp.Machine.Current)
}
