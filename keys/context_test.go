package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/middleman-protocol/mmp-core/collab"
	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/crypto"
)

type fakeAdapter struct{}

func (fakeAdapter) Sign(secretKey []byte, msg [32]byte) (crypto.Signature, error) {
	return crypto.Signature{}, nil
}
func (fakeAdapter) Verify(pub crypto.PubKey, msg [32]byte, sig crypto.Signature) bool { return true }
func (fakeAdapter) Aggregate(keys ...crypto.PubKey) (crypto.PubKey, error) {
	var out crypto.PubKey
	for _, k := range keys {
		for i := range out {
			out[i] ^= k[i]
		}
	}
	return out, nil
}
func (fakeAdapter) TaprootTweak(internal crypto.PubKey, root [32]byte) ([32]byte, error) {
	return [32]byte{}, nil
}
func (fakeAdapter) TweakedOutputKey(internal crypto.PubKey, tweak [32]byte) (crypto.PubKey, error) {
	return internal, nil
}
func (fakeAdapter) SHA256(data ...[]byte) [32]byte { return crypto.SHA256(data...) }
func (fakeAdapter) HMACSHA256(key []byte, data ...[]byte) [32]byte {
	return crypto.HMACSHA256(key, data...)
}
func (fakeAdapter) ConstantTimeEqual(a, b []byte) bool { return string(a) == string(b) }

type fakeRng struct{}

func (fakeRng) Fill(buf []byte) error {
	for i := range buf {
		buf[i] = byte(i)
	}
	return nil
}

func k(b byte) crypto.PubKey {
	var out crypto.PubKey
	out[0] = b
	return out
}

func TestAssignWorkerThenEscalate(t *testing.T) {
	now := time.Now()
	ctx := New(k(1), now)
	require.NoError(t, ctx.AssignWorker(k(2), fakeAdapter{}))
	assert.True(t, ctx.AggregatedKey.Valid())

	require.NoError(t, ctx.EscalateToMiddleman(k(3), fakeAdapter{}))
	assert.True(t, ctx.MiddlemanKey.Valid())
}

func TestAssignWorkerRejectsDuplicateAssignment(t *testing.T) {
	ctx := New(k(1), time.Now())
	require.NoError(t, ctx.AssignWorker(k(2), fakeAdapter{}))
	err := ctx.AssignWorker(k(3), fakeAdapter{})
	require.Error(t, err)
}

func TestRotateRequiresDueIntervalUnlessEmergency(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	ctx := New(k(1), now)
	require.NoError(t, ctx.AssignWorker(k(2), fakeAdapter{}))

	in := RotateInput{
		Adapter:        fakeAdapter{},
		Rng:            fakeRng{},
		Now:            now.Add(time.Hour),
		NewEmployerKey: k(10),
		NewWorkerKey:   k(11),
	}
	err := ctx.Rotate(in, params)
	require.Error(t, err)

	in.Emergency = true
	require.NoError(t, ctx.Rotate(in, params))
	assert.Equal(t, 1, ctx.RotationCount)
	assert.Equal(t, k(10), ctx.EmployerKey)
}

func TestRotateAfterIntervalElapsed(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	ctx := New(k(1), now)
	require.NoError(t, ctx.AssignWorker(k(2), fakeAdapter{}))

	in := RotateInput{
		Adapter:        fakeAdapter{},
		Rng:            fakeRng{},
		Now:            now.Add(params.RotationInterval + time.Hour),
		NewEmployerKey: k(10),
		NewWorkerKey:   k(11),
	}
	require.NoError(t, ctx.Rotate(in, params))
}

func TestValidateForActionStaleKeys(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	ctx := New(k(1), now)
	err := ctx.ValidateForAction(now.Add(params.MaxKeyAge+time.Hour), now, params)
	require.Error(t, err)
}

func TestValidateForActionNeverRotatedTooLong(t *testing.T) {
	params := config.DefaultParams()
	createdAt := time.Now()
	ctx := New(k(1), createdAt)
	err := ctx.ValidateForAction(createdAt.Add(2*params.RotationInterval+time.Hour), createdAt, params)
	require.Error(t, err)
}

func TestDeepCopyIndependence(t *testing.T) {
	ctx := New(k(1), time.Now())
	cp := ctx.DeepCopy()
	require.NoError(t, cp.AssignWorker(k(2), fakeAdapter{}))
	assert.False(t, ctx.WorkerKey.Valid())
	assert.True(t, cp.WorkerKey.Valid())
}

var _ collab.Rng = fakeRng{}
