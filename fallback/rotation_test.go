package fallback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/crypto"
)

func key(b byte) crypto.PubKey {
	var k crypto.PubKey
	k[0] = b
	return k
}

func TestClassifyThresholds(t *testing.T) {
	params := config.DefaultParams()
	assert.Equal(t, StatusOK, Classify(time.Hour, params))
	assert.Equal(t, StatusWarning, Classify(params.HeartbeatOK, params))
	assert.Equal(t, StatusAlert, Classify(params.HeartbeatAlert, params))
	assert.Equal(t, StatusCritical, Classify(params.HeartbeatCritical, params))
}

func TestNewRotationRequiresMinPool(t *testing.T) {
	params := config.DefaultParams()
	_, err := NewRotation(nil, params, []crypto.PubKey{key(1)}, time.Now(), 0)
	require.Error(t, err)
}

func TestHeartbeatResetsCriticalStreak(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	pool := []crypto.PubKey{key(1), key(2), key(3)}
	r, err := NewRotation(nil, params, pool, now, 0)
	require.NoError(t, err)

	future := now.Add(params.HeartbeatCritical + time.Hour)
	rotated, _ := r.CheckLiveness(future)
	assert.False(t, rotated) // single critical check, streak below threshold

	require.NoError(t, r.Heartbeat(key(1), future))
	cur, ok := r.CurrentArbitrator()
	require.True(t, ok)
	assert.Equal(t, key(1), cur)
}

func TestEmergencyRotationOnCriticalStreak(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	pool := []crypto.PubKey{key(1), key(2), key(3)}
	r, err := NewRotation(nil, params, pool, now, 0)
	require.NoError(t, err)

	future := now.Add(params.HeartbeatCritical + time.Hour)
	// Keep the other pool members healthy so promoteNext has somewhere to
	// go; only the current arbitrator (key(1)) goes dark.
	require.NoError(t, r.Heartbeat(key(2), future.Add(-time.Minute)))
	require.NoError(t, r.Heartbeat(key(3), future.Add(-time.Minute)))

	var rotated bool
	var next crypto.PubKey
	for i := 0; i < params.CriticalStreakForEmergency; i++ {
		rotated, next = r.CheckLiveness(future)
	}
	require.True(t, rotated)
	assert.Equal(t, key(2), next)
}

func TestDueForScheduledRotation(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	pool := []crypto.PubKey{key(1), key(2), key(3)}
	r, err := NewRotation(nil, params, pool, now, 100)
	require.NoError(t, err)

	assert.False(t, r.DueForScheduledRotation(100+params.DefaultRotationBlocks-1))
	assert.True(t, r.DueForScheduledRotation(100+params.DefaultRotationBlocks))
}

func TestAddArbitratorGrowsPool(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	pool := []crypto.PubKey{key(1), key(2), key(3)}
	r, err := NewRotation(nil, params, pool, now, 0)
	require.NoError(t, err)
	r.AddArbitrator(key(4), now)
	assert.Equal(t, 4, r.PoolSize())
}
