package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.Transition(Open, now, [32]byte{1}, "open", false))
	require.NoError(t, m.Transition(Assigned, now, [32]byte{2}, "assign", false))
	require.NoError(t, m.Transition(InProgress, now, [32]byte{3}, "start", false))
	require.NoError(t, m.Transition(Completed, now, [32]byte{4}, "complete", false))
	require.NoError(t, m.Transition(Resolved, now, [32]byte{5}, "resolve", false))
	assert.True(t, m.Current.Terminal())
	assert.Len(t, m.Events, 5)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	m := New()
	err := m.Transition(InProgress, time.Now(), [32]byte{}, "skip", false)
	require.Error(t, err)
}

func TestTransitionRejectsFromTerminal(t *testing.T) {
	m := New()
	now := time.Now()
	require.NoError(t, m.Transition(Open, now, [32]byte{}, "open", false))
	require.NoError(t, m.Transition(Cancelled, now, [32]byte{}, "cancel", false))
	err := m.Transition(Open, now, [32]byte{}, "reopen", false)
	require.Error(t, err)
}

func TestTransitionLockedGuard(t *testing.T) {
	m := New()
	err := m.Transition(Open, time.Now(), [32]byte{}, "open", true)
	require.Error(t, err)
	assert.Equal(t, Created, m.Current)
}

func TestIsExpiredBoundary(t *testing.T) {
	assert.False(t, IsExpired(99, 100, 6))
	assert.False(t, IsExpired(105, 100, 6))
	assert.True(t, IsExpired(106, 100, 6))
	// reorg below created_height never expires rather than underflowing.
	assert.False(t, IsExpired(0, 1000, 6))
}

func TestDeepCopyIsIndependent(t *testing.T) {
	m := New()
	require.NoError(t, m.Transition(Open, time.Now(), [32]byte{}, "open", false))
	cp := m.DeepCopy()
	require.NoError(t, cp.Transition(Assigned, time.Now(), [32]byte{}, "assign", false))
	assert.Equal(t, Open, m.Current)
	assert.Equal(t, Assigned, cp.Current)
	assert.Len(t, m.Events, 1)
	assert.Len(t, cp.Events, 2)
}
