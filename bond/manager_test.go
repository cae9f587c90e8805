package bond

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

func TestSlashApprovalReachesThreshold(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	p, err := Propose(key(1), key(2), 10_000, "late delivery", now)
	require.NoError(t, err)

	for i := 0; i < params.MinDAOApprovers-1; i++ {
		require.NoError(t, Approve(p, key(byte(10+i)), 100_000, params, now))
		assert.Equal(t, SlashProposed, p.Status)
	}
	require.NoError(t, Approve(p, key(99), 100_000, params, now))
	assert.Equal(t, SlashApproved, p.Status)
}

func TestLargeSlashEntersCoolingOff(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	bondAmount := uint64(100_000)
	amount := uint64(float64(bondAmount) * params.SlashCoolingOffRatio)
	p, err := Propose(key(1), key(2), amount, "major violation", now)
	require.NoError(t, err)
	for i := 0; i < params.MinDAOApprovers; i++ {
		require.NoError(t, Approve(p, key(byte(10+i)), bondAmount, params, now))
	}
	assert.Equal(t, SlashCoolingOff, p.Status)
	require.NotNil(t, p.CoolingOffEnd)
}

func TestFinalizeBeforeCoolingOffEndFails(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	p, err := Propose(key(1), key(2), 100_000, "violation", now)
	require.NoError(t, err)
	for i := 0; i < params.MinDAOApprovers; i++ {
		require.NoError(t, Approve(p, key(byte(10+i)), 100_000, params, now))
	}
	require.Equal(t, SlashCoolingOff, p.Status)
	err = Finalize(p, now)
	require.Error(t, err)

	err = Finalize(p, *p.CoolingOffEnd)
	require.NoError(t, err)
	assert.Equal(t, SlashFinalized, p.Status)
}

func TestAppealOnlyDuringCoolingOff(t *testing.T) {
	p := &SlashProposal{Status: SlashProposed}
	require.Error(t, Appeal(p))
	p.Status = SlashCoolingOff
	require.NoError(t, Appeal(p))
	assert.Equal(t, SlashAppealed, p.Status)
}

func TestApproverCannotVoteTwice(t *testing.T) {
	params := config.DefaultParams()
	now := time.Now()
	p, err := Propose(key(1), key(2), 10_000, "reason", now)
	require.NoError(t, err)
	require.NoError(t, Approve(p, key(10), 100_000, params, now))
	require.Error(t, Approve(p, key(10), 100_000, params, now))
}

func TestInsuranceClaimPayoutBounded(t *testing.T) {
	params := config.DefaultParams()
	c := &InsuranceClaim{
		Claimant:     key(1),
		Target:       key(2),
		ClaimAmount:  100_000,
		CoverageSats: 50_000,
		Status:       ClaimApproved,
	}
	payout, err := Payout(c, 30_000, params)
	require.NoError(t, err)
	// min(claim*ratio, coverage, bond) -> bond is the binding constraint.
	assert.Equal(t, uint64(30_000), payout)
}

func TestInsuranceClaimPayoutRequiresApproval(t *testing.T) {
	params := config.DefaultParams()
	c := &InsuranceClaim{Status: ClaimProposed}
	_, err := Payout(c, 100_000, params)
	require.Error(t, err)
}

func TestApproveClaimReachesThreshold(t *testing.T) {
	params := config.DefaultParams()
	needed := params.MinInsuranceApprovers
	if ratioNeeded := int(params.InsuranceApprovalRatio * float64(params.MaxInsuranceApprovers)); ratioNeeded > needed {
		needed = ratioNeeded
	}
	c := &InsuranceClaim{Status: ClaimProposed}
	for i := 0; i < needed-1; i++ {
		require.NoError(t, ApproveClaim(c, key(byte(i)), params))
	}
	assert.Equal(t, ClaimProposed, c.Status)
	require.NoError(t, ApproveClaim(c, key(99), params))
	assert.Equal(t, ClaimApproved, c.Status)
}
