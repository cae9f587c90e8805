package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := RotationsTotal.Count()
	RotationsTotal.Inc(1)
	assert.Equal(t, before+1, RotationsTotal.Count())

	beforeEmergency := EmergencyRotationsTotal.Count()
	EmergencyRotationsTotal.Inc(2)
	assert.Equal(t, beforeEmergency+2, EmergencyRotationsTotal.Count())
}

func TestActiveContractsGaugeUpdates(t *testing.T) {
	ActiveContractsGauge.Update(5)
	assert.EqualValues(t, 5, ActiveContractsGauge.Value())
}

func TestResolutionPathCounterIsPerPathAndIdempotentlyRegistered(t *testing.T) {
	a := ResolutionPathCounter("EmployerWin")
	a.Inc(1)
	b := ResolutionPathCounter("EmployerWin")
	assert.EqualValues(t, 1, b.Count())

	other := ResolutionPathCounter("WorkerWin")
	assert.EqualValues(t, 0, other.Count())
}
