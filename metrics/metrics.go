// Package metrics registers the core's operational counters and gauges
// against the global rcrowley/go-metrics registry, the same
// package-level var pattern the teacher uses for its own counters
// (node/sc/bridge_tx_pool.go's refusedTxCounter, work/worker.go's
// timeLimitReachedCounter): metrics.NewRegisteredCounter/-Gauge called
// once at package init, updated from call sites.
package metrics

import "github.com/rcrowley/go-metrics"

var (
	RotationsTotal         = metrics.NewRegisteredCounter("mmp/keys/rotations", nil)
	EmergencyRotationsTotal = metrics.NewRegisteredCounter("mmp/keys/emergency_rotations", nil)

	DisputesRaisedTotal    = metrics.NewRegisteredCounter("mmp/dispute/raised", nil)
	DisputesResolvedTotal  = metrics.NewRegisteredCounter("mmp/dispute/resolved", nil)
	AppealsFiledTotal      = metrics.NewRegisteredCounter("mmp/dispute/appeals", nil)

	SlashesProposedTotal  = metrics.NewRegisteredCounter("mmp/bond/slashes_proposed", nil)
	SlashesFinalizedTotal = metrics.NewRegisteredCounter("mmp/bond/slashes_finalized", nil)
	SlashedSatsTotal      = metrics.NewRegisteredCounter("mmp/bond/slashed_sats", nil)

	FallbackRotationsTotal = metrics.NewRegisteredCounter("mmp/fallback/rotations", nil)
	EmergencyFallbacksTotal = metrics.NewRegisteredCounter("mmp/fallback/emergency_rotations", nil)

	ReentrancyRejectionsTotal = metrics.NewRegisteredCounter("mmp/store/reentrancy_rejections", nil)

	ActiveContractsGauge = metrics.NewRegisteredGauge("mmp/store/active_contracts", nil)
)

// ResolutionPathCounter returns (lazily registering) a per-path counter,
// mirroring getTimeGauge/getRetryGauge's switch-to-preallocated-gauge
// idiom but keyed dynamically since resolution paths are a small closed
// set known at call time rather than at package init.
func ResolutionPathCounter(path string) metrics.Counter {
	return metrics.GetOrRegisterCounter("mmp/dispute/resolution_path/"+path, metrics.DefaultRegistry)
}
