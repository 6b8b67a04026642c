package metrics

import "time"

// Run results.
const (
	RunClean = "clean"
	RunDiff  = "diff"
	RunError = "error"
)

// Run records a completed reconciliation run.
func Run(network, result string, duration time.Duration) {
	if !enabled {
		return
	}
	runsTotal.WithLabelValues(network, result).Inc()
	runDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// Discrepancy records discrepancies reported by a single check.
func Discrepancy(check string, n int) {
	if !enabled || n <= 0 {
		return
	}
	discrepanciesTotal.WithLabelValues(check).Add(float64(n))
}

// RPCCall records a ledger RPC call outcome.
func RPCCall(method string, err error) {
	if !enabled {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	rpcCallsTotal.WithLabelValues(method, status).Inc()
}
