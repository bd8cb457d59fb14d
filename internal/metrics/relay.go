package metrics

import "fmt"

const requestsTotal = "chatrelay_requests_total"

var (
	InflightRequests = Collector.Gauge("chatrelay_inflight_requests", "Forward calls currently in progress", "")
	UpstreamLatency  = Collector.Histogram("chatrelay_upstream_latency_seconds", "Webhook call latency in seconds", "",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
)

// Requests returns the request counter for one operation/outcome pair.
func Requests(operation, outcome string) *Counter {
	return Collector.Counter(requestsTotal, "Relay requests by operation and outcome",
		fmt.Sprintf("operation=%q,outcome=%q", operation, outcome))
}
