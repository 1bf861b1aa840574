package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MStockMovements          MetricKey = "stock_movements_total"
	MPaymentAttempts         MetricKey = "payment_attempts_total"
	MOrderTransitions        MetricKey = "order_transitions_total"
	MReconcileOutcomes       MetricKey = "reconcile_outcomes_total"
)

// MetricSpec describes how a MetricKey is registered with a backend.
type MetricSpec struct {
	Key     MetricKey
	Help    string
	Labels  []string
	Buckets []float64
}

// CounterSpecs lists every counter the service records.
var CounterSpecs = []MetricSpec{
	{Key: MUsecaseRequests, Help: "Total number of use case invocations.", Labels: []string{"use_case", "outcome"}},
	{Key: MHTTPRequests, Help: "Total number of HTTP requests.", Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequests, Help: "Calls to external collaborators.", Labels: []string{"peer", "endpoint", "outcome"}},
	{Key: MStockMovements, Help: "Stock movements appended to the ledger.", Labels: []string{"kind"}},
	{Key: MPaymentAttempts, Help: "Payment provider attempts including retries.", Labels: []string{"operation", "outcome"}},
	{Key: MOrderTransitions, Help: "Order status changes committed.", Labels: []string{"event", "from", "to"}},
	{Key: MReconcileOutcomes, Help: "Stale pending orders settled by the reconciler.", Labels: []string{"outcome"}},
}

// HistogramSpecs lists every histogram the service records. Nil buckets mean prometheus defaults.
var HistogramSpecs = []MetricSpec{
	{Key: MUsecaseDuration, Help: "Duration of use case execution in seconds.", Labels: []string{"use_case"}},
	{Key: MHTTPRequestDuration, Help: "Duration of HTTP requests in seconds.", Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequestDuration, Help: "Duration of calls to external collaborators in seconds.", Labels: []string{"peer", "endpoint"},
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20}},
}
