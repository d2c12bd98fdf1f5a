package types

// Telemetry metric names for CloudWatch.
const (
	MetricAPILatency       = "APILatency"
	MetricAPIRequestCount  = "APIRequestCount"
	MetricCreditsDebited   = "CreditsDebited"
	MetricCreditsPurchased = "CreditsPurchased"
	MetricDebitDenied      = "DebitDenied"
	MetricDebitFailed      = "DebitFailedAfterDelivery"
	MetricResetsPerformed  = "ResetsPerformed"

	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimAction   = "Action"
	DimPlan     = "Plan"

	MetricNamespace = "LexLedger"
)
