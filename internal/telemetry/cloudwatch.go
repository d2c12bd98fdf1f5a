// Package telemetry publishes API and ledger metrics to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"lexledger/internal/types"
)

// requestMetricTimeout bounds PutMetricData for calls that have no request
// context of their own.
const requestMetricTimeout = 2 * time.Second

// CloudWatchClient is the subset of *cloudwatch.Client used here.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchCollector emits:
//
//	APILatency, APIRequestCount   {Method, Endpoint, Status}
//	CreditsDebited                {Action}
//	DebitDenied                   {Action}
//	CreditsPurchased              no dims
//	ResetsPerformed               {Plan}
//	DebitFailedAfterDelivery      {Action}
//
// Publishing failures are logged and never surface to callers.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchCollector creates a collector. An empty namespace falls back
// to types.MetricNamespace.
func NewCloudWatchCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCollector {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{client: client, namespace: namespace, logger: logger}
}

// RecordRequest publishes latency and count for one API request.
func (c *CloudWatchCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), requestMetricTimeout)
	defer cancel()

	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	c.put(ctx, "request",
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	)
}

func (c *CloudWatchCollector) RecordDebit(ctx context.Context, kind types.ActionKind, credits int) {
	c.put(ctx, "debit", count(types.MetricCreditsDebited, float64(credits), dim(types.DimAction, string(kind))))
}

func (c *CloudWatchCollector) RecordDebitDenied(ctx context.Context, kind types.ActionKind) {
	c.put(ctx, "debit_denied", count(types.MetricDebitDenied, 1, dim(types.DimAction, string(kind))))
}

func (c *CloudWatchCollector) RecordPurchase(ctx context.Context, credits int) {
	c.put(ctx, "purchase", count(types.MetricCreditsPurchased, float64(credits)))
}

func (c *CloudWatchCollector) RecordReset(ctx context.Context, plan types.PlanTier) {
	c.put(ctx, "reset", count(types.MetricResetsPerformed, 1, dim(types.DimPlan, string(plan))))
}

// RecordDebitFailedAfterDelivery counts actions whose output reached the
// user but whose debit did not commit. Each one is unbilled usage.
func (c *CloudWatchCollector) RecordDebitFailedAfterDelivery(ctx context.Context, kind types.ActionKind) {
	c.put(ctx, "debit_failed", count(types.MetricDebitFailed, 1, dim(types.DimAction, string(kind))))
}

func (c *CloudWatchCollector) put(ctx context.Context, what string, data ...cwtypes.MetricDatum) {
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to publish metric",
			"metric", what,
			"error", err,
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func count(name string, value float64, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}
