package monitoring

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes metrics via PutMetricData under a configured
// namespace.
type CloudWatch struct {
	client    cloudWatchAPI
	namespace string
	logger    *zap.Logger
}

func NewCloudWatch(cfg aws.Config, namespace string, logger *zap.Logger) *CloudWatch {
	return &CloudWatch{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		logger:    logger.Named("cloudwatch"),
	}
}

// NewCloudWatchWithClient wires an explicit client, used by tests.
func NewCloudWatchWithClient(client cloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace, logger: logger.Named("cloudwatch")}
}

func (c *CloudWatch) Count(ctx context.Context, name Metric, value float64, dims Dimensions) error {
	return c.put(ctx, name, value, types.StandardUnitCount, dims)
}

func (c *CloudWatch) Duration(ctx context.Context, name Metric, d time.Duration, dims Dimensions) error {
	return c.put(ctx, name, float64(d.Milliseconds()), types.StandardUnitMilliseconds, dims)
}

func (c *CloudWatch) put(ctx context.Context, name Metric, value float64, unit types.StandardUnit, dims Dimensions) error {
	var cwDims []types.Dimension
	for key, val := range dims.labels() {
		if val == "" {
			continue
		}
		cwDims = append(cwDims, types.Dimension{Name: aws.String(key), Value: aws.String(val)})
	}
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []types.MetricDatum{{
			MetricName: aws.String(string(name)),
			Value:      aws.Float64(value),
			Unit:       unit,
			Dimensions: cwDims,
		}},
	})
	return err
}
