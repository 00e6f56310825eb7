package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes alerts to a topic. FIFO topics get native deduplication;
// standard topics carry the dedup key as a message attribute for
// subscriber-side suppression.
type SNS struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
}

func NewSNS(cfg aws.Config, topicARN string, logger *zap.Logger) *SNS {
	return &SNS{client: sns.NewFromConfig(cfg), topicARN: topicARN, logger: logger.Named("sns")}
}

// NewSNSWithClient wires an explicit client, used by tests.
func NewSNSWithClient(client snsAPI, topicARN string, logger *zap.Logger) *SNS {
	return &SNS{client: client, topicARN: topicARN, logger: logger.Named("sns")}
}

func (s *SNS) Publish(ctx context.Context, alert Alert) error {
	attr := func(v string) types.MessageAttributeValue {
		return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	in := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(alert.Subject),
		Message:  aws.String(alert.Message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"OperationType": attr(string(alert.OperationType)),
			"TriggerType":   attr(string(alert.TriggerType)),
			"AuditId":       attr(alert.AuditID),
			"AlertType":     attr(string(alert.Type)),
		},
	}
	if strings.HasSuffix(s.topicARN, ".fifo") {
		in.MessageDeduplicationId = aws.String(alert.DedupID())
		in.MessageGroupId = aws.String(string(alert.OperationType))
	} else {
		in.MessageAttributes["DedupKey"] = attr(alert.DedupID())
	}
	if _, err := s.client.Publish(ctx, in); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.DedupID(), err)
	}
	return nil
}
