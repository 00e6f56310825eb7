package invoker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
)

type lambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Lambda enqueues handler runs as asynchronous function invocations. The
// function name is resolved per operation from configuration.
type Lambda struct {
	client    lambdaAPI
	functions map[core.OperationType]string
	logger    *zap.Logger
}

func NewLambda(cfg aws.Config, functions map[core.OperationType]string, logger *zap.Logger) *Lambda {
	return &Lambda{client: lambda.NewFromConfig(cfg), functions: functions, logger: logger.Named("lambda-invoker")}
}

// NewLambdaWithClient wires an explicit client, used by tests.
func NewLambdaWithClient(client lambdaAPI, functions map[core.OperationType]string, logger *zap.Logger) *Lambda {
	return &Lambda{client: client, functions: functions, logger: logger.Named("lambda-invoker")}
}

func (l *Lambda) Invoke(ctx context.Context, p Payload) error {
	function, ok := l.functions[p.Operation]
	if !ok || function == "" {
		return fmt.Errorf("no function configured for operation %s", p.Operation)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal invocation payload: %w", err)
	}
	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: types.InvocationTypeEvent,
		Payload:        body,
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", function, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("invoke %s: function error %s", function, *out.FunctionError)
	}
	return nil
}
