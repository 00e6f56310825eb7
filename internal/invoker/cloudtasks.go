package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"go.uber.org/zap"
)

// CloudTasks enqueues handler runs as HTTP tasks targeting the worker's
// /invoke endpoint. The queue supplies retry, backoff, and dead-lettering.
type CloudTasks struct {
	client    *cloudtasks.Client
	queuePath string
	workerURL string
	logger    *zap.Logger
}

// NewCloudTasks connects to the queue at
// projects/{project}/locations/{location}/queues/{queue} and targets
// workerURL for task delivery.
func NewCloudTasks(ctx context.Context, project, location, queue, workerURL string, logger *zap.Logger) (*CloudTasks, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks client: %w", err)
	}
	return &CloudTasks{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", project, location, queue),
		workerURL: strings.TrimSuffix(workerURL, "/"),
		logger:    logger.Named("cloudtasks-invoker"),
	}, nil
}

func (c *CloudTasks) Invoke(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal invocation payload: %w", err)
	}
	req := &taskspb.CreateTaskRequest{
		Parent: c.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        fmt.Sprintf("%s/invoke/%s", c.workerURL, p.Operation),
					Headers:    map[string]string{"Content-Type": "application/json"},
					Body:       body,
				},
			},
		},
	}
	if _, err := c.client.CreateTask(ctx, req); err != nil {
		return fmt.Errorf("enqueue task for audit %s: %w", p.AuditID, err)
	}
	return nil
}

func (c *CloudTasks) Close() error { return c.client.Close() }
