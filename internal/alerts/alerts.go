// Package alerts delivers operational notifications. Emission is
// best-effort by contract: callers log a failed publish and move on, and
// the audit record remains the authoritative account of what happened.
package alerts

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opx/automation/internal/core"
)

// AlertType classifies a notification.
type AlertType string

const (
	AlertFailure          AlertType = "FAILURE"
	AlertTimeout          AlertType = "TIMEOUT"
	AlertDrift            AlertType = "DRIFT"
	AlertInsufficientData AlertType = "INSUFFICIENT_DATA"
)

// Alert is one notification. Every publish carries the four standard
// attributes plus a deduplication id derived from (operationType, auditId),
// so runtime redeliveries of the same run collapse downstream.
type Alert struct {
	OperationType core.OperationType
	TriggerType   core.TriggerType
	AuditID       string
	Type          AlertType
	Subject       string
	Message       string
}

// DedupID keys duplicate suppression.
func (a Alert) DedupID() string {
	return fmt.Sprintf("%s-%s", a.OperationType, a.AuditID)
}

// Publisher delivers alerts.
type Publisher interface {
	Publish(ctx context.Context, alert Alert) error
}

// Memory records alerts for tests and local runs.
type Memory struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

// Alerts returns a copy of everything published so far.
func (m *Memory) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Throttled caps the publish rate so a failure storm cannot flood the
// topic. Alerts over the budget are dropped and logged; dropping is safe
// because alerting is advisory.
type Throttled struct {
	next    Publisher
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewThrottled allows perMinute alerts sustained with a burst of the same
// size.
func NewThrottled(next Publisher, perMinute int, logger *zap.Logger) *Throttled {
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		logger:  logger.Named("alert-throttle"),
	}
}

func (t *Throttled) Publish(ctx context.Context, alert Alert) error {
	if !t.limiter.Allow() {
		t.logger.Warn("alert dropped by throttle",
			zap.String("dedupId", alert.DedupID()),
			zap.String("alertType", string(alert.Type)))
		return nil
	}
	return t.next.Publish(ctx, alert)
}
