// Package client is the typed Go client for the opx automation HTTP
// surface. The caller supplies the identity the request signer would
// inject; the client only shapes requests and decodes coded errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	// BaseURL is the server root, e.g. "https://opx.internal:8080".
	BaseURL string

	// Principal is the caller identity, sent as X-Opx-User-Arn.
	Principal string

	// Authority optionally asserts an authority level (X-Opx-Authority);
	// empty means HUMAN_OPERATOR on the server side.
	Authority string

	// Timeout defaults to 30s.
	Timeout time.Duration

	// HTTPClient overrides the default client when set.
	HTTPClient *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

// ExtractPatterns triggers a pattern-extraction run. 202 means accepted;
// poll the audit for the result.
func (c *Client) ExtractPatterns(ctx context.Context, req TriggerRequest) (*TriggerAccepted, error) {
	var out TriggerAccepted
	if err := c.do(ctx, http.MethodPost, "/automation/extract-patterns", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Calibrate triggers a confidence-calibration run.
func (c *Client) Calibrate(ctx context.Context, req TriggerRequest) (*TriggerAccepted, error) {
	var out TriggerAccepted
	if err := c.do(ctx, http.MethodPost, "/automation/calibrate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSnapshot triggers a learning-snapshot run.
func (c *Client) CreateSnapshot(ctx context.Context, req TriggerRequest) (*TriggerAccepted, error) {
	var out TriggerAccepted
	if err := c.do(ctx, http.MethodPost, "/automation/create-snapshot", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisableKillSwitch suppresses all non-emergency automation. Requires the
// EMERGENCY_OVERRIDE authority.
func (c *Client) DisableKillSwitch(ctx context.Context, reason string) (*KillSwitchStatus, error) {
	var out KillSwitchStatus
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/automation/kill-switch/disable", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableKillSwitch resumes automation. Requires EMERGENCY_OVERRIDE.
func (c *Client) EnableKillSwitch(ctx context.Context) (*KillSwitchStatus, error) {
	var out KillSwitchStatus
	if err := c.do(ctx, http.MethodPost, "/automation/kill-switch/enable", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) KillSwitchStatus(ctx context.Context) (*KillSwitchStatus, error) {
	var out KillSwitchStatus
	if err := c.do(ctx, http.MethodGet, "/automation/kill-switch/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenIncident moves a PENDING incident to OPEN.
func (c *Client) OpenIncident(ctx context.Context, incidentID string, req TransitionRequest) (*Incident, error) {
	return c.transition(ctx, incidentID, "open", req)
}

// MitigateIncident moves an OPEN incident to MITIGATING.
func (c *Client) MitigateIncident(ctx context.Context, incidentID string, req TransitionRequest) (*Incident, error) {
	return c.transition(ctx, incidentID, "mitigate", req)
}

// ResolveIncident moves an incident to RESOLVED; req must carry the reason
// and resolution.
func (c *Client) ResolveIncident(ctx context.Context, incidentID string, req TransitionRequest) (*Incident, error) {
	return c.transition(ctx, incidentID, "resolve", req)
}

// CloseIncident moves a RESOLVED incident to CLOSED.
func (c *Client) CloseIncident(ctx context.Context, incidentID string, req TransitionRequest) (*Incident, error) {
	return c.transition(ctx, incidentID, "close", req)
}

func (c *Client) transition(ctx context.Context, incidentID, edge string, req TransitionRequest) (*Incident, error) {
	var out Incident
	path := fmt.Sprintf("/incidents/%s/%s", url.PathEscape(incidentID), edge)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetIncident(ctx context.Context, incidentID string) (*Incident, error) {
	var out Incident
	path := "/incidents/" + url.PathEscape(incidentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListIncidents requires at least one of status or service.
func (c *Client) ListIncidents(ctx context.Context, status, service string, limit int) ([]Incident, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if service != "" {
		q.Set("service", service)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out struct {
		Incidents []Incident `json:"incidents"`
	}
	if err := c.do(ctx, http.MethodGet, "/incidents?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Incidents, nil
}

// RecordOutcome records the closure outcome of a CLOSED incident.
func (c *Client) RecordOutcome(ctx context.Context, incidentID string, req OutcomeRequest) (*Outcome, error) {
	var out Outcome
	path := fmt.Sprintf("/incidents/%s/outcome", url.PathEscape(incidentID))
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAudits requires an operationType or status filter.
func (c *Client) ListAudits(ctx context.Context, operationType, status string, limit int) ([]Audit, error) {
	q := url.Values{}
	if operationType != "" {
		q.Set("operationType", operationType)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out struct {
		Audits []Audit `json:"audits"`
	}
	if err := c.do(ctx, http.MethodGet, "/automation/audits?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Audits, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("opx: encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("opx: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Opx-User-Arn", c.cfg.Principal)
	if c.cfg.Authority != "" {
		req.Header.Set("X-Opx-Authority", c.cfg.Authority)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("opx: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code = "INTERNAL_ERROR"
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("opx: decode response: %w", err)
		}
	}
	return nil
}
