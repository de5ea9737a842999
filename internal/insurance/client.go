// Package insurance runs real-time eligibility checks against an external
// 270/271 clearinghouse API.
package insurance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

// ErrUnavailable hides upstream detail from callers.
var ErrUnavailable = errors.New("insurance: eligibility service unavailable")

// EligibilityRequest identifies the subscriber to verify.
type EligibilityRequest struct {
	MemberID  string `json:"member_id"`
	Carrier   string `json:"carrier,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	DOB       string `json:"dob,omitempty"`
}

// EligibilityResult is the distilled 271 outcome.
type EligibilityResult struct {
	Eligible   bool   `json:"eligible"`
	PlanName   string `json:"plan_name,omitempty"`
	Copay      string `json:"copay,omitempty"`
	Deductible string `json:"deductible,omitempty"`
}

// Client calls the eligibility API with a hard deadline.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
	tracer     trace.Tracer
}

// NewClient builds an eligibility client. Per-call deadline is 15 seconds.
func NewClient(baseURL, apiKey string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		tracer:     otel.Tracer("frontdesk.internal.insurance"),
	}
}

// Configured reports whether the client can reach a real API.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Check runs one eligibility verification. Upstream errors collapse to
// ErrUnavailable so raw API detail never reaches a caller.
func (c *Client) Check(ctx context.Context, req EligibilityRequest) (*EligibilityResult, error) {
	ctx, span := c.tracer.Start(ctx, "insurance.check")
	defer span.End()

	if !c.Configured() {
		return nil, ErrUnavailable
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("insurance: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/eligibility", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("insurance: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("insurance: eligibility call failed", "error", err)
		span.RecordError(err)
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("insurance: eligibility non-200", "status", resp.StatusCode, "body", string(body))
		return nil, ErrUnavailable
	}

	var result EligibilityResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&result); err != nil {
		c.logger.Warn("insurance: eligibility decode failed", "error", err)
		return nil, ErrUnavailable
	}
	return &result, nil
}
