package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oakridgehealth/frontdesk/internal/practice"
	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

var senderTracer = otel.Tracer("frontdesk.internal.sms")

// Credentials identify one Twilio account and sending number.
type Credentials struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Complete reports whether the credentials can send.
func (c Credentials) Complete() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

// Resolve overlays per-practice credential overrides onto the globals.
func (c Credentials) Resolve(cfg *practice.Config) Credentials {
	out := c
	if cfg == nil {
		return out
	}
	if cfg.TwilioAccountSID != "" {
		out.AccountSID = cfg.TwilioAccountSID
	}
	if cfg.TwilioAuthToken != "" {
		out.AuthToken = cfg.TwilioAuthToken
	}
	if cfg.TwilioFromNumber != "" {
		out.From = cfg.TwilioFromNumber
	}
	return out
}

// ProviderError is a non-2xx response from the SMS provider.
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("sms: provider status %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("sms: provider status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("sms: provider status %d", e.StatusCode)
}

// Permanent reports whether retrying cannot help. Rate limits are not
// permanent; every other 4xx is.
func (e *ProviderError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// ErrInvalidNumber marks a destination that is not a valid E.164 number.
// Never worth retrying.
var ErrInvalidNumber = errors.New("sms: invalid destination number")

// IsPermanent reports whether err is a failure no retry can fix.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrInvalidNumber) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Permanent()
}

// Sender posts messages for one credential set via Twilio's REST API.
type Sender struct {
	creds      Credentials
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewSender builds a sender. A nil httpClient gets the 10s-per-attempt
// default; baseURL is overridable for tests.
func NewSender(creds Credentials, httpClient *http.Client, logger *logging.Logger) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		creds:      creds,
		baseURL:    "https://api.twilio.com",
		httpClient: httpClient,
		logger:     logger,
	}
}

// Send dispatches one SMS, retrying transient failures up to three times.
// Returns the provider message SID on success.
func (s *Sender) Send(ctx context.Context, to, body string) (string, error) {
	if !s.creds.Complete() {
		return "", errors.New("sms: credentials missing")
	}
	if !IsValidE164(to) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, to)
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("sms: body required")
	}

	ctx, span := senderTracer.Start(ctx, "sms.send")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.sms.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", s.creds.From)
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.creds.AccountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.creds.AccountSID, s.creds.AuthToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					SID string `json:"sid"`
				}
				_ = json.Unmarshal(raw, &parsed)
				s.logger.Info("sms sent", "to", to, "sid", parsed.SID)
				return parsed.SID, nil
			}
			perr := parseProviderError(resp.StatusCode, raw)
			lastErr = perr
			if perr.Permanent() {
				break
			}
		}

		if attempt < 3 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(200+rand.Intn(300)) * time.Millisecond):
			}
		}
	}
	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return "", lastErr
}

func parseProviderError(status int, raw []byte) *ProviderError {
	perr := &ProviderError{StatusCode: status}
	var parsed struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		perr.Code = parsed.Code
		perr.Message = parsed.Message
	} else {
		perr.Message = strings.TrimSpace(string(raw))
	}
	return perr
}
