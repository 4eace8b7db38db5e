package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// BreakerSettings configures the circuit breaker in front of the gateway.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// HTTPConfig holds HTTP gateway settings.
type HTTPConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Breaker   BreakerSettings
}

// HTTPAPI implements API over the gateway's JSON REST interface with basic auth.
// Server-side failures count toward a circuit breaker; while it is open calls
// fail fast with a GatewayError.
type HTTPAPI struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewHTTPAPI creates a new HTTP gateway API
func NewHTTPAPI(cfg HTTPConfig, httpClient *http.Client, logger *zap.Logger) *HTTPAPI {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	failures := cfg.Breaker.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	api := &HTTPAPI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		httpClient: httpClient,
		logger:     logger,
	}

	api.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payout-gateway",
		MaxRequests: cfg.Breaker.HalfOpenRequests,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var gwErr *GatewayError
			if errors.As(err, &gwErr) {
				return !gwErr.Retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return api
}

func (a *HTTPAPI) Name() string {
	return "http"
}

func (a *HTTPAPI) CreateContact(ctx context.Context, contact Contact) (*Created, error) {
	return a.post(ctx, "/contacts", contact, nil, false)
}

func (a *HTTPAPI) CreateFundDestination(ctx context.Context, contactID string, account BankAccount) (*Created, error) {
	body := struct {
		ContactID   string      `json:"contact_id"`
		AccountType string      `json:"account_type"`
		BankAccount BankAccount `json:"bank_account"`
	}{
		ContactID:   contactID,
		AccountType: "bank_account",
		BankAccount: account,
	}
	return a.post(ctx, "/fund_accounts", body, nil, false)
}

func (a *HTTPAPI) CreateDisbursement(ctx context.Context, payload DisbursementPayload, idempotencyKey string) (*Created, error) {
	return a.post(ctx, "/payouts", payload, map[string]string{
		"Idempotency-Key": idempotencyKey,
	}, true)
}

// BreakerState returns the circuit breaker state name.
func (a *HTTPAPI) BreakerState() string {
	return a.breaker.State().String()
}

func (a *HTTPAPI) post(ctx context.Context, path string, body any, headers map[string]string, requireID bool) (*Created, error) {
	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.do(ctx, path, body, headers, requireID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &GatewayError{Message: "circuit breaker open: " + err.Error()}
		}
		return nil, err
	}
	return result.(*Created), nil
}

// do performs one request. A 2xx reply without an id is an error only when
// requireID is set.
func (a *HTTPAPI) do(ctx context.Context, path string, body any, headers map[string]string, requireID bool) (*Created, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(a.keyID, a.keySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: "read response: " + err.Error()}
	}

	var payload json.RawMessage
	if json.Valid(raw) {
		payload = raw
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.logger.Debug("Gateway call rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.StatusCode),
			Payload:    payload,
		}
	}

	var reply struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &reply)
	if requireID && reply.ID == "" {
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    "response missing id",
			Payload:    payload,
		}
	}

	return &Created{ID: reply.ID, Raw: payload}, nil
}

// errorMessage extracts error.description from a gateway error body.
func errorMessage(raw []byte, status int) string {
	var body struct {
		Error struct {
			Description string `json:"description"`
			Code        string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error.Description != "" {
			return body.Error.Description
		}
		if body.Error.Code != "" {
			return body.Error.Code
		}
	}
	return http.StatusText(status)
}
