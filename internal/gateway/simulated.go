package gateway

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// SimulatedAPI simulates the gateway for development/testing
type SimulatedAPI struct {
	failureRate    int // percentage 0-100
	processingTime time.Duration

	mu       sync.Mutex
	accepted map[string]*Created // idempotency key -> reply
}

// NewSimulatedAPI creates a new simulated gateway
func NewSimulatedAPI(failureRate int, processingTime time.Duration) *SimulatedAPI {
	return &SimulatedAPI{
		failureRate:    failureRate,
		processingTime: processingTime,
		accepted:       make(map[string]*Created),
	}
}

func (a *SimulatedAPI) Name() string {
	return "simulated"
}

func (a *SimulatedAPI) CreateContact(ctx context.Context, contact Contact) (*Created, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	return simulatedReply("cont", map[string]any{
		"entity":       "contact",
		"name":         contact.Name,
		"type":         contact.Type,
		"reference_id": contact.ReferenceID,
	}), nil
}

func (a *SimulatedAPI) CreateFundDestination(ctx context.Context, contactID string, account BankAccount) (*Created, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	return simulatedReply("fa", map[string]any{
		"entity":       "fund_account",
		"contact_id":   contactID,
		"account_type": "bank_account",
		"bank_account": account,
	}), nil
}

func (a *SimulatedAPI) CreateDisbursement(ctx context.Context, payload DisbursementPayload, idempotencyKey string) (*Created, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	// Replaying a key returns the original payout, like the real gateway.
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.accepted[idempotencyKey]; ok {
		return prev, nil
	}

	if a.shouldFail() {
		body, _ := json.Marshal(map[string]any{
			"error": map[string]string{
				"code":        "BAD_REQUEST_ERROR",
				"description": "Simulated failure: beneficiary bank unavailable",
			},
		})
		return nil, &GatewayError{
			StatusCode: 400,
			Message:    "Simulated failure: beneficiary bank unavailable",
			Payload:    body,
		}
	}

	reply := simulatedReply("pout", map[string]any{
		"entity":          "payout",
		"fund_account_id": payload.FundAccountID,
		"amount":          payload.Amount,
		"currency":        payload.Currency,
		"mode":            payload.Mode,
		"purpose":         payload.Purpose,
		"reference_id":    payload.ReferenceID,
		"narration":       payload.Narration,
		"status":          "processing",
	})
	a.accepted[idempotencyKey] = reply

	return reply, nil
}

func (a *SimulatedAPI) wait(ctx context.Context) error {
	select {
	case <-time.After(a.processingTime):
		return nil
	case <-ctx.Done():
		return &GatewayError{Message: ctx.Err().Error()}
	}
}

func (a *SimulatedAPI) shouldFail() bool {
	if a.failureRate <= 0 {
		return false
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(100))
	return int(n.Int64()) < a.failureRate
}

func simulatedReply(prefix string, fields map[string]any) *Created {
	id := fmt.Sprintf("%s_SIM%d", prefix, time.Now().UnixNano())
	fields["id"] = id
	raw, _ := json.Marshal(fields)
	return &Created{ID: id, Raw: raw}
}
