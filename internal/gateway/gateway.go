package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Destination is where money is sent: a registered fund account, or raw bank
// details when no fund account could be created.
type Destination struct {
	FundAccountID   string
	AccountNumber   string
	RoutingCode     string
	BeneficiaryName string
}

// HasFundAccount reports whether the destination is a registered fund account.
func (d Destination) HasFundAccount() bool {
	return d.FundAccountID != ""
}

// Contact is a payee registration.
type Contact struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	ReferenceID string            `json:"reference_id"`
	Email       string            `json:"email,omitempty"`
	Phone       string            `json:"contact,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// BankAccount is the raw bank account block of the gateway API.
type BankAccount struct {
	Name          string `json:"name"`
	IFSC          string `json:"ifsc"`
	AccountNumber string `json:"account_number"`
}

// FundAccount is an inline fund account used when no fund account id exists.
type FundAccount struct {
	AccountType string      `json:"account_type"`
	BankAccount BankAccount `json:"bank_account"`
}

// DisbursementPayload is the body of a payout creation call.
type DisbursementPayload struct {
	AccountNumber     string       `json:"account_number"`
	FundAccountID     string       `json:"fund_account_id,omitempty"`
	FundAccount       *FundAccount `json:"fund_account,omitempty"`
	Amount            int64        `json:"amount"`
	Currency          string       `json:"currency"`
	Mode              string       `json:"mode"`
	Purpose           string       `json:"purpose"`
	Narration         string       `json:"narration"`
	ReferenceID       string       `json:"reference_id"`
	QueueIfLowBalance bool         `json:"queue_if_low_balance"`
}

// Created is the parsed reply of a create call. Raw keeps the full body for audit.
type Created struct {
	ID  string
	Raw json.RawMessage
}

// API is the external money-movement gateway. Implementations make exactly one
// request per call and never retry.
type API interface {
	// CreateContact registers a payee and returns its contact id
	CreateContact(ctx context.Context, contact Contact) (*Created, error)

	// CreateFundDestination binds a bank account to a contact
	CreateFundDestination(ctx context.Context, contactID string, account BankAccount) (*Created, error)

	// CreateDisbursement initiates a payout, deduplicated by idempotencyKey
	CreateDisbursement(ctx context.Context, payload DisbursementPayload, idempotencyKey string) (*Created, error)

	// Name returns the API name
	Name() string
}

// GatewayError is any failed gateway call: transport error, timeout, non-2xx
// reply or a reply without an id. Payload holds the reply body when there was one.
type GatewayError struct {
	StatusCode int
	Message    string
	Payload    json.RawMessage
}

func (e *GatewayError) Error() string {
	if e.StatusCode == 0 {
		return "gateway: " + e.Message
	}
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure was on the transport or server side.
func (e *GatewayError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}
