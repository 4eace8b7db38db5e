package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMode    = "IMPS"
	DefaultTimeout = 20 * time.Second

	purposePayout = "payout"
)

// ClientConfig holds the fixed parameters of every disbursement.
type ClientConfig struct {
	SourceAccount string
	Mode          string
	Timeout       time.Duration
}

// DisbursementRequest is one attempt to pay one payout.
type DisbursementRequest struct {
	PayoutID       string
	AmountMinor    int64
	Currency       string
	Destination    Destination
	IdempotencyKey string
}

// Disbursement is an accepted payout.
type Disbursement struct {
	ID             string
	IdempotencyKey string
	Raw            json.RawMessage
}

// Client builds gateway requests and bounds every call with a hard timeout.
// It never retries.
type Client struct {
	api    API
	cfg    ClientConfig
	logger *zap.Logger
}

// NewClient creates a new gateway client
func NewClient(api API, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.SourceAccount == "" {
		return nil, errors.New("gateway source account is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = DefaultMode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{api: api, cfg: cfg, logger: logger}, nil
}

// NewIdempotencyKey returns a fresh key for one attempt at payoutID.
func NewIdempotencyKey(payoutID string) string {
	return fmt.Sprintf("payout-%s-%s", payoutID, uuid.NewString())
}

// Disburse sends one disbursement call. The idempotency key is generated when
// the request carries none.
func (c *Client) Disburse(ctx context.Context, req DisbursementRequest) (*Disbursement, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = NewIdempotencyKey(req.PayoutID)
	}

	payload := DisbursementPayload{
		AccountNumber:     c.cfg.SourceAccount,
		Amount:            req.AmountMinor,
		Currency:          req.Currency,
		Mode:              c.cfg.Mode,
		Purpose:           purposePayout,
		Narration:         "Payout for payoutId:" + req.PayoutID,
		ReferenceID:       req.PayoutID,
		QueueIfLowBalance: true,
	}

	dest := req.Destination
	if dest.HasFundAccount() {
		payload.FundAccountID = dest.FundAccountID
	} else {
		payload.FundAccount = &FundAccount{
			AccountType: "bank_account",
			BankAccount: BankAccount{
				Name:          dest.BeneficiaryName,
				IFSC:          dest.RoutingCode,
				AccountNumber: dest.AccountNumber,
			},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	c.logger.Debug("Sending disbursement",
		zap.String("payoutId", req.PayoutID),
		zap.String("idempotencyKey", key),
		zap.Bool("fundAccount", dest.HasFundAccount()),
	)

	created, err := c.api.CreateDisbursement(ctx, payload, key)
	if err != nil {
		return nil, asGatewayError(err)
	}

	return &Disbursement{ID: created.ID, IdempotencyKey: key, Raw: created.Raw}, nil
}

// CreateContact registers a payee of type vendor under the client timeout.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (string, error) {
	if contact.Type == "" {
		contact.Type = "vendor"
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	created, err := c.api.CreateContact(ctx, contact)
	if err != nil {
		return "", asGatewayError(err)
	}
	return created.ID, nil
}

// CreateFundDestination binds a bank account to a contact under the client
// timeout. An empty id with a nil error means the gateway accepted the call
// without returning an identity.
func (c *Client) CreateFundDestination(ctx context.Context, contactID string, account BankAccount) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	created, err := c.api.CreateFundDestination(ctx, contactID, account)
	if err != nil {
		return "", asGatewayError(err)
	}
	return created.ID, nil
}

func asGatewayError(err error) error {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return &GatewayError{Message: err.Error()}
}
