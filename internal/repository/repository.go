package repository

import (
	"context"
	"errors"
	"time"

	"github.com/huts4u/payout-service/internal/model"
)

var (
	// ErrNotFound is returned when a payout or partner does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotPending is returned by Claim when the record is no longer pending.
	// It is a lost race, not a failure.
	ErrNotPending = errors.New("payout is not pending")

	// ErrInvalidTransition is returned when an operator transition does not
	// start from the required status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// LedgerStore defines the interface for payout storage
type LedgerStore interface {
	// Create stores a new payout record
	Create(ctx context.Context, payout *model.Payout) error

	// Get retrieves a payout by ID
	Get(ctx context.Context, id string) (*model.Payout, error)

	// FindDue returns pending payouts with scheduledAt <= now, oldest first, at most limit.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Payout, error)

	// Claim atomically moves a pending payout to processing and returns it.
	// Returns ErrNotPending when another attempt got there first.
	Claim(ctx context.Context, id string, now time.Time) (*model.Payout, error)

	// Save persists a mutation of a record held by the caller
	Save(ctx context.Context, payout *model.Payout) error

	// Reset moves a failed payout back to pending for an explicit re-attempt.
	Reset(ctx context.Context, id string, scheduledAt time.Time) (*model.Payout, error)

	// Cancel moves a pending payout to cancelled.
	Cancel(ctx context.Context, id string, reason string, now time.Time) (*model.Payout, error)

	// Health checks if the store is reachable
	Health(ctx context.Context) error
}

// PartnerDirectory reads partners and caches resolved gateway identities on them.
type PartnerDirectory interface {
	GetByID(ctx context.Context, id string) (*model.Partner, error)
	Save(ctx context.Context, partner *model.Partner) error
}

// applyClaim mutates a pending record into its claimed form.
func applyClaim(p *model.Payout, now time.Time) {
	p.Status = model.PayoutStatusProcessing
	p.InitiatedAt = &now
	p.Attempts++
	p.UpdatedAt = now
}

// applyReset mutates a failed record back to pending.
func applyReset(p *model.Payout, scheduledAt time.Time) {
	p.Status = model.PayoutStatusPending
	p.ScheduledAt = &scheduledAt
	p.InitiatedAt = nil
	p.ProcessedAt = nil
	p.FailureReason = ""
	p.GatewayResponse = nil
	p.IdempotencyKey = ""
	p.UpdatedAt = time.Now()
}

// applyCancel mutates a pending record into cancelled.
func applyCancel(p *model.Payout, reason string, now time.Time) {
	p.Status = model.PayoutStatusCancelled
	p.Note = reason
	p.ProcessedAt = &now
	p.UpdatedAt = now
}
