package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huts4u/payout-service/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type payoutRow struct {
	ID               string         `gorm:"primaryKey;size:64"`
	PartnerID        string         `gorm:"size:64;not null"`
	BookingsIncluded datatypes.JSON `gorm:"type:jsonb"`
	AmountMinor      int64          `gorm:"not null"`
	FeeMinor         int64          `gorm:"not null"`
	NetAmountMinor   int64          `gorm:"not null"`
	Currency         string         `gorm:"size:8;not null"`
	Status           string         `gorm:"size:16;not null"`
	ScheduledAt      *time.Time
	InitiatedAt      *time.Time
	ProcessedAt      *time.Time
	TransactionRef   string
	GatewayResponse  datatypes.JSON `gorm:"type:jsonb"`
	FailureReason    string
	IdempotencyKey   string
	Attempts         int
	Note             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (payoutRow) TableName() string { return "payouts" }

func newPayoutRow(p *model.Payout) (*payoutRow, error) {
	row := &payoutRow{
		ID:              p.ID,
		PartnerID:       p.PartnerID,
		AmountMinor:     p.AmountMinor,
		FeeMinor:        p.FeeMinor,
		NetAmountMinor:  p.NetAmountMinor,
		Currency:        p.CurrencyOrDefault(),
		Status:          string(p.Status),
		ScheduledAt:     p.ScheduledAt,
		InitiatedAt:     p.InitiatedAt,
		ProcessedAt:     p.ProcessedAt,
		TransactionRef:  p.TransactionRef,
		GatewayResponse: datatypes.JSON(p.GatewayResponse),
		FailureReason:   p.FailureReason,
		IdempotencyKey:  p.IdempotencyKey,
		Attempts:        p.Attempts,
		Note:            p.Note,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.BookingsIncluded != nil {
		data, err := json.Marshal(p.BookingsIncluded)
		if err != nil {
			return nil, fmt.Errorf("marshal bookings: %w", err)
		}
		row.BookingsIncluded = data
	}
	return row, nil
}

func (r *payoutRow) toModel() (*model.Payout, error) {
	p := &model.Payout{
		ID:             r.ID,
		PartnerID:      r.PartnerID,
		AmountMinor:    r.AmountMinor,
		FeeMinor:       r.FeeMinor,
		NetAmountMinor: r.NetAmountMinor,
		Currency:       r.Currency,
		Status:         model.PayoutStatus(r.Status),
		ScheduledAt:    r.ScheduledAt,
		InitiatedAt:    r.InitiatedAt,
		ProcessedAt:    r.ProcessedAt,
		TransactionRef: r.TransactionRef,
		FailureReason:  r.FailureReason,
		IdempotencyKey: r.IdempotencyKey,
		Attempts:       r.Attempts,
		Note:           r.Note,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.GatewayResponse) > 0 {
		p.GatewayResponse = json.RawMessage(r.GatewayResponse)
	}
	if len(r.BookingsIncluded) > 0 {
		if err := json.Unmarshal(r.BookingsIncluded, &p.BookingsIncluded); err != nil {
			return nil, fmt.Errorf("unmarshal bookings: %w", err)
		}
	}
	return p, nil
}

// PostgresRepository implements LedgerStore on Postgres through gorm.
// Claims lock the row with SELECT ... FOR UPDATE and then apply a
// conditional UPDATE guarded by the expected status.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository creates a new Postgres ledger store
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, payout *model.Payout) error {
	now := time.Now()
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = now
	}
	payout.UpdatedAt = now
	if payout.Status == "" {
		payout.Status = model.PayoutStatusPending
	}

	row, err := newPayoutRow(payout)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create payout: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*model.Payout, error) {
	var row payoutRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payout %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return row.toModel()
}

func (r *PostgresRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Payout, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []payoutRow
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", string(model.PayoutStatusPending), now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find due payouts: %w", err)
	}

	payouts := make([]*model.Payout, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}

	return payouts, nil
}

func (r *PostgresRepository) Claim(ctx context.Context, id string, now time.Time) (*model.Payout, error) {
	claimed, err := r.transition(ctx, id, model.PayoutStatusPending, func(p *model.Payout) {
		applyClaim(p, now)
	})
	if errors.Is(err, errStatusMismatch) {
		return nil, ErrNotPending
	}
	return claimed, err
}

func (r *PostgresRepository) Save(ctx context.Context, payout *model.Payout) error {
	payout.UpdatedAt = time.Now()

	row, err := newPayoutRow(payout)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save payout: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Reset(ctx context.Context, id string, scheduledAt time.Time) (*model.Payout, error) {
	payout, err := r.transition(ctx, id, model.PayoutStatusFailed, func(p *model.Payout) {
		applyReset(p, scheduledAt)
	})
	return payout, operatorError(id, err)
}

func (r *PostgresRepository) Cancel(ctx context.Context, id string, reason string, now time.Time) (*model.Payout, error) {
	payout, err := r.transition(ctx, id, model.PayoutStatusPending, func(p *model.Payout) {
		applyCancel(p, reason, now)
	})
	return payout, operatorError(id, err)
}

func (r *PostgresRepository) Health(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// transition locks the row, checks the expected status and writes the mutated
// record with an UPDATE that repeats the status guard. Success is exactly one
// affected row.
func (r *PostgresRepository) transition(ctx context.Context, id string, from model.PayoutStatus, mutate func(*model.Payout)) (*model.Payout, error) {
	var result *model.Payout

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row payoutRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("payout %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}

		if model.PayoutStatus(row.Status) != from {
			return errStatusMismatch
		}

		payout, err := row.toModel()
		if err != nil {
			return err
		}
		mutate(payout)

		updated, err := newPayoutRow(payout)
		if err != nil {
			return err
		}

		res := tx.Model(&payoutRow{}).
			Where("id = ? AND status = ?", id, string(from)).
			Select("*").
			Omit("id", "created_at").
			Updates(updated)
		if res.Error != nil {
			return fmt.Errorf("update payout: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return errStatusMismatch
		}

		result = payout
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

type partnerRow struct {
	ID                string `gorm:"primaryKey;size:64"`
	Name              string
	BeneficiaryName   string
	Email             string
	Phone             string
	BankAccountNumber string
	BankRoutingCode   string
	ContactID         string
	FundAccountID     string
	UpdatedAt         time.Time
}

func (partnerRow) TableName() string { return "partners" }

// PostgresPartnerDirectory implements PartnerDirectory on Postgres through gorm.
type PostgresPartnerDirectory struct {
	db *gorm.DB
}

// NewPostgresPartnerDirectory creates a new Postgres partner directory
func NewPostgresPartnerDirectory(db *gorm.DB) *PostgresPartnerDirectory {
	return &PostgresPartnerDirectory{db: db}
}

func (d *PostgresPartnerDirectory) GetByID(ctx context.Context, id string) (*model.Partner, error) {
	var row partnerRow
	if err := d.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("partner %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get partner: %w", err)
	}

	return &model.Partner{
		ID:                row.ID,
		Name:              row.Name,
		BeneficiaryName:   row.BeneficiaryName,
		Email:             row.Email,
		Phone:             row.Phone,
		BankAccountNumber: row.BankAccountNumber,
		BankRoutingCode:   row.BankRoutingCode,
		ContactID:         row.ContactID,
		FundAccountID:     row.FundAccountID,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func (d *PostgresPartnerDirectory) Save(ctx context.Context, partner *model.Partner) error {
	partner.UpdatedAt = time.Now()

	row := &partnerRow{
		ID:                partner.ID,
		Name:              partner.Name,
		BeneficiaryName:   partner.BeneficiaryName,
		Email:             partner.Email,
		Phone:             partner.Phone,
		BankAccountNumber: partner.BankAccountNumber,
		BankRoutingCode:   partner.BankRoutingCode,
		ContactID:         partner.ContactID,
		FundAccountID:     partner.FundAccountID,
		UpdatedAt:         partner.UpdatedAt,
	}

	if err := d.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save partner: %w", err)
	}

	return nil
}
