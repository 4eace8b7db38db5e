package recipient

import (
	"context"
	"errors"
	"fmt"

	"github.com/huts4u/payout-service/internal/gateway"
	"github.com/huts4u/payout-service/internal/lock"
	"github.com/huts4u/payout-service/internal/model"
	"github.com/huts4u/payout-service/internal/repository"
	"go.uber.org/zap"
)

// Registrar creates gateway identities for a partner.
type Registrar interface {
	CreateContact(ctx context.Context, contact gateway.Contact) (string, error)
	CreateFundDestination(ctx context.Context, contactID string, account gateway.BankAccount) (string, error)
}

// Resolver turns a partner into a gateway destination, creating and caching
// the contact and fund account on first use.
type Resolver struct {
	partners  repository.PartnerDirectory
	registrar Registrar
	locker    lock.Locker
	logger    *zap.Logger
}

// NewResolver creates a new recipient resolver
func NewResolver(partners repository.PartnerDirectory, registrar Registrar, locker lock.Locker, logger *zap.Logger) *Resolver {
	return &Resolver{
		partners:  partners,
		registrar: registrar,
		locker:    locker,
		logger:    logger,
	}
}

// LockKey is the lock guarding identity creation for one partner.
func LockKey(partnerID string) string {
	return "lock:partner:" + partnerID
}

// Resolve returns the destination for partnerID. A cached fund account is
// returned without any network call. Identity creation runs under the
// partner lock and re-reads the partner first, so concurrent resolvers create
// at most one fund account.
func (r *Resolver) Resolve(ctx context.Context, partnerID string) (gateway.Destination, error) {
	partner, err := r.load(ctx, partnerID)
	if err != nil {
		return gateway.Destination{}, err
	}

	if partner.FundAccountID != "" {
		return destinationFor(partner), nil
	}

	if !partner.HasBankDetails() {
		return gateway.Destination{}, model.NewValidationError("partner",
			"no fund account and no bank details (account number / routing code)")
	}

	var dest gateway.Destination
	err = r.locker.WithLock(ctx, LockKey(partnerID), func(ctx context.Context) error {
		fresh, err := r.load(ctx, partnerID)
		if err != nil {
			return err
		}

		if fresh.FundAccountID != "" {
			dest = destinationFor(fresh)
			return nil
		}

		if err := r.ensureFundAccount(ctx, fresh); err != nil {
			return err
		}

		dest = destinationFor(fresh)
		return nil
	})
	if err != nil {
		return gateway.Destination{}, err
	}

	return dest, nil
}

func (r *Resolver) load(ctx context.Context, partnerID string) (*model.Partner, error) {
	partner, err := r.partners.GetByID(ctx, partnerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewValidationError("partnerId", fmt.Sprintf("partner %s not found", partnerID))
	}
	if err != nil {
		return nil, fmt.Errorf("load partner: %w", err)
	}
	return partner, nil
}

func (r *Resolver) ensureFundAccount(ctx context.Context, partner *model.Partner) error {
	if !partner.HasBankDetails() {
		return model.NewValidationError("partner",
			"no fund account and no bank details (account number / routing code)")
	}

	if partner.ContactID == "" {
		contactID, err := r.registrar.CreateContact(ctx, gateway.Contact{
			Name:        partner.BeneficiaryDisplayName(),
			Type:        "vendor",
			ReferenceID: "hotel_" + partner.ID,
			Email:       partner.Email,
			Phone:       partner.Phone,
			Notes:       map[string]string{"hotelId": partner.ID},
		})
		if err != nil {
			return fmt.Errorf("create contact: %w", err)
		}
		if contactID == "" {
			return fmt.Errorf("create contact: gateway returned no contact id for partner %s", partner.ID)
		}

		partner.ContactID = contactID
		if err := r.partners.Save(ctx, partner); err != nil {
			return fmt.Errorf("cache contact id: %w", err)
		}

		r.logger.Info("Created gateway contact",
			zap.String("partnerId", partner.ID),
			zap.String("contactId", contactID),
		)
	}

	fundAccountID, err := r.registrar.CreateFundDestination(ctx, partner.ContactID, gateway.BankAccount{
		Name:          partner.BeneficiaryDisplayName(),
		IFSC:          partner.BankRoutingCode,
		AccountNumber: partner.BankAccountNumber,
	})
	if err != nil {
		return fmt.Errorf("create fund account: %w", err)
	}

	if fundAccountID == "" {
		r.logger.Warn("Gateway returned no fund account id, using raw bank details",
			zap.String("partnerId", partner.ID),
		)
		return nil
	}

	partner.FundAccountID = fundAccountID
	if err := r.partners.Save(ctx, partner); err != nil {
		return fmt.Errorf("cache fund account id: %w", err)
	}

	r.logger.Info("Created gateway fund account",
		zap.String("partnerId", partner.ID),
		zap.String("fundAccountId", fundAccountID),
	)

	return nil
}

func destinationFor(p *model.Partner) gateway.Destination {
	return gateway.Destination{
		FundAccountID:   p.FundAccountID,
		AccountNumber:   p.BankAccountNumber,
		RoutingCode:     p.BankRoutingCode,
		BeneficiaryName: p.BeneficiaryDisplayName(),
	}
}
