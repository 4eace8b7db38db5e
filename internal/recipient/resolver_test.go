package recipient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huts4u/payout-service/internal/gateway"
	"github.com/huts4u/payout-service/internal/model"
	"github.com/huts4u/payout-service/internal/repository"
	"go.uber.org/zap"
)

// MockPartners is an in-memory partner directory
type MockPartners struct {
	mu       sync.Mutex
	partners map[string]*model.Partner
	saves    int
}

func NewMockPartners(partners ...*model.Partner) *MockPartners {
	m := &MockPartners{partners: make(map[string]*model.Partner)}
	for _, p := range partners {
		m.partners[p.ID] = p
	}
	return m
}

func (m *MockPartners) GetByID(ctx context.Context, id string) (*model.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *MockPartners) Save(ctx context.Context, partner *model.Partner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *partner
	m.partners[partner.ID] = &c
	m.saves++
	return nil
}

// MockRegistrar counts identity creation calls
type MockRegistrar struct {
	contacts int32
	funds    int32
	delay    time.Duration

	CreateContactFunc         func(ctx context.Context, contact gateway.Contact) (string, error)
	CreateFundDestinationFunc func(ctx context.Context, contactID string, account gateway.BankAccount) (string, error)
}

func (m *MockRegistrar) CreateContact(ctx context.Context, contact gateway.Contact) (string, error) {
	n := atomic.AddInt32(&m.contacts, 1)
	time.Sleep(m.delay)
	if m.CreateContactFunc != nil {
		return m.CreateContactFunc(ctx, contact)
	}
	return fmt.Sprintf("cont_%d", n), nil
}

func (m *MockRegistrar) CreateFundDestination(ctx context.Context, contactID string, account gateway.BankAccount) (string, error) {
	n := atomic.AddInt32(&m.funds, 1)
	time.Sleep(m.delay)
	if m.CreateFundDestinationFunc != nil {
		return m.CreateFundDestinationFunc(ctx, contactID, account)
	}
	return fmt.Sprintf("fa_%d", n), nil
}

// localLocker is an in-process keyed mutex
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	calls int32
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	atomic.AddInt32(&l.calls, 1)
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

func bankPartner() *model.Partner {
	return &model.Partner{
		ID:                "h1",
		Name:              "Hotel One",
		BankAccountNumber: "1234567890",
		BankRoutingCode:   "ABCD0123456",
	}
}

func TestResolve_CachedFundAccount(t *testing.T) {
	p := bankPartner()
	p.FundAccountID = "fa_cached"
	registrar := &MockRegistrar{}
	locker := &localLocker{}
	r := NewResolver(NewMockPartners(p), registrar, locker, zap.NewNop())

	dest, err := r.Resolve(context.Background(), "h1")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if dest.FundAccountID != "fa_cached" {
		t.Errorf("expected cached fund account, got: %s", dest.FundAccountID)
	}
	if registrar.contacts != 0 || registrar.funds != 0 {
		t.Error("expected no gateway calls")
	}
	if locker.calls != 0 {
		t.Error("expected no lock for cached fund account")
	}
}

func TestResolve_CreatesAndCaches(t *testing.T) {
	partners := NewMockPartners(bankPartner())
	var gotContact gateway.Contact
	var gotAccount gateway.BankAccount
	registrar := &MockRegistrar{
		CreateContactFunc: func(ctx context.Context, contact gateway.Contact) (string, error) {
			gotContact = contact
			return "cont_1", nil
		},
		CreateFundDestinationFunc: func(ctx context.Context, contactID string, account gateway.BankAccount) (string, error) {
			if contactID != "cont_1" {
				t.Errorf("expected contact cont_1, got: %s", contactID)
			}
			gotAccount = account
			return "fa_1", nil
		},
	}
	r := NewResolver(partners, registrar, &localLocker{}, zap.NewNop())

	dest, err := r.Resolve(context.Background(), "h1")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if dest.FundAccountID != "fa_1" {
		t.Errorf("expected fa_1, got: %s", dest.FundAccountID)
	}
	if gotContact.ReferenceID != "hotel_h1" || gotContact.Name != "Hotel One" {
		t.Errorf("unexpected contact: %+v", gotContact)
	}
	if gotAccount.AccountNumber != "1234567890" || gotAccount.IFSC != "ABCD0123456" {
		t.Errorf("unexpected bank account: %+v", gotAccount)
	}

	stored, _ := partners.GetByID(context.Background(), "h1")
	if stored.ContactID != "cont_1" || stored.FundAccountID != "fa_1" {
		t.Errorf("expected ids cached on partner, got: %+v", stored)
	}

	// Second resolution uses the cache.
	if _, err := r.Resolve(context.Background(), "h1"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if registrar.funds != 1 || registrar.contacts != 1 {
		t.Errorf("expected one creation each, got contacts=%d funds=%d", registrar.contacts, registrar.funds)
	}
}

func TestResolve_ReusesCachedContact(t *testing.T) {
	p := bankPartner()
	p.ContactID = "cont_existing"
	registrar := &MockRegistrar{}
	r := NewResolver(NewMockPartners(p), registrar, &localLocker{}, zap.NewNop())

	if _, err := r.Resolve(context.Background(), "h1"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if registrar.contacts != 0 {
		t.Errorf("expected cached contact to be reused, got %d creations", registrar.contacts)
	}
}

func TestResolve_NoBankDetails(t *testing.T) {
	p := &model.Partner{ID: "h1", Name: "Hotel One"}
	registrar := &MockRegistrar{}
	r := NewResolver(NewMockPartners(p), registrar, &localLocker{}, zap.NewNop())

	_, err := r.Resolve(context.Background(), "h1")

	var vErr *model.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got: %v", err)
	}
	if registrar.contacts != 0 || registrar.funds != 0 {
		t.Error("expected no gateway calls")
	}
}

func TestResolve_PartnerNotFound(t *testing.T) {
	r := NewResolver(NewMockPartners(), &MockRegistrar{}, &localLocker{}, zap.NewNop())

	_, err := r.Resolve(context.Background(), "missing")

	var vErr *model.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got: %v", err)
	}
}

func TestResolve_EmptyFundIDFallsBackToBankDetails(t *testing.T) {
	partners := NewMockPartners(bankPartner())
	registrar := &MockRegistrar{
		CreateFundDestinationFunc: func(ctx context.Context, contactID string, account gateway.BankAccount) (string, error) {
			return "", nil
		},
	}
	r := NewResolver(partners, registrar, &localLocker{}, zap.NewNop())

	dest, err := r.Resolve(context.Background(), "h1")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if dest.HasFundAccount() {
		t.Error("expected raw bank details destination")
	}
	if dest.AccountNumber != "1234567890" || dest.RoutingCode != "ABCD0123456" || dest.BeneficiaryName != "Hotel One" {
		t.Errorf("unexpected destination: %+v", dest)
	}
}

func TestResolve_GatewayError(t *testing.T) {
	registrar := &MockRegistrar{
		CreateContactFunc: func(ctx context.Context, contact gateway.Contact) (string, error) {
			return "", &gateway.GatewayError{StatusCode: 400, Message: "invalid name"}
		},
	}
	r := NewResolver(NewMockPartners(bankPartner()), registrar, &localLocker{}, zap.NewNop())

	_, err := r.Resolve(context.Background(), "h1")

	var gwErr *gateway.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got: %v", err)
	}
	if registrar.funds != 0 {
		t.Error("expected no fund account call after contact failure")
	}
}

func TestResolve_ConcurrentCreatesOnce(t *testing.T) {
	partners := NewMockPartners(bankPartner())
	registrar := &MockRegistrar{delay: 5 * time.Millisecond}
	r := NewResolver(partners, registrar, &localLocker{}, zap.NewNop())

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dest, err := r.Resolve(context.Background(), "h1")
			if err != nil {
				t.Errorf("expected no error, got: %v", err)
				return
			}
			ids[i] = dest.FundAccountID
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&registrar.funds) != 1 {
		t.Errorf("expected exactly one fund account creation, got: %d", registrar.funds)
	}
	for _, id := range ids {
		if id != "fa_1" {
			t.Errorf("expected all resolvers to see fa_1, got: %s", id)
		}
	}
}

func TestLockKey(t *testing.T) {
	if got := LockKey("h1"); got != "lock:partner:h1" {
		t.Errorf("unexpected lock key: %s", got)
	}
}
