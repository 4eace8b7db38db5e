package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/huts4u/payout-service/internal/gateway"
	"github.com/huts4u/payout-service/internal/lock"
	"github.com/huts4u/payout-service/internal/metrics"
	"github.com/huts4u/payout-service/internal/model"
	"github.com/huts4u/payout-service/internal/recipient"
	"github.com/huts4u/payout-service/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway records calls per endpoint. refs maps a payout reference id to
// the payout id the gateway returns; others get pout_<reference>.
type fakeGateway struct {
	mu       sync.Mutex
	calls    map[string]int
	refs     map[string]string
	payloads []gateway.DisbursementPayload
	keys     []string
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[r.URL.Path]++

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/contacts":
		_, _ = w.Write([]byte(`{"id":"cont_1","entity":"contact"}`))
	case "/v1/fund_accounts":
		_, _ = w.Write([]byte(`{"id":"fa_1","entity":"fund_account"}`))
	case "/v1/payouts":
		var p gateway.DisbursementPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		g.payloads = append(g.payloads, p)
		g.keys = append(g.keys, r.Header.Get("Idempotency-Key"))
		ref, ok := g.refs[p.ReferenceID]
		if !ok {
			ref = "pout_" + p.ReferenceID
		}
		_, _ = w.Write([]byte(`{"id":"` + ref + `","entity":"payout","status":"processing"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestEndToEnd_DisbursesAndReusesFundAccount(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fake := &fakeGateway{
		calls: make(map[string]int),
		refs:  map[string]string{"payout_r1": "payout_abc"},
	}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store := repository.NewRedisRepository(client)
	partners := repository.NewRedisPartnerDirectory(client)

	api := gateway.NewHTTPAPI(gateway.HTTPConfig{
		BaseURL:   server.URL + "/v1",
		KeyID:     "key",
		KeySecret: "secret",
	}, server.Client(), logger)
	gw, err := gateway.NewClient(api, gateway.ClientConfig{SourceAccount: "2323230000000000"}, logger)
	require.NoError(t, err)

	resolver := recipient.NewResolver(partners, gw,
		lock.NewRedisLocker(client, lock.DefaultOptions(), logger), logger)
	events := &MockPublisher{}
	svc := NewPayoutService(store, resolver, gw, events,
		metrics.NewMetrics("e2e", prometheus.NewRegistry()), logger, 50, api.Name())

	require.NoError(t, partners.Save(ctx, &model.Partner{
		ID:                "h1",
		Name:              "Sea View Hotel",
		BankAccountNumber: "1234567890",
		BankRoutingCode:   "ABCD0123456",
	}))

	scheduled := time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, &model.Payout{
		ID:               "payout_r1",
		PartnerID:        "h1",
		BookingsIncluded: []string{"bk_1", "bk_2"},
		AmountMinor:      160000,
		FeeMinor:         10000,
		NetAmountMinor:   150000,
		Currency:         "INR",
		Status:           model.PayoutStatusPending,
		ScheduledAt:      &scheduled,
	}))

	results, err := svc.RunDuePayouts(WithTrigger(ctx, "test"), 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, "payout_abc", results[0].TransactionRef)

	stored, err := store.Get(ctx, "payout_r1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusCompleted, stored.Status)
	assert.Equal(t, "payout_abc", stored.TransactionRef)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.ProcessedAt)

	partner, err := partners.GetByID(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "cont_1", partner.ContactID)
	assert.Equal(t, "fa_1", partner.FundAccountID)

	require.Len(t, fake.payloads, 1)
	sent := fake.payloads[0]
	assert.Equal(t, int64(150000), sent.Amount)
	assert.Equal(t, "INR", sent.Currency)
	assert.Equal(t, "fa_1", sent.FundAccountID)
	assert.Equal(t, "payout_r1", sent.ReferenceID)
	assert.Equal(t, "2323230000000000", sent.AccountNumber)
	assert.Equal(t, stored.IdempotencyKey, fake.keys[0])

	// A second payout for the same partner reuses the cached fund account.
	require.NoError(t, store.Create(ctx, &model.Payout{
		ID:             "payout_def",
		PartnerID:      "h1",
		AmountMinor:    50000,
		NetAmountMinor: 50000,
		Status:         model.PayoutStatusPending,
		ScheduledAt:    &scheduled,
	}))

	results, err = svc.RunDuePayouts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeSuccess, results[0].Outcome)

	assert.Equal(t, 1, fake.calls["/v1/contacts"])
	assert.Equal(t, 1, fake.calls["/v1/fund_accounts"])
	assert.Equal(t, 2, fake.calls["/v1/payouts"])
	assert.NotEqual(t, fake.keys[0], fake.keys[1])

	// Nothing is left to do.
	results, err = svc.RunDuePayouts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, events.events, 2)
}

func TestEndToEnd_NoBankDetailsFailsWithoutGatewayCalls(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fake := &fakeGateway{calls: make(map[string]int)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store := repository.NewRedisRepository(client)
	partners := repository.NewRedisPartnerDirectory(client)
	api := gateway.NewHTTPAPI(gateway.HTTPConfig{BaseURL: server.URL + "/v1"}, server.Client(), logger)
	gw, err := gateway.NewClient(api, gateway.ClientConfig{SourceAccount: "src"}, logger)
	require.NoError(t, err)

	resolver := recipient.NewResolver(partners, gw,
		lock.NewRedisLocker(client, lock.DefaultOptions(), logger), logger)
	svc := NewPayoutService(store, resolver, gw, nil, nil, logger, 50, api.Name())

	require.NoError(t, partners.Save(ctx, &model.Partner{ID: "h2", Name: "No Bank Hotel"}))
	scheduled := time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, &model.Payout{
		ID:             "payout_nobank",
		PartnerID:      "h2",
		AmountMinor:    1000,
		NetAmountMinor: 1000,
		Status:         model.PayoutStatusPending,
		ScheduledAt:    &scheduled,
	}))

	result := svc.ProcessPayout(ctx, "payout_nobank")
	assert.Equal(t, model.OutcomeFailed, result.Outcome)
	assert.Equal(t, model.ReasonValidation, result.Reason)

	stored, err := store.Get(ctx, "payout_nobank")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.FailureReason)
	assert.Empty(t, fake.calls)
}
