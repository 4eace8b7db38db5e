package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huts4u/payout-service/internal/gateway"
	"github.com/huts4u/payout-service/internal/metrics"
	"github.com/huts4u/payout-service/internal/model"
	"github.com/huts4u/payout-service/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultBatchSize is the run limit when none is given.
	DefaultBatchSize = 50

	tracerName = "github.com/huts4u/payout-service/internal/service"
)

// Resolver returns the gateway destination of a partner
type Resolver interface {
	Resolve(ctx context.Context, partnerID string) (gateway.Destination, error)
}

// Disburser sends one disbursement to the gateway
type Disburser interface {
	Disburse(ctx context.Context, req gateway.DisbursementRequest) (*gateway.Disbursement, error)
}

// EventPublisher publishes payout status events
type EventPublisher interface {
	PublishStatus(ctx context.Context, event model.StatusEvent) error
}

type triggerKey struct{}

// WithTrigger labels runs started with ctx (cron, http, grpc, kafka).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return "manual"
}

// PayoutService claims due payouts and disburses them through the gateway.
// Every claimed payout ends in completed or failed before ProcessPayout returns.
type PayoutService struct {
	store       repository.LedgerStore
	resolver    Resolver
	disburser   Disburser
	events      EventPublisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	batchSize   int
	gatewayName string

	now    func() time.Time
	newKey func(payoutID string) string
}

// NewPayoutService creates a new payout service. events and m may be nil.
func NewPayoutService(
	store repository.LedgerStore,
	resolver Resolver,
	disburser Disburser,
	events EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	batchSize int,
	gatewayName string,
) *PayoutService {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PayoutService{
		store:       store,
		resolver:    resolver,
		disburser:   disburser,
		events:      events,
		metrics:     m,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		batchSize:   batchSize,
		gatewayName: gatewayName,
		now:         time.Now,
		newKey:      gateway.NewIdempotencyKey,
	}
}

// BatchSize returns the default run limit.
func (s *PayoutService) BatchSize() int {
	return s.batchSize
}

// RunDuePayouts processes up to limit due payouts, oldest first, one at a
// time. A failing item never aborts the run; only a FindDue error is returned.
// Items not yet started when ctx is cancelled are left pending.
func (s *PayoutService) RunDuePayouts(ctx context.Context, limit int) ([]model.Result, error) {
	if limit <= 0 {
		limit = s.batchSize
	}

	start := time.Now()
	trigger := triggerFrom(ctx)

	ctx, span := s.tracer.Start(ctx, "payout.run", trace.WithAttributes(
		attribute.Int("payout.limit", limit),
		attribute.String("payout.trigger", trigger),
	))
	defer span.End()

	due, err := s.store.FindDue(ctx, s.now(), limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find due payouts")
		s.metrics.RecordRun(trigger, err, 0, 0, 0, time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("find due payouts: %w", err)
	}

	s.logger.Info("Processing due payouts",
		zap.Int("due", len(due)),
		zap.Int("limit", limit),
		zap.String("trigger", trigger),
	)

	results := make([]model.Result, 0, len(due))
	for _, p := range due {
		if ctx.Err() != nil {
			s.logger.Warn("Payout run interrupted",
				zap.Int("processed", len(results)),
				zap.Int("remaining", len(due)-len(results)),
			)
			break
		}
		results = append(results, s.ProcessPayout(ctx, p.ID))
	}

	summary := model.Summarize(results)
	span.SetAttributes(
		attribute.Int("payout.total", summary.Total),
		attribute.Int("payout.completed", summary.Completed),
		attribute.Int("payout.failed", summary.Failed),
		attribute.Int("payout.skipped", summary.Skipped),
	)
	s.metrics.RecordRun(trigger, nil, summary.Completed, summary.Failed, summary.Skipped,
		time.Since(start).Seconds(), float64(time.Now().Unix()))

	return results, nil
}

// ProcessPayout makes one attempt at payout id. Records that are not pending,
// or that another attempt claims first, are skipped without mutation.
func (s *PayoutService) ProcessPayout(ctx context.Context, id string) (result model.Result) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "payout.process", trace.WithAttributes(
		attribute.String("payout.id", id),
	))

	var current *model.Payout
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.logger.Error("Recovered panic while processing payout",
				zap.String("payoutId", id),
				zap.Any("panic", r),
			)
			result = s.recovered(ctx, id, current, err)
		}

		span.SetAttributes(
			attribute.String("payout.outcome", string(result.Outcome)),
			attribute.String("payout.reason", result.Reason),
		)
		if result.Outcome == model.OutcomeFailed {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()

		s.metrics.RecordAttempt(string(result.Outcome), result.Reason, time.Since(start).Seconds())
		s.publish(ctx, result, current)
	}()

	payout, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return failedResult(id, model.ReasonNotFound, err)
	}
	if err != nil {
		return failedResult(id, model.ReasonClaimError, err)
	}
	current = payout

	if payout.Status != model.PayoutStatusPending {
		return model.Result{
			PayoutID: id,
			Outcome:  model.OutcomeSkipped,
			Reason:   model.ReasonNotPending,
			Status:   payout.Status,
		}
	}

	claimed, err := s.store.Claim(ctx, id, s.now())
	if errors.Is(err, repository.ErrNotPending) {
		s.logger.Debug("Payout claimed by another attempt", zap.String("payoutId", id))
		return model.Result{
			PayoutID: id,
			Outcome:  model.OutcomeSkipped,
			Reason:   model.ReasonAlreadyClaimed,
		}
	}
	if err != nil {
		s.logger.Error("Failed to claim payout", zap.String("payoutId", id), zap.Error(err))
		return failedResult(id, model.ReasonClaimError, err)
	}
	current = claimed

	// A claimed payout runs to a terminal state even if the caller goes away.
	// The gateway client's own timeout bounds the call.
	return s.disburse(context.WithoutCancel(ctx), claimed)
}

// recovered builds the result after a panic. A record that already reached a
// terminal state in the store keeps it; one still claimed is failed.
func (s *PayoutService) recovered(ctx context.Context, id string, current *model.Payout, cause error) model.Result {
	if current == nil || current.Status == model.PayoutStatusPending {
		return failedResult(id, model.ReasonInternal, cause)
	}

	stored, err := s.store.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		s.logger.Error("Failed to re-read payout after panic", zap.String("payoutId", id), zap.Error(err))
		if current.Status == model.PayoutStatusProcessing {
			return s.fail(ctx, current, cause, model.ReasonInternal)
		}
		return terminalResult(current, cause)
	}
	if stored.Status.IsTerminal() {
		return terminalResult(stored, cause)
	}
	return s.fail(ctx, current, cause, model.ReasonInternal)
}

func terminalResult(p *model.Payout, cause error) model.Result {
	if p.Status == model.PayoutStatusCompleted {
		return model.Result{
			PayoutID:       p.ID,
			Outcome:        model.OutcomeSuccess,
			Status:         p.Status,
			TransactionRef: p.TransactionRef,
		}
	}
	return model.Result{
		PayoutID: p.ID,
		Outcome:  model.OutcomeFailed,
		Reason:   model.ReasonInternal,
		Status:   p.Status,
		Error:    cause.Error(),
	}
}

// disburse runs the post-claim steps and always leaves p terminal.
func (s *PayoutService) disburse(ctx context.Context, p *model.Payout) model.Result {
	if p.NetAmountMinor <= 0 {
		return s.fail(ctx, p, model.NewValidationError("netAmountMinor", "must be positive"), model.ReasonValidation)
	}

	dest, err := s.resolver.Resolve(ctx, p.PartnerID)
	if err != nil {
		s.metrics.RecordRecipientResolution("error")
		return s.fail(ctx, p, fmt.Errorf("resolve recipient: %w", err), reasonFor(err))
	}
	s.metrics.RecordRecipientResolution("ok")

	p.IdempotencyKey = s.newKey(p.ID)

	callStart := time.Now()
	disbursement, err := s.disburser.Disburse(ctx, gateway.DisbursementRequest{
		PayoutID:       p.ID,
		AmountMinor:    p.NetAmountMinor,
		Currency:       p.CurrencyOrDefault(),
		Destination:    dest,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		s.metrics.RecordGatewayRequest(s.gatewayName, "error", time.Since(callStart).Seconds())
		return s.fail(ctx, p, err, reasonFor(err))
	}
	s.metrics.RecordGatewayRequest(s.gatewayName, "ok", time.Since(callStart).Seconds())

	return s.complete(ctx, p, disbursement)
}

func (s *PayoutService) complete(ctx context.Context, p *model.Payout, d *gateway.Disbursement) model.Result {
	ctx = context.WithoutCancel(ctx)
	now := s.now()

	p.Status = model.PayoutStatusCompleted
	p.TransactionRef = d.ID
	p.GatewayResponse = d.Raw
	p.IdempotencyKey = d.IdempotencyKey
	p.FailureReason = ""
	p.ProcessedAt = &now

	if err := s.store.Save(ctx, p); err != nil {
		perr := &PersistenceError{PayoutID: p.ID, TransactionRef: d.ID, Err: err}
		s.logger.Error("Disbursement accepted but completion not saved",
			zap.String("payoutId", p.ID),
			zap.String("transactionRef", d.ID),
			zap.String("idempotencyKey", d.IdempotencyKey),
			zap.Error(err),
		)

		p.Status = model.PayoutStatusFailed
		p.TransactionRef = ""
		p.FailureReason = FailureReasonPostSuccessPersistence
		if saveErr := s.store.Save(ctx, p); saveErr != nil {
			s.logger.Error("Failed to save post-success persistence failure",
				zap.String("payoutId", p.ID),
				zap.Error(saveErr),
			)
		}

		return model.Result{
			PayoutID: p.ID,
			Outcome:  model.OutcomeFailed,
			Reason:   model.ReasonPersistence,
			Status:   model.PayoutStatusFailed,
			Error:    perr.Error(),
		}
	}

	s.metrics.RecordDisbursed(p.CurrencyOrDefault(), p.NetAmountMinor)
	s.logger.Info("Payout completed",
		zap.String("payoutId", p.ID),
		zap.String("partnerId", p.PartnerID),
		zap.String("amount", model.FormatMinor(p.NetAmountMinor)),
		zap.String("currency", p.CurrencyOrDefault()),
		zap.String("transactionRef", d.ID),
	)

	return model.Result{
		PayoutID:       p.ID,
		Outcome:        model.OutcomeSuccess,
		Status:         model.PayoutStatusCompleted,
		TransactionRef: d.ID,
	}
}

// fail records p as failed. The write is detached from ctx cancellation.
func (s *PayoutService) fail(ctx context.Context, p *model.Payout, cause error, reason string) model.Result {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	msg := cause.Error()

	p.Status = model.PayoutStatusFailed
	p.FailureReason = msg
	p.TransactionRef = ""
	p.GatewayResponse = failurePayload(cause)
	p.ProcessedAt = &now

	if err := s.store.Save(ctx, p); err != nil {
		s.logger.Error("Failed to save failed payout",
			zap.String("payoutId", p.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}

	s.logger.Warn("Payout failed",
		zap.String("payoutId", p.ID),
		zap.String("partnerId", p.PartnerID),
		zap.String("reason", reason),
		zap.Error(cause),
	)

	return model.Result{
		PayoutID: p.ID,
		Outcome:  model.OutcomeFailed,
		Reason:   reason,
		Status:   model.PayoutStatusFailed,
		Error:    msg,
	}
}

func (s *PayoutService) publish(ctx context.Context, result model.Result, payout *model.Payout) {
	if s.events == nil {
		return
	}
	event := model.NewStatusEvent(result, payout, s.now())
	if err := s.events.PublishStatus(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("Failed to publish payout status event",
			zap.String("payoutId", result.PayoutID),
			zap.Error(err),
		)
	}
}

// GetPayout retrieves a payout by ID
func (s *PayoutService) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	return s.store.Get(ctx, id)
}

// ResetPayout moves a failed payout back to pending so the next run attempts
// it again with a fresh idempotency key. A nil scheduledAt means now.
func (s *PayoutService) ResetPayout(ctx context.Context, id string, scheduledAt *time.Time) (*model.Payout, error) {
	at := s.now()
	if scheduledAt != nil {
		at = *scheduledAt
	}

	payout, err := s.store.Reset(ctx, id, at)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payout reset for re-attempt",
		zap.String("payoutId", id),
		zap.Time("scheduledAt", at),
		zap.Int("attempts", payout.Attempts),
	)
	return payout, nil
}

// CancelPayout cancels a pending payout
func (s *PayoutService) CancelPayout(ctx context.Context, id string, reason string) (*model.Payout, error) {
	payout, err := s.store.Cancel(ctx, id, reason, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payout cancelled",
		zap.String("payoutId", id),
		zap.String("reason", reason),
	)
	return payout, nil
}

// Health checks the ledger store
func (s *PayoutService) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

func failedResult(id, reason string, err error) model.Result {
	return model.Result{
		PayoutID: id,
		Outcome:  model.OutcomeFailed,
		Reason:   reason,
		Error:    err.Error(),
	}
}

func reasonFor(err error) string {
	var vErr *model.ValidationError
	var gwErr *gateway.GatewayError
	switch {
	case errors.As(err, &vErr):
		return model.ReasonValidation
	case errors.As(err, &gwErr):
		return model.ReasonGateway
	default:
		return model.ReasonInternal
	}
}

// failurePayload is the gateway's reply body when there was one, otherwise
// {"error": msg}.
func failurePayload(err error) json.RawMessage {
	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) && len(gwErr.Payload) > 0 {
		return gwErr.Payload
	}
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}
