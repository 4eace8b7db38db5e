package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/huts4u/payout-service/internal/model"
	"github.com/huts4u/payout-service/internal/repository"
	"github.com/huts4u/payout-service/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PayoutService is the subset of the payout service exposed over gRPC
type PayoutService interface {
	RunDuePayouts(ctx context.Context, limit int) ([]model.Result, error)
	GetPayout(ctx context.Context, id string) (*model.Payout, error)
	ResetPayout(ctx context.Context, id string, scheduledAt *time.Time) (*model.Payout, error)
	CancelPayout(ctx context.Context, id string, reason string) (*model.Payout, error)
}

// PayoutServer implements the gRPC PayoutService
type PayoutServer struct {
	UnimplementedPayoutServiceServer
	service PayoutService
	logger  *zap.Logger
}

// NewPayoutServer creates a new gRPC server instance
func NewPayoutServer(svc PayoutService, logger *zap.Logger) *PayoutServer {
	return &PayoutServer{
		service: svc,
		logger:  logger,
	}
}

// RunDuePayouts processes due payouts now
func (s *PayoutServer) RunDuePayouts(ctx context.Context, req *RunDuePayoutsRequest) (*RunDuePayoutsResponse, error) {
	if req.Limit < 0 {
		return &RunDuePayoutsResponse{
			Error: &Error{Code: "INVALID_ARGUMENT", Message: "limit must not be negative"},
		}, nil
	}

	results, err := s.service.RunDuePayouts(service.WithTrigger(ctx, "grpc"), int(req.Limit))
	if err != nil {
		s.logger.Error("Failed to run due payouts", zap.Error(err))
		return &RunDuePayoutsResponse{
			Error: &Error{Code: "RUN_FAILED", Message: err.Error()},
		}, nil
	}

	summary := model.Summarize(results)
	resp := &RunDuePayoutsResponse{
		Results:   make([]*PayoutResult, len(results)),
		Total:     int32(summary.Total),
		Completed: int32(summary.Completed),
		Failed:    int32(summary.Failed),
		Skipped:   int32(summary.Skipped),
	}
	for i, r := range results {
		resp.Results[i] = &PayoutResult{
			PayoutId:       r.PayoutID,
			Outcome:        string(r.Outcome),
			Reason:         r.Reason,
			Status:         modelStatusToProto(r.Status),
			TransactionRef: r.TransactionRef,
			Error:          r.Error,
		}
	}

	return resp, nil
}

// GetPayout retrieves a payout by ID
func (s *PayoutServer) GetPayout(ctx context.Context, req *GetPayoutRequest) (*GetPayoutResponse, error) {
	if req.PayoutId == "" {
		return &GetPayoutResponse{
			Error: &Error{Code: "INVALID_ARGUMENT", Message: "payout_id is required"},
		}, nil
	}

	payout, err := s.service.GetPayout(ctx, req.PayoutId)
	if err != nil {
		return &GetPayoutResponse{Error: errorFor(err, "GET_FAILED")}, nil
	}

	return &GetPayoutResponse{
		Payout: modelPayoutToProto(payout),
	}, nil
}

// ResetPayout moves a failed payout back to pending
func (s *PayoutServer) ResetPayout(ctx context.Context, req *ResetPayoutRequest) (*ResetPayoutResponse, error) {
	if req.PayoutId == "" {
		return &ResetPayoutResponse{
			Error: &Error{Code: "INVALID_ARGUMENT", Message: "payout_id is required"},
		}, nil
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != nil {
		t := protoTimestampToTime(req.ScheduledAt)
		scheduledAt = &t
	}

	payout, err := s.service.ResetPayout(ctx, req.PayoutId, scheduledAt)
	if err != nil {
		return &ResetPayoutResponse{Error: errorFor(err, "RESET_FAILED")}, nil
	}

	return &ResetPayoutResponse{
		Payout: modelPayoutToProto(payout),
	}, nil
}

// CancelPayout cancels a pending payout
func (s *PayoutServer) CancelPayout(ctx context.Context, req *CancelPayoutRequest) (*CancelPayoutResponse, error) {
	if req.PayoutId == "" {
		return &CancelPayoutResponse{
			Error: &Error{Code: "INVALID_ARGUMENT", Message: "payout_id is required"},
		}, nil
	}

	payout, err := s.service.CancelPayout(ctx, req.PayoutId, req.Reason)
	if err != nil {
		return &CancelPayoutResponse{Error: errorFor(err, "CANCEL_FAILED")}, nil
	}

	return &CancelPayoutResponse{
		Payout: modelPayoutToProto(payout),
	}, nil
}

// Helper functions

func errorFor(err error, fallback string) *Error {
	code := fallback
	switch {
	case errors.Is(err, repository.ErrNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, repository.ErrInvalidTransition):
		code = "FAILED_PRECONDITION"
	}
	return &Error{Code: code, Message: err.Error()}
}

func modelPayoutToProto(p *model.Payout) *Payout {
	payout := &Payout{
		Id:               p.ID,
		PartnerId:        p.PartnerID,
		BookingsIncluded: p.BookingsIncluded,
		Amount:           &Money{Currency: p.CurrencyOrDefault(), Amount: model.FormatMinor(p.AmountMinor)},
		Fee:              &Money{Currency: p.CurrencyOrDefault(), Amount: model.FormatMinor(p.FeeMinor)},
		NetAmount:        &Money{Currency: p.CurrencyOrDefault(), Amount: model.FormatMinor(p.NetAmountMinor)},
		Status:           modelStatusToProto(p.Status),
		TransactionRef:   p.TransactionRef,
		FailureReason:    p.FailureReason,
		Attempts:         int32(p.Attempts),
		CreatedAt:        timeToProtoTimestamp(p.CreatedAt),
		UpdatedAt:        timeToProtoTimestamp(p.UpdatedAt),
	}
	if p.ScheduledAt != nil {
		payout.ScheduledAt = timeToProtoTimestamp(*p.ScheduledAt)
	}
	if p.ProcessedAt != nil {
		payout.ProcessedAt = timeToProtoTimestamp(*p.ProcessedAt)
	}
	return payout
}

func modelStatusToProto(s model.PayoutStatus) PayoutStatus {
	switch s {
	case model.PayoutStatusPending:
		return PayoutStatus_PAYOUT_STATUS_PENDING
	case model.PayoutStatusProcessing:
		return PayoutStatus_PAYOUT_STATUS_PROCESSING
	case model.PayoutStatusCompleted:
		return PayoutStatus_PAYOUT_STATUS_COMPLETED
	case model.PayoutStatusFailed:
		return PayoutStatus_PAYOUT_STATUS_FAILED
	case model.PayoutStatusCancelled:
		return PayoutStatus_PAYOUT_STATUS_CANCELLED
	default:
		return PayoutStatus_PAYOUT_STATUS_UNSPECIFIED
	}
}

func timeToProtoTimestamp(t time.Time) *Timestamp {
	return &Timestamp{
		Seconds: t.Unix(),
		Nanos:   int32(t.Nanosecond()),
	}
}

func protoTimestampToTime(ts *Timestamp) time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// Placeholder types for generated proto code

type UnimplementedPayoutServiceServer struct{}

func (UnimplementedPayoutServiceServer) RunDuePayouts(context.Context, *RunDuePayoutsRequest) (*RunDuePayoutsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RunDuePayouts not implemented")
}
func (UnimplementedPayoutServiceServer) GetPayout(context.Context, *GetPayoutRequest) (*GetPayoutResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetPayout not implemented")
}
func (UnimplementedPayoutServiceServer) ResetPayout(context.Context, *ResetPayoutRequest) (*ResetPayoutResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ResetPayout not implemented")
}
func (UnimplementedPayoutServiceServer) CancelPayout(context.Context, *CancelPayoutRequest) (*CancelPayoutResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CancelPayout not implemented")
}

// Proto message types (placeholders)

type PayoutStatus int32

const (
	PayoutStatus_PAYOUT_STATUS_UNSPECIFIED PayoutStatus = 0
	PayoutStatus_PAYOUT_STATUS_PENDING     PayoutStatus = 1
	PayoutStatus_PAYOUT_STATUS_PROCESSING  PayoutStatus = 2
	PayoutStatus_PAYOUT_STATUS_COMPLETED   PayoutStatus = 3
	PayoutStatus_PAYOUT_STATUS_FAILED      PayoutStatus = 4
	PayoutStatus_PAYOUT_STATUS_CANCELLED   PayoutStatus = 5
)

type Money struct {
	Currency string
	Amount   string
}

type Timestamp struct {
	Seconds int64
	Nanos   int32
}

type Error struct {
	Code    string
	Message string
}

type Payout struct {
	Id               string
	PartnerId        string
	BookingsIncluded []string
	Amount           *Money
	Fee              *Money
	NetAmount        *Money
	Status           PayoutStatus
	TransactionRef   string
	FailureReason    string
	Attempts         int32
	ScheduledAt      *Timestamp
	ProcessedAt      *Timestamp
	CreatedAt        *Timestamp
	UpdatedAt        *Timestamp
}

type PayoutResult struct {
	PayoutId       string
	Outcome        string
	Reason         string
	Status         PayoutStatus
	TransactionRef string
	Error          string
}

type RunDuePayoutsRequest struct {
	Limit int32
}

type RunDuePayoutsResponse struct {
	Results   []*PayoutResult
	Total     int32
	Completed int32
	Failed    int32
	Skipped   int32
	Error     *Error
}

type GetPayoutRequest struct {
	PayoutId string
}

type GetPayoutResponse struct {
	Payout *Payout
	Error  *Error
}

type ResetPayoutRequest struct {
	PayoutId    string
	ScheduledAt *Timestamp
}

type ResetPayoutResponse struct {
	Payout *Payout
	Error  *Error
}

type CancelPayoutRequest struct {
	PayoutId string
	Reason   string
}

type CancelPayoutResponse struct {
	Payout *Payout
	Error  *Error
}
