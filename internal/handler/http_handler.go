package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huts4u/payout-service/internal/model"
	"github.com/huts4u/payout-service/internal/repository"
	"github.com/huts4u/payout-service/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PayoutService is the subset of the payout service exposed over HTTP
type PayoutService interface {
	RunDuePayouts(ctx context.Context, limit int) ([]model.Result, error)
	GetPayout(ctx context.Context, id string) (*model.Payout, error)
	ResetPayout(ctx context.Context, id string, scheduledAt *time.Time) (*model.Payout, error)
	CancelPayout(ctx context.Context, id string, reason string) (*model.Payout, error)
	Health(ctx context.Context) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	payoutService PayoutService
	gatherer      prometheus.Gatherer
	logger        *zap.Logger
}

// NewHTTPHandler creates a new HTTPHandler. A nil gatherer disables /metrics.
func NewHTTPHandler(payoutService PayoutService, gatherer prometheus.Gatherer, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		payoutService: payoutService,
		gatherer:      gatherer,
		logger:        logger,
	}
}

// SetupRoutes configures the HTTP routes
func (h *HTTPHandler) SetupRoutes(r *gin.Engine) {
	// Health check
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	// Metrics
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	// Payout endpoints
	api := r.Group("/api")
	{
		payouts := api.Group("/payouts")
		{
			payouts.POST("/run", h.RunDuePayouts)
			payouts.GET("/:id", h.GetPayout)
			payouts.POST("/:id/reset", h.ResetPayout)
			payouts.POST("/:id/cancel", h.CancelPayout)
		}
	}
}

// Health returns the health status
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "payout-service",
	})
}

// Ready returns the readiness status of the ledger store
func (h *HTTPHandler) Ready(c *gin.Context) {
	if err := h.payoutService.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"service": "payout-service",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": "payout-service",
	})
}

// RunDuePayouts processes due payouts now
func (h *HTTPHandler) RunDuePayouts(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	ctx := service.WithTrigger(c.Request.Context(), "http")
	results, err := h.payoutService.RunDuePayouts(ctx, limit)
	if err != nil {
		h.logger.Error("Failed to run due payouts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": model.Summarize(results),
		"results": results,
	})
}

// GetPayout retrieves a payout
func (h *HTTPHandler) GetPayout(c *gin.Context) {
	payout, err := h.payoutService.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get payout", err)
		return
	}

	c.JSON(http.StatusOK, newPayoutView(payout))
}

// ResetRequest is the optional body of a reset call
type ResetRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt"`
}

// ResetPayout moves a failed payout back to pending
func (h *HTTPHandler) ResetPayout(c *gin.Context) {
	var req ResetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	payout, err := h.payoutService.ResetPayout(c.Request.Context(), c.Param("id"), req.ScheduledAt)
	if err != nil {
		h.writeError(c, "Failed to reset payout", err)
		return
	}

	c.JSON(http.StatusOK, newPayoutView(payout))
}

// CancelRequest is the body of a cancel call
type CancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelPayout cancels a pending payout
func (h *HTTPHandler) CancelPayout(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	payout, err := h.payoutService.CancelPayout(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, "Failed to cancel payout", err)
		return
	}

	c.JSON(http.StatusOK, newPayoutView(payout))
}

func (h *HTTPHandler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// PayoutView is a payout with amounts rendered in major units
type PayoutView struct {
	*model.Payout
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	NetAmount string `json:"netAmount"`
}

func newPayoutView(p *model.Payout) PayoutView {
	return PayoutView{
		Payout:    p,
		Amount:    model.FormatMinor(p.AmountMinor),
		Fee:       model.FormatMinor(p.FeeMinor),
		NetAmount: model.FormatMinor(p.NetAmountMinor),
	}
}

// RequestLogger logs every request with zap
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
