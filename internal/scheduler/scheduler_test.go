package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huts4u/payout-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockRunner implements Runner for testing
type MockRunner struct {
	calls     int32
	lastLimit int32

	RunFunc func(ctx context.Context, limit int) ([]model.Result, error)
}

func (m *MockRunner) RunDuePayouts(ctx context.Context, limit int) ([]model.Result, error) {
	atomic.AddInt32(&m.calls, 1)
	atomic.StoreInt32(&m.lastLimit, int32(limit))
	if m.RunFunc != nil {
		return m.RunFunc(ctx, limit)
	}
	return nil, nil
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&MockRunner{}, Config{Schedule: "not a cron"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(&MockRunner{}, Config{}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, DefaultSchedule, s.cfg.Schedule)
	assert.Equal(t, DefaultTimezone, s.cfg.Location.String())
}

func TestScheduler_NextUsesTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	s, err := New(&MockRunner{}, Config{Schedule: "0 2 * * *", Location: loc}, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	defer s.Stop(context.Background())

	next := s.Next().In(loc)
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestScheduler_RunNow(t *testing.T) {
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, limit int) ([]model.Result, error) {
			return []model.Result{
				{PayoutID: "a", Outcome: model.OutcomeSuccess},
				{PayoutID: "b", Outcome: model.OutcomeFailed, Reason: model.ReasonGateway},
				{PayoutID: "c", Outcome: model.OutcomeSkipped, Reason: model.ReasonAlreadyClaimed},
			}, nil
		},
	}
	s, err := New(runner, Config{Location: time.UTC, BatchSize: 25}, zap.NewNop())
	require.NoError(t, err)

	summary, err := s.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.Summary{Total: 3, Completed: 1, Failed: 1, Skipped: 1}, summary)
	assert.Equal(t, int32(25), atomic.LoadInt32(&runner.lastLimit))
}

func TestScheduler_RunNowError(t *testing.T) {
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, limit int) ([]model.Result, error) {
			return nil, errors.New("store down")
		},
	}
	s, err := New(runner, Config{Location: time.UTC}, zap.NewNop())
	require.NoError(t, err)

	_, err = s.RunNow(context.Background())
	assert.Error(t, err)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	fired := make(chan struct{}, 1)
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, limit int) ([]model.Result, error) {
			select {
			case fired <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}
	s, err := New(runner, Config{Schedule: "@every 1s", Location: time.UTC}, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("expected scheduled run")
	}
}

func TestScheduler_StopCancelsRunAfterDeadline(t *testing.T) {
	started := make(chan struct{})
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, limit int) ([]model.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s, err := New(runner, Config{Schedule: "@every 1s", Location: time.UTC}, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("expected scheduled run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.Stop(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Stop to cancel the running batch")
	}
}

func TestScheduler_RunNowLogsFailedItems(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, limit int) ([]model.Result, error) {
			return []model.Result{
				{PayoutID: "ok", Outcome: model.OutcomeSuccess},
				{PayoutID: "bad", Outcome: model.OutcomeFailed, Reason: model.ReasonValidation, Error: "no bank details"},
			}, nil
		},
	}
	s, err := New(runner, Config{Location: time.UTC}, zap.New(core))
	require.NoError(t, err)

	_, err = s.RunNow(context.Background())
	require.NoError(t, err)

	failed := logs.FilterMessage("Payout attempt failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ContextMap()["payoutId"])
	assert.Equal(t, model.ReasonValidation, failed[0].ContextMap()["reason"])
}
