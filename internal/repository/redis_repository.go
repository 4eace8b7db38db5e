package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/huts4u/payout-service/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	payoutKeyPrefix = "payout:"
	dueIndexKey     = "payouts:due"

	duePageSize = 100
)

// errStatusMismatch signals that a watched record was not in the expected status.
var errStatusMismatch = errors.New("status mismatch")

// RedisRepository implements LedgerStore using Redis.
//
// Payouts are stored as JSON under payout:<id>. Pending payouts with a
// schedule are indexed in the payouts:due sorted set, scored by scheduledAt
// in milliseconds. Status transitions run inside WATCH/MULTI so a concurrent
// writer aborts the transaction instead of overwriting it.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Create(ctx context.Context, payout *model.Payout) error {
	now := time.Now()
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = now
	}
	payout.UpdatedAt = now
	if payout.Status == "" {
		payout.Status = model.PayoutStatusPending
	}

	data, err := json.Marshal(payout)
	if err != nil {
		return fmt.Errorf("marshal payout: %w", err)
	}

	ok, err := r.client.SetNX(ctx, payoutKeyPrefix+payout.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("create payout: %w", err)
	}
	if !ok {
		return fmt.Errorf("payout %s already exists", payout.ID)
	}

	if payout.Status == model.PayoutStatusPending && payout.ScheduledAt != nil {
		if err := r.client.ZAdd(ctx, dueIndexKey, dueMember(payout)).Err(); err != nil {
			return fmt.Errorf("index payout: %w", err)
		}
	}

	return nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*model.Payout, error) {
	data, err := r.client.Get(ctx, payoutKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("payout %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payout: %w", err)
	}

	var payout model.Payout
	if err := json.Unmarshal(data, &payout); err != nil {
		return nil, fmt.Errorf("unmarshal payout: %w", err)
	}

	return &payout, nil
}

func (r *RedisRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Payout, error) {
	if limit <= 0 {
		return nil, nil
	}

	maxScore := strconv.FormatInt(now.UnixMilli(), 10)
	payouts := make([]*model.Payout, 0, limit)

	// Index entries can be stale if a record was written outside Save, so
	// page through the index and re-check every record.
	for offset := int64(0); ; offset += duePageSize {
		ids, err := r.client.ZRangeByScore(ctx, dueIndexKey, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    maxScore,
			Offset: offset,
			Count:  duePageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("scan due index: %w", err)
		}
		if len(ids) == 0 {
			return payouts, nil
		}

		records, err := r.getMany(ctx, ids)
		if err != nil {
			return nil, err
		}

		for _, p := range records {
			if !p.IsDue(now) {
				continue
			}
			payouts = append(payouts, p)
			if len(payouts) >= limit {
				return payouts, nil
			}
		}

		if len(ids) < duePageSize {
			return payouts, nil
		}
	}
}

func (r *RedisRepository) Claim(ctx context.Context, id string, now time.Time) (*model.Payout, error) {
	claimed, err := r.transition(ctx, id, model.PayoutStatusPending, func(p *model.Payout) {
		applyClaim(p, now)
	})
	switch {
	case errors.Is(err, errStatusMismatch), errors.Is(err, redis.TxFailedErr):
		return nil, ErrNotPending
	case err != nil:
		return nil, err
	}
	return claimed, nil
}

func (r *RedisRepository) Save(ctx context.Context, payout *model.Payout) error {
	payout.UpdatedAt = time.Now()

	data, err := json.Marshal(payout)
	if err != nil {
		return fmt.Errorf("marshal payout: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, payoutKeyPrefix+payout.ID, data, 0)
		indexPipe(ctx, pipe, payout)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save payout: %w", err)
	}

	return nil
}

func (r *RedisRepository) Reset(ctx context.Context, id string, scheduledAt time.Time) (*model.Payout, error) {
	payout, err := r.transition(ctx, id, model.PayoutStatusFailed, func(p *model.Payout) {
		applyReset(p, scheduledAt)
	})
	return payout, operatorError(id, err)
}

func (r *RedisRepository) Cancel(ctx context.Context, id string, reason string, now time.Time) (*model.Payout, error) {
	payout, err := r.transition(ctx, id, model.PayoutStatusPending, func(p *model.Payout) {
		applyCancel(p, reason, now)
	})
	return payout, operatorError(id, err)
}

func (r *RedisRepository) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// transition re-reads the record under WATCH and applies mutate only if it is
// still in status from. The write happens in MULTI/EXEC, so any concurrent
// change to the key makes EXEC fail with redis.TxFailedErr.
func (r *RedisRepository) transition(ctx context.Context, id string, from model.PayoutStatus, mutate func(*model.Payout)) (*model.Payout, error) {
	key := payoutKeyPrefix + id
	var result *model.Payout

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("payout %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get payout: %w", err)
		}

		var payout model.Payout
		if err := json.Unmarshal(data, &payout); err != nil {
			return fmt.Errorf("unmarshal payout: %w", err)
		}

		if payout.Status != from {
			return errStatusMismatch
		}

		mutate(&payout)

		updated, err := json.Marshal(&payout)
		if err != nil {
			return fmt.Errorf("marshal payout: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			indexPipe(ctx, pipe, &payout)
			return nil
		})
		if err != nil {
			return err
		}

		result = &payout
		return nil
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *RedisRepository) getMany(ctx context.Context, ids []string) ([]*model.Payout, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = payoutKeyPrefix + id
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load due payouts: %w", err)
	}

	payouts := make([]*model.Payout, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var payout model.Payout
		if err := json.Unmarshal([]byte(s), &payout); err != nil {
			continue
		}
		payouts = append(payouts, &payout)
	}

	return payouts, nil
}

func indexPipe(ctx context.Context, pipe redis.Pipeliner, payout *model.Payout) {
	if payout.Status == model.PayoutStatusPending && payout.ScheduledAt != nil {
		pipe.ZAdd(ctx, dueIndexKey, dueMember(payout))
		return
	}
	pipe.ZRem(ctx, dueIndexKey, payout.ID)
}

func dueMember(payout *model.Payout) redis.Z {
	return redis.Z{
		Score:  float64(payout.ScheduledAt.UnixMilli()),
		Member: payout.ID,
	}
}

func operatorError(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStatusMismatch), errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("payout %s: %w", id, ErrInvalidTransition)
	default:
		return err
	}
}
