package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huts4u/payout-service/internal/model"
	"github.com/redis/go-redis/v9"
)

const partnerKeyPrefix = "partner:"

// RedisPartnerDirectory implements PartnerDirectory using Redis
type RedisPartnerDirectory struct {
	client *redis.Client
}

// NewRedisPartnerDirectory creates a new Redis partner directory
func NewRedisPartnerDirectory(client *redis.Client) *RedisPartnerDirectory {
	return &RedisPartnerDirectory{client: client}
}

func (d *RedisPartnerDirectory) GetByID(ctx context.Context, id string) (*model.Partner, error) {
	data, err := d.client.Get(ctx, partnerKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("partner %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get partner: %w", err)
	}

	var partner model.Partner
	if err := json.Unmarshal(data, &partner); err != nil {
		return nil, fmt.Errorf("unmarshal partner: %w", err)
	}

	return &partner, nil
}

func (d *RedisPartnerDirectory) Save(ctx context.Context, partner *model.Partner) error {
	partner.UpdatedAt = time.Now()

	data, err := json.Marshal(partner)
	if err != nil {
		return fmt.Errorf("marshal partner: %w", err)
	}

	if err := d.client.Set(ctx, partnerKeyPrefix+partner.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("save partner: %w", err)
	}

	return nil
}
