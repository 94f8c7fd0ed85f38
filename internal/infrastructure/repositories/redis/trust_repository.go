package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
)

const (
	trustKeyPrefix = "sidescreen:trust:"
	trustIndexKey  = "sidescreen:trust:index"
)

type RedisTrustRepository struct {
	client redis.Cmdable
}

func NewRedisTrustRepository(client redis.Cmdable) ports.TrustRepository {
	return &RedisTrustRepository{client: client}
}

func (r *RedisTrustRepository) recordKey(id domain.DeviceID) string {
	return trustKeyPrefix + string(id)
}

func (r *RedisTrustRepository) Save(ctx context.Context, record *domain.TrustRecord) error {
	data, err := sonic.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal trust record: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(record.DeviceID), data, 0)
		pipe.SAdd(ctx, trustIndexKey, string(record.DeviceID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save trust record in Redis: %w", err)
	}
	return nil
}

func (r *RedisTrustRepository) Get(ctx context.Context, id domain.DeviceID) (*domain.TrustRecord, error) {
	data, err := r.client.Get(ctx, r.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.NewError("trust get", domain.KindNotFound, "device "+string(id)+" not trusted", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust record from Redis: %w", err)
	}

	var record domain.TrustRecord
	if err := sonic.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trust record: %w", err)
	}
	return &record, nil
}

func (r *RedisTrustRepository) Delete(ctx context.Context, id domain.DeviceID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.recordKey(id))
		pipe.SRem(ctx, trustIndexKey, string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete trust record from Redis: %w", err)
	}
	return nil
}

func (r *RedisTrustRepository) List(ctx context.Context) ([]*domain.TrustRecord, error) {
	ids, err := r.client.SMembers(ctx, trustIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted devices: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.TrustRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(domain.DeviceID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load trust records: %w", err)
	}

	records := make([]*domain.TrustRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// index entry without a record
			continue
		}
		var record domain.TrustRecord
		if err := sonic.UnmarshalString(s, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trust record: %w", err)
		}
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].DeviceID < records[j].DeviceID
	})
	return records, nil
}
