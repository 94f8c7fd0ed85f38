package repositories

import (
	"context"
	"time"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/pkg/cache"
)

const (
	trustKeyPrefix = "trust:"
	trustListKey   = "trust-list"
)

// CachedTrustRepository is a read-through cache in front of a remote trust
// store. Writes go to the store first and then drop the affected entries.
// Misses are not cached so a fresh pairing is visible immediately.
type CachedTrustRepository struct {
	base    ports.TrustRepository
	records *cache.Cache[domain.TrustRecord]
	lists   *cache.Cache[[]domain.TrustRecord]
}

func NewCachedTrustRepository(base ports.TrustRepository, ttl time.Duration) *CachedTrustRepository {
	return &CachedTrustRepository{
		base:    base,
		records: cache.New[domain.TrustRecord](ttl),
		lists:   cache.New[[]domain.TrustRecord](ttl),
	}
}

func (r *CachedTrustRepository) Save(ctx context.Context, record *domain.TrustRecord) error {
	if err := r.base.Save(ctx, record); err != nil {
		return err
	}
	r.records.Delete(trustKeyPrefix + string(record.DeviceID))
	r.lists.Delete(trustListKey)
	return nil
}

func (r *CachedTrustRepository) Get(ctx context.Context, id domain.DeviceID) (*domain.TrustRecord, error) {
	rec, err := r.records.GetOrLoad(ctx, trustKeyPrefix+string(id), func(ctx context.Context) (domain.TrustRecord, error) {
		found, err := r.base.Get(ctx, id)
		if err != nil {
			return domain.TrustRecord{}, err
		}
		return *found, nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *CachedTrustRepository) Delete(ctx context.Context, id domain.DeviceID) error {
	if err := r.base.Delete(ctx, id); err != nil {
		return err
	}
	r.records.Delete(trustKeyPrefix + string(id))
	r.lists.Delete(trustListKey)
	return nil
}

func (r *CachedTrustRepository) List(ctx context.Context) ([]*domain.TrustRecord, error) {
	recs, err := r.lists.GetOrLoad(ctx, trustListKey, func(ctx context.Context) ([]domain.TrustRecord, error) {
		found, err := r.base.List(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]domain.TrustRecord, 0, len(found))
		for _, rec := range found {
			out = append(out, *rec)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	list := make([]*domain.TrustRecord, len(recs))
	for i := range recs {
		rec := recs[i]
		list[i] = &rec
	}
	return list, nil
}

func (r *CachedTrustRepository) Close() {
	r.records.Stop()
	r.lists.Stop()
}
