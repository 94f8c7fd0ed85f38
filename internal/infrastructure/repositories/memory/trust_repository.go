package memory

import (
	"context"
	"sort"
	"sync"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
)

type MemoryTrustRepository struct {
	records map[domain.DeviceID]domain.TrustRecord
	mu      sync.RWMutex
}

func NewMemoryTrustRepository() ports.TrustRepository {
	return &MemoryTrustRepository{
		records: make(map[domain.DeviceID]domain.TrustRecord),
	}
}

func (r *MemoryTrustRepository) Save(ctx context.Context, record *domain.TrustRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[record.DeviceID] = *record
	return nil
}

func (r *MemoryTrustRepository) Get(ctx context.Context, id domain.DeviceID) (*domain.TrustRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, domain.NewError("trust get", domain.KindNotFound, "device "+string(id)+" not trusted", nil)
	}
	return &record, nil
}

func (r *MemoryTrustRepository) Delete(ctx context.Context, id domain.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, id)
	return nil
}

func (r *MemoryTrustRepository) List(ctx context.Context) ([]*domain.TrustRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*domain.TrustRecord, 0, len(r.records))
	for _, record := range r.records {
		rec := record
		records = append(records, &rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].DeviceID < records[j].DeviceID
	})
	return records, nil
}
