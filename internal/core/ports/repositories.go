package ports

import (
	"context"

	"sidescreen/internal/core/domain"
)

// TrustRepository stores devices that accepted pairing.
type TrustRepository interface {
	Save(ctx context.Context, record *domain.TrustRecord) error
	Get(ctx context.Context, id domain.DeviceID) (*domain.TrustRecord, error)
	Delete(ctx context.Context, id domain.DeviceID) error
	List(ctx context.Context) ([]*domain.TrustRecord, error)
}
