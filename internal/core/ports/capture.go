package ports

import (
	"context"

	"sidescreen/internal/core/domain"
)

// FrameSource captures the surface described by a descriptor. It returns an
// error of kind domain.KindSourceUnavailable once the surface is gone.
type FrameSource interface {
	CaptureFrame(ctx context.Context, desc domain.FrameSourceDescriptor) (*domain.FrameBuffer, error)
}

// FrameCompressor must be safe for concurrent use and must not depend on call
// order for correctness.
type FrameCompressor interface {
	Compress(frame *domain.FrameBuffer, quality int) ([]byte, error)
	Format() string
}

// SourceLookup resolves descriptors of surfaces that are currently available.
type SourceLookup interface {
	Get(id domain.SourceID) (domain.FrameSourceDescriptor, bool)
}
