// Package capture holds the reference FrameSource and FrameCompressor.
package capture

import (
	"context"
	"sync"
	"time"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
)

// SyntheticSource renders a moving test pattern for any descriptor. When a
// lookup is set, descriptors it no longer knows are reported unavailable, so
// removing a source from the catalog behaves like unplugging a display.
type SyntheticSource struct {
	lookup ports.SourceLookup

	mu     sync.Mutex
	frames map[domain.SourceID]uint64
}

func NewSyntheticSource(lookup ports.SourceLookup) *SyntheticSource {
	return &SyntheticSource{
		lookup: lookup,
		frames: make(map[domain.SourceID]uint64),
	}
}

var bars = [][3]byte{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

func (s *SyntheticSource) CaptureFrame(ctx context.Context, desc domain.FrameSourceDescriptor) (*domain.FrameBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.lookup != nil {
		if _, ok := s.lookup.Get(desc.ID); !ok {
			return nil, domain.NewError("capture", domain.KindSourceUnavailable, "source "+string(desc.ID)+" removed", nil)
		}
	}
	if desc.Bounds.Empty() {
		return nil, domain.NewError("capture", domain.KindSourceUnavailable, "source has empty bounds", nil)
	}

	s.mu.Lock()
	n := s.frames[desc.ID]
	s.frames[desc.ID] = n + 1
	s.mu.Unlock()

	w, h := desc.Bounds.Width, desc.Bounds.Height
	stride := w * 4
	pix := make([]byte, stride*h)

	barWidth := max(w/len(bars), 1)
	offset := int(n) * 8
	box := max(min(w, h)/8, 1)
	boxX := (int(n) * 6) % max(w-box, 1)
	boxY := h/2 - box/2

	for y := 0; y < h; y++ {
		row := pix[y*stride : (y+1)*stride]
		inBoxRow := y >= boxY && y < boxY+box
		for x := 0; x < w; x++ {
			c := bars[((x+offset)/barWidth)%len(bars)]
			if inBoxRow && x >= boxX && x < boxX+box {
				c = [3]byte{255, 255, 255}
			}
			i := x * 4
			row[i] = c[0]
			row[i+1] = c[1]
			row[i+2] = c[2]
			row[i+3] = 255
		}
	}

	return &domain.FrameBuffer{
		SourceID:   desc.ID,
		Width:      w,
		Height:     h,
		Stride:     stride,
		Format:     domain.PixelFormatRGBA,
		Pix:        pix,
		CapturedAt: time.Now(),
	}, nil
}
