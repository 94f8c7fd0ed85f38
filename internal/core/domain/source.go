package domain

import "time"

type SourceID string

type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// FrameSourceDescriptor identifies a capturable surface. The host display
// subsystem owns it.
type FrameSourceDescriptor struct {
	ID          SourceID
	Bounds      Rect
	RefreshHint int // Hz, 0 when unknown
}

type PixelFormat string

const (
	PixelFormatRGBA PixelFormat = "rgba"
	PixelFormatBGRA PixelFormat = "bgra"
)

// FrameBuffer is read-only once published by the capture loop.
type FrameBuffer struct {
	SourceID   SourceID
	Seq        uint64
	Width      int
	Height     int
	Stride     int
	Format     PixelFormat
	Pix        []byte
	CapturedAt time.Time
}
