package capture

import (
	"fmt"
	"image"
	"image/jpeg"

	"sidescreen/internal/core/domain"
	"sidescreen/pkg/bufpool"
)

// 1080p RGBA; larger frames allocate their conversion buffer.
const conversionPoolSize = 1920 * 1080 * 4

// JPEGCompressor encodes frames as baseline JPEG. It keeps no state between
// calls beyond pooled scratch buffers.
type JPEGCompressor struct {
	out     *bufpool.BufferPool
	scratch *bufpool.BytePool
}

func NewJPEGCompressor() *JPEGCompressor {
	return &JPEGCompressor{
		out:     bufpool.NewBufferPool(4 << 20),
		scratch: bufpool.NewBytePool(conversionPoolSize),
	}
}

func (c *JPEGCompressor) Format() string {
	return domain.CodecJPEG
}

func (c *JPEGCompressor) Compress(frame *domain.FrameBuffer, quality int) ([]byte, error) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("jpeg: empty frame")
	}
	if frame.Stride < frame.Width*4 || len(frame.Pix) < frame.Stride*(frame.Height-1)+frame.Width*4 {
		return nil, fmt.Errorf("jpeg: pixel buffer too small for %dx%d stride %d", frame.Width, frame.Height, frame.Stride)
	}
	quality = min(max(quality, 1), 100)

	img := &image.RGBA{
		Pix:    frame.Pix,
		Stride: frame.Stride,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}

	switch frame.Format {
	case domain.PixelFormatRGBA:
	case domain.PixelFormatBGRA:
		pix, release := c.swizzle(frame)
		defer release()
		img.Pix = pix
		img.Stride = frame.Width * 4
	default:
		return nil, fmt.Errorf("jpeg: unsupported pixel format %q", frame.Format)
	}

	buf := c.out.Get()
	defer c.out.Put(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg: encode: %w", err)
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// swizzle copies a BGRA frame into tightly packed RGBA.
func (c *JPEGCompressor) swizzle(frame *domain.FrameBuffer) ([]byte, func()) {
	size := frame.Width * frame.Height * 4
	var pix []byte
	release := func() {}
	if size <= c.scratch.Size() {
		pooled := c.scratch.Get()
		pix = pooled[:size]
		release = func() { c.scratch.Put(pooled) }
	} else {
		pix = make([]byte, size)
	}

	rowBytes := frame.Width * 4
	for y := 0; y < frame.Height; y++ {
		src := frame.Pix[y*frame.Stride : y*frame.Stride+rowBytes]
		dst := pix[y*rowBytes : (y+1)*rowBytes]
		for i := 0; i < rowBytes; i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	}
	return pix, release
}
