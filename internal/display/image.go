package display

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/kverner/dialdeck/internal/protocol"
)

// Panel geometry and transfer parameters
const (
	// Width and Height are the panel's fixed resolution
	Width  = 200
	Height = 144

	// BufferSize is the exact packed size: one bit per pixel
	BufferSize = Width * Height / 8

	// DefaultThreshold is the luminance cut applied when converting to one
	// bit: pixels darker than this are set (drawn)
	DefaultThreshold = 128

	// MaxChunkBytes bounds one display write; the dial's receive buffer is
	// small
	MaxChunkBytes = 128

	// InterChunkDelay is the mandatory pause between chunk writes
	InterChunkDelay = 20 * time.Millisecond
)

// Buffer is a complete packed panel image. It is immutable once built;
// Bytes returns a copy.
type Buffer struct {
	packed []byte
}

// NewBuffer wraps an already-packed image. The byte count must be exact.
func NewBuffer(packed []byte) (*Buffer, error) {
	if len(packed) != BufferSize {
		return nil, protocol.NewInvalidArgumentError(
			fmt.Sprintf("packed buffer must be %d bytes, got %d", BufferSize, len(packed)))
	}
	b := &Buffer{packed: make([]byte, BufferSize)}
	copy(b.packed, packed)
	return b, nil
}

// Render resamples an image to the panel resolution if needed, thresholds
// it to one bit and packs it
func Render(img image.Image) (*Buffer, error) {
	return RenderWithThreshold(img, DefaultThreshold)
}

// RenderWithThreshold is Render with an explicit luminance threshold, 0-255
func RenderWithThreshold(img image.Image, threshold int) (*Buffer, error) {
	if threshold < 0 || threshold > 255 {
		return nil, protocol.NewInvalidArgumentError(fmt.Sprintf("threshold %d out of range 0-255", threshold))
	}

	bounds := img.Bounds()
	if bounds.Dx() != Width || bounds.Dy() != Height {
		img = resample(img)
		bounds = img.Bounds()
	}

	packed := make([]byte, BufferSize)
	for page := 0; page < Height/8; page++ {
		for x := 0; x < Width; x++ {
			var b byte
			for bit := 0; bit < 8; bit++ {
				y := page*8 + bit
				if luminance(img.At(bounds.Min.X+x, bounds.Min.Y+y)) < threshold {
					b |= 0x80 >> bit // MSB is the topmost pixel
				}
			}
			packed[page*Width+x] = b
		}
	}

	return &Buffer{packed: packed}, nil
}

// Bytes returns a copy of the packed image
func (b *Buffer) Bytes() []byte {
	out := make([]byte, BufferSize)
	copy(out, b.packed)
	return out
}

// Chunks slices the buffer into ordered transfer chunks of at most
// maxBytes each; the final chunk may be shorter. The slices alias the
// buffer's internal storage and must not be mutated.
func (b *Buffer) Chunks(maxBytes int) [][]byte {
	if maxBytes <= 0 {
		maxBytes = MaxChunkBytes
	}

	var chunks [][]byte
	for off := 0; off < len(b.packed); off += maxBytes {
		end := off + maxBytes
		if end > len(b.packed) {
			end = len(b.packed)
		}
		chunks = append(chunks, b.packed[off:end])
	}
	return chunks
}

// resample maps the source onto the panel grid with nearest-neighbor
// sampling. E-paper output is binary anyway, so anything fancier buys
// nothing.
func resample(src image.Image) image.Image {
	bounds := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, Width, Height))

	for y := 0; y < Height; y++ {
		sy := bounds.Min.Y + y*bounds.Dy()/Height
		for x := 0; x < Width; x++ {
			sx := bounds.Min.X + x*bounds.Dx()/Width
			dst.SetGray(x, y, color.GrayModel.Convert(src.At(sx, sy)).(color.Gray))
		}
	}
	return dst
}

// luminance returns the 0-255 grey level of a color
func luminance(c color.Color) int {
	return int(color.GrayModel.Convert(c).(color.Gray).Y)
}
