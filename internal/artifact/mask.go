package artifact

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
)

// MaskKind identifies the FrameMask variant.
type MaskKind string

const (
	MaskAlphaFile MaskKind = "alpha_file"
	MaskKeyRule   MaskKind = "key_rule"
	MaskOpaque    MaskKind = "opaque"
)

// FrameMask describes which pixels of a frame belong to the subject. Alpha
// returns a soft mask with the frame's bounds where 255 is fully foreground.
type FrameMask interface {
	Kind() MaskKind
	Alpha(frame image.Image) (*image.Alpha, error)
	isFrameMask()
}

// AlphaFile is a per-frame soft mask produced by segmentation and stored as a
// PNG next to the frame.
type AlphaFile struct {
	Path string
}

func (AlphaFile) Kind() MaskKind { return MaskAlphaFile }
func (AlphaFile) isFrameMask()   {}

// Alpha loads the mask and checks it matches the frame size.
func (m AlphaFile) Alpha(frame image.Image) (*image.Alpha, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("open mask: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode mask %s: %w", m.Path, err)
	}
	bounds := frame.Bounds()
	if img.Bounds().Dx() != bounds.Dx() || img.Bounds().Dy() != bounds.Dy() {
		return nil, fmt.Errorf("mask %s is %dx%d, frame is %dx%d", m.Path,
			img.Bounds().Dx(), img.Bounds().Dy(), bounds.Dx(), bounds.Dy())
	}
	return MaskFromImage(img, bounds), nil
}

// MaskFromImage converts a grayscale or RGBA mask image into an alpha mask
// placed at bounds. Gray images use luminance; anything else its alpha.
func MaskFromImage(img image.Image, bounds image.Rectangle) *image.Alpha {
	out := image.NewAlpha(bounds)
	src := img.Bounds()
	switch typed := img.(type) {
	case *image.Gray:
		for y := 0; y < src.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+src.Dx()], typed.Pix[y*typed.Stride:y*typed.Stride+src.Dx()])
		}
	case *image.Alpha:
		for y := 0; y < src.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+src.Dx()], typed.Pix[y*typed.Stride:y*typed.Stride+src.Dx()])
		}
	case *image.Gray16:
		for y := 0; y < src.Dy(); y++ {
			for x := 0; x < src.Dx(); x++ {
				out.Pix[y*out.Stride+x] = uint8(typed.Gray16At(src.Min.X+x, src.Min.Y+y).Y >> 8)
			}
		}
	default:
		for y := 0; y < src.Dy(); y++ {
			for x := 0; x < src.Dx(); x++ {
				_, _, _, a := img.At(src.Min.X+x, src.Min.Y+y).RGBA()
				out.Pix[y*out.Stride+x] = uint8(a >> 8)
			}
		}
	}
	return out
}

// KeyRule classifies pixels by Euclidean RGB distance from a key color.
// Distances are normalized so 1.0 is the distance from black to white.
// Pixels at or below Tolerance are background, pixels beyond
// Tolerance+Softness are foreground, and alpha ramps linearly between.
type KeyRule struct {
	Color     color.NRGBA
	Tolerance float64
	Softness  float64
}

func (KeyRule) Kind() MaskKind { return MaskKeyRule }
func (KeyRule) isFrameMask()   {}

var maxRGBDistance = math.Sqrt(3 * 255 * 255)

// Coverage returns the foreground alpha for one pixel color.
func (k KeyRule) Coverage(r, g, b uint8) uint8 {
	dr := float64(r) - float64(k.Color.R)
	dg := float64(g) - float64(k.Color.G)
	db := float64(b) - float64(k.Color.B)
	d := math.Sqrt(dr*dr+dg*dg+db*db) / maxRGBDistance
	switch {
	case d <= k.Tolerance:
		return 0
	case k.Softness <= 0 || d >= k.Tolerance+k.Softness:
		return 255
	default:
		return uint8(math.Round((d - k.Tolerance) / k.Softness * 255))
	}
}

// Alpha evaluates the rule over every pixel of frame.
func (k KeyRule) Alpha(frame image.Image) (*image.Alpha, error) {
	bounds := frame.Bounds()
	out := image.NewAlpha(bounds)
	switch typed := frame.(type) {
	case *image.NRGBA:
		for y := 0; y < bounds.Dy(); y++ {
			row := typed.Pix[y*typed.Stride:]
			for x := 0; x < bounds.Dx(); x++ {
				p := row[x*4 : x*4+4]
				out.Pix[y*out.Stride+x] = k.Coverage(p[0], p[1], p[2])
			}
		}
	case *image.RGBA:
		for y := 0; y < bounds.Dy(); y++ {
			row := typed.Pix[y*typed.Stride:]
			for x := 0; x < bounds.Dx(); x++ {
				p := row[x*4 : x*4+4]
				out.Pix[y*out.Stride+x] = k.Coverage(p[0], p[1], p[2])
			}
		}
	default:
		for y := 0; y < bounds.Dy(); y++ {
			for x := 0; x < bounds.Dx(); x++ {
				c := color.NRGBAModel.Convert(frame.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				out.Pix[y*out.Stride+x] = k.Coverage(c.R, c.G, c.B)
			}
		}
	}
	return out, nil
}

// Opaque marks every pixel as foreground.
type Opaque struct{}

func (Opaque) Kind() MaskKind { return MaskOpaque }
func (Opaque) isFrameMask()   {}

func (Opaque) Alpha(frame image.Image) (*image.Alpha, error) {
	out := image.NewAlpha(frame.Bounds())
	for i := range out.Pix {
		out.Pix[i] = 0xff
	}
	return out, nil
}

// MaskedFrame pairs one decoded frame on disk with its mask.
type MaskedFrame struct {
	Path string
	Mask FrameMask
}

// MaskedSequence is the matting stage output: ordered frames at the clip's
// native rate, each with a mask.
type MaskedSequence struct {
	Mode   MatteMode
	Frames []MaskedFrame
	FPS    float64
	Width  int
	Height int
}

// CompositedSequence is a directory of canvas-sized PNG frames named by a
// printf pattern, ready for the encoder.
type CompositedSequence struct {
	Dir     string
	Pattern string
	Frames  int
	FPS     float64
	Width   int
	Height  int
}

// FramePath returns the path of frame index i (zero based).
func (s CompositedSequence) FramePath(i int) string {
	return filepath.Join(s.Dir, fmt.Sprintf(s.Pattern, i+1))
}
