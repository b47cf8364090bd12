package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"

	xdraw "golang.org/x/image/draw"

	"avatarreel/internal/artifact"
)

// backdrop supplies the background for output frame i.
type backdrop interface {
	Frame(i int) (*image.RGBA, error)
}

type stillBackdrop struct {
	canvas *image.RGBA
}

func (s stillBackdrop) Frame(int) (*image.RGBA, error) {
	return s.canvas, nil
}

type videoBackdrop struct {
	frames []string
	width  int
	height int
}

func (v videoBackdrop) Frame(i int) (*image.RGBA, error) {
	path := v.frames[i%len(v.frames)]
	img, err := decodeImage(path)
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds() == image.Rect(0, 0, v.width, v.height) {
		return rgba, nil
	}
	return coverScale(img, v.width, v.height), nil
}

// gradient returns the default dark backdrop: grey rising from 20 at the top
// to 60 at the bottom.
func gradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		v := uint8(20 + y*40/height)
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			row[x*4+0] = v
			row[x*4+1] = v
			row[x*4+2] = v
			row[x*4+3] = 0xff
		}
	}
	return img
}

func solid(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

// coverScale scales img so it covers width x height and crops the overflow
// evenly from both sides.
func coverScale(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	sb := img.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 {
		return dst
	}
	scale := max(float64(width)/float64(sw), float64(height)/float64(sh))
	scaledW := int(float64(sw)*scale + 0.5)
	scaledH := int(float64(sh)*scale + 0.5)
	x := (width - scaledW) / 2
	y := (height - scaledH) / 2
	xdraw.CatmullRom.Scale(dst, image.Rect(x, y, x+scaledW, y+scaledH), img, sb, xdraw.Src, nil)
	return dst
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// loadBackdrop prepares the background for a sequence of frames at fps.
func (c *Compositor) loadBackdrop(ctx context.Context, bg artifact.Background, mode artifact.MatteMode, frames int, fps float64, workdir string) (backdrop, error) {
	if mode == artifact.MattePassthrough {
		return stillBackdrop{canvas: solid(c.width, c.height, color.RGBA{A: 0xff})}, nil
	}
	switch bg.Kind {
	case artifact.BackgroundNone, "":
		return stillBackdrop{canvas: gradient(c.width, c.height)}, nil
	case artifact.BackgroundImage:
		img, err := decodeImage(bg.Path)
		if err != nil {
			return nil, err
		}
		return stillBackdrop{canvas: coverScale(img, c.width, c.height)}, nil
	case artifact.BackgroundVideo:
		paths, err := c.extractBackground(ctx, bg.Path, frames, fps, workdir)
		if err != nil {
			return nil, err
		}
		return videoBackdrop{frames: paths, width: c.width, height: c.height}, nil
	default:
		return nil, fmt.Errorf("unknown background kind %q", bg.Kind)
	}
}

// extractBackground decodes just enough of a background video, resampled to
// the clip's frame rate and already cover-fitted by ffmpeg.
func (c *Compositor) extractBackground(ctx context.Context, path string, frames int, fps float64, workdir string) ([]string, error) {
	dir := filepath.Join(workdir, "background")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	seconds := (float64(frames) + 1) / fps
	filter := fmt.Sprintf("fps=%s,scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
		strconv.FormatFloat(fps, 'f', -1, 64), c.width, c.height, c.width, c.height)
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", path,
		"-t", strconv.FormatFloat(seconds, 'f', 3, 64),
		"-map", "0:v:0",
		"-vf", filter,
		"-pix_fmt", "rgb24",
		filepath.Join(dir, "bg_%06d.png"),
	}
	if err := c.run(ctx, c.ffmpeg, args...); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, "bg_*.png"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("background video %s yielded no frames", filepath.Base(path))
	}
	return matches, nil
}
