package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"avatarreel/internal/artifact"
	"avatarreel/internal/services"
	"avatarreel/internal/testsupport"
)

var (
	green = color.NRGBA{G: 0xff, A: 0xff}
	red   = color.NRGBA{R: 0xff, A: 0xff}
	blue  = color.NRGBA{B: 0xff, A: 0xff}
)

func subjectFrame() *image.NRGBA {
	img := testsupport.SolidImage(8, 8, green)
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			img.SetNRGBA(x, y, red)
		}
	}
	return img
}

// aiMask is what a perfect segmenter returns for subjectFrame.
func aiMask() *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			mask.SetGray(x, y, color.Gray{Y: 0xff})
		}
	}
	return mask
}

func smallCompositor(t *testing.T) *Compositor {
	t.Helper()
	c := New(Settings{}, nil)
	c.width, c.height = 54, 96
	return c
}

func maskedSequence(t *testing.T, dir string, mode artifact.MatteMode, frames int, mask func(i int) artifact.FrameMask) artifact.MaskedSequence {
	t.Helper()
	seq := artifact.MaskedSequence{Mode: mode, FPS: 25, Width: 8, Height: 8}
	for i := 0; i < frames; i++ {
		path := filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i+1))
		testsupport.WritePNG(t, path, subjectFrame())
		seq.Frames = append(seq.Frames, artifact.MaskedFrame{Path: path, Mask: mask(i)})
	}
	return seq
}

func near(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -2 && d <= 2
}

func assertRGB(t *testing.T, img image.Image, x, y int, want color.NRGBA) {
	t.Helper()
	got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	if !near(got.R, want.R) || !near(got.G, want.G) || !near(got.B, want.B) {
		t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
	}
}

func TestCompositeGradientDefault(t *testing.T) {
	c := smallCompositor(t)
	work := t.TempDir()
	seq := maskedSequence(t, filepath.Join(work, "frames"), artifact.MatteChromaKey, 2, func(int) artifact.FrameMask {
		return artifact.KeyRule{Color: green, Tolerance: 0.3, Softness: 0.1}
	})

	var progress []int
	c.progress = func(done, total int) {
		if total != 2 {
			t.Fatalf("total = %d", total)
		}
		progress = append(progress, done)
	}

	out, err := c.Composite(context.Background(), seq, artifact.Background{Kind: artifact.BackgroundNone}, filepath.Join(work, "composited"))
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if out.Frames != 2 || out.FPS != 25 || out.Width != 54 || out.Height != 96 {
		t.Fatalf("unexpected sequence %+v", out)
	}
	if len(progress) != 2 || progress[1] != 2 {
		t.Fatalf("progress = %v", progress)
	}

	img := testsupport.ReadPNG(t, out.FramePath(0))
	if img.Bounds().Dx() != 54 || img.Bounds().Dy() != 96 {
		t.Fatalf("frame size = %v", img.Bounds())
	}
	assertRGB(t, img, 0, 0, color.NRGBA{R: 20, G: 20, B: 20})
	assertRGB(t, img, 27, 48, red)
}

func TestChromaKeyMatchesAIMask(t *testing.T) {
	work := t.TempDir()
	maskPath := filepath.Join(work, "mask.png")
	testsupport.WritePNG(t, maskPath, aiMask())
	bgPath := filepath.Join(work, "bg.png")
	testsupport.WritePNG(t, bgPath, testsupport.SolidImage(10, 10, blue))
	bg := artifact.Background{Kind: artifact.BackgroundImage, Path: bgPath}

	chroma := maskedSequence(t, filepath.Join(work, "chroma"), artifact.MatteChromaKey, 1, func(int) artifact.FrameMask {
		return artifact.KeyRule{Color: green, Tolerance: 0.3, Softness: 0.1}
	})
	ai := maskedSequence(t, filepath.Join(work, "ai"), artifact.MatteAI, 1, func(int) artifact.FrameMask {
		return artifact.AlphaFile{Path: maskPath}
	})

	c := smallCompositor(t)
	chromaOut, err := c.Composite(context.Background(), chroma, bg, filepath.Join(work, "out-chroma"))
	if err != nil {
		t.Fatalf("chroma Composite: %v", err)
	}
	aiOut, err := c.Composite(context.Background(), ai, bg, filepath.Join(work, "out-ai"))
	if err != nil {
		t.Fatalf("ai Composite: %v", err)
	}

	a := testsupport.ReadPNG(t, chromaOut.FramePath(0))
	b := testsupport.ReadPNG(t, aiOut.FramePath(0))
	for y := 0; y < 96; y++ {
		for x := 0; x < 54; x++ {
			if a.At(x, y) != b.At(x, y) {
				t.Fatalf("pixel (%d,%d) differs: chroma %v, ai %v", x, y, a.At(x, y), b.At(x, y))
			}
		}
	}
	assertRGB(t, a, 0, 0, blue)
	assertRGB(t, a, 27, 48, red)
}

func TestPassthroughLetterboxes(t *testing.T) {
	work := t.TempDir()
	seq := maskedSequence(t, filepath.Join(work, "frames"), artifact.MattePassthrough, 1, func(int) artifact.FrameMask {
		return artifact.Opaque{}
	})
	c := smallCompositor(t)
	out, err := c.Composite(context.Background(), seq, artifact.Background{Kind: artifact.BackgroundNone}, filepath.Join(work, "out"))
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	img := testsupport.ReadPNG(t, out.FramePath(0))
	// 8x8 fits as 54x54 centered vertically: rows 21..74.
	assertRGB(t, img, 27, 5, color.NRGBA{})
	assertRGB(t, img, 27, 90, color.NRGBA{})
	assertRGB(t, img, 27, 48, red)
	assertRGB(t, img, 2, 23, green)
}

func TestVideoBackgroundLoops(t *testing.T) {
	work := t.TempDir()
	seq := maskedSequence(t, filepath.Join(work, "frames"), artifact.MatteChromaKey, 3, func(int) artifact.FrameMask {
		return artifact.KeyRule{Color: green, Tolerance: 0.3, Softness: 0.1}
	})
	c := smallCompositor(t)
	var gotArgs []string
	c.run = func(_ context.Context, _ string, args ...string) error {
		gotArgs = args
		pattern := args[len(args)-1]
		testsupport.WritePNG(t, fmt.Sprintf(pattern, 1), testsupport.SolidImage(54, 96, blue))
		testsupport.WritePNG(t, fmt.Sprintf(pattern, 2), testsupport.SolidImage(54, 96, color.NRGBA{R: 0x80, G: 0x80, A: 0xff}))
		return nil
	}

	out, err := c.Composite(context.Background(), seq, artifact.Background{Kind: artifact.BackgroundVideo, Path: "/bg/loop.mp4"}, filepath.Join(work, "out"))
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if !strings.Contains(strings.Join(gotArgs, " "), "fps=25,scale=54:96:force_original_aspect_ratio=increase,crop=54:96") {
		t.Fatalf("unexpected background filter: %v", gotArgs)
	}
	assertRGB(t, testsupport.ReadPNG(t, out.FramePath(0)), 0, 0, blue)
	assertRGB(t, testsupport.ReadPNG(t, out.FramePath(1)), 0, 0, color.NRGBA{R: 0x80, G: 0x80})
	assertRGB(t, testsupport.ReadPNG(t, out.FramePath(2)), 0, 0, blue)
}

func TestCompositeUndecodableBackground(t *testing.T) {
	work := t.TempDir()
	bgPath := filepath.Join(work, "bg.png")
	testsupport.WriteFile(t, bgPath, 32)
	seq := maskedSequence(t, filepath.Join(work, "frames"), artifact.MatteAI, 1, func(int) artifact.FrameMask { return artifact.Opaque{} })

	_, err := smallCompositor(t).Composite(context.Background(), seq, artifact.Background{Kind: artifact.BackgroundImage, Path: bgPath}, filepath.Join(work, "out"))
	if !errors.Is(err, services.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if services.StageOf(err) != "composite" {
		t.Fatalf("stage = %q", services.StageOf(err))
	}
}

func TestCompositeOutputDirectoryFailureIsNotEncoding(t *testing.T) {
	work := t.TempDir()
	blocker := filepath.Join(work, "blocker")
	testsupport.WriteFile(t, blocker, 1)
	seq := maskedSequence(t, filepath.Join(work, "frames"), artifact.MatteAI, 1, func(int) artifact.FrameMask { return artifact.Opaque{} })

	_, err := smallCompositor(t).Composite(context.Background(), seq, artifact.Background{}, filepath.Join(blocker, "out"))
	if err == nil {
		t.Fatal("expected error when the output directory cannot be created")
	}
	if errors.Is(err, services.ErrEncoding) {
		t.Fatalf("write failure reported as EncodingError: %v", err)
	}
	if services.StageOf(err) != "composite" {
		t.Fatalf("stage = %q", services.StageOf(err))
	}
}

func TestWriteFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("open: %w", fs.ErrPermission), services.ErrInvalidConfig},
		{fmt.Errorf("open: %w", fs.ErrNotExist), services.ErrInvalidConfig},
		{errors.New("png: invalid format"), services.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		if got := writeFailureKind(tt.err); got != tt.want {
			t.Errorf("writeFailureKind(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCompositeFullCanvasSize(t *testing.T) {
	work := t.TempDir()
	seq := maskedSequence(t, filepath.Join(work, "frames"), artifact.MatteChromaKey, 1, func(int) artifact.FrameMask {
		return artifact.KeyRule{Color: green, Tolerance: 0.3, Softness: 0.1}
	})
	out, err := New(Settings{}, nil).Composite(context.Background(), seq, artifact.Background{}, filepath.Join(work, "out"))
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	img := testsupport.ReadPNG(t, out.FramePath(0))
	if img.Bounds() != image.Rect(0, 0, CanvasWidth, CanvasHeight) {
		t.Fatalf("canvas = %v", img.Bounds())
	}
}

func TestFitHeightRect(t *testing.T) {
	got := fitHeightRect(image.Rect(0, 0, 512, 512), 1080, 1920)
	want := image.Rect(-420, 0, 1500, 1920)
	if got != want {
		t.Fatalf("fitHeightRect = %v, want %v", got, want)
	}
	got = fitHeightRect(image.Rect(0, 0, 256, 1024), 1080, 1920)
	if got != image.Rect(300, 0, 780, 1920) {
		t.Fatalf("narrow fitHeightRect = %v", got)
	}
}

func TestGradientRange(t *testing.T) {
	g := gradient(4, 100)
	if g.RGBAAt(0, 0).R != 20 {
		t.Fatalf("top = %d", g.RGBAAt(0, 0).R)
	}
	if v := g.RGBAAt(0, 99).R; v != 59 {
		t.Fatalf("bottom = %d", v)
	}
}
