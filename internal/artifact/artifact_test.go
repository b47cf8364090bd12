package artifact

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseKeyColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"00ff00", color.NRGBA{G: 0xff, A: 0xff}, false},
		{"#1A2b3C", color.NRGBA{R: 0x1a, G: 0x2b, B: 0x3c, A: 0xff}, false},
		{"0f0", color.NRGBA{}, true},
		{"zzzzzz", color.NRGBA{}, true},
		{"", color.NRGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseKeyColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseKeyColor(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParseKeyColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := FormatKeyColor(color.NRGBA{R: 0x1a, G: 0x2b, B: 0x3c}); got != "1a2b3c" {
		t.Fatalf("FormatKeyColor = %q", got)
	}
}

func TestClassifyBackground(t *testing.T) {
	tests := []struct {
		path    string
		want    BackgroundKind
		wantErr bool
	}{
		{"", BackgroundNone, false},
		{"studio.JPG", BackgroundImage, false},
		{"loop.webm", BackgroundVideo, false},
		{"clip.mov", BackgroundVideo, false},
		{"notes.txt", "", true},
	}
	for _, tt := range tests {
		got, err := ClassifyBackground(tt.path)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ClassifyBackground(%q) err = %v", tt.path, err)
		}
		if got.Kind != tt.want {
			t.Fatalf("ClassifyBackground(%q) kind = %q, want %q", tt.path, got.Kind, tt.want)
		}
	}
}

func TestParseEngineKind(t *testing.T) {
	if kind, err := ParseEngineKind(" LivePortrait "); err != nil || kind != EngineLivePortrait {
		t.Fatalf("got %q, %v", kind, err)
	}
	if _, err := ParseEngineKind("wav2lip"); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestFrameMath(t *testing.T) {
	if got := FramesForDuration(10*time.Second, 25); got != 250 {
		t.Fatalf("FramesForDuration = %d", got)
	}
	if got := FrameInterval(25); got != 40*time.Millisecond {
		t.Fatalf("FrameInterval = %v", got)
	}
	seq := CompositedSequence{Dir: "/tmp/x", Pattern: "frame_%06d.png", Frames: 50, FPS: 25}
	if seq.Duration() != 2*time.Second {
		t.Fatalf("Duration = %v", seq.Duration())
	}
	if got := seq.FramePath(0); got != filepath.Join("/tmp/x", "frame_000001.png") {
		t.Fatalf("FramePath(0) = %q", got)
	}
}

func TestKeyRuleCoverage(t *testing.T) {
	rule := KeyRule{Color: color.NRGBA{G: 0xff, A: 0xff}, Tolerance: 0.3, Softness: 0.1}

	if got := rule.Coverage(0, 255, 0); got != 0 {
		t.Fatalf("exact key color coverage = %d, want 0", got)
	}
	if got := rule.Coverage(20, 230, 20); got != 0 {
		t.Fatalf("near key color coverage = %d, want 0", got)
	}
	if got := rule.Coverage(255, 0, 255); got != 255 {
		t.Fatalf("magenta coverage = %d, want 255", got)
	}
	// Distance 0.35 sits halfway through the ramp.
	d := 0.35 * maxRGBDistance
	g := uint8(255 - d)
	if got := rule.Coverage(0, g, 0); got < 120 || got > 135 {
		t.Fatalf("ramp coverage = %d, want about 128", got)
	}
}

func TestKeyRuleAlphaOverImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{G: 0xff, A: 0xff})
	img.Set(1, 0, color.RGBA{R: 0xff, A: 0xff})
	rule := KeyRule{Color: color.NRGBA{G: 0xff, A: 0xff}, Tolerance: 0.3, Softness: 0.1}

	alpha, err := rule.Alpha(img)
	if err != nil {
		t.Fatalf("Alpha: %v", err)
	}
	if alpha.AlphaAt(0, 0).A != 0 || alpha.AlphaAt(1, 0).A != 255 {
		t.Fatalf("unexpected alpha %v", alpha.Pix)
	}
}

func TestOpaqueAlpha(t *testing.T) {
	alpha, err := Opaque{}.Alpha(image.NewRGBA(image.Rect(0, 0, 3, 2)))
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range alpha.Pix {
		if v != 255 {
			t.Fatalf("pix[%d] = %d", i, v)
		}
	}
}

func TestMaskFromImageGray(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.Pix = []uint8{0, 64, 128, 255}
	alpha := MaskFromImage(gray, image.Rect(0, 0, 2, 2))
	if alpha.AlphaAt(1, 1).A != 255 || alpha.AlphaAt(1, 0).A != 64 {
		t.Fatalf("unexpected alpha %v", alpha.Pix)
	}
}

func TestAlphaFileSixteenBitGray(t *testing.T) {
	gray := image.NewGray16(image.Rect(0, 0, 2, 1))
	gray.SetGray16(0, 0, color.Gray16{Y: 0})
	gray.SetGray16(1, 0, color.Gray16{Y: 0x8000})

	path := filepath.Join(t.TempDir(), "mask.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, gray); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	frame := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	alpha, err := AlphaFile{Path: path}.Alpha(frame)
	if err != nil {
		t.Fatalf("Alpha: %v", err)
	}
	if got := alpha.AlphaAt(0, 0).A; got != 0 {
		t.Fatalf("background alpha = %d, want 0", got)
	}
	if got := alpha.AlphaAt(1, 0).A; got != 0x80 {
		t.Fatalf("foreground alpha = %d, want 128", got)
	}
}
