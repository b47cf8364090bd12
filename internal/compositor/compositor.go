package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"

	"avatarreel/internal/artifact"
	"avatarreel/internal/logging"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

const (
	CanvasWidth  = 1080
	CanvasHeight = 1920

	framePattern = "frame_%06d.png"
)

// ProgressFunc is called after each output frame is written.
type ProgressFunc func(done, total int)

type commandRunner func(ctx context.Context, name string, args ...string) error

// Settings configures a Compositor.
type Settings struct {
	FFmpeg   string
	Progress ProgressFunc
}

// Compositor blends masked frames onto the output canvas.
type Compositor struct {
	logger   *slog.Logger
	width    int
	height   int
	ffmpeg   string
	progress ProgressFunc
	run      commandRunner
	encoder  png.Encoder
}

// New constructs a Compositor for the fixed 1080x1920 canvas.
func New(settings Settings, logger *slog.Logger) *Compositor {
	ffmpeg := strings.TrimSpace(settings.FFmpeg)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Compositor{
		logger:   logging.NewComponentLogger(logger, "compositor"),
		width:    CanvasWidth,
		height:   CanvasHeight,
		ffmpeg:   ffmpeg,
		progress: settings.Progress,
		run:      defaultCommandRunner,
		encoder:  png.Encoder{CompressionLevel: png.BestSpeed},
	}
}

// Composite renders every masked frame over bg into outDir.
func (c *Compositor) Composite(ctx context.Context, seq artifact.MaskedSequence, bg artifact.Background, outDir string) (artifact.CompositedSequence, error) {
	const op = "composite frames"
	total := len(seq.Frames)
	if total == 0 {
		return artifact.CompositedSequence{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Composite), op, "no frames to composite", nil)
	}
	if seq.FPS <= 0 {
		return artifact.CompositedSequence{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Composite), op, "sequence has no frame rate", nil)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return artifact.CompositedSequence{}, services.Wrap(writeFailureKind(err), string(stage.Composite), op, "create output directory", err)
	}

	back, err := c.loadBackdrop(ctx, bg, seq.Mode, total, seq.FPS, filepath.Dir(outDir))
	if err != nil {
		return artifact.CompositedSequence{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Composite), "load background",
			"background could not be decoded", err)
	}

	started := time.Now()
	sampler := logging.NewProgressSampler(10)
	c.logger.Info("compositing frames",
		logging.String(logging.FieldEventType, "composite_start"),
		logging.Int("frames", total),
		logging.String("matting", string(seq.Mode)),
		logging.String("background", string(bg.Kind)),
	)

	for i, frame := range seq.Frames {
		if err := ctx.Err(); err != nil {
			return artifact.CompositedSequence{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Composite), op, "cancelled", err)
		}
		bgFrame, err := back.Frame(i)
		if err != nil {
			return artifact.CompositedSequence{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Composite), "load background",
				fmt.Sprintf("background frame %d", i+1), err)
		}
		canvas, err := c.compose(frame, bgFrame, seq.Mode)
		if err != nil {
			return artifact.CompositedSequence{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Composite), op,
				fmt.Sprintf("frame %d", i+1), err)
		}
		if err := c.writeFrame(filepath.Join(outDir, fmt.Sprintf(framePattern, i+1)), canvas); err != nil {
			return artifact.CompositedSequence{}, services.Wrap(writeFailureKind(err), string(stage.Composite), op,
				fmt.Sprintf("write frame %d", i+1), err)
		}
		if c.progress != nil {
			c.progress(i+1, total)
		}
		if sampler.ShouldLogFrames(i+1, total) {
			c.logger.Info("composite progress",
				logging.String(logging.FieldEventType, "composite_progress"),
				logging.Int("done", i+1),
				logging.Int("total", total),
			)
		}
	}

	c.logger.Info("frames composited",
		logging.String(logging.FieldEventType, "composite_complete"),
		logging.Int("frames", total),
		logging.Duration("elapsed", time.Since(started)),
	)
	return artifact.CompositedSequence{
		Dir:     outDir,
		Pattern: framePattern,
		Frames:  total,
		FPS:     seq.FPS,
		Width:   c.width,
		Height:  c.height,
	}, nil
}

// compose blends one avatar frame over a copy of bg.
func (c *Compositor) compose(frame artifact.MaskedFrame, bg *image.RGBA, mode artifact.MatteMode) (*image.RGBA, error) {
	src, err := decodeImage(frame.Path)
	if err != nil {
		return nil, err
	}
	alpha, err := frame.Mask.Alpha(src)
	if err != nil {
		return nil, err
	}
	avatar := applyMask(src, alpha)

	canvas := image.NewRGBA(bg.Bounds())
	copy(canvas.Pix, bg.Pix)

	var dr image.Rectangle
	if mode == artifact.MattePassthrough {
		dr = fitRect(avatar.Bounds(), c.width, c.height)
	} else {
		dr = fitHeightRect(avatar.Bounds(), c.width, c.height)
	}
	xdraw.CatmullRom.Scale(canvas, dr, avatar, avatar.Bounds(), xdraw.Over, nil)
	return canvas, nil
}

// applyMask returns the frame's colors with alpha taken from mask.
func applyMask(frame image.Image, mask *image.Alpha) *image.NRGBA {
	b := frame.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	rgba, isRGBA := frame.(*image.RGBA)
	for y := 0; y < b.Dy(); y++ {
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()*4]
		maskRow := mask.Pix[y*mask.Stride : y*mask.Stride+b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			var r, g, bl uint8
			if isRGBA {
				p := rgba.Pix[y*rgba.Stride+x*4:]
				r, g, bl = p[0], p[1], p[2]
			} else {
				cr, cg, cb, _ := frame.At(b.Min.X+x, b.Min.Y+y).RGBA()
				r, g, bl = uint8(cr>>8), uint8(cg>>8), uint8(cb>>8)
			}
			dst[x*4+0] = r
			dst[x*4+1] = g
			dst[x*4+2] = bl
			dst[x*4+3] = maskRow[x]
		}
	}
	return out
}

// fitHeightRect scales src to the canvas height and centers it horizontally.
// Wider-than-canvas results overflow equally on both sides.
func fitHeightRect(src image.Rectangle, width, height int) image.Rectangle {
	w := int(float64(src.Dx())*float64(height)/float64(src.Dy()) + 0.5)
	x := (width - w) / 2
	return image.Rect(x, 0, x+w, height)
}

// fitRect scales src to fit entirely inside the canvas, centered.
func fitRect(src image.Rectangle, width, height int) image.Rectangle {
	scale := min(float64(width)/float64(src.Dx()), float64(height)/float64(src.Dy()))
	w := int(float64(src.Dx())*scale + 0.5)
	h := int(float64(src.Dy())*scale + 0.5)
	x := (width - w) / 2
	y := (height - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

func (c *Compositor) writeFrame(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.encoder.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeFailureKind classifies a failure to write composited output. An
// unwritable work root is a configuration problem.
func writeFailureKind(err error) error {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
		return services.ErrInvalidConfig
	}
	return services.ErrUnsupportedFormat
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
