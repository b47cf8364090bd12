package matting

import (
	"context"
	"fmt"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"avatarreel/internal/artifact"
	"avatarreel/internal/logging"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

// Mode selects the separation strategy.
type Mode = artifact.MatteMode

const (
	AI          = artifact.MatteAI
	ChromaKey   = artifact.MatteChromaKey
	Passthrough = artifact.MattePassthrough
)

const framePattern = "frame_%06d.png"

// Stage turns a raw clip into a masked frame sequence.
type Stage interface {
	Mode() Mode
	// CheckModels reports ErrModelUnavailable when the mode's model tooling
	// is missing. Modes without a model always pass.
	CheckModels() error
	Separate(ctx context.Context, clip artifact.RawClip, workdir string) (artifact.MaskedSequence, error)
}

// Settings configures the matting modes.
type Settings struct {
	FFmpeg             string
	SegmentationBinary string
	SegmentationModel  string
	KeyColor           *color.NRGBA
	Tolerance          float64
	Softness           float64
}

// New returns the stage for mode.
func New(mode Mode, settings Settings, logger *slog.Logger) (Stage, error) {
	ffmpeg := strings.TrimSpace(settings.FFmpeg)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ex := extractor{ffmpeg: ffmpeg, run: defaultCommandRunner}
	switch mode {
	case AI:
		return &segmenter{
			extractor: ex,
			logger:    logging.NewComponentLogger(logger, "matting.ai"),
			binary:    settings.SegmentationBinary,
			model:     settings.SegmentationModel,
		}, nil
	case ChromaKey:
		if settings.KeyColor == nil {
			return nil, services.Wrap(services.ErrInvalidConfig, string(stage.Config), "select matting",
				"chroma key mode requires a key color", nil)
		}
		return &chromaKeyer{
			extractor: ex,
			logger:    logging.NewComponentLogger(logger, "matting.chromakey"),
			rule: artifact.KeyRule{
				Color:     *settings.KeyColor,
				Tolerance: settings.Tolerance,
				Softness:  settings.Softness,
			},
		}, nil
	case Passthrough:
		return &passthrough{extractor: ex, logger: logging.NewComponentLogger(logger, "matting.passthrough")}, nil
	default:
		return nil, services.Wrap(services.ErrInvalidConfig, string(stage.Config), "select matting",
			fmt.Sprintf("unknown matting mode %q", mode), nil)
	}
}

type commandRunner func(ctx context.Context, name string, args ...string) error

// extractor decodes a clip into PNG frames.
type extractor struct {
	ffmpeg string
	run    commandRunner
}

// extract writes every frame of clip into dir and returns their sorted paths.
func (e extractor) extract(ctx context.Context, clip artifact.RawClip, dir string) ([]string, error) {
	const op = "extract frames"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrUnsupportedFormat, string(stage.Matte), op, "create frame directory", err)
	}
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", clip.Path,
		"-map", "0:v:0",
		"-fps_mode", "passthrough",
		"-pix_fmt", "rgb24",
		filepath.Join(dir, framePattern),
	}
	if err := e.run(ctx, e.ffmpeg, args...); err != nil {
		return nil, services.Wrap(services.ErrUnsupportedFormat, string(stage.Matte), op, "clip could not be decoded", err)
	}
	frames, err := listFrames(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrUnsupportedFormat, string(stage.Matte), op, "list frames", err)
	}
	if len(frames) == 0 {
		return nil, services.Wrap(services.ErrUnsupportedFormat, string(stage.Matte), op, "clip contains no frames", nil)
	}
	for _, frame := range frames {
		if err := checkRGBFrame(frame); err != nil {
			return nil, services.Wrap(services.ErrUnsupportedFormat, string(stage.Matte), op, "frame is not an RGB image", err)
		}
	}
	return frames, nil
}

func listFrames(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func checkRGBFrame(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	switch cfg.ColorModel {
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return nil
	default:
		return fmt.Errorf("%s: unsupported pixel format", filepath.Base(path))
	}
}

func sequence(mode Mode, clip artifact.RawClip, frames []string, mask func(i int, frame string) artifact.FrameMask) artifact.MaskedSequence {
	masked := make([]artifact.MaskedFrame, len(frames))
	for i, frame := range frames {
		masked[i] = artifact.MaskedFrame{Path: frame, Mask: mask(i, frame)}
	}
	return artifact.MaskedSequence{
		Mode:   mode,
		Frames: masked,
		FPS:    clip.FPS,
		Width:  clip.Width,
		Height: clip.Height,
	}
}

func warnFrameDrift(logger *slog.Logger, clip artifact.RawClip, extracted int) {
	if clip.Frames > 0 && clip.Frames != extracted {
		logger.Warn("extracted frame count differs from probe",
			logging.Int("probed_frames", clip.Frames),
			logging.Int("extracted_frames", extracted),
		)
	}
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
