package matting

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"avatarreel/internal/artifact"
	"avatarreel/internal/logging"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

// segmenter runs person segmentation over every frame.
type segmenter struct {
	extractor
	logger *slog.Logger
	binary string
	model  string
}

func (s *segmenter) Mode() Mode { return AI }

func (s *segmenter) CheckModels() error {
	if strings.TrimSpace(s.binary) == "" {
		return services.Wrap(services.ErrModelUnavailable, string(stage.Matte), "check models", "segmentation tool not configured", nil)
	}
	if _, err := exec.LookPath(s.binary); err != nil {
		return services.Wrap(services.ErrModelUnavailable, string(stage.Matte), "check models",
			fmt.Sprintf("segmentation tool %q not found", s.binary), err)
	}
	return nil
}

func (s *segmenter) Separate(ctx context.Context, clip artifact.RawClip, workdir string) (artifact.MaskedSequence, error) {
	if err := s.CheckModels(); err != nil {
		return artifact.MaskedSequence{}, err
	}
	framesDir := filepath.Join(workdir, "frames")
	frames, err := s.extract(ctx, clip, framesDir)
	if err != nil {
		return artifact.MaskedSequence{}, err
	}
	warnFrameDrift(s.logger, clip, len(frames))

	cutoutsDir := filepath.Join(workdir, "cutouts")
	masksDir := filepath.Join(workdir, "masks")
	for _, dir := range []string{cutoutsDir, masksDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return artifact.MaskedSequence{}, services.Wrap(services.ErrInference, string(stage.Matte), "segment", "create directory", err)
		}
	}

	s.logger.Info("segmenting frames",
		logging.String(logging.FieldEventType, "segmentation_start"),
		logging.String("model", s.model),
		logging.Int("frames", len(frames)),
	)
	args := []string{"p", "-m", s.model, framesDir, cutoutsDir}
	if err := s.run(ctx, s.binary, args...); err != nil {
		return artifact.MaskedSequence{}, services.Wrap(services.ErrInference, string(stage.Matte), "segment",
			"segmentation model failed", err)
	}

	sampler := logging.NewProgressSampler(10)
	masks := make([]string, len(frames))
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return artifact.MaskedSequence{}, services.Wrap(services.ErrInference, string(stage.Matte), "segment", "cancelled", err)
		}
		name := filepath.Base(frame)
		maskPath := filepath.Join(masksDir, name)
		if err := writeAlphaMask(filepath.Join(cutoutsDir, name), frame, maskPath); err != nil {
			return artifact.MaskedSequence{}, services.Wrap(services.ErrInference, string(stage.Matte), "segment",
				fmt.Sprintf("mask for %s", name), err)
		}
		masks[i] = maskPath
		if sampler.ShouldLogFrames(i+1, len(frames)) {
			s.logger.Debug("mask progress", logging.Int("done", i+1), logging.Int("total", len(frames)))
		}
	}
	if err := os.RemoveAll(cutoutsDir); err != nil {
		s.logger.Warn("failed to remove cutouts", logging.Error(err))
	}

	return sequence(AI, clip, frames, func(i int, _ string) artifact.FrameMask {
		return artifact.AlphaFile{Path: masks[i]}
	}), nil
}

// writeAlphaMask stores the alpha channel of the segmentation cutout as a
// grayscale PNG matching the source frame size.
func writeAlphaMask(cutoutPath, framePath, maskPath string) error {
	cutout, err := decodePNG(cutoutPath)
	if err != nil {
		return err
	}
	frameCfg, err := decodePNGConfig(framePath)
	if err != nil {
		return err
	}
	b := cutout.Bounds()
	if b.Dx() != frameCfg.Width || b.Dy() != frameCfg.Height {
		return fmt.Errorf("cutout is %dx%d, frame is %dx%d", b.Dx(), b.Dy(), frameCfg.Width, frameCfg.Height)
	}
	alpha := artifact.MaskFromImage(cutout, image.Rect(0, 0, b.Dx(), b.Dy()))
	gray := &image.Gray{Pix: alpha.Pix, Stride: alpha.Stride, Rect: alpha.Rect}

	f, err := os.Create(maskPath)
	if err != nil {
		return err
	}
	if err := png.Encode(f, gray); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func decodePNGConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	return png.DecodeConfig(f)
}

// chromaKeyer attaches a key rule to every frame. The compositor evaluates
// the rule while blending, so no pixels are touched here.
type chromaKeyer struct {
	extractor
	logger *slog.Logger
	rule   artifact.KeyRule
}

func (c *chromaKeyer) Mode() Mode { return ChromaKey }

func (c *chromaKeyer) CheckModels() error { return nil }

func (c *chromaKeyer) Separate(ctx context.Context, clip artifact.RawClip, workdir string) (artifact.MaskedSequence, error) {
	frames, err := c.extract(ctx, clip, filepath.Join(workdir, "frames"))
	if err != nil {
		return artifact.MaskedSequence{}, err
	}
	warnFrameDrift(c.logger, clip, len(frames))
	c.logger.Info("chroma key attached",
		logging.String("key_color", artifact.FormatKeyColor(c.rule.Color)),
		logging.Float64("tolerance", c.rule.Tolerance),
		logging.Float64("softness", c.rule.Softness),
		logging.Int("frames", len(frames)),
	)
	return sequence(ChromaKey, clip, frames, func(int, string) artifact.FrameMask { return c.rule }), nil
}

// passthrough keeps every pixel.
type passthrough struct {
	extractor
	logger *slog.Logger
}

func (p *passthrough) Mode() Mode { return Passthrough }

func (p *passthrough) CheckModels() error { return nil }

func (p *passthrough) Separate(ctx context.Context, clip artifact.RawClip, workdir string) (artifact.MaskedSequence, error) {
	frames, err := p.extract(ctx, clip, filepath.Join(workdir, "frames"))
	if err != nil {
		return artifact.MaskedSequence{}, err
	}
	warnFrameDrift(p.logger, clip, len(frames))
	return sequence(Passthrough, clip, frames, func(int, string) artifact.FrameMask { return artifact.Opaque{} }), nil
}
