package animation

import (
	"context"
	"os"
	"path/filepath"

	"avatarreel/internal/artifact"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

type sadTalker struct {
	runner
}

func (e *sadTalker) Kind() Kind { return SadTalker }

func (e *sadTalker) CheckModels() error { return e.checkModels(SadTalker) }

// Animate runs audio-driven synthesis. A driving video is a caller error.
func (e *sadTalker) Animate(ctx context.Context, req Request) (artifact.RawClip, error) {
	if req.Driving != nil {
		return artifact.RawClip{}, services.Wrap(services.ErrInvalidConfig, string(stage.Animate), "animate",
			"sadtalker is audio-driven and does not accept a driving video", nil)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return artifact.RawClip{}, services.Wrap(services.ErrInference, string(stage.Animate), "animate",
			"create result directory", err)
	}
	if err := e.execute(ctx, SadTalker, e.args(req), nil); err != nil {
		return artifact.RawClip{}, err
	}
	return e.collect(ctx, SadTalker, req.OutputDir, req.Audio)
}

func (e *sadTalker) args(req Request) []string {
	return []string{
		"--driven_audio", absPath(req.Audio.Path),
		"--source_image", absPath(req.Portrait.Path),
		"--result_dir", absPath(req.OutputDir),
		"--still",
		"--preprocess", "full",
		"--enhancer", "gfpgan",
		"--device", string(req.Device),
	}
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

