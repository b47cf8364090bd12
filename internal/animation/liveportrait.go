package animation

import (
	"context"
	"os"

	"avatarreel/internal/artifact"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

type livePortrait struct {
	runner
}

func (e *livePortrait) Kind() Kind { return LivePortrait }

func (e *livePortrait) CheckModels() error { return e.checkModels(LivePortrait) }

// Animate transfers the driving video's motion onto the portrait and pairs
// the result with the request's voice clip.
func (e *livePortrait) Animate(ctx context.Context, req Request) (artifact.RawClip, error) {
	if req.Driving == nil {
		return artifact.RawClip{}, services.Wrap(services.ErrInvalidConfig, string(stage.Animate), "animate",
			"liveportrait requires a driving video", nil)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return artifact.RawClip{}, services.Wrap(services.ErrInference, string(stage.Animate), "animate",
			"create result directory", err)
	}
	if err := e.execute(ctx, LivePortrait, e.args(req), e.env(req)); err != nil {
		return artifact.RawClip{}, err
	}
	return e.collect(ctx, LivePortrait, req.OutputDir, req.Audio)
}

func (e *livePortrait) args(req Request) []string {
	args := []string{
		"-s", absPath(req.Portrait.Path),
		"-d", absPath(req.Driving.Path),
		"--output-dir", absPath(req.OutputDir),
	}
	if req.Device == artifact.DeviceCPU {
		args = append(args, "--flag-force-cpu")
	}
	return args
}

// Some LivePortrait ops have no MPS kernel; torch must be allowed to fall
// back to cpu for those.
func (e *livePortrait) env(req Request) []string {
	if req.Device == artifact.DeviceMPS {
		return []string{"PYTORCH_ENABLE_MPS_FALLBACK=1"}
	}
	return nil
}
