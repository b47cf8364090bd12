package animation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"avatarreel/internal/artifact"
	"avatarreel/internal/deps"
	"avatarreel/internal/logging"
	"avatarreel/internal/media/ffprobe"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

// Kind identifies an engine.
type Kind = artifact.EngineKind

const (
	SadTalker    = artifact.EngineSadTalker
	LivePortrait = artifact.EngineLivePortrait
)

// Request carries everything an engine needs for one clip.
type Request struct {
	Portrait  artifact.Portrait
	Audio     artifact.Audio
	Driving   *artifact.DrivingVideo
	Device    artifact.DeviceKind
	OutputDir string
}

// Engine animates a portrait into a raw clip.
type Engine interface {
	Kind() Kind
	// CheckModels reports ErrModelUnavailable when the checkout or any
	// required checkpoint is missing.
	CheckModels() error
	Animate(ctx context.Context, req Request) (artifact.RawClip, error)
}

// Settings locates the engine checkouts and helper binaries.
type Settings struct {
	Python          string
	SadTalkerDir    string
	LivePortraitDir string
	FFprobe         string
}

// New returns the engine for kind.
func New(kind Kind, settings Settings, logger *slog.Logger) (Engine, error) {
	python := strings.TrimSpace(settings.Python)
	if python == "" {
		python = "python3"
	}
	base := runner{
		python:  python,
		ffprobe: settings.FFprobe,
		run:     defaultCommandRunner,
		probe:   ffprobe.Inspect,
	}
	switch kind {
	case SadTalker:
		base.dir = settings.SadTalkerDir
		base.logger = logging.NewComponentLogger(logger, "sadtalker")
		return &sadTalker{runner: base}, nil
	case LivePortrait:
		base.dir = settings.LivePortraitDir
		base.logger = logging.NewComponentLogger(logger, "liveportrait")
		return &livePortrait{runner: base}, nil
	default:
		return nil, services.Wrap(services.ErrInvalidConfig, string(stage.Config), "select engine",
			fmt.Sprintf("unknown engine %q", kind), nil)
	}
}

// RequiredFiles lists the files, relative to the engine checkout, that must
// exist before the engine can run.
func RequiredFiles(kind Kind) []string {
	switch kind {
	case SadTalker:
		return []string{
			"inference.py",
			"checkpoints/SadTalker_V0.0.2_256.safetensors",
			"checkpoints/mapping_00229-model.pth.tar",
		}
	case LivePortrait:
		return []string{
			"inference.py",
			"pretrained_weights/liveportrait/base_models/appearance_feature_extractor.pth",
			"pretrained_weights/liveportrait/base_models/motion_extractor.pth",
			"pretrained_weights/liveportrait/base_models/spade_generator.pth",
			"pretrained_weights/liveportrait/base_models/warping_module.pth",
			"pretrained_weights/liveportrait/retargeting_models/stitching_retargeting_module.pth",
		}
	default:
		return nil
	}
}

// FileRequirements builds the dependency checks for an engine checkout.
func FileRequirements(kind Kind, dir string) []deps.FileRequirement {
	files := RequiredFiles(kind)
	reqs := make([]deps.FileRequirement, 0, len(files))
	for _, rel := range files {
		reqs = append(reqs, deps.FileRequirement{
			Name:     fmt.Sprintf("%s %s", kind, filepath.Base(rel)),
			Root:     dir,
			Relative: rel,
		})
	}
	return reqs
}

type command struct {
	Dir  string
	Name string
	Args []string
	Env  []string
}

type commandRunner func(ctx context.Context, cmd command) error

type probeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// runner holds what both engines share: the checkout, the interpreter, and
// output discovery.
type runner struct {
	logger  *slog.Logger
	python  string
	dir     string
	ffprobe string
	run     commandRunner
	probe   probeFunc
}

func (r *runner) checkModels(kind Kind) error {
	info, err := os.Stat(r.dir)
	if err != nil || !info.IsDir() {
		return services.Wrap(services.ErrModelUnavailable, string(stage.Animate), "check models",
			fmt.Sprintf("%s checkout not found at %s", kind, r.dir), err)
	}
	missing := deps.Missing(deps.CheckFiles(FileRequirements(kind, r.dir)))
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for _, status := range missing {
		names = append(names, status.Detail)
	}
	return services.Wrap(services.ErrModelUnavailable, string(stage.Animate), "check models",
		fmt.Sprintf("%s is missing files in %s", kind, r.dir), errors.New(strings.Join(names, "; ")))
}

func (r *runner) execute(ctx context.Context, kind Kind, args []string, env []string) error {
	script := filepath.Join(r.dir, "inference.py")
	cmd := command{
		Dir:  r.dir,
		Name: r.python,
		Args: append([]string{script}, args...),
		Env:  env,
	}
	started := time.Now()
	r.logger.Info("engine inference started",
		logging.String(logging.FieldEventType, "inference_start"),
		logging.String("engine", string(kind)),
		logging.String("dir", r.dir),
	)
	if err := r.run(ctx, cmd); err != nil {
		r.logger.Error("engine inference failed",
			logging.String(logging.FieldEventType, "inference_failed"),
			logging.String("engine", string(kind)),
			logging.Duration("elapsed", time.Since(started)),
			logging.Error(err),
		)
		return services.Wrap(services.ErrInference, string(stage.Animate), "run inference",
			fmt.Sprintf("%s inference failed", kind), err)
	}
	r.logger.Info("engine inference finished",
		logging.String(logging.FieldEventType, "inference_complete"),
		logging.String("engine", string(kind)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// collect locates the newest clip under dir and describes it.
func (r *runner) collect(ctx context.Context, kind Kind, dir string, audio artifact.Audio) (artifact.RawClip, error) {
	clipPath, err := newestVideo(dir)
	if err != nil {
		return artifact.RawClip{}, services.Wrap(services.ErrInference, string(stage.Animate), "collect output",
			fmt.Sprintf("%s produced no output video", kind), err)
	}
	result, err := r.probe(ctx, r.ffprobe, clipPath)
	if err != nil {
		return artifact.RawClip{}, services.Wrap(services.ErrInference, string(stage.Animate), "probe output",
			fmt.Sprintf("%s output is not readable", kind), err)
	}
	video, ok := result.VideoStream()
	if !ok || video.Width <= 0 || video.Height <= 0 {
		return artifact.RawClip{}, services.Wrap(services.ErrInference, string(stage.Animate), "probe output",
			fmt.Sprintf("%s output has no video stream", kind), nil)
	}
	fps := video.FrameRate()
	if fps <= 0 {
		return artifact.RawClip{}, services.Wrap(services.ErrInference, string(stage.Animate), "probe output",
			fmt.Sprintf("%s output has no frame rate", kind), nil)
	}
	seconds := result.DurationSeconds()
	return artifact.RawClip{
		Path:      clipPath,
		FPS:       fps,
		Frames:    video.FrameCount(seconds),
		Width:     video.Width,
		Height:    video.Height,
		Duration:  time.Duration(seconds * float64(time.Second)),
		AudioPath: audio.Path,
	}, nil
}

func newestVideo(dir string) (string, error) {
	var (
		best     string
		bestTime time.Time
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".mp4") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mod := info.ModTime()
		if best == "" || mod.After(bestTime) || (mod.Equal(bestTime) && path > best) {
			best, bestTime = path, mod
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", fmt.Errorf("no .mp4 under %s", dir)
	}
	return best, nil
}

const stderrTailLines = 20

func defaultCommandRunner(ctx context.Context, c command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(c.Name), err, tail(string(output), stderrTailLines))
	}
	return nil
}

func tail(output string, lines int) string {
	parts := strings.Split(strings.TrimSpace(output), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}
