package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"avatarreel/internal/artifact"
	"avatarreel/internal/config"
	"avatarreel/internal/device"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

const timestampLayout = "20060102_150405"

// now is replaced in tests to pin default output names.
var now = time.Now

// Options carries the raw values of the run command's flags.
type Options struct {
	Avatar       string
	Audio        string
	RecordAudio  bool
	Driving      string
	RecordWebcam bool
	// Duration applies to live recording. When DurationSet is false the
	// configured default is used.
	Duration    time.Duration
	DurationSet bool
	Background  string
	Engine      string
	BgColor     string
	NoBgRemoval bool
	Device      string
	Output      string
	KeepWorkdir bool
	Overwrite   bool

	SadTalkerDir    string
	LivePortraitDir string
}

// Resolve validates opts against cfg and builds the run configuration. Flag
// errors are reported before any file is touched; then the avatar and
// background are checked, the destination is checked, and the device is
// resolved last because probing it may start external tools.
func Resolve(ctx context.Context, opts Options, cfg *config.Config, prober device.Prober) (artifact.PipelineConfig, error) {
	if cfg == nil {
		return artifact.PipelineConfig{}, invalid("load configuration", "configuration is required", nil)
	}
	pc := artifact.PipelineConfig{
		WorkRoot:        cfg.Paths.WorkDir,
		ChromaTolerance: cfg.Matting.ChromaTolerance,
		ChromaSoftness:  cfg.Matting.ChromaSoftness,
		SadTalkerDir:    firstNonEmpty(opts.SadTalkerDir, cfg.Engines.SadTalkerDir),
		LivePortraitDir: firstNonEmpty(opts.LivePortraitDir, cfg.Engines.LivePortraitDir),
		Overwrite:       opts.Overwrite || cfg.Output.Overwrite,
		KeepWorkdir:     opts.KeepWorkdir || cfg.Output.KeepWorkdir,
	}

	if err := resolveFlags(opts, cfg, &pc); err != nil {
		return artifact.PipelineConfig{}, err
	}

	avatar, err := loadPortrait(opts.Avatar)
	if err != nil {
		return artifact.PipelineConfig{}, err
	}
	avatar.KeyColor = pc.KeyColor
	pc.Avatar = avatar

	if pc.Background, err = resolveBackground(opts.Background); err != nil {
		return artifact.PipelineConfig{}, err
	}

	if pc.OutputPath, err = resolveOutput(opts.Output, cfg, pc.Overwrite); err != nil {
		return artifact.PipelineConfig{}, err
	}

	if pc.SadTalkerDir, err = absPath(pc.SadTalkerDir); err != nil {
		return artifact.PipelineConfig{}, invalid("resolve engines", "sadtalker directory", err)
	}
	if pc.LivePortraitDir, err = absPath(pc.LivePortraitDir); err != nil {
		return artifact.PipelineConfig{}, invalid("resolve engines", "liveportrait directory", err)
	}

	requested := firstNonEmpty(opts.Device, cfg.Device.Preferred)
	if pc.Device, err = device.Resolve(ctx, requested, prober); err != nil {
		return artifact.PipelineConfig{}, err
	}
	return pc, nil
}

func resolveFlags(opts Options, cfg *config.Config, pc *artifact.PipelineConfig) error {
	if strings.TrimSpace(opts.Avatar) == "" {
		return invalid("validate flags", "--avatar is required", nil)
	}

	audio := strings.TrimSpace(opts.Audio)
	switch {
	case audio == "" && !opts.RecordAudio:
		return invalid("validate flags", "one of --audio or --record-audio is required", nil)
	case audio != "" && opts.RecordAudio:
		return invalid("validate flags", "--audio and --record-audio are mutually exclusive", nil)
	}
	pc.AudioPath = audio
	pc.RecordAudio = opts.RecordAudio
	if audio != "" {
		abs, err := filepath.Abs(audio)
		if err != nil {
			return invalid("validate flags", "audio path", err)
		}
		pc.AudioPath = abs
	}

	engineName := firstNonEmpty(opts.Engine, cfg.Engines.Default)
	engine, err := artifact.ParseEngineKind(engineName)
	if err != nil {
		return invalid("validate flags", "unsupported engine", err)
	}
	pc.Engine = engine

	driving := strings.TrimSpace(opts.Driving)
	hasDriving := driving != "" || opts.RecordWebcam
	switch engine {
	case artifact.EngineLivePortrait:
		if !hasDriving {
			return invalid("validate flags", "liveportrait needs a driving video (--driving or --record-webcam)", nil)
		}
		if driving != "" && opts.RecordWebcam {
			return invalid("validate flags", "--driving and --record-webcam are mutually exclusive", nil)
		}
	case artifact.EngineSadTalker:
		if hasDriving {
			return invalid("validate flags", "sadtalker is audio-driven and does not take a driving video", nil)
		}
	}
	pc.RecordWebcam = opts.RecordWebcam
	if driving != "" {
		abs, err := filepath.Abs(driving)
		if err != nil {
			return invalid("validate flags", "driving path", err)
		}
		pc.DrivingPath = abs
	}

	bgColor := strings.TrimSpace(opts.BgColor)
	switch {
	case bgColor != "" && opts.NoBgRemoval:
		return invalid("validate flags", "--bg-color and --no-bg-removal are contradictory", nil)
	case bgColor != "" && strings.TrimSpace(opts.Background) == "":
		return invalid("validate flags", "--bg-color requires --bg", nil)
	case bgColor != "":
		key, err := artifact.ParseKeyColor(bgColor)
		if err != nil {
			return invalid("validate flags", "invalid --bg-color", err)
		}
		pc.KeyColor = &key
		pc.Matting = artifact.MatteChromaKey
	case opts.NoBgRemoval:
		pc.Matting = artifact.MattePassthrough
	default:
		pc.Matting = artifact.MatteAI
	}

	recording := opts.RecordAudio || opts.RecordWebcam
	if recording && opts.DurationSet && opts.Duration <= 0 {
		return invalid("validate flags", "--duration must be positive when recording", nil)
	}
	// A webcam take next to a voice file keeps RecordDuration zero and is
	// recorded for the length of the voice clip.
	switch {
	case recording && opts.DurationSet:
		pc.RecordDuration = opts.Duration
	case opts.RecordAudio:
		pc.RecordDuration = time.Duration(cfg.Recording.DefaultDuration) * time.Second
	}
	return nil
}

func loadPortrait(path string) (artifact.Portrait, error) {
	const op = "load avatar"
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return artifact.Portrait{}, invalid(op, "avatar path", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return artifact.Portrait{}, services.Wrap(missingMarker(err), string(stage.Config), op, "avatar image not found", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return artifact.Portrait{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Config), op,
			"avatar must be a PNG or JPEG image", err)
	}
	if format != "png" && format != "jpeg" {
		return artifact.Portrait{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Config), op,
			fmt.Sprintf("avatar format %q is not PNG or JPEG", format), nil)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return artifact.Portrait{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Config), op, "avatar has no pixels", nil)
	}
	return artifact.Portrait{Path: abs, Width: cfg.Width, Height: cfg.Height}, nil
}

func resolveBackground(path string) (artifact.Background, error) {
	const op = "load background"
	path = strings.TrimSpace(path)
	if path == "" {
		return artifact.Background{Kind: artifact.BackgroundNone}, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return artifact.Background{}, invalid(op, "background path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return artifact.Background{}, services.Wrap(missingMarker(err), string(stage.Config), op, "background not found", err)
	}
	if info.IsDir() {
		return artifact.Background{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Config), op, "background is a directory", nil)
	}
	bg, err := artifact.ClassifyBackground(abs)
	if err != nil {
		return artifact.Background{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Config), op, "unsupported background", err)
	}
	return bg, nil
}

// DefaultOutputPath names an output file after the configured prefix and t.
func DefaultOutputPath(cfg *config.Config, t time.Time) string {
	name := fmt.Sprintf("%s_%s.mp4", cfg.Output.FilenamePrefix, t.Format(timestampLayout))
	return filepath.Join(cfg.Paths.OutputDir, name)
}

func resolveOutput(output string, cfg *config.Config, overwrite bool) (string, error) {
	const op = "resolve output"
	output = strings.TrimSpace(output)
	if output == "" {
		output = DefaultOutputPath(cfg, now())
	} else if expanded, err := config.ExpandPath(output); err == nil {
		output = expanded
	}
	abs, err := filepath.Abs(output)
	if err != nil {
		return "", invalid(op, "output path", err)
	}
	info, err := os.Stat(abs)
	switch {
	case err == nil && info.IsDir():
		return "", invalid(op, fmt.Sprintf("output %s is a directory", abs), nil)
	case err == nil && !overwrite:
		return "", invalid(op, fmt.Sprintf("output %s already exists (use --overwrite)", abs), nil)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", invalid(op, "output path is not accessible", err)
	}
	return abs, nil
}

func invalid(operation, message string, err error) error {
	return services.Wrap(services.ErrInvalidConfig, string(stage.Config), operation, message, err)
}

func missingMarker(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return services.ErrNotFound
	}
	return services.ErrUnsupportedFormat
}

func absPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	return filepath.Abs(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
