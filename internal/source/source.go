package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"avatarreel/internal/artifact"
	"avatarreel/internal/config"
	"avatarreel/internal/logging"
	"avatarreel/internal/media/ffprobe"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

const (
	voiceFileName   = "voice.wav"
	drivingFileName = "driving.mp4"
	webcamFrameRate = 25
)

type commandRunner func(ctx context.Context, name string, args ...string) error

type probeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Source records or loads the media a run starts from.
type Source struct {
	logger      *slog.Logger
	ffmpeg      string
	ffprobe     string
	sampleRate  int
	channels    int
	inputDevice string
	videoDevice string
	goos        string
	run         commandRunner
	probe       probeFunc
}

// New builds a Source from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Source {
	return &Source{
		logger:      logging.NewComponentLogger(logger, "source"),
		ffmpeg:      cfg.FFmpegBinary(),
		ffprobe:     cfg.FFprobeBinary(),
		sampleRate:  cfg.Recording.SampleRate,
		channels:    cfg.Recording.Channels,
		inputDevice: cfg.Recording.InputDevice,
		videoDevice: cfg.Recording.VideoDevice,
		goos:        runtime.GOOS,
		run:         defaultCommandRunner,
		probe:       ffprobe.Inspect,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (s *Source) WithCommandRunner(r commandRunner) {
	if s != nil && r != nil {
		s.run = r
	}
}

// Capture records duration of audio from the default input device into dir
// as a mono 16-bit WAV. It blocks for the whole duration.
func (s *Source) Capture(ctx context.Context, duration time.Duration, dir string) (artifact.Audio, error) {
	const op = "capture audio"
	if duration <= 0 {
		return artifact.Audio{}, services.Wrap(services.ErrInvalidConfig, string(stage.Audio), op, "recording duration must be positive", nil)
	}
	format, device, err := s.audioInput()
	if err != nil {
		return artifact.Audio{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Audio), op, "no audio input backend", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return artifact.Audio{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Audio), op, "create recording directory", err)
	}
	out := filepath.Join(dir, voiceFileName)

	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-f", format, "-i", device,
		"-t", formatSeconds(duration),
		"-ac", strconv.Itoa(s.channels),
		"-ar", strconv.Itoa(s.sampleRate),
		"-c:a", "pcm_s16le",
		out,
	}

	s.logger.Info("recording audio",
		logging.String(logging.FieldEventType, "audio_capture_start"),
		logging.String("backend", format),
		logging.String("device", device),
		logging.Duration("duration", duration),
	)
	if err := s.run(ctx, s.ffmpeg, args...); err != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return artifact.Audio{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Audio), op, "recording cancelled", ctx.Err())
		}
		return artifact.Audio{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Audio), op, "audio input device unavailable", err)
	}

	audio, err := s.inspectAudio(ctx, out)
	if err != nil {
		return artifact.Audio{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Audio), op, "no audio was recorded", err)
	}
	s.logger.Info("audio recorded",
		logging.String(logging.FieldEventType, "audio_capture_complete"),
		logging.String("path", audio.Path),
		logging.Duration("duration", audio.Duration),
	)
	return audio, nil
}

// Load validates an existing audio file.
func (s *Source) Load(ctx context.Context, path string) (artifact.Audio, error) {
	const op = "load audio"
	path, err := checkExists(path)
	if err != nil {
		return artifact.Audio{}, services.Wrap(missingMarker(err), string(stage.Audio), op, "audio file not found", err)
	}
	audio, err := s.inspectAudio(ctx, path)
	if err != nil {
		return artifact.Audio{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Audio), op, "audio file is not readable", err)
	}
	s.logger.Debug("audio loaded",
		logging.String("path", audio.Path),
		logging.Int("sample_rate", audio.SampleRate),
		logging.Int("channels", audio.Channels),
		logging.Duration("duration", audio.Duration),
	)
	return audio, nil
}

// RecordDriving captures duration of webcam video into dir for use as a
// LivePortrait driving video.
func (s *Source) RecordDriving(ctx context.Context, duration time.Duration, dir string) (artifact.DrivingVideo, error) {
	const op = "record driving video"
	if duration <= 0 {
		return artifact.DrivingVideo{}, services.Wrap(services.ErrInvalidConfig, string(stage.Animate), op, "recording duration must be positive", nil)
	}
	format, device, err := s.videoInput()
	if err != nil {
		return artifact.DrivingVideo{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Animate), op, "no video input backend", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return artifact.DrivingVideo{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Animate), op, "create recording directory", err)
	}
	out := filepath.Join(dir, drivingFileName)

	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-f", format, "-framerate", strconv.Itoa(webcamFrameRate), "-i", device,
		"-t", formatSeconds(duration),
		"-an", "-c:v", "libx264", "-pix_fmt", "yuv420p",
		out,
	}

	s.logger.Info("recording webcam",
		logging.String(logging.FieldEventType, "webcam_capture_start"),
		logging.String("backend", format),
		logging.String("device", device),
		logging.Duration("duration", duration),
	)
	if err := s.run(ctx, s.ffmpeg, args...); err != nil {
		_ = os.Remove(out)
		return artifact.DrivingVideo{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Animate), op, "cannot open webcam", err)
	}
	driving, err := s.inspectVideo(ctx, out)
	if err != nil {
		return artifact.DrivingVideo{}, services.Wrap(services.ErrDeviceUnavailable, string(stage.Animate), op, "no video was recorded", err)
	}
	return driving, nil
}

// LoadDriving validates an existing driving video.
func (s *Source) LoadDriving(ctx context.Context, path string) (artifact.DrivingVideo, error) {
	const op = "load driving video"
	path, err := checkExists(path)
	if err != nil {
		return artifact.DrivingVideo{}, services.Wrap(missingMarker(err), string(stage.Animate), op, "driving video not found", err)
	}
	driving, err := s.inspectVideo(ctx, path)
	if err != nil {
		return artifact.DrivingVideo{}, services.Wrap(services.ErrUnsupportedFormat, string(stage.Animate), op, "driving video is not readable", err)
	}
	return driving, nil
}

func (s *Source) inspectAudio(ctx context.Context, path string) (artifact.Audio, error) {
	result, err := s.probe(ctx, s.ffprobe, path)
	if err != nil {
		return artifact.Audio{}, err
	}
	stream, ok := result.AudioStream()
	if !ok {
		return artifact.Audio{}, errors.New("no audio stream")
	}
	seconds := result.DurationSeconds()
	if seconds <= 0 {
		return artifact.Audio{}, errors.New("audio has no duration")
	}
	return artifact.Audio{
		Path:       path,
		SampleRate: stream.SampleRateHz(),
		Channels:   stream.Channels,
		Duration:   time.Duration(seconds * float64(time.Second)),
	}, nil
}

func (s *Source) inspectVideo(ctx context.Context, path string) (artifact.DrivingVideo, error) {
	result, err := s.probe(ctx, s.ffprobe, path)
	if err != nil {
		return artifact.DrivingVideo{}, err
	}
	stream, ok := result.VideoStream()
	if !ok {
		return artifact.DrivingVideo{}, errors.New("no video stream")
	}
	seconds := result.DurationSeconds()
	if seconds <= 0 {
		return artifact.DrivingVideo{}, errors.New("video has no duration")
	}
	return artifact.DrivingVideo{
		Path:     path,
		Duration: time.Duration(seconds * float64(time.Second)),
		FPS:      stream.FrameRate(),
	}, nil
}

func (s *Source) audioInput() (format, device string, err error) {
	switch s.goos {
	case "darwin":
		device = s.inputDevice
		if device == "" {
			device = ":0"
		}
		return "avfoundation", device, nil
	case "linux":
		device = s.inputDevice
		if device == "" {
			device = "default"
		}
		return "pulse", device, nil
	default:
		return "", "", fmt.Errorf("audio capture is not supported on %s", s.goos)
	}
}

func (s *Source) videoInput() (format, device string, err error) {
	switch s.goos {
	case "darwin":
		device = s.videoDevice
		if device == "" {
			device = "0"
		}
		return "avfoundation", device, nil
	case "linux":
		device = s.videoDevice
		if device == "" {
			device = "/dev/video0"
		}
		return "v4l2", device, nil
	default:
		return "", "", fmt.Errorf("webcam capture is not supported on %s", s.goos)
	}
}

func checkExists(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty path: %w", fs.ErrNotExist)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

func missingMarker(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return services.ErrNotFound
	}
	return services.ErrUnsupportedFormat
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
