package encoding

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"avatarreel/internal/artifact"
	"avatarreel/internal/logging"
	"avatarreel/internal/media/ffprobe"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

const (
	videoCodec = "libx264"
	audioCodec = "aac"
	pixelFmt   = "yuv420p"

	stderrTailLines = 20
)

// Settings configures an Encoder.
type Settings struct {
	FFmpeg       string
	FFprobe      string
	CRF          int
	Preset       string
	AudioBitrate string
	Progress     ProgressFunc
}

// Output describes a verified encode.
type Output struct {
	Path      string
	Duration  time.Duration
	SizeBytes int64
	Frames    int
}

type lineRunner func(ctx context.Context, name string, args []string, onLine func(string)) error

type probeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Encoder produces the final MP4 with ffmpeg.
type Encoder struct {
	logger       *slog.Logger
	ffmpeg       string
	ffprobe      string
	crf          int
	preset       string
	audioBitrate string
	progress     ProgressFunc
	run          lineRunner
	probe        probeFunc
}

// New constructs an Encoder. Zero settings fall back to ffmpeg defaults
// suited to short vertical clips.
func New(settings Settings, logger *slog.Logger) *Encoder {
	e := &Encoder{
		logger:       logging.NewComponentLogger(logger, "encoder"),
		ffmpeg:       strings.TrimSpace(settings.FFmpeg),
		ffprobe:      strings.TrimSpace(settings.FFprobe),
		crf:          settings.CRF,
		preset:       strings.TrimSpace(settings.Preset),
		audioBitrate: strings.TrimSpace(settings.AudioBitrate),
		progress:     settings.Progress,
		run:          defaultLineRunner,
		probe:        ffprobe.Inspect,
	}
	if e.ffmpeg == "" {
		e.ffmpeg = "ffmpeg"
	}
	if e.ffprobe == "" {
		e.ffprobe = "ffprobe"
	}
	if e.crf <= 0 {
		e.crf = 18
	}
	if e.preset == "" {
		e.preset = "medium"
	}
	if e.audioBitrate == "" {
		e.audioBitrate = "192k"
	}
	return e
}

// Encode muxes seq with audio into dest. dest is removed again if ffmpeg
// fails or the result does not verify.
func (e *Encoder) Encode(ctx context.Context, seq artifact.CompositedSequence, audio artifact.Audio, dest string) (Output, error) {
	const op = "encode video"
	encodeStage := string(stage.Encode)

	if err := CheckAlignment(seq, audio); err != nil {
		return Output{}, services.Wrap(services.ErrEncoding, encodeStage, op, "frame count does not match audio duration", err)
	}
	if strings.TrimSpace(dest) == "" {
		return Output{}, services.Wrap(services.ErrEncoding, encodeStage, op, "destination path is empty", nil)
	}
	if _, err := os.Stat(seq.FramePath(0)); err != nil {
		return Output{}, services.Wrap(services.ErrEncoding, encodeStage, op, "first composited frame missing", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Output{}, services.Wrap(services.ErrEncoding, encodeStage, op, "create output directory", err)
	}

	args := e.buildArgs(seq, audio, dest)
	e.logger.Info("launching ffmpeg encode",
		logging.String(logging.FieldEventType, "encode_start"),
		logging.String("command", e.ffmpeg+" "+strings.Join(args, " ")),
		logging.Int("frames", seq.Frames),
		logging.Float64("fps", seq.FPS),
		logging.Duration("audio_duration", audio.Duration),
	)

	started := time.Now()
	parser := newProgressParser(seq.Frames)
	sampler := logging.NewProgressSampler(25)
	onLine := func(line string) {
		update, ok := parser.feed(line)
		if !ok {
			return
		}
		if e.progress != nil {
			e.progress(update)
		}
		if sampler.ShouldLog(update.Percent) {
			e.logger.Info(progressMessageText(update, eta(time.Since(started), update.Percent)),
				logging.String(logging.FieldEventType, "encode_progress"),
				logging.Int("frame", update.Frame),
				logging.Int("total", update.Total),
			)
		}
	}

	if err := e.run(ctx, e.ffmpeg, args, onLine); err != nil {
		removePartial(dest)
		return Output{}, services.Wrap(services.ErrEncoding, encodeStage, op, "ffmpeg failed", err)
	}

	probe, err := e.probe(ctx, e.ffprobe, dest)
	if err != nil {
		removePartial(dest)
		return Output{}, services.Wrap(services.ErrEncoding, encodeStage, "verify output", "ffprobe failed", err)
	}
	if err := verifyOutput(probe, seq, audio); err != nil {
		removePartial(dest)
		return Output{}, services.Wrap(services.ErrEncoding, encodeStage, "verify output", "encoded file failed verification", err)
	}

	out := Output{
		Path:     dest,
		Duration: time.Duration(probe.DurationSeconds() * float64(time.Second)).Round(time.Millisecond),
		Frames:   seq.Frames,
	}
	if info, err := os.Stat(dest); err == nil {
		out.SizeBytes = info.Size()
	}
	e.logger.Info("encode complete",
		logging.String(logging.FieldEventType, "encode_complete"),
		logging.String("output", dest),
		logging.Int64("size_bytes", out.SizeBytes),
		logging.Duration("duration", out.Duration),
		logging.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}

func (e *Encoder) buildArgs(seq artifact.CompositedSequence, audio artifact.Audio, dest string) []string {
	fps := strconv.FormatFloat(seq.FPS, 'f', -1, 64)
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-progress", "pipe:1", "-nostats",
		"-framerate", fps,
		"-start_number", "1",
		"-i", filepath.Join(seq.Dir, seq.Pattern),
		"-i", audio.Path,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", videoCodec,
		"-crf", strconv.Itoa(e.crf),
		"-preset", e.preset,
		"-pix_fmt", pixelFmt,
		"-r", fps,
		"-c:a", audioCodec,
		"-b:a", e.audioBitrate,
		"-movflags", "+faststart",
		dest,
	}
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = os.RemoveAll(path)
	}
}

func defaultLineRunner(ctx context.Context, name string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: stdout pipe: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: start: %w", name, err)
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String(), stderrTailLines))
	}
	if scanErr != nil {
		return fmt.Errorf("%s: read progress: %w", name, scanErr)
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
