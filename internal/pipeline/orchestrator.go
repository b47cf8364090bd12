package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"avatarreel/internal/animation"
	"avatarreel/internal/artifact"
	"avatarreel/internal/compositor"
	"avatarreel/internal/config"
	"avatarreel/internal/encoding"
	"avatarreel/internal/history"
	"avatarreel/internal/logging"
	"avatarreel/internal/matting"
	"avatarreel/internal/notifications"
	"avatarreel/internal/services"
	"avatarreel/internal/source"
	"avatarreel/internal/stage"
)

const (
	workdirPrefix = "avatarreel_"
	encodedName   = "final.mp4"

	// fallbackFrameRate sizes the driving length tolerance when the probe
	// reported no frame rate.
	fallbackFrameRate = 25
)

// ProgressFunc reports frame progress for the composite and encode stages.
type ProgressFunc func(name stage.Name, done, total int)

// StageObserver is told about every stage transition.
type StageObserver func(report stage.Report)

// Recorder persists run outcomes.
type Recorder interface {
	Start(ctx context.Context, run *history.Run) error
	Finish(ctx context.Context, run *history.Run) error
}

type audioSource interface {
	Capture(ctx context.Context, duration time.Duration, dir string) (artifact.Audio, error)
	Load(ctx context.Context, path string) (artifact.Audio, error)
	RecordDriving(ctx context.Context, duration time.Duration, dir string) (artifact.DrivingVideo, error)
	LoadDriving(ctx context.Context, path string) (artifact.DrivingVideo, error)
}

type frameCompositor interface {
	Composite(ctx context.Context, seq artifact.MaskedSequence, bg artifact.Background, outDir string) (artifact.CompositedSequence, error)
}

type videoEncoder interface {
	Encode(ctx context.Context, seq artifact.CompositedSequence, audio artifact.Audio, dest string) (encoding.Output, error)
}

type (
	engineFactory  func(kind animation.Kind, settings animation.Settings, logger *slog.Logger) (animation.Engine, error)
	mattingFactory func(mode matting.Mode, settings matting.Settings, logger *slog.Logger) (matting.Stage, error)
)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every run in the history store.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithNotifier announces finished runs.
func WithNotifier(n notifications.Service) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithProgress receives per-frame progress.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithStageObserver receives stage start and finish reports.
func WithStageObserver(fn StageObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// Orchestrator runs the stages of one video at a time. Separate runs use
// separate Orchestrators or sequential calls; nothing is shared between runs
// except the configuration.
type Orchestrator struct {
	cfg      *config.Config
	logger   *slog.Logger
	recorder Recorder
	notifier notifications.Service
	progress ProgressFunc
	observer StageObserver

	source     audioSource
	newEngine  engineFactory
	newMatting mattingFactory
	compositor frameCompositor
	encoder    videoEncoder
	lease      leaseFunc
}

// New builds an Orchestrator wired to the real stage implementations.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		notifier:   notifications.NewService(cfg),
		newEngine:  animation.New,
		newMatting: matting.New,
		lease:      acquireLease,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.source = source.New(cfg, logger)
	o.compositor = compositor.New(compositor.Settings{
		FFmpeg: cfg.FFmpegBinary(),
		Progress: func(done, total int) {
			o.reportProgress(stage.Composite, done, total)
		},
	}, logger)
	o.encoder = encoding.New(encoding.Settings{
		FFmpeg:       cfg.FFmpegBinary(),
		FFprobe:      cfg.FFprobeBinary(),
		CRF:          cfg.Encoding.CRF,
		Preset:       cfg.Encoding.Preset,
		AudioBitrate: cfg.Encoding.AudioBitrate,
		Progress: func(p encoding.Progress) {
			o.reportProgress(stage.Encode, p.Frame, p.Total)
		},
	}, logger)
	return o
}

// run carries the artifacts handed from stage to stage.
type run struct {
	id        string
	pc        artifact.PipelineConfig
	workdir   string
	engine    animation.Engine
	matte     matting.Stage
	audio     artifact.Audio
	driving   *artifact.DrivingVideo
	clip      artifact.RawClip
	masked    artifact.MaskedSequence
	composed  artifact.CompositedSequence
	encoded   encoding.Output
	leaseHeld releaser
}

// Run executes every stage for pc. On failure the returned result still
// carries the run id, workdir and per-stage reports.
func (o *Orchestrator) Run(ctx context.Context, pc artifact.PipelineConfig) (artifact.RunResult, error) {
	started := time.Now()
	state := &run{id: uuid.NewString(), pc: pc}
	ctx = services.WithRunID(ctx, state.id)
	ctx = services.WithEngine(ctx, string(pc.Engine))
	logger := logging.WithContext(ctx, o.logger)

	result := artifact.RunResult{
		RunID:   state.id,
		Engine:  pc.Engine,
		Device:  pc.Device,
		Matting: pc.Matting,
		Stages:  stage.NewReports(),
		Started: started,
	}

	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("avatar", pc.Avatar.Path),
		logging.String("matting", string(pc.Matting)),
		logging.String("device", string(pc.Device)),
		logging.String("background", string(pc.Background.Kind)),
		logging.String("output", pc.OutputPath),
	)
	if pc.Matting == artifact.MattePassthrough && pc.Background.Kind != artifact.BackgroundNone {
		logger.Warn("background ignored without background removal",
			logging.String("background", pc.Background.Path),
		)
	}

	o.recordStart(ctx, logger, state, started)

	if err := o.dispatch(ctx, state); err != nil {
		skipFrom(result.Stages, 0)
		return o.finish(ctx, logger, state, result, err)
	}

	workdir, err := makeWorkdir(pc.WorkRoot, started)
	if err != nil {
		skipFrom(result.Stages, 0)
		return o.finish(ctx, logger, state, result,
			services.Wrap(services.ErrInvalidConfig, string(stage.Config), "create workdir", "work directory is not writable", err))
	}
	state.workdir = workdir
	result.Workdir = workdir

	steps := []struct {
		name stage.Name
		fn   func(context.Context, *slog.Logger, *run) error
	}{
		{stage.Audio, o.runAudio},
		{stage.Animate, o.runAnimate},
		{stage.Matte, o.runMatte},
		{stage.Composite, o.runComposite},
		{stage.Encode, o.runEncode},
	}
	defer state.releaseLease(logger)

	for i, step := range steps {
		report := &result.Stages[i]
		if err := o.executeStage(ctx, logger, state, step.name, report, step.fn); err != nil {
			skipFrom(result.Stages, i+1)
			state.releaseLease(logger)
			return o.finish(ctx, logger, state, result, err)
		}
	}
	return o.finish(ctx, logger, state, result, nil)
}

// dispatch picks the engine and matting variants and checks their models
// before any stage runs.
func (o *Orchestrator) dispatch(ctx context.Context, state *run) error {
	pc := state.pc
	engine, err := o.newEngine(pc.Engine, animation.Settings{
		Python:          o.cfg.Engines.Python,
		SadTalkerDir:    pc.SadTalkerDir,
		LivePortraitDir: pc.LivePortraitDir,
		FFprobe:         o.cfg.FFprobeBinary(),
	}, logging.WithContext(ctx, o.logger))
	if err != nil {
		return err
	}
	matte, err := o.newMatting(pc.Matting, matting.Settings{
		FFmpeg:             o.cfg.FFmpegBinary(),
		SegmentationBinary: o.cfg.Matting.SegmentationBinary,
		SegmentationModel:  o.cfg.Matting.SegmentationModel,
		KeyColor:           pc.KeyColor,
		Tolerance:          pc.ChromaTolerance,
		Softness:           pc.ChromaSoftness,
	}, logging.WithContext(ctx, o.logger))
	if err != nil {
		return err
	}
	if err := engine.CheckModels(); err != nil {
		return err
	}
	if err := matte.CheckModels(); err != nil {
		return err
	}
	state.engine = engine
	state.matte = matte
	return nil
}

func (o *Orchestrator) executeStage(ctx context.Context, logger *slog.Logger, state *run, name stage.Name, report *stage.Report, fn func(context.Context, *slog.Logger, *run) error) error {
	stageCtx := services.WithStage(ctx, string(name))
	stageLogger := logging.WithContext(stageCtx, o.logger)

	report.Started = time.Now()
	stageLogger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	o.observe(*report)

	err := fn(stageCtx, stageLogger, state)
	report.Duration = time.Since(report.Started)
	if err != nil {
		err = tagStageError(name, err)
		details := services.Details(err)
		report.Status = stage.StatusFailed
		report.Detail = details.Message
		stageLogger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String(logging.FieldErrorKind, details.Kind),
			logging.String("error_operation", details.Operation),
			logging.Duration("elapsed", report.Duration),
			logging.Error(err),
		)
		o.observe(*report)
		return err
	}

	report.Status = stage.StatusCompleted
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", report.Duration),
	)
	o.observe(*report)
	return nil
}

func (o *Orchestrator) runAudio(ctx context.Context, logger *slog.Logger, state *run) error {
	var err error
	if state.pc.RecordAudio {
		logger.Info("recording voice", logging.Duration("duration", state.pc.RecordDuration))
		state.audio, err = o.source.Capture(ctx, state.pc.RecordDuration, filepath.Join(state.workdir, "audio"))
	} else {
		state.audio, err = o.source.Load(ctx, state.pc.AudioPath)
	}
	if err != nil {
		return err
	}
	logger.Info("voice ready",
		logging.String("path", state.audio.Path),
		logging.Duration("duration", state.audio.Duration),
		logging.Int("sample_rate", state.audio.SampleRate),
	)
	return nil
}

func (o *Orchestrator) runAnimate(ctx context.Context, logger *slog.Logger, state *run) error {
	pc := state.pc
	switch {
	case pc.RecordWebcam:
		duration := pc.RecordDuration
		if duration <= 0 {
			duration = state.audio.Duration
		}
		logger.Info("recording driving video", logging.Duration("duration", duration))
		driving, err := o.source.RecordDriving(ctx, duration, filepath.Join(state.workdir, "driving"))
		if err != nil {
			return err
		}
		state.driving = &driving
	case pc.DrivingPath != "":
		driving, err := o.source.LoadDriving(ctx, pc.DrivingPath)
		if err != nil {
			return err
		}
		state.driving = &driving
	}
	if state.driving != nil {
		if err := checkDrivingLength(*state.driving, state.audio); err != nil {
			return services.Wrap(services.ErrInvalidConfig, string(stage.Animate), "check driving video",
				"driving video and voice clip lengths differ", err)
		}
	}

	if err := o.holdLease(ctx, logger, state); err != nil {
		return err
	}

	clip, err := state.engine.Animate(ctx, animation.Request{
		Portrait:  pc.Avatar,
		Audio:     state.audio,
		Driving:   state.driving,
		Device:    pc.Device,
		OutputDir: filepath.Join(state.workdir, "animation"),
	})
	if err != nil {
		return err
	}
	state.clip = clip
	logger.Info("clip animated",
		logging.String("clip", clip.Path),
		logging.Int("frames", clip.Frames),
		logging.Int("expected_frames", artifact.FramesForDuration(state.audio.Duration, clip.FPS)),
		logging.Float64("fps", clip.FPS),
		logging.Int("width", clip.Width),
		logging.Int("height", clip.Height),
	)
	return nil
}

// checkDrivingLength rejects a driving video whose length differs from the
// voice clip by more than one frame, since the clip follows the driving video.
func checkDrivingLength(driving artifact.DrivingVideo, audio artifact.Audio) error {
	if driving.Duration <= 0 || audio.Duration <= 0 {
		return nil
	}
	fps := driving.FPS
	if fps <= 0 {
		fps = fallbackFrameRate
	}
	limit := artifact.FrameInterval(fps)
	drift := driving.Duration - audio.Duration
	if drift < 0 {
		drift = -drift
	}
	if drift > limit {
		return fmt.Errorf("driving %s vs audio %s differs by %s (limit %s)",
			driving.Duration.Round(time.Millisecond), audio.Duration.Round(time.Millisecond),
			drift.Round(time.Millisecond), limit.Round(time.Millisecond))
	}
	return nil
}

func (o *Orchestrator) runMatte(ctx context.Context, logger *slog.Logger, state *run) error {
	seq, err := state.matte.Separate(ctx, state.clip, filepath.Join(state.workdir, "matte"))
	state.releaseLease(logger)
	if err != nil {
		return err
	}
	state.masked = seq
	logger.Info("frames separated",
		logging.String("mode", string(seq.Mode)),
		logging.Int("frames", len(seq.Frames)),
	)
	return nil
}

func (o *Orchestrator) runComposite(ctx context.Context, _ *slog.Logger, state *run) error {
	seq, err := o.compositor.Composite(ctx, state.masked, state.pc.Background, filepath.Join(state.workdir, "composited"))
	if err != nil {
		return err
	}
	state.composed = seq
	return nil
}

func (o *Orchestrator) runEncode(ctx context.Context, logger *slog.Logger, state *run) error {
	const op = "encode video"
	if err := encoding.CheckAlignment(state.composed, state.audio); err != nil {
		return services.Wrap(services.ErrEncoding, string(stage.Encode), op, "composited frames do not cover the audio", err)
	}
	out, err := o.encoder.Encode(ctx, state.composed, state.audio, filepath.Join(state.workdir, encodedName))
	if err != nil {
		return err
	}
	state.encoded = out

	if err := promote(out.Path, state.pc.OutputPath, state.pc.Overwrite); err != nil {
		return err
	}
	logger.Info("output promoted",
		logging.String(logging.FieldEventType, "output_promoted"),
		logging.String("output", state.pc.OutputPath),
	)
	return nil
}

// finish fills in the result, records and announces the outcome, and
// removes the workdir after a success unless it should be kept.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, state *run, result artifact.RunResult, runErr error) (artifact.RunResult, error) {
	result.Duration = time.Since(result.Started)
	bg := context.WithoutCancel(ctx)

	if runErr != nil {
		details := services.Details(runErr)
		logger.Error("run failed",
			logging.String(logging.FieldEventType, "run_failure"),
			logging.String("failed_stage", details.Stage),
			logging.String(logging.FieldErrorKind, details.Kind),
			logging.String("workdir", state.workdir),
			logging.Duration("elapsed", result.Duration),
			logging.Error(runErr),
		)
		o.recordFinish(bg, logger, state, result, runErr)
		if err := o.notifier.NotifyRunFailed(bg, o.summary(state, result, runErr), runErr); err != nil {
			logger.Warn("failure notification not sent", logging.Error(err))
		}
		return result, runErr
	}

	result.OutputPath = state.pc.OutputPath
	result.Frames = state.composed.Frames
	result.FPS = state.composed.FPS
	result.MediaDuration = state.encoded.Duration
	result.SizeBytes = state.encoded.SizeBytes

	if state.pc.KeepWorkdir {
		logger.Info("workdir kept", logging.String("workdir", state.workdir))
	} else if err := os.RemoveAll(state.workdir); err != nil {
		logger.Warn("workdir cleanup failed", logging.String("workdir", state.workdir), logging.Error(err))
	}

	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("output", result.OutputPath),
		logging.Int("frames", result.Frames),
		logging.Duration("media_duration", result.MediaDuration),
		logging.Duration("elapsed", result.Duration),
	)
	o.recordFinish(bg, logger, state, result, nil)
	if err := o.notifier.NotifyRunCompleted(bg, o.summary(state, result, nil)); err != nil {
		logger.Warn("completion notification not sent", logging.Error(err))
	}
	return result, nil
}

func (o *Orchestrator) summary(state *run, result artifact.RunResult, runErr error) notifications.RunSummary {
	return notifications.RunSummary{
		RunID:     state.id,
		Engine:    string(state.pc.Engine),
		Output:    result.OutputPath,
		Stage:     services.StageOf(runErr),
		ErrorKind: services.KindName(runErr),
		Media:     result.MediaDuration,
		Elapsed:   result.Duration,
		SizeBytes: result.SizeBytes,
	}
}

func (o *Orchestrator) observe(report stage.Report) {
	if o.observer != nil {
		o.observer(report)
	}
}

func (o *Orchestrator) reportProgress(name stage.Name, done, total int) {
	if o.progress != nil {
		o.progress(name, done, total)
	}
}

func skipFrom(reports []stage.Report, start int) {
	for i := start; i < len(reports); i++ {
		reports[i].Status = stage.StatusSkipped
	}
}

func makeWorkdir(root string, started time.Time) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(root, workdirPrefix+started.Format(timestampLayout)+"_")
}

// stageDefaults maps each stage to the kind reported when a collaborator
// returns an untagged error.
var stageDefaults = map[stage.Name]error{
	stage.Audio:     services.ErrUnsupportedFormat,
	stage.Animate:   services.ErrInference,
	stage.Matte:     services.ErrInference,
	stage.Composite: services.ErrUnsupportedFormat,
	stage.Encode:    services.ErrEncoding,
}

func tagStageError(name stage.Name, err error) error {
	var stageErr *services.StageError
	if errors.As(err, &stageErr) {
		return err
	}
	marker := services.Marker(err)
	if marker == nil {
		marker = stageDefaults[name]
	}
	return services.Wrap(marker, string(name), "", fmt.Sprintf("%s failed", name), err)
}
