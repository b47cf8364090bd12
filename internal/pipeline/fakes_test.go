package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"avatarreel/internal/animation"
	"avatarreel/internal/artifact"
	"avatarreel/internal/config"
	"avatarreel/internal/device"
	"avatarreel/internal/encoding"
	"avatarreel/internal/history"
	"avatarreel/internal/matting"
	"avatarreel/internal/notifications"
	"avatarreel/internal/stage"
)

// calls records the order in which collaborators were invoked.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, name)
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

type fakeSource struct {
	calls      *calls
	audio      artifact.Audio
	loadErr    error
	captureErr error
	// drivingLength overrides the length LoadDriving reports.
	drivingLength time.Duration

	mu       sync.Mutex
	recorded []time.Duration
}

func (f *fakeSource) Capture(_ context.Context, d time.Duration, dir string) (artifact.Audio, error) {
	f.calls.add("capture")
	if f.captureErr != nil {
		return artifact.Audio{}, f.captureErr
	}
	audio := f.audio
	audio.Path = filepath.Join(dir, "voice.wav")
	audio.Duration = d
	return audio, nil
}

func (f *fakeSource) Load(_ context.Context, path string) (artifact.Audio, error) {
	f.calls.add("load")
	if f.loadErr != nil {
		return artifact.Audio{}, f.loadErr
	}
	audio := f.audio
	audio.Path = path
	return audio, nil
}

func (f *fakeSource) RecordDriving(_ context.Context, d time.Duration, dir string) (artifact.DrivingVideo, error) {
	f.calls.add("record-driving")
	f.mu.Lock()
	f.recorded = append(f.recorded, d)
	f.mu.Unlock()
	return artifact.DrivingVideo{Path: filepath.Join(dir, "driving.mp4"), Duration: d, FPS: 25}, nil
}

func (f *fakeSource) LoadDriving(_ context.Context, path string) (artifact.DrivingVideo, error) {
	f.calls.add("load-driving")
	length := f.drivingLength
	if length == 0 {
		length = 2 * time.Second
	}
	return artifact.DrivingVideo{Path: path, Duration: length, FPS: 25}, nil
}

func (f *fakeSource) recordedDurations() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.recorded...)
}

type fakeEngine struct {
	calls    *calls
	kind     animation.Kind
	modelErr error
	err      error
	frames   int

	mu      sync.Mutex
	request animation.Request
}

func (f *fakeEngine) Kind() animation.Kind { return f.kind }

func (f *fakeEngine) lastRequest() animation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.request
}

func (f *fakeEngine) CheckModels() error {
	f.calls.add("check-engine")
	return f.modelErr
}

func (f *fakeEngine) Animate(_ context.Context, req animation.Request) (artifact.RawClip, error) {
	f.calls.add("animate")
	f.mu.Lock()
	f.request = req
	f.mu.Unlock()
	if f.err != nil {
		return artifact.RawClip{}, f.err
	}
	return artifact.RawClip{
		Path:      filepath.Join(req.OutputDir, "clip.mp4"),
		FPS:       25,
		Frames:    f.frames,
		Width:     256,
		Height:    256,
		Duration:  time.Duration(f.frames) * 40 * time.Millisecond,
		AudioPath: req.Audio.Path,
	}, nil
}

type fakeMatte struct {
	calls *calls
	mode  matting.Mode
	err   error
}

func (f *fakeMatte) Mode() matting.Mode { return f.mode }

func (f *fakeMatte) CheckModels() error {
	f.calls.add("check-matte")
	return nil
}

func (f *fakeMatte) Separate(_ context.Context, clip artifact.RawClip, workdir string) (artifact.MaskedSequence, error) {
	f.calls.add("separate")
	if f.err != nil {
		return artifact.MaskedSequence{}, f.err
	}
	seq := artifact.MaskedSequence{Mode: f.mode, FPS: clip.FPS, Width: clip.Width, Height: clip.Height}
	for i := 0; i < clip.Frames; i++ {
		seq.Frames = append(seq.Frames, artifact.MaskedFrame{
			Path: filepath.Join(workdir, "frames", fmt.Sprintf("frame_%06d.png", i+1)),
			Mask: artifact.Opaque{},
		})
	}
	return seq, nil
}

type fakeCompositor struct {
	calls *calls
	bg    artifact.Background
	err   error
}

func (f *fakeCompositor) Composite(_ context.Context, seq artifact.MaskedSequence, bg artifact.Background, outDir string) (artifact.CompositedSequence, error) {
	f.calls.add("composite")
	f.bg = bg
	if f.err != nil {
		return artifact.CompositedSequence{}, f.err
	}
	return artifact.CompositedSequence{
		Dir: outDir, Pattern: "frame_%06d.png", Frames: len(seq.Frames), FPS: seq.FPS, Width: 1080, Height: 1920,
	}, nil
}

type fakeEncoder struct {
	calls *calls
	err   error
}

func (f *fakeEncoder) Encode(_ context.Context, seq artifact.CompositedSequence, audio artifact.Audio, dest string) (encoding.Output, error) {
	f.calls.add("encode")
	if f.err != nil {
		return encoding.Output{}, f.err
	}
	if err := os.WriteFile(dest, []byte("mp4"), 0o644); err != nil {
		return encoding.Output{}, err
	}
	return encoding.Output{Path: dest, Duration: audio.Duration, SizeBytes: 3, Frames: seq.Frames}, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []history.Run
	finished []history.Run
}

func (f *fakeRecorder) Start(_ context.Context, run *history.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, *run)
	return nil
}

func (f *fakeRecorder) Finish(_ context.Context, run *history.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, *run)
	return nil
}

func (f *fakeRecorder) runs() (started, finished []history.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]history.Run(nil), f.started...), append([]history.Run(nil), f.finished...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []notifications.RunSummary
	failed    []notifications.RunSummary
}

func (f *fakeNotifier) NotifyRunCompleted(_ context.Context, run notifications.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, run)
	return nil
}

func (f *fakeNotifier) NotifyRunFailed(_ context.Context, run notifications.RunSummary, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, run)
	return nil
}

func (f *fakeNotifier) summaries() (completed, failed []notifications.RunSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifications.RunSummary(nil), f.completed...), append([]notifications.RunSummary(nil), f.failed...)
}

func (f *fakeNotifier) TestNotification(context.Context) error { return nil }

type fakeLease struct {
	calls *calls
}

func (f *fakeLease) Release() error {
	f.calls.add("release-lease")
	return nil
}

type fakeProber map[device.Kind]error

func (f fakeProber) Probe(_ context.Context, kind device.Kind) error {
	if err, ok := f[kind]; ok {
		return err
	}
	return fmt.Errorf("%s absent", kind)
}

// harness bundles an Orchestrator wired to fakes.
type harness struct {
	orch       *Orchestrator
	calls      *calls
	source     *fakeSource
	engine     *fakeEngine
	matte      *fakeMatte
	compositor *fakeCompositor
	encoder    *fakeEncoder
	recorder   *fakeRecorder
	notifier   *fakeNotifier

	mu      sync.Mutex
	reports []stage.Report
}

func (h *harness) observe(r stage.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
}

func (h *harness) observed() []stage.Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]stage.Report(nil), h.reports...)
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	c := &calls{}
	h := &harness{
		calls:      c,
		source:     &fakeSource{calls: c, audio: artifact.Audio{SampleRate: 44100, Channels: 1, Duration: 2 * time.Second}},
		engine:     &fakeEngine{calls: c, kind: animation.SadTalker, frames: 50},
		matte:      &fakeMatte{calls: c, mode: matting.ChromaKey},
		compositor: &fakeCompositor{calls: c},
		encoder:    &fakeEncoder{calls: c},
		recorder:   &fakeRecorder{},
		notifier:   &fakeNotifier{},
	}
	h.orch = New(cfg, nil,
		WithRecorder(h.recorder),
		WithNotifier(h.notifier),
		WithStageObserver(h.observe),
	)
	h.orch.source = h.source
	h.orch.newEngine = func(kind animation.Kind, _ animation.Settings, _ *slog.Logger) (animation.Engine, error) {
		c.add("new-engine")
		h.engine.kind = kind
		return h.engine, nil
	}
	h.orch.newMatting = func(mode matting.Mode, _ matting.Settings, _ *slog.Logger) (matting.Stage, error) {
		c.add("new-matte")
		h.matte.mode = mode
		return h.matte, nil
	}
	h.orch.compositor = h.compositor
	h.orch.encoder = h.encoder
	h.orch.lease = func(context.Context, string, device.Kind) (releaser, error) {
		c.add("acquire-lease")
		return &fakeLease{calls: c}, nil
	}
	return h
}
