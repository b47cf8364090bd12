package animation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"avatarreel/internal/artifact"
	"avatarreel/internal/services"
	"avatarreel/internal/testsupport"
)

const clipProbe = `#!/bin/sh
cat <<'JSON'
{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":512,"height":512,"avg_frame_rate":"25/1","nb_frames":"100"},
 {"index":1,"codec_type":"audio","codec_name":"aac","sample_rate":"16000","channels":1}],
 "format":{"duration":"4.000000","format_name":"mov,mp4"}}
JSON
`

func newEngine(t *testing.T, kind Kind) (Engine, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, string(kind))
	for _, rel := range RequiredFiles(kind) {
		testsupport.WriteFile(t, filepath.Join(dir, rel), 8)
	}
	engine, err := New(kind, Settings{
		Python:          "python3",
		SadTalkerDir:    dir,
		LivePortraitDir: dir,
		FFprobe:         "ffprobe",
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, dir
}

func withRunner(e Engine, r commandRunner) {
	switch typed := e.(type) {
	case *sadTalker:
		typed.run = r
	case *livePortrait:
		typed.run = r
	}
}

func writeClipRunner(record *command) commandRunner {
	return func(_ context.Context, c command) error {
		*record = c
		idx := slices.Index(c.Args, "--result_dir")
		if idx < 0 {
			idx = slices.Index(c.Args, "--output-dir")
		}
		out := c.Args[idx+1]
		nested := filepath.Join(out, "2024_01_01_00.00.00")
		if err := os.MkdirAll(nested, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(nested, "result.mp4"), []byte("mp4"), 0o644)
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(Kind("wav2lip"), Settings{}, nil)
	if !errors.Is(err, services.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCheckModels(t *testing.T) {
	for _, kind := range []Kind{SadTalker, LivePortrait} {
		t.Run(string(kind), func(t *testing.T) {
			engine, dir := newEngine(t, kind)
			if err := engine.CheckModels(); err != nil {
				t.Fatalf("CheckModels with full checkout: %v", err)
			}

			last := RequiredFiles(kind)[len(RequiredFiles(kind))-1]
			if err := os.Remove(filepath.Join(dir, last)); err != nil {
				t.Fatal(err)
			}
			err := engine.CheckModels()
			if !errors.Is(err, services.ErrModelUnavailable) {
				t.Fatalf("expected ErrModelUnavailable, got %v", err)
			}
			if !strings.Contains(err.Error(), filepath.Base(last)) {
				t.Fatalf("error should name the missing checkpoint: %v", err)
			}
		})
	}
}

func TestCheckModelsMissingCheckout(t *testing.T) {
	engine, err := New(SadTalker, Settings{SadTalkerDir: filepath.Join(t.TempDir(), "absent")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.CheckModels(); !errors.Is(err, services.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestSadTalkerAnimate(t *testing.T) {
	testsupport.StubBinaries(t, map[string]string{"ffprobe": clipProbe})
	engine, dir := newEngine(t, SadTalker)
	var got command
	withRunner(engine, writeClipRunner(&got))

	out := filepath.Join(t.TempDir(), "animated")
	clip, err := engine.Animate(context.Background(), Request{
		Portrait:  artifact.Portrait{Path: "/abs/avatar.png"},
		Audio:     artifact.Audio{Path: "/abs/voice.wav", Duration: 4 * time.Second},
		Device:    artifact.DeviceCUDA,
		OutputDir: out,
	})
	if err != nil {
		t.Fatalf("Animate: %v", err)
	}

	if got.Dir != dir || got.Name != "python3" {
		t.Fatalf("unexpected command %+v", got)
	}
	wantArgs := []string{
		filepath.Join(dir, "inference.py"),
		"--driven_audio", "/abs/voice.wav",
		"--source_image", "/abs/avatar.png",
		"--result_dir", out,
		"--still", "--preprocess", "full", "--enhancer", "gfpgan",
		"--device", "cuda",
	}
	if !slices.Equal(got.Args, wantArgs) {
		t.Fatalf("args = %v\nwant %v", got.Args, wantArgs)
	}
	if clip.FPS != 25 || clip.Frames != 100 || clip.Width != 512 || clip.AudioPath != "/abs/voice.wav" {
		t.Fatalf("unexpected clip %+v", clip)
	}
	if filepath.Base(clip.Path) != "result.mp4" {
		t.Fatalf("clip path = %q", clip.Path)
	}
}

func TestSadTalkerRejectsDriving(t *testing.T) {
	engine, _ := newEngine(t, SadTalker)
	called := false
	withRunner(engine, func(context.Context, command) error { called = true; return nil })
	_, err := engine.Animate(context.Background(), Request{
		Driving:   &artifact.DrivingVideo{Path: "d.mp4"},
		OutputDir: t.TempDir(),
	})
	if !errors.Is(err, services.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if called {
		t.Fatal("engine must not run")
	}
}

func TestLivePortraitRequiresDriving(t *testing.T) {
	engine, _ := newEngine(t, LivePortrait)
	called := false
	withRunner(engine, func(context.Context, command) error { called = true; return nil })
	_, err := engine.Animate(context.Background(), Request{OutputDir: t.TempDir()})
	if !errors.Is(err, services.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if called {
		t.Fatal("engine must not run without a driving video")
	}
}

func TestLivePortraitAnimateCPU(t *testing.T) {
	testsupport.StubBinaries(t, map[string]string{"ffprobe": clipProbe})
	engine, _ := newEngine(t, LivePortrait)
	var got command
	withRunner(engine, writeClipRunner(&got))

	clip, err := engine.Animate(context.Background(), Request{
		Portrait:  artifact.Portrait{Path: "/abs/avatar.png"},
		Audio:     artifact.Audio{Path: "/abs/voice.wav"},
		Driving:   &artifact.DrivingVideo{Path: "/abs/driving.mp4"},
		Device:    artifact.DeviceCPU,
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Animate: %v", err)
	}
	if !slices.Contains(got.Args, "--flag-force-cpu") {
		t.Fatalf("cpu run should force cpu: %v", got.Args)
	}
	if idx := slices.Index(got.Args, "-d"); idx < 0 || got.Args[idx+1] != "/abs/driving.mp4" {
		t.Fatalf("driving arg missing: %v", got.Args)
	}
	if clip.AudioPath != "/abs/voice.wav" {
		t.Fatalf("clip should carry the supplied voice track, got %q", clip.AudioPath)
	}
}

func TestLivePortraitMPSEnv(t *testing.T) {
	e := &livePortrait{}
	if env := e.env(Request{Device: artifact.DeviceMPS}); !slices.Contains(env, "PYTORCH_ENABLE_MPS_FALLBACK=1") {
		t.Fatalf("env = %v", env)
	}
	if env := e.env(Request{Device: artifact.DeviceCUDA}); len(env) != 0 {
		t.Fatalf("env = %v", env)
	}
}

func TestAnimateInferenceFailure(t *testing.T) {
	engine, _ := newEngine(t, SadTalker)
	withRunner(engine, func(context.Context, command) error {
		return errors.New("python3: exit status 1: CUDA out of memory")
	})
	_, err := engine.Animate(context.Background(), Request{OutputDir: t.TempDir()})
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
	if services.StageOf(err) != "animate" {
		t.Fatalf("stage = %q", services.StageOf(err))
	}
}

func TestAnimateNoOutput(t *testing.T) {
	engine, _ := newEngine(t, SadTalker)
	withRunner(engine, func(context.Context, command) error { return nil })
	_, err := engine.Animate(context.Background(), Request{OutputDir: t.TempDir()})
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestNewestVideoPrefersLatest(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a", "old.mp4")
	newer := filepath.Join(dir, "b", "new.mp4")
	testsupport.WriteFile(t, older, 4)
	testsupport.WriteFile(t, newer, 4)
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}
	got, err := newestVideo(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != newer {
		t.Fatalf("newestVideo = %q, want %q", got, newer)
	}
}

func TestDefaultCommandRunnerIncludesOutputTail(t *testing.T) {
	testsupport.StubBinaries(t, map[string]string{
		"failing-python": "#!/bin/sh\necho 'Traceback: boom'\nexit 3\n",
	})
	err := defaultCommandRunner(context.Background(), command{Dir: t.TempDir(), Name: "failing-python"})
	if err == nil || !strings.Contains(err.Error(), "Traceback: boom") {
		t.Fatalf("expected traceback in error, got %v", err)
	}
}
