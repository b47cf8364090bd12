package encoding

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"avatarreel/internal/artifact"
	"avatarreel/internal/media/ffprobe"
	"avatarreel/internal/services"
	"avatarreel/internal/testsupport"
)

const probeJSON = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1080, "height": 1920, "avg_frame_rate": "25/1", "duration": "2.000000"},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "44100", "channels": 1, "duration": "2.010000"}
  ],
  "format": {"duration": "2.010000", "size": "4096"}
}`

func sequence(t *testing.T, frames int) artifact.CompositedSequence {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "composited")
	seq := artifact.CompositedSequence{Dir: dir, Pattern: "frame_%06d.png", Frames: frames, FPS: 25, Width: 1080, Height: 1920}
	for i := 0; i < frames; i++ {
		testsupport.WriteFile(t, seq.FramePath(i), 8)
	}
	return seq
}

func voice(d time.Duration) artifact.Audio {
	return artifact.Audio{Path: "/tmp/voice.wav", SampleRate: 44100, Channels: 1, Duration: d}
}

func stubEncoder(t *testing.T, probeOut string, runErr error) (*Encoder, *[]string) {
	t.Helper()
	var captured []string
	e := New(Settings{}, nil)
	e.run = func(_ context.Context, name string, args []string, onLine func(string)) error {
		captured = append([]string{name}, args...)
		if runErr != nil {
			return runErr
		}
		dest := args[len(args)-1]
		if err := os.WriteFile(dest, []byte("mp4"), 0o644); err != nil {
			return err
		}
		for _, line := range []string{"frame=25", "speed=2.0x", "progress=continue", "frame=50", "progress=end"} {
			onLine(line)
		}
		return nil
	}
	e.probe = func(context.Context, string, string) (ffprobe.Result, error) {
		return ffprobe.Parse([]byte(probeOut))
	}
	return e, &captured
}

func TestEncodeBuildsMuxCommandAndVerifies(t *testing.T) {
	seq := sequence(t, 50)
	var updates []Progress
	e, captured := stubEncoder(t, probeJSON, nil)
	e.progress = func(p Progress) { updates = append(updates, p) }

	dest := filepath.Join(t.TempDir(), "out", "final.mp4")
	out, err := e.Encode(context.Background(), seq, voice(2*time.Second), dest)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out.Path != dest || out.Frames != 50 {
		t.Fatalf("unexpected output %+v", out)
	}
	if out.SizeBytes != 3 {
		t.Fatalf("size = %d, want 3", out.SizeBytes)
	}

	args := strings.Join(*captured, " ")
	for _, want := range []string{
		"-framerate 25",
		"-start_number 1",
		"-i " + filepath.Join(seq.Dir, "frame_%06d.png"),
		"-i /tmp/voice.wav",
		"-c:v libx264",
		"-pix_fmt yuv420p",
		"-c:a aac",
		"-b:a 192k",
		"-crf 18",
		"-movflags +faststart",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("ffmpeg args missing %q: %s", want, args)
		}
	}

	if len(updates) != 2 {
		t.Fatalf("expected 2 progress updates, got %d", len(updates))
	}
	if updates[0].Percent != 50 || updates[0].Speed != 2 {
		t.Fatalf("unexpected first update %+v", updates[0])
	}
	if !updates[1].Done || updates[1].Percent != 100 {
		t.Fatalf("unexpected final update %+v", updates[1])
	}
}

func TestEncodeRejectsDurationMismatchBeforeRunning(t *testing.T) {
	seq := sequence(t, 50)
	e, captured := stubEncoder(t, probeJSON, nil)

	_, err := e.Encode(context.Background(), seq, voice(2100*time.Millisecond), filepath.Join(t.TempDir(), "final.mp4"))
	if !errors.Is(err, services.ErrEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if services.StageOf(err) != "encode" {
		t.Fatalf("stage = %q, want encode", services.StageOf(err))
	}
	if len(*captured) != 0 {
		t.Fatal("ffmpeg should not run on mismatched durations")
	}
}

func TestEncodeAcceptsDriftWithinOneFrame(t *testing.T) {
	seq := sequence(t, 50)
	e, _ := stubEncoder(t, probeJSON, nil)

	if _, err := e.Encode(context.Background(), seq, voice(2030*time.Millisecond), filepath.Join(t.TempDir(), "final.mp4")); err != nil {
		t.Fatalf("Encode: %v", err)
	}
}

func TestEncodeRemovesPartialOnFailure(t *testing.T) {
	seq := sequence(t, 50)
	dest := filepath.Join(t.TempDir(), "final.mp4")
	e, _ := stubEncoder(t, probeJSON, nil)
	e.run = func(_ context.Context, _ string, args []string, _ func(string)) error {
		_ = os.WriteFile(args[len(args)-1], []byte("half"), 0o644)
		return errors.New("boom")
	}

	_, err := e.Encode(context.Background(), seq, voice(2*time.Second), dest)
	if !errors.Is(err, services.ErrEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("partial output should be removed, stat err = %v", statErr)
	}
}

func TestEncodeFailsVerificationOnWrongGeometry(t *testing.T) {
	seq := sequence(t, 50)
	dest := filepath.Join(t.TempDir(), "final.mp4")
	bad := strings.Replace(probeJSON, `"width": 1080`, `"width": 720`, 1)
	e, _ := stubEncoder(t, bad, nil)

	_, err := e.Encode(context.Background(), seq, voice(2*time.Second), dest)
	if !errors.Is(err, services.ErrEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if !strings.Contains(err.Error(), "resolution 720x1920") {
		t.Fatalf("error should name the resolution, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("unverified output should be removed")
	}
}

func TestEncodeMissingFrames(t *testing.T) {
	seq := artifact.CompositedSequence{Dir: t.TempDir(), Pattern: "frame_%06d.png", Frames: 50, FPS: 25, Width: 1080, Height: 1920}
	e, _ := stubEncoder(t, probeJSON, nil)
	_, err := e.Encode(context.Background(), seq, voice(2*time.Second), filepath.Join(t.TempDir(), "final.mp4"))
	if !errors.Is(err, services.ErrEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
}

func TestEncodeWithStubbedBinaries(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "ffmpeg.log")
	probePath := filepath.Join(dir, "probe.json")
	if err := os.WriteFile(probePath, []byte(probeJSON), 0o644); err != nil {
		t.Fatalf("write probe: %v", err)
	}
	testsupport.StubBinaries(t, map[string]string{
		"ffmpeg": testsupport.ArgsLogScript(logPath,
			"for last; do :; done\nprintf 'mp4' > \"$last\"\nprintf 'frame=50\\nprogress=end\\n'"),
		"ffprobe": "#!/bin/sh\ncat \"" + probePath + "\"\n",
	})

	seq := sequence(t, 50)
	dest := filepath.Join(dir, "final.mp4")
	out, err := New(Settings{}, nil).Encode(context.Background(), seq, voice(2*time.Second), dest)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out.Duration != 2010*time.Millisecond {
		t.Fatalf("duration = %s", out.Duration)
	}
	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(logged), "-progress pipe:1") {
		t.Fatalf("ffmpeg not asked for progress: %s", logged)
	}
}

func TestCheckAlignment(t *testing.T) {
	seq := artifact.CompositedSequence{Frames: 250, FPS: 25}
	cases := []struct {
		name    string
		audio   time.Duration
		wantErr bool
	}{
		{"exact", 10 * time.Second, false},
		{"within one frame", 10*time.Second + 39*time.Millisecond, false},
		{"short audio within one frame", 10*time.Second - 40*time.Millisecond, false},
		{"beyond one frame", 10*time.Second + 81*time.Millisecond, true},
		{"unknown audio", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckAlignment(seq, artifact.Audio{Duration: tc.audio})
			if (err != nil) != tc.wantErr {
				t.Fatalf("CheckAlignment err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestProgressParser(t *testing.T) {
	p := newProgressParser(100)
	var got []Progress
	for _, line := range []string{"frame=10", "out_time_us=400000", "speed=1.5x", "progress=continue", "bogus", "frame=100", "progress=end"} {
		if update, ok := p.feed(line); ok {
			got = append(got, update)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if got[0].Percent != 10 || got[0].OutTime != 400*time.Millisecond || got[0].Speed != 1.5 {
		t.Fatalf("unexpected first snapshot %+v", got[0])
	}
	if !got[1].Done {
		t.Fatal("final snapshot should be done")
	}
}

func TestProgressMessageText(t *testing.T) {
	msg := progressMessageText(Progress{Percent: 42.5, Speed: 3}, 95*time.Second)
	if msg != "Encoding 42.5% (ETA 1m35s, @ 3.0x)" {
		t.Fatalf("unexpected message %q", msg)
	}
	if got := formatETA(0); got != "" {
		t.Fatalf("formatETA(0) = %q", got)
	}
	if got := formatETA(time.Hour + 5*time.Second); got != "1h0m5s" {
		t.Fatalf("formatETA(1h5s) = %q", got)
	}
}
