package artifact

import (
	"image/color"
	"time"

	"avatarreel/internal/stage"
)

// Duration returns the playback length of the sequence.
func (s CompositedSequence) Duration() time.Duration {
	if s.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(s.Frames) / s.FPS * float64(time.Second))
}

// PipelineConfig is the resolved, immutable description of one run. It is
// built once before any stage executes; stages receive copies.
type PipelineConfig struct {
	Engine  EngineKind
	Matting MatteMode
	Device  DeviceKind

	Avatar Portrait

	// Exactly one of AudioPath and RecordAudio is set.
	AudioPath   string
	RecordAudio bool

	// Driving source for LivePortrait; at most one is set.
	DrivingPath  string
	RecordWebcam bool

	// RecordDuration is zero when only the webcam is recorded and the take
	// should match the voice clip.
	RecordDuration time.Duration
	Background     Background

	KeyColor        *color.NRGBA
	ChromaTolerance float64
	ChromaSoftness  float64

	SadTalkerDir    string
	LivePortraitDir string

	WorkRoot    string
	OutputPath  string
	Overwrite   bool
	KeepWorkdir bool
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID      string
	OutputPath string
	Workdir    string
	Engine     EngineKind
	Device     DeviceKind
	Matting    MatteMode
	Stages     []stage.Report
	Started    time.Time
	Duration   time.Duration
	Frames     int
	FPS        float64
	// MediaDuration is the probed length of the encoded video.
	MediaDuration time.Duration
	SizeBytes     int64
}
