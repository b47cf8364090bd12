package artifact

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EngineKind selects the talking-head synthesis engine.
type EngineKind string

const (
	EngineSadTalker    EngineKind = "sadtalker"
	EngineLivePortrait EngineKind = "liveportrait"
)

// ParseEngineKind validates a user supplied engine name.
func ParseEngineKind(value string) (EngineKind, error) {
	switch kind := EngineKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case EngineSadTalker, EngineLivePortrait:
		return kind, nil
	default:
		return "", fmt.Errorf("engine must be sadtalker or liveportrait, got %q", value)
	}
}

// DeviceKind names the compute device model inference runs on.
type DeviceKind string

const (
	DeviceMPS  DeviceKind = "mps"
	DeviceCUDA DeviceKind = "cuda"
	DeviceCPU  DeviceKind = "cpu"
)

// MatteMode selects how the subject is separated from its background.
type MatteMode string

const (
	MatteAI          MatteMode = "ai"
	MatteChromaKey   MatteMode = "chromakey"
	MattePassthrough MatteMode = "passthrough"
)

// Audio is a voice clip ready to drive animation and to be muxed into the
// final video.
type Audio struct {
	Path       string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Portrait is the still image that gets animated.
type Portrait struct {
	Path   string
	Width  int
	Height int
	// KeyColor is set when the portrait sits on a flat backdrop that should
	// be keyed out.
	KeyColor *color.NRGBA
}

// DrivingVideo is a reference performance whose head motion LivePortrait
// transfers onto the portrait.
type DrivingVideo struct {
	Path     string
	Duration time.Duration
	FPS      float64
}

// RawClip is the animated portrait as produced by an engine, before any
// background removal. AudioPath names the voice track that belongs to it.
type RawClip struct {
	Path      string
	FPS       float64
	Frames    int
	Width     int
	Height    int
	Duration  time.Duration
	AudioPath string
}

// FrameInterval converts a frame rate into the duration of one frame.
func FrameInterval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// FramesForDuration returns how many frames at fps cover d, rounded to the
// nearest frame.
func FramesForDuration(d time.Duration, fps float64) int {
	if d <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * fps))
}

// BackgroundKind distinguishes still and moving backgrounds.
type BackgroundKind string

const (
	BackgroundNone  BackgroundKind = "none"
	BackgroundImage BackgroundKind = "image"
	BackgroundVideo BackgroundKind = "video"
)

var (
	imageExtensions = map[string]struct{}{".png": {}, ".jpg": {}, ".jpeg": {}}
	videoExtensions = map[string]struct{}{".mp4": {}, ".mov": {}, ".avi": {}, ".webm": {}}
)

// Background is what replaces the portrait's original backdrop.
type Background struct {
	Kind BackgroundKind
	Path string
}

// ClassifyBackground derives the background kind from the file extension.
// An empty path yields BackgroundNone.
func ClassifyBackground(path string) (Background, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Background{Kind: BackgroundNone}, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := videoExtensions[ext]; ok {
		return Background{Kind: BackgroundVideo, Path: path}, nil
	}
	if _, ok := imageExtensions[ext]; ok {
		return Background{Kind: BackgroundImage, Path: path}, nil
	}
	return Background{}, fmt.Errorf("background %q: unsupported extension %q", path, ext)
}

// ParseKeyColor parses a six digit hex color such as "00ff00" or "#00FF00".
func ParseKeyColor(value string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("key color %q must be six hex digits", value)
	}
	parsed, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("key color %q must be six hex digits", value)
	}
	return color.NRGBA{
		R: uint8(parsed >> 16),
		G: uint8(parsed >> 8),
		B: uint8(parsed),
		A: 0xff,
	}, nil
}

// FormatKeyColor renders c as lowercase six digit hex.
func FormatKeyColor(c color.NRGBA) string {
	return fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
}
