package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	WorkDir   string `toml:"work_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// Output controls how finished videos are named and promoted.
type Output struct {
	FilenamePrefix string `toml:"filename_prefix"`
	Overwrite      bool   `toml:"overwrite"`
	KeepWorkdir    bool   `toml:"keep_workdir"`
}

// Engines locates the talking-head engines and the interpreter that runs them.
type Engines struct {
	Default         string `toml:"default"`
	Python          string `toml:"python"`
	SadTalkerDir    string `toml:"sadtalker_dir"`
	LivePortraitDir string `toml:"liveportrait_dir"`
}

// Device contains compute device selection settings.
type Device struct {
	// Preferred is used when no --device flag is given. Empty means auto-detect.
	Preferred string `toml:"preferred"`
	// ExclusiveLease serializes inference stages of concurrent runs that
	// resolved to the same device.
	ExclusiveLease bool `toml:"exclusive_lease"`
}

// Matting contains background-removal settings.
type Matting struct {
	SegmentationBinary string `toml:"segmentation_binary"`
	SegmentationModel  string `toml:"segmentation_model"`
	// ChromaTolerance is the normalized RGB distance (0..1) at or below which a
	// pixel is treated as key-colored background.
	ChromaTolerance float64 `toml:"chroma_tolerance"`
	// ChromaSoftness is the normalized distance band above the tolerance over
	// which alpha ramps from transparent to opaque.
	ChromaSoftness float64 `toml:"chroma_softness"`
}

// Recording contains live capture settings for audio and webcam sources.
type Recording struct {
	SampleRate      int    `toml:"sample_rate"`
	Channels        int    `toml:"channels"`
	InputDevice     string `toml:"input_device"`
	VideoDevice     string `toml:"video_device"`
	DefaultDuration int    `toml:"default_duration"`
}

// Encoding contains final mux settings.
type Encoding struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	CRF           int    `toml:"crf"`
	Preset        string `toml:"preset"`
	AudioBitrate  string `toml:"audio_bitrate"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunCompleted   bool   `toml:"run_completed"`
	RunFailed      bool   `toml:"run_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for avatarreel.
//
// Configuration sections by subsystem:
//   - Paths: output, scratch, state and log directories
//   - Output: naming and promotion of finished videos
//   - Engines: SadTalker / LivePortrait checkouts and python interpreter
//   - Device: compute device preference and exclusive leasing
//   - Matting: segmentation tool and chroma-key thresholds
//   - Recording: microphone and webcam capture
//   - Encoding: ffmpeg/ffprobe binaries and H.264/AAC settings
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Output        Output        `toml:"output"`
	Engines       Engines       `toml:"engines"`
	Device        Device        `toml:"device"`
	Matting       Matting       `toml:"matting"`
	Recording     Recording     `toml:"recording"`
	Encoding      Encoding      `toml:"encoding"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("avatarreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.WorkDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for capture, frame
// extraction, and encoding.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Encoding.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Encoding.FFprobeBinary); bin != "" {
		return bin
	}
	return "ffprobe"
}

// HistoryPath returns the run history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LogFile returns the path of the persistent log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.Paths.LogDir, "avatarreel.log")
}

// LockDir returns the directory holding device lease lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the resolved configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
