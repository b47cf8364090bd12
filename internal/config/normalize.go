package config

import (
	"fmt"
	"os"
	"strings"

	"avatarreel/internal/fileutil"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEngines(); err != nil {
		return err
	}
	c.normalizeDevice()
	c.normalizeMatting()
	c.normalizeRecording()
	c.normalizeEncoding()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = os.TempDir()
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Output.FilenamePrefix = fileutil.SanitizeToken(c.Output.FilenamePrefix)
	if c.Output.FilenamePrefix == "" {
		c.Output.FilenamePrefix = defaultFilenamePrefix
	}
	return nil
}

func (c *Config) normalizeEngines() error {
	var err error
	c.Engines.Default = strings.ToLower(strings.TrimSpace(c.Engines.Default))
	if c.Engines.Default == "" {
		c.Engines.Default = defaultEngine
	}
	c.Engines.Python = strings.TrimSpace(c.Engines.Python)
	if c.Engines.Python == "" {
		c.Engines.Python = defaultPython
	}
	if strings.TrimSpace(c.Engines.SadTalkerDir) == "" {
		c.Engines.SadTalkerDir = defaultSadTalkerDir
	}
	if c.Engines.SadTalkerDir, err = expandPath(c.Engines.SadTalkerDir); err != nil {
		return fmt.Errorf("engines.sadtalker_dir: %w", err)
	}
	if strings.TrimSpace(c.Engines.LivePortraitDir) == "" {
		c.Engines.LivePortraitDir = defaultLivePortraitDir
	}
	if c.Engines.LivePortraitDir, err = expandPath(c.Engines.LivePortraitDir); err != nil {
		return fmt.Errorf("engines.liveportrait_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDevice() {
	c.Device.Preferred = strings.ToLower(strings.TrimSpace(c.Device.Preferred))
	if c.Device.Preferred == "" {
		if value, ok := os.LookupEnv("AVATARREEL_DEVICE"); ok {
			c.Device.Preferred = strings.ToLower(strings.TrimSpace(value))
		}
	}
	if c.Device.Preferred == "auto" {
		c.Device.Preferred = ""
	}
}

func (c *Config) normalizeMatting() {
	c.Matting.SegmentationBinary = strings.TrimSpace(c.Matting.SegmentationBinary)
	if c.Matting.SegmentationBinary == "" {
		c.Matting.SegmentationBinary = defaultSegmentationBin
	}
	c.Matting.SegmentationModel = strings.TrimSpace(c.Matting.SegmentationModel)
	if c.Matting.SegmentationModel == "" {
		c.Matting.SegmentationModel = defaultSegmentationName
	}
}

func (c *Config) normalizeRecording() {
	if c.Recording.SampleRate == 0 {
		c.Recording.SampleRate = defaultSampleRate
	}
	if c.Recording.Channels == 0 {
		c.Recording.Channels = defaultChannels
	}
	if c.Recording.DefaultDuration == 0 {
		c.Recording.DefaultDuration = defaultRecordSeconds
	}
	c.Recording.InputDevice = strings.TrimSpace(c.Recording.InputDevice)
	c.Recording.VideoDevice = strings.TrimSpace(c.Recording.VideoDevice)
}

func (c *Config) normalizeEncoding() {
	c.Encoding.FFmpegBinary = strings.TrimSpace(c.Encoding.FFmpegBinary)
	if c.Encoding.FFmpegBinary == "" {
		c.Encoding.FFmpegBinary = "ffmpeg"
	}
	c.Encoding.FFprobeBinary = strings.TrimSpace(c.Encoding.FFprobeBinary)
	if c.Encoding.FFprobeBinary == "" {
		c.Encoding.FFprobeBinary = "ffprobe"
	}
	c.Encoding.Preset = strings.ToLower(strings.TrimSpace(c.Encoding.Preset))
	if c.Encoding.Preset == "" {
		c.Encoding.Preset = defaultPreset
	}
	c.Encoding.AudioBitrate = strings.TrimSpace(c.Encoding.AudioBitrate)
	if c.Encoding.AudioBitrate == "" {
		c.Encoding.AudioBitrate = defaultAudioBitrate
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("AVATARREEL_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
