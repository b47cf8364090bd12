package config

const (
	defaultConfigPath       = "~/.config/avatarreel/config.toml"
	defaultOutputDir        = "output"
	defaultStateDir         = "~/.local/share/avatarreel"
	defaultLogDir           = "~/.local/share/avatarreel/logs"
	defaultFilenamePrefix   = "tiktok"
	defaultEngine           = "sadtalker"
	defaultPython           = "python3"
	defaultSadTalkerDir     = "engines/SadTalker"
	defaultLivePortraitDir  = "engines/LivePortrait"
	defaultSegmentationBin  = "rembg"
	defaultSegmentationName = "u2net_human_seg"
	defaultChromaTolerance  = 0.3
	defaultChromaSoftness   = 0.1
	defaultSampleRate       = 44100
	defaultChannels         = 1
	defaultRecordSeconds    = 25
	defaultCRF              = 18
	defaultPreset           = "medium"
	defaultAudioBitrate     = "192k"
	defaultNotifyTimeout    = 10
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
		},
		Output: Output{
			FilenamePrefix: defaultFilenamePrefix,
		},
		Engines: Engines{
			Default:         defaultEngine,
			Python:          defaultPython,
			SadTalkerDir:    defaultSadTalkerDir,
			LivePortraitDir: defaultLivePortraitDir,
		},
		Matting: Matting{
			SegmentationBinary: defaultSegmentationBin,
			SegmentationModel:  defaultSegmentationName,
			ChromaTolerance:    defaultChromaTolerance,
			ChromaSoftness:     defaultChromaSoftness,
		},
		Recording: Recording{
			SampleRate:      defaultSampleRate,
			Channels:        defaultChannels,
			DefaultDuration: defaultRecordSeconds,
		},
		Encoding: Encoding{
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
			CRF:           defaultCRF,
			Preset:        defaultPreset,
			AudioBitrate:  defaultAudioBitrate,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			RunCompleted:   true,
			RunFailed:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
