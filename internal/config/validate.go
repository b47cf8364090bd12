package config

import (
	"errors"
	"fmt"
)

var (
	validEngines = map[string]struct{}{"sadtalker": {}, "liveportrait": {}}
	validDevices = map[string]struct{}{"": {}, "mps": {}, "cuda": {}, "cpu": {}}
	validPresets = map[string]struct{}{
		"ultrafast": {}, "superfast": {}, "veryfast": {}, "faster": {}, "fast": {},
		"medium": {}, "slow": {}, "slower": {}, "veryslow": {},
	}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngines(); err != nil {
		return err
	}
	if err := c.validateDevice(); err != nil {
		return err
	}
	if err := c.validateMatting(); err != nil {
		return err
	}
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEngines() error {
	if _, ok := validEngines[c.Engines.Default]; !ok {
		return fmt.Errorf("engines.default must be sadtalker or liveportrait, got %q", c.Engines.Default)
	}
	return nil
}

func (c *Config) validateDevice() error {
	if _, ok := validDevices[c.Device.Preferred]; !ok {
		return fmt.Errorf("device.preferred must be mps, cuda, cpu, or empty for auto-detect, got %q", c.Device.Preferred)
	}
	return nil
}

func (c *Config) validateMatting() error {
	if c.Matting.ChromaTolerance <= 0 || c.Matting.ChromaTolerance > 1 {
		return errors.New("matting.chroma_tolerance must be in (0, 1]")
	}
	if c.Matting.ChromaSoftness < 0 || c.Matting.ChromaSoftness > 1 {
		return errors.New("matting.chroma_softness must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateRecording() error {
	if err := ensurePositiveMap(map[string]int{
		"recording.sample_rate":      c.Recording.SampleRate,
		"recording.default_duration": c.Recording.DefaultDuration,
	}); err != nil {
		return err
	}
	if c.Recording.Channels != 1 && c.Recording.Channels != 2 {
		return errors.New("recording.channels must be 1 or 2")
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.CRF < 0 || c.Encoding.CRF > 51 {
		return errors.New("encoding.crf must be between 0 and 51")
	}
	if _, ok := validPresets[c.Encoding.Preset]; !ok {
		return fmt.Errorf("encoding.preset %q is not an x264 preset", c.Encoding.Preset)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
