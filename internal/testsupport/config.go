package testsupport

import (
	"path/filepath"
	"testing"

	"avatarreel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Engines.SadTalkerDir = filepath.Join(base, "engines", "SadTalker")
	cfgVal.Engines.LivePortraitDir = filepath.Join(base, "engines", "LivePortrait")
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithEngineCheckout creates a fake engine directory for the given engine
// containing the listed relative files.
func WithEngineCheckout(engine string, files ...string) ConfigOption {
	return func(b *configBuilder) {
		dir := b.cfg.Engines.SadTalkerDir
		if engine == "liveportrait" {
			dir = b.cfg.Engines.LivePortraitDir
		}
		for _, rel := range files {
			WriteFile(b.t, filepath.Join(dir, rel), 16)
		}
	}
}

// WithStubbedBinaries writes no-op stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "python3", "rembg"}
		}
		scripts := make(map[string]string, len(names))
		for _, name := range names {
			scripts[name] = "#!/bin/sh\nexit 0\n"
		}
		StubBinaries(b.t, scripts)
	}
}

// WithNtfyTopic points notifications at the provided topic URL.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
