package preflight

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"avatarreel/internal/animation"
	"avatarreel/internal/config"
	"avatarreel/internal/deps"
	"avatarreel/internal/device"
)

// CheckNtfy verifies the ntfy server behind topicURL answers its health endpoint.
func CheckNtfy(ctx context.Context, topicURL string) Result {
	const name = "ntfy"

	parsed, err := url.Parse(strings.TrimSpace(topicURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url %q", topicURL)}
	}
	health := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/v1/health"}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, health.String(), nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (topic requires credentials)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries for the given config.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for capture, frame extraction and encoding",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for media inspection",
		},
		{
			Name:        "Python",
			Command:     cfg.Engines.Python,
			Description: "Runs the animation engines",
		},
		{
			Name:        "rembg",
			Command:     cfg.Matting.SegmentationBinary,
			Description: "Required for AI background removal",
			Optional:    true,
		},
	}
	return deps.CheckBinaries(requirements)
}

// CheckEncoders reports whether ffmpeg carries the output codecs.
func CheckEncoders(ctx context.Context, cfg *config.Config) []deps.Status {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return []deps.Status{
		deps.CheckFFmpegEncoder(checkCtx, cfg.FFmpegBinary(), "libx264"),
		deps.CheckFFmpegEncoder(checkCtx, cfg.FFmpegBinary(), "aac"),
	}
}

// CheckEngines reports the entry point and checkpoints of both engines. Files
// of the engine that is not the configured default are optional.
func CheckEngines(cfg *config.Config) []deps.Status {
	var statuses []deps.Status
	for _, engine := range []struct {
		kind animation.Kind
		dir  string
	}{
		{animation.SadTalker, cfg.Engines.SadTalkerDir},
		{animation.LivePortrait, cfg.Engines.LivePortraitDir},
	} {
		reqs := animation.FileRequirements(engine.kind, engine.dir)
		optional := !strings.EqualFold(cfg.Engines.Default, string(engine.kind))
		for i := range reqs {
			reqs[i].Optional = optional
		}
		statuses = append(statuses, deps.CheckFiles(reqs)...)
	}
	return statuses
}

// DeviceReport summarizes compute device detection.
type DeviceReport struct {
	Available []device.Kind
	Selected  device.Kind
	Preferred string
	Detail    string
}

// DetectDevices probes every device and resolves the configured preference.
func DetectDevices(ctx context.Context, cfg *config.Config, prober device.Prober) DeviceReport {
	report := DeviceReport{Preferred: cfg.Device.Preferred}
	report.Available = device.Detect(ctx, prober)
	selected, err := device.Resolve(ctx, cfg.Device.Preferred, prober)
	if err != nil {
		report.Detail = err.Error()
		return report
	}
	report.Selected = selected
	names := make([]string, 0, len(report.Available))
	for _, kind := range report.Available {
		names = append(names, string(kind))
	}
	report.Detail = fmt.Sprintf("using %s (available: %s)", selected, strings.Join(names, ", "))
	return report
}
