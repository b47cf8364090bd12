package deps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Requirement defines an external dependency avatarreel relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// FileRequirement names a file that must exist below a root directory, such
// as an engine entry point or model checkpoint.
type FileRequirement struct {
	Name     string
	Root     string
	Relative string
	Optional bool
}

// CheckFiles reports which of the required files are present.
func CheckFiles(requirements []FileRequirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		path := filepath.Join(req.Root, req.Relative)
		status := Status{
			Name:     req.Name,
			Command:  path,
			Optional: req.Optional,
		}
		info, err := os.Stat(path)
		switch {
		case err != nil:
			status.Detail = fmt.Sprintf("%s not found", req.Relative)
		case info.IsDir():
			status.Detail = fmt.Sprintf("%s is a directory", req.Relative)
		default:
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required (non-optional) entries that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}

// CheckFFmpegEncoder reports whether ffmpeg was built with the named encoder.
func CheckFFmpegEncoder(ctx context.Context, ffmpegBinary, encoder string) Status {
	status := Status{
		Name:        fmt.Sprintf("FFmpeg %s", encoder),
		Command:     ffmpegBinary,
		Description: "Encoder required for final output",
	}
	output, err := exec.CommandContext(ctx, ffmpegBinary, "-hide_banner", "-encoders").Output()
	if err != nil {
		status.Detail = fmt.Sprintf("list encoders: %v", err)
		return status
	}
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == encoder {
			status.Available = true
			return status
		}
	}
	status.Detail = fmt.Sprintf("encoder %q not available", encoder)
	return status
}
