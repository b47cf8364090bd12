package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"avatarreel/internal/artifact"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

// Kind is a compute device identifier.
type Kind = artifact.DeviceKind

const (
	MPS  = artifact.DeviceMPS
	CUDA = artifact.DeviceCUDA
	CPU  = artifact.DeviceCPU
)

// Priority is the auto-detection order.
var Priority = []Kind{MPS, CUDA, CPU}

// Prober reports whether a device can be initialized on this host.
type Prober interface {
	Probe(ctx context.Context, kind Kind) error
}

// Parse validates a device name. Empty and "auto" return an empty Kind.
func Parse(value string) (Kind, error) {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "", "auto":
		return "", nil
	case string(MPS), string(CUDA), string(CPU):
		return Kind(v), nil
	default:
		return "", fmt.Errorf("device must be mps, cuda, or cpu, got %q", value)
	}
}

// Detect returns every usable device in priority order.
func Detect(ctx context.Context, prober Prober) []Kind {
	available := make([]Kind, 0, len(Priority))
	for _, kind := range Priority {
		if kind == CPU || prober.Probe(ctx, kind) == nil {
			available = append(available, kind)
		}
	}
	return available
}

// Select picks the highest priority device from available.
func Select(available []Kind) Kind {
	for _, kind := range Priority {
		for _, a := range available {
			if a == kind {
				return kind
			}
		}
	}
	return CPU
}

// Resolve returns the device a run should use. A non-empty request must
// initialize; it is never silently downgraded.
func Resolve(ctx context.Context, requested string, prober Prober) (Kind, error) {
	kind, err := Parse(requested)
	if err != nil {
		return "", services.Wrap(services.ErrInvalidConfig, string(stage.Config), "resolve device", "invalid device", err)
	}
	if kind == "" {
		return Select(Detect(ctx, prober)), nil
	}
	if kind == CPU {
		return CPU, nil
	}
	if err := prober.Probe(ctx, kind); err != nil {
		return "", services.Wrap(services.ErrDeviceUnavailable, string(stage.Config), "resolve device",
			fmt.Sprintf("requested device %s cannot be initialized", kind), err)
	}
	return kind, nil
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// SystemProber inspects the host: Apple silicon for mps and nvidia-smi for
// cuda.
type SystemProber struct {
	GOOS      string
	GOARCH    string
	NvidiaSMI string
	run       commandRunner
}

// NewSystemProber returns a prober for the running host.
func NewSystemProber() *SystemProber {
	return &SystemProber{
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		NvidiaSMI: "nvidia-smi",
		run:       defaultCommandRunner,
	}
}

// Probe implements Prober.
func (p *SystemProber) Probe(ctx context.Context, kind Kind) error {
	switch kind {
	case CPU:
		return nil
	case MPS:
		if p.GOOS == "darwin" && p.GOARCH == "arm64" {
			return nil
		}
		return fmt.Errorf("mps requires apple silicon, host is %s/%s", p.GOOS, p.GOARCH)
	case CUDA:
		return p.probeCUDA(ctx)
	default:
		return fmt.Errorf("unknown device %q", kind)
	}
}

func (p *SystemProber) probeCUDA(ctx context.Context) error {
	run := p.run
	if run == nil {
		run = defaultCommandRunner
	}
	bin := strings.TrimSpace(p.NvidiaSMI)
	if bin == "" {
		bin = "nvidia-smi"
	}
	output, err := run(ctx, bin, "-L")
	if err != nil {
		return fmt.Errorf("nvidia-smi: %w", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), "GPU ") {
			return nil
		}
	}
	return errors.New("no cuda gpu listed by nvidia-smi")
}
