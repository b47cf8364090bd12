package encoding

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Progress is one snapshot of ffmpeg's -progress stream.
type Progress struct {
	Frame   int
	Total   int
	Percent float64
	Speed   float64
	OutTime time.Duration
	Done    bool
}

// ProgressFunc receives progress snapshots while ffmpeg runs.
type ProgressFunc func(Progress)

// progressParser accumulates key=value lines until ffmpeg emits a
// progress=continue|end terminator.
type progressParser struct {
	total   int
	current Progress
}

func newProgressParser(total int) *progressParser {
	return &progressParser{total: total, current: Progress{Total: total}}
}

func (p *progressParser) feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "frame":
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			p.current.Frame = n
		}
	case "out_time_us", "out_time_ms":
		// ffmpeg reports microseconds under both keys.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.current.OutTime = time.Duration(us) * time.Microsecond
		}
	case "speed":
		if speed, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
			p.current.Speed = speed
		}
	case "progress":
		snapshot := p.current
		snapshot.Done = value == "end"
		if p.total > 0 {
			snapshot.Percent = float64(snapshot.Frame) / float64(p.total) * 100
			if snapshot.Percent > 100 {
				snapshot.Percent = 100
			}
		}
		if snapshot.Done {
			snapshot.Percent = 100
		}
		return snapshot, true
	}
	return Progress{}, false
}

// eta extrapolates the remaining wall time from elapsed time and percent.
func eta(elapsed time.Duration, percent float64) time.Duration {
	if percent <= 0 || percent >= 100 || elapsed <= 0 {
		return 0
	}
	return time.Duration(float64(elapsed) * (100 - percent) / percent)
}

func progressMessageText(update Progress, remaining time.Duration) string {
	base := fmt.Sprintf("Encoding %.1f%%", update.Percent)
	extras := make([]string, 0, 2)
	if formatted := formatETA(remaining); formatted != "" {
		extras = append(extras, fmt.Sprintf("ETA %s", formatted))
	}
	if update.Speed > 0 {
		extras = append(extras, fmt.Sprintf("@ %.1fx", update.Speed))
	}
	if len(extras) == 0 {
		return base
	}
	return fmt.Sprintf("%s (%s)", base, strings.Join(extras, ", "))
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Second)
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || (hours == 0 && minutes == 0) {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, "")
}
