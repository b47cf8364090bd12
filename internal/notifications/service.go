package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"avatarreel/internal/config"
	"avatarreel/internal/stage"
)

const userAgent = "avatarreel/0.1.0"

// Service defines the notification surface used by the pipeline and CLI.
type Service interface {
	NotifyRunCompleted(ctx context.Context, run RunSummary) error
	NotifyRunFailed(ctx context.Context, run RunSummary, err error) error
	TestNotification(ctx context.Context) error
}

// RunSummary carries the fields a run notification reports.
type RunSummary struct {
	RunID     string
	Engine    string
	Output    string
	Stage     string
	ErrorKind string
	Media     time.Duration
	Elapsed   time.Duration
	SizeBytes int64
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		runCompleted: cfg.Notifications.RunCompleted,
		runFailed:    cfg.Notifications.RunFailed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	runCompleted bool
	runFailed    bool
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, run RunSummary) error {
	if !n.runCompleted {
		return nil
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "✅ Video ready: %s", filepath.Base(strings.TrimSpace(run.Output)))
	details := make([]string, 0, 3)
	if run.Media > 0 {
		details = append(details, run.Media.Round(100*time.Millisecond).String())
	}
	if run.SizeBytes > 0 {
		details = append(details, humanize.Bytes(uint64(run.SizeBytes)))
	}
	if run.Elapsed > 0 {
		details = append(details, "took "+run.Elapsed.Round(time.Second).String())
	}
	if len(details) > 0 {
		fmt.Fprintf(&builder, " (%s)", strings.Join(details, ", "))
	}
	if engine := strings.TrimSpace(run.Engine); engine != "" {
		fmt.Fprintf(&builder, "\nEngine: %s", engine)
	}

	return n.send(ctx, payload{
		title:   "avatarreel - Video Ready",
		message: builder.String(),
		tags:    []string{"avatarreel", "run", "completed"},
	})
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, run RunSummary, err error) error {
	if !n.runFailed {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Run failed")
	if label := stage.Name(strings.TrimSpace(run.Stage)).Label(); label != "" {
		builder.WriteString(" during ")
		builder.WriteString(label)
	}
	if kind := strings.TrimSpace(run.ErrorKind); kind != "" {
		fmt.Fprintf(&builder, " (%s)", kind)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	if id := strings.TrimSpace(run.RunID); id != "" {
		fmt.Fprintf(&builder, "\nRun: %s", id)
	}

	return n.send(ctx, payload{
		title:    "avatarreel - Run Failed",
		message:  builder.String(),
		tags:     []string{"avatarreel", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "avatarreel - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"avatarreel", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, RunSummary) error     { return nil }
func (noopService) NotifyRunFailed(context.Context, RunSummary, error) error { return nil }
func (noopService) TestNotification(context.Context) error                   { return nil }
