// Package notifications delivers push notifications about session milestones
// through ntfy. The service degrades to a noop when no topic is configured, so
// workflow code can notify unconditionally.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"avsync/internal/config"
)

const userAgent = "avsync/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifySessionReceived(ctx context.Context, filename string) error
	NotifySyncStarted(ctx context.Context, filename string) error
	NotifySessionCompleted(ctx context.Context, filename string, cumulativeShiftMs int64, passes int) error
	NotifyBudgetExhausted(ctx context.Context, filename string, passes int) error
	NotifySessionFailed(ctx context.Context, filename, reason string) error
	TestNotification(ctx context.Context) error
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
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifySessionReceived(ctx context.Context, filename string) error {
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "avsync - Session Received",
		message: fmt.Sprintf("Received upload: %s", filename),
		tags:    []string{"avsync", "session", "received"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySyncStarted(ctx context.Context, filename string) error {
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "avsync - Sync Started",
		message: fmt.Sprintf("Started synchronization: %s", filename),
		tags:    []string{"avsync", "sync", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionCompleted(ctx context.Context, filename string, cumulativeShiftMs int64, passes int) error {
	filename = strings.TrimSpace(filename)
	data := payload{
		title:    "avsync - Complete",
		message:  fmt.Sprintf("Synchronized %s: shifted audio %dms over %d passes", filename, cumulativeShiftMs, passes),
		tags:     []string{"avsync", "session", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBudgetExhausted(ctx context.Context, filename string, passes int) error {
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "avsync - Budget Exhausted",
		message: fmt.Sprintf("No convergence for %s after %d passes\nBest-effort output published", filename, passes),
		tags:    []string{"avsync", "session", "budget"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionFailed(ctx context.Context, filename, reason string) error {
	filename = strings.TrimSpace(filename)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "avsync - Failed",
		message:  fmt.Sprintf("Session failed for %s: %s", filename, reason),
		tags:     []string{"avsync", "session", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "avsync - Test",
		message:  "Notification system test",
		tags:     []string{"avsync", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func (noopService) NotifySessionReceived(context.Context, string) error               { return nil }
func (noopService) NotifySyncStarted(context.Context, string) error                   { return nil }
func (noopService) NotifySessionCompleted(context.Context, string, int64, int) error  { return nil }
func (noopService) NotifyBudgetExhausted(context.Context, string, int) error          { return nil }
func (noopService) NotifySessionFailed(context.Context, string, string) error         { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
