package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/domain"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookQueue   = 256
)

// ErrQueueFull is returned when the webhook queue cannot take more entries.
var ErrQueueFull = errors.New("webhook queue full")

// WebhookSink posts each committed audit entry to the configured hooks from a
// background goroutine, so Publish never waits on the network.
type WebhookSink struct {
	hooks  []config.WebhookConfig
	client *http.Client
	logger *slog.Logger
	queue  chan domain.SystemLog
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWebhookSink starts the delivery loop. Disabled hooks and hooks without a
// URL are skipped.
func NewWebhookSink(hooks []config.WebhookConfig, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	active := make([]config.WebhookConfig, 0, len(hooks))
	for _, h := range hooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		active = append(active, h)
	}
	s := &WebhookSink{
		hooks:  active,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger,
		queue:  make(chan domain.SystemLog, defaultWebhookQueue),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *WebhookSink) Publish(_ context.Context, entries []domain.SystemLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("webhook sink closed")
	}
	for _, e := range entries {
		select {
		case s.queue <- e:
		default:
			return fmt.Errorf("%w: dropped %s", ErrQueueFull, e.Action)
		}
	}
	return nil
}

// Close stops accepting entries and waits for queued ones to be delivered.
func (s *WebhookSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *WebhookSink) run() {
	defer s.wg.Done()
	for entry := range s.queue {
		for _, hook := range s.hooks {
			if !matchAction(hook.Actions, entry.Action) {
				continue
			}
			if err := s.post(context.Background(), hook, entry); err != nil {
				s.logger.Warn("webhook delivery failed", "url", hook.URL, "action", entry.Action, "log_id", entry.ID, "error", err)
			}
		}
	}
}

func matchAction(actions []string, action string) bool {
	if len(actions) == 0 {
		return true
	}
	for _, a := range actions {
		if strings.TrimSpace(a) == action {
			return true
		}
	}
	return false
}

func (s *WebhookSink) post(ctx context.Context, hook config.WebhookConfig, entry domain.SystemLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	client := s.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Event", entry.Action)
	req.Header.Set("X-Sentinel-Delivery", entry.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Sentinel-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
