// Package notify delivers operator alerts raised by the state service.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"portfolio-state/internal/stream"
)

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationAlert NotificationType = "alert"
	NotificationError NotificationType = "error"
	NotificationInfo  NotificationType = "info"
)

var _ NotificationChannel = (*MultiNotifier)(nil)

// MultiNotifier fans a notification out to every enabled channel.
type MultiNotifier struct {
	channels []NotificationChannel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier over the given channels.
func NewMultiNotifier(channels ...NotificationChannel) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Name returns the name of the notifier.
func (mn *MultiNotifier) Name() string {
	return "multi"
}

// IsEnabled reports whether any channel is enabled.
func (mn *MultiNotifier) IsEnabled() bool {
	return mn.Len() > 0
}

// Len returns the number of enabled channels.
func (mn *MultiNotifier) Len() int {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	n := 0
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			n++
		}
	}
	return n
}

// Send sends a notification to all enabled channels. Every channel is tried
// even when an earlier one fails.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CheckpointFailure converts a checkpoint failure alert into a notification.
func CheckpointFailure(ev stream.CheckpointFailedEvent) Notification {
	return Notification{
		Type:  NotificationAlert,
		Title: "Checkpoint failing",
		Message: fmt.Sprintf("%d consecutive checkpoint failures (%s): %s",
			ev.ConsecutiveFailures, ev.Reason, ev.Error),
		Data: map[string]interface{}{
			"reason":               ev.Reason,
			"error":                ev.Error,
			"consecutive_failures": ev.ConsecutiveFailures,
		},
		Timestamp: ev.Timestamp,
	}
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier. An empty url disables it.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     url,
		enabled: url != "",
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.UTC().Format(time.RFC3339),
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "portfolio-state/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Watcher forwards checkpoint failure events from the bus to a notifier.
// Delivery happens on its own goroutine so a slow channel never blocks the
// publisher. Alerts arriving while the backlog is full are dropped.
type Watcher struct {
	notifier NotificationChannel
	log      zerolog.Logger
	queue    chan Notification

	mu      sync.Mutex
	closed  bool
	dropped int
	done    chan struct{}
	unsub   func()
}

// Watch subscribes to checkpoint failure events on bus and starts delivery.
func Watch(bus *stream.Bus, notifier NotificationChannel, logger zerolog.Logger) *Watcher {
	w := &Watcher{
		notifier: notifier,
		log:      logger.With().Str("component", "notify").Logger(),
		queue:    make(chan Notification, 16),
		done:     make(chan struct{}),
	}
	go w.deliver()
	w.unsub = bus.Subscribe(stream.TopicCheckpointFailed, func(e stream.Event) {
		if ev, ok := e.(stream.CheckpointFailedEvent); ok {
			w.enqueue(CheckpointFailure(ev))
		}
	})
	return w
}

func (w *Watcher) enqueue(n Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- n:
	default:
		w.dropped++
		w.log.Warn().Str("title", n.Title).Msg("Alert backlog full, dropping notification")
	}
}

func (w *Watcher) deliver() {
	defer close(w.done)
	for n := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := w.notifier.Send(ctx, n); err != nil {
			w.log.Error().Err(err).Str("title", n.Title).Msg("Failed to deliver notification")
		}
		cancel()
	}
}

// Dropped returns how many alerts were discarded because the backlog was full.
func (w *Watcher) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close unsubscribes and waits until queued alerts are delivered or ctx ends.
func (w *Watcher) Close(ctx context.Context) error {
	w.unsub()
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
