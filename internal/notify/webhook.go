package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/poelzi/engelsystem/internal/backoff"
)

// webhookTimeout bounds a single delivery attempt.
const webhookTimeout = 10 * time.Second

// envelope is the JSON body posted for each event.
type envelope struct {
	Event   string    `json:"event"`
	SentAt  time.Time `json:"sent_at"`
	Payload Event     `json:"payload"`
}

// WebhookSink posts every event as JSON to a URL. Delivery runs in the
// background with retries; failures are logged and otherwise dropped.
type WebhookSink struct {
	url      string
	client   *http.Client
	attempts int
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewWebhookSink creates a WebhookSink posting to url.
func NewWebhookSink(url string, attempts int, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		url:      url,
		client:   &http.Client{Timeout: webhookTimeout},
		attempts: attempts,
		log:      logger,
	}
}

// Publish implements [Sink]. It returns before the request is sent.
func (w *WebhookSink) Publish(ctx context.Context, ev Event) {
	body, err := json.Marshal(envelope{Event: ev.Name(), SentAt: time.Now().UTC(), Payload: ev})
	if err != nil {
		w.log.Error("encoding webhook payload", "event", ev.Name(), "error", err)
		return
	}

	// The caller's context ends with the import; delivery must outlive it.
	dctx := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		err := backoff.Retry(dctx, w.attempts, func() error {
			return w.post(dctx, body)
		})
		if err != nil {
			w.log.Error("webhook delivery failed", "event", ev.Name(), "error", err)
			return
		}
		w.log.Debug("webhook delivered", "event", ev.Name())
	}()
}

// Wait blocks until all in-flight deliveries have finished.
func (w *WebhookSink) Wait() {
	w.wg.Wait()
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}
