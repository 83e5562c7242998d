// Package fetch downloads schedule feeds over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/poelzi/engelsystem/internal/backoff"
)

// ErrRequest is returned (wrapped) when a feed cannot be downloaded: the
// connection failed or the server answered with a non-2xx status.
var ErrRequest = errors.New("schedule request error")

// Defaults for [Options] fields left zero.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBytes  = 32 << 20
	DefaultUserAgent = "scheduleimport/1"
)

// Options configures a [Fetcher].
type Options struct {
	// Timeout bounds a single request attempt.
	Timeout time.Duration
	// Attempts is the number of tries for connection errors and 5xx answers.
	Attempts  int
	UserAgent string
	// MaxBytes caps the accepted body size.
	MaxBytes int64
}

// Fetcher downloads feeds. It is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	attempts  int
	userAgent string
	maxBytes  int64
	log       *slog.Logger
}

// New creates a Fetcher. Requests are traced through the global OTel
// providers.
func New(opts Options, logger *slog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		attempts:  opts.Attempts,
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBytes,
		log:       logger,
	}
}

// Fetch downloads the body at rawURL. Connection errors and 5xx answers are
// retried; any failure is reported as [ErrRequest].
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := backoff.Retry(ctx, f.attempts, func() error {
		b, err := f.get(ctx, rawURL)
		if err != nil {
			f.log.DebugContext(ctx, "fetch attempt failed", "url", redactURL(rawURL), "error", err)
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}

	f.log.DebugContext(ctx, "fetched schedule", "url", redactURL(rawURL), "bytes", len(body))
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml, text/calendar;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", redactURL(rawURL), err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, backoff.Permanent(fmt.Errorf("server returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, backoff.Permanent(fmt.Errorf("body exceeds %d bytes", f.maxBytes))
	}
	return body, nil
}

// redactURL keeps scheme and host only, so tokens in paths or query strings
// never reach the logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
