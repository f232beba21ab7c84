package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "portable/dev"
	// DefaultBackoff is the delay before the first retry; it doubles per
	// attempt.
	DefaultBackoff = time.Second
	// maxBackoff caps the delay between retries.
	maxBackoff = time.Minute
	// maxRedirects matches the net/http default.
	maxRedirects = 10
)

// Downloader fetches a URL to a local file with optional retries.
type Downloader struct {
	client    *http.Client
	userAgent string
	retries   int
	timeout   time.Duration
	backoff   time.Duration
	logger    *slog.Logger
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithRetries sets how many times a failed attempt is repeated. Zero means
// a single attempt.
func WithRetries(n int) DownloaderOption {
	return func(d *Downloader) { d.retries = max(n, 0) }
}

// WithTimeout bounds the whole fetch, retries included. Zero means no limit.
func WithTimeout(timeout time.Duration) DownloaderOption {
	return func(d *Downloader) { d.timeout = timeout }
}

// WithBackoff sets the delay before the first retry.
func WithBackoff(backoff time.Duration) DownloaderOption {
	return func(d *Downloader) { d.backoff = backoff }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) { d.userAgent = ua }
}

// WithHTTPClient replaces the HTTP client. A client without a redirect
// policy gets the downloader's redirect cap; client itself is not modified.
func WithHTTPClient(client *http.Client) DownloaderOption {
	return func(d *Downloader) {
		c := *client
		if c.CheckRedirect == nil {
			c.CheckRedirect = checkRedirect
		}
		d.client = &c
	}
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(logger *slog.Logger) DownloaderOption {
	return func(d *Downloader) { d.logger = logger }
}

// NewDownloader creates a new downloader
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client:    &http.Client{CheckRedirect: checkRedirect},
		userAgent: DefaultUserAgent,
		backoff:   DefaultBackoff,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// backoffFor returns the delay before retry number attempt (1-based),
// doubling from the base and capped at maxBackoff.
func (d *Downloader) backoffFor(attempt int) time.Duration {
	b := d.backoff
	for i := 1; i < attempt && b < maxBackoff; i++ {
		b *= 2
	}
	return min(b, maxBackoff)
}

// statusError is a non-2xx response.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.status)
}

// retryable reports whether another attempt could succeed. Client errors
// other than timeouts and rate limits are final.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusRequestTimeout || se.code == http.StatusTooManyRequests
	}
	return true
}

// Fetch downloads url to destPath, replacing any existing file. The body is
// streamed to destPath+".tmp" and renamed into place only after a 2xx
// response was read completely, so a failed fetch leaves no file at
// destPath.
func (d *Downloader) Fetch(ctx context.Context, url, destPath string) (*FetchResult, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			backoff := d.backoffFor(attempt)
			d.logger.Warn("download attempt failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, goerr.Wrap(ctx.Err(), "download cancelled", goerr.V("url", url))
			}
		}

		attempts++
		res, err := d.fetchOnce(ctx, url, destPath)
		if err == nil {
			res.Attempts = attempts
			res.Duration = time.Since(start)
			d.logger.Debug("download complete",
				"path", res.Path,
				"size", humanize.IBytes(uint64(res.Size)),
				"duration", res.Duration)
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}

	return nil, goerr.Wrap(lastErr, "download failed",
		goerr.V("url", url),
		goerr.V("attempts", attempts))
}

// fetchOnce performs a single download attempt
func (d *Downloader) fetchOnce(ctx context.Context, url, destPath string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	size, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("copy response body: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, fmt.Errorf("rename temp file: %w", err)
	}
	cleanupNeeded = false

	return &FetchResult{
		URL:         url,
		FinalURL:    resp.Request.URL.String(),
		Path:        destPath,
		Size:        size,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
