package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts bounds the number of fetch attempts per URL.
	DefaultMaxAttempts = 3
	// DefaultFetchTimeout bounds each individual attempt.
	DefaultFetchTimeout = 15 * time.Second
	// DefaultRetryDelay is the base delay between attempts; the actual
	// delay grows linearly with the attempt number.
	DefaultRetryDelay = 2 * time.Second
)

// FatalDownloadError signals an expired or inaccessible link (403/404 on the
// final content fetch). It is never retried.
type FatalDownloadError struct {
	StatusCode int
}

func (e *FatalDownloadError) Error() string {
	return fmt.Sprintf("Fatal download error %d: file not accessible", e.StatusCode)
}

// FetchOptions configures FetchWithRetry.
type FetchOptions struct {
	MaxAttempts int
	Timeout     time.Duration
	RetryDelay  time.Duration
	// OnRetry is invoked with the 1-based attempt number after each
	// failed attempt that will be retried.
	OnRetry func(attempt int)
}

// DefaultFetchOptions returns FetchOptions with the stock retry policy.
func DefaultFetchOptions() *FetchOptions {

	return &FetchOptions{
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     DefaultFetchTimeout,
		RetryDelay:  DefaultRetryDelay,
	}
}

// linearBackOff yields delay, 2*delay, 3*delay, ... between attempts.
type linearBackOff struct {
	delay   time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt = b.attempt + 1
	return b.delay * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// FetchWithRetry fetches a URL with the pipeline retry policy: a bounded
// number of attempts, a per-attempt timeout, a linearly growing delay between
// attempts and immediate failure on a fatal (403/404) final content fetch.
// With is_get false the URL's query string is first exchanged, via POST, for
// a signed URL which is then fetched; failures during the exchange are
// retried like any other.
func FetchWithRetry(ctx context.Context, client *http.Client, url string, is_get bool, opts *FetchOptions) ([]byte, string, error) {

	if opts == nil {
		opts = DefaultFetchOptions()
	}

	max_attempts := opts.MaxAttempts

	if max_attempts <= 0 {
		max_attempts = DefaultMaxAttempts
	}

	logger := slog.Default()
	logger = logger.With("url", url)

	var body []byte
	var content_type string

	attempt := 0

	op := func() error {

		attempt = attempt + 1

		b, ct, err := fetchOnce(ctx, client, url, is_get, opts.Timeout)

		if err == nil {
			body = b
			content_type = ct
			return nil
		}

		var fatal *FatalDownloadError

		if errors.As(err, &fatal) {
			logger.Warn("Fatal download error, skipping retries", "status", fatal.StatusCode)
			return backoff.Permanent(err)
		}

		logger.Warn("Fetch attempt failed", "attempt", attempt, "error", err)

		if attempt < max_attempts && opts.OnRetry != nil {
			opts.OnRetry(attempt)
		}

		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{delay: opts.RetryDelay}, uint64(max_attempts-1)), ctx)

	err := backoff.Retry(op, bo)

	if err != nil {

		var fatal *FatalDownloadError

		if errors.As(err, &fatal) {
			return nil, "", err
		}

		return nil, "", fmt.Errorf("Failed to fetch '%s' after %d attempts, %w", url, max_attempts, err)
	}

	return body, content_type, nil
}

func fetchOnce(ctx context.Context, client *http.Client, url string, is_get bool, timeout time.Duration) ([]byte, string, error) {

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := url

	if !is_get {

		// Exchange the query payload for a signed URL. Failures here are
		// always retryable; the link itself has not been judged yet.

		parts := strings.SplitN(url, "?", 2)

		payload := ""

		if len(parts) == 2 {
			payload = parts[1]
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, parts[0], strings.NewReader(payload))

		if err != nil {
			return nil, "", fmt.Errorf("Failed to create POST request, %w", err)
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rsp, err := client.Do(req)

		if err != nil {
			return nil, "", fmt.Errorf("Failed to execute POST request, %w", err)
		}

		defer rsp.Body.Close()

		if rsp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("POST request failed with status %d", rsp.StatusCode)
		}

		signed_url, err := io.ReadAll(rsp.Body)

		if err != nil {
			return nil, "", fmt.Errorf("Failed to read POST response, %w", err)
		}

		target = strings.TrimSpace(string(signed_url))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)

	if err != nil {
		return nil, "", fmt.Errorf("Failed to create GET request, %w", err)
	}

	rsp, err := client.Do(req)

	if err != nil {
		return nil, "", fmt.Errorf("Failed to execute GET request, %w", err)
	}

	defer rsp.Body.Close()

	// 403/404 on the final content fetch signals an expired or invalid
	// link rather than a transient fault.

	if rsp.StatusCode == http.StatusForbidden || rsp.StatusCode == http.StatusNotFound {
		return nil, "", &FatalDownloadError{StatusCode: rsp.StatusCode}
	}

	if rsp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET request failed with status %d", rsp.StatusCode)
	}

	body, err := io.ReadAll(rsp.Body)

	if err != nil {
		return nil, "", fmt.Errorf("Failed to read response body, %w", err)
	}

	return body, rsp.Header.Get("Content-Type"), nil
}
