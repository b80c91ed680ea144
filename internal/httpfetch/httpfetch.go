// Package httpfetch implements the rate-limited, retrying JSON-over-HTTPS
// client every ecosystem adapter and source-host lookup is built on.
//
// A failed fetch returns [ErrAbsent] rather than propagating the underlying
// transport error: callers treat "the signal is unavailable" uniformly,
// whether that's a 404, a malformed body, or an exhausted retry budget. The
// one call that must not be silently swallowed is a fatal, quota-exhausted
// 403 from a source-code-host API, surfaced as [ErrFatalRateLimit] so the
// caller can abort the whole scan rather than waste the rest of its retry
// budget finding every subsequent call similarly blocked.
package httpfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/quay/slopguard/internal/errs"
	"github.com/quay/slopguard/internal/metrics"
)

// ErrAbsent means the requested resource could not be retrieved: it does
// not exist (404/410), the response was malformed, or the retry budget was
// exhausted. Ecosystem code should treat this the same as "the package does
// not exist" or "the signal is unavailable", per which call produced it.
var ErrAbsent = errors.New("httpfetch: resource unavailable")

// ErrFatalRateLimit means a source-code-host API reported zero remaining
// quota with no useful Retry-After. The caller should abort the scan rather
// than retry.
var ErrFatalRateLimit = errors.New("httpfetch: source-host rate limit exhausted")

const (
	maxAttempts       = 3
	backoffUnit       = 500 * time.Millisecond
	maxRetryAfter     = 300 * time.Second
	defaultBurst      = 25
	defaultRatePerSec = 10
	defaultTimeout    = 20 * time.Second
)

// Doer is the one method of *http.Client this package needs, so tests can
// supply an httptest-backed client or a stub without standing up a real
// listener.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Fetcher performs rate-limited JSON GETs with retry and backoff.
//
// The zero value is not usable; construct with [New]. A Fetcher is safe for
// concurrent use and is meant to be shared process-wide: the rate limiter's
// token bucket is the one piece of state in this module that must be a
// single shared instance, since its whole purpose is bounding aggregate
// request rate across every concurrent worker.
type Fetcher struct {
	client  Doer
	limiter *rate.Limiter

	sourceHost  string // hostname matched for bearer-token auth, e.g. "api.github.com"
	sourceToken string
}

// Option configures a Fetcher at construction time.
type Option func(*Fetcher)

// WithClient overrides the underlying [Doer]. Defaults to [http.DefaultClient]
// wrapped with [defaultTimeout] via context deadlines at the call site.
func WithClient(c Doer) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithRate overrides the token bucket's burst capacity and steady-state
// refill rate (tokens/second).
func WithRate(burst int, perSecond float64) Option {
	return func(f *Fetcher) { f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithSourceHostAuth configures a bearer token sent to requests whose host
// matches sourceHost, raising the anonymous rate limit on source-code-host
// APIs.
func WithSourceHostAuth(sourceHost, token string) Option {
	return func(f *Fetcher) {
		f.sourceHost = sourceHost
		f.sourceToken = token
	}
}

// New constructs a Fetcher. Defaults: burst 25, refill 10/s, [http.DefaultClient].
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  http.DefaultClient,
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultBurst),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// GetJSON performs a rate-limited GET against rawURL, decoding a JSON body
// into out.
//
// On any failure classified as recoverable-by-absence (see package doc), it
// returns an error wrapping [ErrAbsent] and out is left untouched. A
// [ErrFatalRateLimit] should be treated as terminal by the caller.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		slog.DebugContext(ctx, "malformed JSON body", "url", rawURL, "error", err)
		return &errs.Error{
			Op:      "httpfetch.GetJSON",
			Kind:    errs.ErrBadPayload,
			Message: rawURL,
			Inner:   fmt.Errorf("%w: malformed JSON from %s", ErrAbsent, rawURL),
		}
	}
	return nil
}

// GetText performs a rate-limited GET against rawURL and returns the raw
// response body, for endpoints that aren't JSON (e.g. the Go module proxy's
// plain-text @v/list).
func (f *Fetcher) GetText(ctx context.Context, rawURL string) (string, error) {
	body, err := f.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// get performs the retry/backoff/rate-limit dance and returns the raw
// response body on success.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %v", ErrAbsent, rawURL, err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrAbsent, err)
		}
		req.Header.Set("Accept", "application/json")
		if f.sourceToken != "" && u.Host == f.sourceHost {
			req.Header.Set("Authorization", "Bearer "+f.sourceToken)
		}

		resp, err := f.client.Do(req)
		cancel()
		if err != nil {
			slog.DebugContext(ctx, "transport error", "url", rawURL, "attempt", attempt, "error", err)
			metrics.FetchRetries.WithLabelValues("transport").Inc()
			lastErr = err
			f.sleepBackoff(ctx, attempt)
			continue
		}

		body, decided, retry, err := f.handleResponse(ctx, resp, attempt)
		if err != nil {
			return nil, err
		}
		if decided {
			return body, nil
		}
		if !retry {
			return nil, fmt.Errorf("%w: %s", ErrAbsent, rawURL)
		}
		// Loop around for the next attempt; handleResponse already slept
		// where appropriate.
		lastErr = fmt.Errorf("retrying %s", rawURL)
	}
	return nil, &errs.Error{
		Op:      "httpfetch.get",
		Kind:    errs.ErrTransient,
		Message: rawURL,
		Inner:   fmt.Errorf("%w: exhausted retries for %s: %v", ErrAbsent, rawURL, lastErr),
	}
}

// handleResponse classifies one HTTP response. It returns:
//   - (body, true, _, nil) on success: caller should return body.
//   - (nil, false, false, nil) on a terminal absence: caller returns ErrAbsent.
//   - (nil, false, true, nil) when the caller should retry (backoff already applied).
//   - (nil, false, false, err) on [ErrFatalRateLimit].
func (f *Fetcher) handleResponse(ctx context.Context, resp *http.Response, attempt int) (body []byte, success, retry bool, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, false, false, nil
		}
		return b, true, false, nil

	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, false, false, nil

	case resp.StatusCode == http.StatusForbidden && isQuotaExhausted(resp):
		return nil, false, false, &errs.Error{
			Op:      "httpfetch.handleResponse",
			Kind:    errs.ErrRateLimitFatal,
			Message: resp.Request.URL.Redacted(),
			Inner:   fmt.Errorf("%w: %s", ErrFatalRateLimit, resp.Request.URL.Redacted()),
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		if d, ok := retryAfter(resp); ok && d <= maxRetryAfter {
			slog.DebugContext(ctx, "honoring Retry-After", "seconds", d.Seconds())
			metrics.FetchRetries.WithLabelValues("rate_limit_soft").Inc()
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, false, false, nil
			}
			return nil, false, true, nil
		}
		return nil, false, false, nil

	case resp.StatusCode >= 500:
		metrics.FetchRetries.WithLabelValues("server_error").Inc()
		f.sleepBackoff(ctx, attempt)
		return nil, false, true, nil

	default:
		return nil, false, false, nil
	}
}

// isQuotaExhausted reports whether a 403 carries the zero-remaining-quota
// headers a source-code-host API uses.
func isQuotaExhausted(resp *http.Response) bool {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	return remaining == "0"
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(v); err == nil {
		return time.Until(when), true
	}
	return 0, false
}

func (f *Fetcher) sleepBackoff(ctx context.Context, attempt int) {
	d := backoffUnit * time.Duration(attempt)
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

