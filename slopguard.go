package slopguard

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/quay/slopguard/gomodule"
	"github.com/quay/slopguard/internal/diskcache"
	"github.com/quay/slopguard/internal/httpfetch"
	"github.com/quay/slopguard/internal/metrics"
	"github.com/quay/slopguard/internal/scan"
	"github.com/quay/slopguard/internal/slogctx"
	"github.com/quay/slopguard/pkgecosystem"
	"github.com/quay/slopguard/pkgref"
	"github.com/quay/slopguard/pypi"
	"github.com/quay/slopguard/rubygems"
)

// Action is the disposition a Scan assigns a declared package: [Verified],
// [Warn], [Block], or [NotFound].
type Action = scan.Action

const (
	Verified Action = scan.Verified
	Warn     Action = scan.Warn
	Block    Action = scan.Block
	NotFound Action = scan.NotFound
)

// PackageVerdict is the evaluated outcome for one declared dependency.
type PackageVerdict = scan.Verdict

// Summary is the aggregate result of one Scan call.
type Summary = scan.Summary

// Services bundles the shared, process-wide infrastructure a Scan call
// needs: the rate-limited fetcher and the on-disk cache are meant to be
// constructed once and reused across every Scan, since the token bucket and
// cache hot tier are the module's only pieces of genuinely shared state.
type Services struct {
	HTTP  *httpfetch.Fetcher
	Cache *diskcache.Cache
	// Clock is substituted in tests; defaults to time.Now.
	Clock func() time.Time
	// Workers bounds the concurrent package pool; <= 0 selects a default
	// derived from GOMAXPROCS, clamped to [3,10].
	Workers int
	// Debug asks the embedding program for a verbose log handler; the core
	// only records the request (see [NewServicesFromEnv]), it never swaps
	// the process-wide default logger itself.
	Debug bool
	// Profile forces per-stage timing lines out of every Scan, even when
	// the underlying handler's threshold would suppress debug records.
	Profile bool
}

// Environment variables recognized by [NewServicesFromEnv].
const (
	// EnvSourceHostToken (falling back to EnvSourceHostTokenAlt) carries a
	// bearer token for the source-code-host API, raising its anonymous
	// hourly rate limit.
	EnvSourceHostToken    = "SLOPGUARD_GITHUB_TOKEN"
	EnvSourceHostTokenAlt = "GITHUB_TOKEN"
	// EnvDebug, when set to anything nonempty, requests verbose logging.
	EnvDebug = "SLOPGUARD_DEBUG"
	// EnvProfile, when set to anything nonempty, emits per-stage timing for
	// every scored package.
	EnvProfile = "SLOPGUARD_PROFILE"
)

// sourceHostAPI is the host the bearer token is scoped to.
const sourceHostAPI = "api.github.com"

// DefaultCacheDir returns the conventional process-home-scoped cache
// location shared by unrelated invocations on the same machine.
func DefaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "slopguard"), nil
}

// NewServicesFromEnv is [NewServices] plus the environment configuration
// the module recognizes: a source-host token (SLOPGUARD_GITHUB_TOKEN, or
// GITHUB_TOKEN as the conventional fallback), SLOPGUARD_DEBUG, and
// SLOPGUARD_PROFILE. dir == "" selects [DefaultCacheDir].
func NewServicesFromEnv(dir string) (*Services, error) {
	if dir == "" {
		d, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	token := os.Getenv(EnvSourceHostToken)
	if token == "" {
		token = os.Getenv(EnvSourceHostTokenAlt)
	}
	s, err := NewServices(dir, sourceHostAPI, token)
	if err != nil {
		return nil, err
	}
	s.Debug = os.Getenv(EnvDebug) != ""
	s.Profile = os.Getenv(EnvProfile) != ""
	return s, nil
}

// NewServices constructs the default Services: a cache rooted at dir and a
// Fetcher optionally authenticated against sourceHost with token, raising
// that host's anonymous rate limit.
func NewServices(dir, sourceHost, token string) (*Services, error) {
	cache, err := diskcache.New(dir)
	if err != nil {
		return nil, err
	}
	var opts []httpfetch.Option
	if token != "" {
		opts = append(opts, httpfetch.WithSourceHostAuth(sourceHost, token))
	}
	return &Services{
		HTTP:  httpfetch.New(opts...),
		Cache: cache,
		Clock: time.Now,
	}, nil
}

func (s *Services) registry() *pkgecosystem.Registry {
	r := pkgecosystem.NewRegistry()
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	_ = r.Register(string(pkgref.RubyGems), func() pkgecosystem.Adapter {
		return rubygems.New(s.HTTP, s.Cache, clock)
	})
	_ = r.Register(string(pkgref.PyPI), func() pkgecosystem.Adapter {
		return pypi.New(s.HTTP, s.Cache, clock)
	})
	_ = r.Register(string(pkgref.GoModule), func() pkgecosystem.Adapter {
		return gomodule.New(s.HTTP, s.Cache, clock)
	})
	return r
}

// Scan evaluates every ref concurrently against public registry metadata
// and returns the aggregate Summary. refs must already be deduplicated by
// (ecosystem, name, version); see [pkgref.Ref].
//
// A ref whose Ecosystem isn't one of [pkgref.Supported] is silently dropped
// before dispatch rather than producing a verdict, per the orchestrator's
// pre-filtering step.
func Scan(ctx context.Context, services *Services, refs []pkgref.Ref) (Summary, error) {
	start := time.Now()
	runID := uuid.New()
	ctx = slogctx.Component(ctx, "scan")
	ctx = slogctx.With(ctx, "scan_run_id", runID.String(), "package_count", len(refs))
	if services.Profile {
		ctx = slogctx.WithLevel(ctx, slog.LevelDebug)
	}
	slog.InfoContext(ctx, "scan starting")

	summary, err := scan.Run(ctx, services.registry(), refs, services.Workers)
	if err != nil {
		slog.ErrorContext(ctx, "scan aborted", "error", err)
		metrics.ScanDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return Summary{}, err
	}

	outcome := "completed"
	if summary.Partial {
		outcome = "partial"
		slog.WarnContext(ctx, "scan ended early on fatal source-host rate limit",
			"completed", summary.Total, "requested", len(refs))
	}
	metrics.ScanDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	metrics.PackagesScanned.WithLabelValues("verified").Add(float64(summary.Verified))
	metrics.PackagesScanned.WithLabelValues("warn").Add(float64(summary.Suspicious))
	metrics.PackagesScanned.WithLabelValues("block").Add(float64(summary.HighRisk))
	metrics.PackagesScanned.WithLabelValues("not_found").Add(float64(summary.NotFound))

	slog.InfoContext(ctx, "scan complete",
		"verified", summary.Verified, "suspicious", summary.Suspicious,
		"high_risk", summary.HighRisk, "not_found", summary.NotFound)
	return summary, nil
}
