// Package scan implements the concurrency-controlled worker pool that drives
// every declared package through the trust scorer and, when warranted, the
// anomaly detectors, then composes the aggregate summary.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/quay/slopguard/anomaly"
	"github.com/quay/slopguard/internal/httpfetch"
	"github.com/quay/slopguard/pkgecosystem"
	"github.com/quay/slopguard/pkgref"
	"github.com/quay/slopguard/trust"
)

// anomalyGateThreshold is the trust score below which anomaly detection
// actually runs; packages that already clear this bar skip the extra calls.
const anomalyGateThreshold = 60

// blockScoreFloor is the post-penalty score below which a package is blocked
// outright, independent of anomaly severity.
const blockScoreFloor = 20

// warnScoreCeiling is the post-penalty score below which a package without
// any HIGH-severity anomaly is downgraded from VERIFIED to WARN.
const warnScoreCeiling = 40

// verifiedScoreFloor is the post-penalty score at or above which a package
// is VERIFIED outright, regardless of anomaly findings.
const verifiedScoreFloor = 60

const (
	minWorkers     = 3
	maxWorkers     = 10
	defaultWorkers = 5
)

// Action is the disposition the orchestrator assigns a package.
type Action string

const (
	Verified Action = "VERIFIED"
	Warn     Action = "WARN"
	Block    Action = "BLOCK"
	NotFound Action = "NOT_FOUND"
)

// severityRank orders Actions for aggregation sort: BLOCK > NOT_FOUND > WARN
// > VERIFIED.
func (a Action) severityRank() int {
	switch a {
	case Block:
		return 0
	case NotFound:
		return 1
	case Warn:
		return 2
	case Verified:
		return 3
	default:
		return 4
	}
}

// Verdict is the outcome of evaluating one declared package.
type Verdict struct {
	Ref       pkgref.Ref
	Trust     trust.Result
	Anomalies []anomaly.Anomaly
	Action    Action
	Error     string
}

// Summary aggregates every Verdict from one scan.
type Summary struct {
	Total      int
	Verified   int
	Suspicious int
	HighRisk   int
	NotFound   int
	Results    []Verdict
	// Partial is true when a fatal source-host rate limit aborted dispatch
	// before every Ref was processed.
	Partial bool
}

// outcome is processOne's internal return shape: a public Verdict plus the
// unexported signal the pool uses to decide whether to stop dispatching new
// work.
type outcome struct {
	verdict Verdict
	fatal   bool
}

// Run evaluates every ref concurrently against registry and returns the
// aggregate Summary. workers <= 0 selects a default pool size derived from
// GOMAXPROCS, clamped to [3,10].
//
// An unexpected error inside one package's evaluation never fails the whole
// scan: it's converted to a WARN Verdict carrying the error's message. A
// fatal, quota-exhausted source-host rate limit is the only condition that
// stops new dispatches; in-flight workers are allowed to finish, and the
// returned Summary has Partial set.
func Run(ctx context.Context, registry *pkgecosystem.Registry, refs []pkgref.Ref, workers int) (Summary, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	switch {
	case workers < minWorkers:
		workers = minWorkers
	case workers > maxWorkers:
		workers = maxWorkers
	}
	if workers == 0 {
		workers = defaultWorkers
	}

	var fatal atomic.Bool
	slots := make([]*Verdict, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if fatal.Load() {
				return nil
			}
			adapter, ok := registry.Adapter(string(ref.Ecosystem))
			if !ok {
				return nil
			}
			oc := processOne(gctx, adapter, ref)
			slots[i] = &oc.verdict
			if oc.fatal {
				fatal.Store(true)
			}
			return nil
		})
	}
	// processOne never returns a non-nil error from the goroutine itself
	// (crashes are recovered into WARN verdicts), so g.Wait() only surfaces
	// context cancellation from the caller.
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	results := make([]Verdict, 0, len(refs))
	for _, v := range slots {
		if v != nil {
			results = append(results, *v)
		}
	}

	summary := aggregate(results)
	summary.Partial = fatal.Load()
	return summary, nil
}

// processOne drives one package through the trust scorer and, conditionally,
// anomaly detection, recovering from any panic into a WARN Verdict so one
// package's crash never poisons the scan.
func processOne(ctx context.Context, adapter pkgecosystem.Adapter, ref pkgref.Ref) (oc outcome) {
	defer func() {
		if r := recover(); r != nil {
			oc = outcome{verdict: Verdict{
				Ref:    ref,
				Action: Warn,
				Error:  fmt.Sprintf("panic: %v", r),
			}}
		}
	}()

	tr, err := trust.Score(ctx, adapter, ref.Name)
	if err != nil {
		if errors.Is(err, httpfetch.ErrFatalRateLimit) {
			return outcome{verdict: Verdict{Ref: ref, Action: Warn, Error: err.Error()}, fatal: true}
		}
		return outcome{verdict: Verdict{Ref: ref, Action: Warn, Error: err.Error()}}
	}

	var anomalies []anomaly.Anomaly
	if tr.Score < anomalyGateThreshold && tr.Level != trust.NotFound {
		found, err := adapter.DetectAnomalies(ctx, ref.Name, tr.Metadata, tr.Versions)
		if err != nil {
			if errors.Is(err, httpfetch.ErrFatalRateLimit) {
				return outcome{verdict: Verdict{Ref: ref, Trust: tr, Action: Warn, Error: err.Error()}, fatal: true}
			}
			return outcome{verdict: Verdict{Ref: ref, Trust: tr, Action: Warn, Error: err.Error()}}
		}
		anomalies = found
	}

	penalty := 0
	hasHigh := false
	for _, a := range anomalies {
		penalty += a.Severity.Penalty()
		if a.Severity == anomaly.High {
			hasHigh = true
		}
	}
	tr.Score = pkgecosystem.Clamp(tr.Score + penalty)

	return outcome{verdict: Verdict{
		Ref:       ref,
		Trust:     tr,
		Anomalies: anomalies,
		Action:    deriveAction(tr.Level, tr.Score, hasHigh),
	}}
}

// deriveAction implements the post-penalty action rule: NOT_FOUND passes
// through, scores at or above verifiedScoreFloor are always VERIFIED, below
// that floor any HIGH-severity anomaly forces BLOCK, a score below
// blockScoreFloor is BLOCK on its own, a score below warnScoreCeiling is
// WARN, and the remaining [warnScoreCeiling, verifiedScoreFloor) band with no
// HIGH anomaly stays VERIFIED.
func deriveAction(level trust.Level, score int, hasHigh bool) Action {
	switch {
	case level == trust.NotFound:
		return NotFound
	case score >= verifiedScoreFloor:
		return Verified
	case hasHigh:
		return Block
	case score < blockScoreFloor:
		return Block
	case score < warnScoreCeiling:
		return Warn
	default:
		return Verified
	}
}

// aggregate sorts results by action severity (BLOCK > NOT_FOUND > WARN >
// VERIFIED), then lexicographically by name, and tallies per-action counts.
func aggregate(results []Verdict) Summary {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Action.severityRank() != results[j].Action.severityRank() {
			return results[i].Action.severityRank() < results[j].Action.severityRank()
		}
		return results[i].Ref.Name < results[j].Ref.Name
	})

	s := Summary{Total: len(results), Results: results}
	for _, v := range results {
		switch v.Action {
		case Verified:
			s.Verified++
		case NotFound:
			s.NotFound++
		case Warn:
			s.Suspicious++
		case Block:
			s.HighRisk++
		}
	}
	return s
}
