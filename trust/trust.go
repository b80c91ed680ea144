// Package trust implements the three-stage lazy trust scorer: the one place
// in the pipeline that decides how much of an [github.com/quay/slopguard/pkgecosystem.Adapter]'s
// capability set is worth paying for, for a given package.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/quay/slopguard/internal/metrics"
	"github.com/quay/slopguard/pkgecosystem"
	"github.com/quay/slopguard/pkgmeta"
)

// finalizeThreshold is the cumulative score at or above which a stage
// short-circuits the remaining, more expensive stages.
const finalizeThreshold = 70

// Level is the coarse trust tag a [Result] is mapped to from its final
// score.
type Level string

const (
	Critical  Level = "CRITICAL"
	High      Level = "HIGH"
	Medium    Level = "MEDIUM"
	LowLevel  Level = "LOW"
	Untrusted Level = "UNTRUSTED"
	NotFound  Level = "NOT_FOUND"
)

// levelFor maps a clamped score to a Level by fixed cutoffs: 95 CRITICAL, 80
// HIGH, 60 MEDIUM, 40 LOW, else UNTRUSTED.
func levelFor(score int) Level {
	switch {
	case score >= 95:
		return Critical
	case score >= 80:
		return High
	case score >= 60:
		return Medium
	case score >= 40:
		return LowLevel
	default:
		return Untrusted
	}
}

// Result is the outcome of scoring one package: its final clamped score, the
// Level it maps to, the signed contributions that produced it, and which
// stage the scorer stopped at (0 only for NOT_FOUND).
type Result struct {
	Score     int
	Level     Level
	Breakdown []pkgmeta.Breakdown
	Stage     int

	Metadata pkgmeta.Metadata
	Versions []pkgmeta.VersionRecord
}

// Score drives adapter lazily through up to three stages, stopping as soon
// as the accumulated score clears finalizeThreshold, and returns the
// resulting Result.
//
// Absence from the registry (adapter.FetchMetadata returning a nil result)
// is not an error: it returns a NOT_FOUND Result with a nil error, per the
// data model's invariant that level=NOT_FOUND iff stage=0.
func Score(ctx context.Context, adapter pkgecosystem.Adapter, name string) (Result, error) {
	fr, err := adapter.FetchMetadata(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("trust: fetching metadata for %q: %w", name, err)
	}
	if fr == nil {
		return Result{Score: 0, Level: NotFound, Stage: 0}, nil
	}

	var breakdown []pkgmeta.Breakdown

	// Stage 1: basic signals already present in the fetched metadata.
	start := time.Now()
	pts, stage1, err := adapter.CalculateTrust(ctx, name, fr.Metadata, fr.Versions)
	if err != nil {
		return Result{}, fmt.Errorf("trust: calculating stage 1 trust for %q: %w", name, err)
	}
	observeStage(ctx, name, 1, start)
	breakdown = append(breakdown, stage1...)
	score := pts
	if score >= finalizeThreshold {
		return finalize(score, breakdown, 1, fr), nil
	}

	// Stage 2: reverse-dependency count, if the ecosystem exposes one.
	start = time.Now()
	count, err := adapter.FetchDependentsCount(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("trust: fetching dependents count for %q: %w", name, err)
	}
	observeStage(ctx, name, 2, start)
	if count >= 0 {
		b := pkgecosystem.DependentsScore(count, dependentsConfigFor(adapter))
		breakdown = append(breakdown, b)
		score += b.Points
	}
	if score >= finalizeThreshold {
		return finalize(score, breakdown, 2, fr), nil
	}

	// Stage 3: source-host reputation, the most expensive signal.
	start = time.Now()
	hostPts, stage3, err := adapter.SourceHostScore(ctx, fr.Metadata)
	if err != nil {
		return Result{}, fmt.Errorf("trust: scoring source host for %q: %w", name, err)
	}
	observeStage(ctx, name, 3, start)
	breakdown = append(breakdown, stage3...)
	score += hostPts
	return finalize(score, breakdown, 3, fr), nil
}

// observeStage records one stage's wall-clock cost in the stage-duration
// histogram and emits a debug-level timing line. Profiling runs force these
// lines out by raising the context's minimum level (see the root package's
// profile knob); otherwise they only appear under a debug handler.
func observeStage(ctx context.Context, name string, stage int, start time.Time) {
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(strconv.Itoa(stage)).Observe(elapsed.Seconds())
	slog.DebugContext(ctx, "trust stage complete", "package", name, "stage", stage, "elapsed", elapsed)
}

func finalize(score int, breakdown []pkgmeta.Breakdown, stage int, fr *pkgecosystem.FetchResult) Result {
	clamped := pkgecosystem.Clamp(score)
	return Result{
		Score:     clamped,
		Level:     levelFor(clamped),
		Breakdown: breakdown,
		Stage:     stage,
		Metadata:  fr.Metadata,
		Versions:  fr.Versions,
	}
}

// dependentsConfigFor avoids a second adapter method just to expose tier
// cutoffs: stage 2 scores the dependents count with the DependentsTiers of
// the adapter's optional Config method, and with conservative default tiers
// for adapters that have no Config method.
//
// Ecosystem adapters that already folded dependents into stage 1 (because
// fetching the count was already necessary to compute stage 1, e.g. if the
// metadata response embeds it) should return -1 from FetchDependentsCount so
// stage 2 is a no-op for them, avoiding double counting.
func dependentsConfigFor(adapter pkgecosystem.Adapter) pkgecosystem.EcosystemConfig {
	if cfg, ok := adapter.(interface {
		Config() pkgecosystem.EcosystemConfig
	}); ok {
		return cfg.Config()
	}
	return pkgecosystem.EcosystemConfig{
		DependentsTiers: []pkgecosystem.Tier{
			{Min: 1000, Points: 10},
			{Min: 100, Points: 7},
			{Min: 10, Points: 3},
		},
	}
}
