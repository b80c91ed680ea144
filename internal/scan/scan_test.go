package scan

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quay/slopguard/anomaly"
	"github.com/quay/slopguard/internal/httpfetch"
	"github.com/quay/slopguard/pkgecosystem"
	"github.com/quay/slopguard/pkgmeta"
	"github.com/quay/slopguard/pkgref"
	"github.com/quay/slopguard/trust"
)

// fakeAdapter drives one scripted Verdict per package name, letting tests
// assert the orchestrator's concurrency and error-handling behavior without
// any real network or registry dependency.
type fakeAdapter struct {
	byName map[string]*fakeBehavior
}

type fakeBehavior struct {
	notFound        bool
	fetchErr        error
	score           int
	anomalies       []anomaly.Anomaly
	anomaliesErr    error
	panic           bool
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) FetchMetadata(ctx context.Context, name string) (*pkgecosystem.FetchResult, error) {
	b := a.byName[name]
	if b == nil {
		return &pkgecosystem.FetchResult{}, nil
	}
	if b.panic {
		panic("boom: " + name)
	}
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if b.notFound {
		return nil, nil
	}
	return &pkgecosystem.FetchResult{}, nil
}

func (a *fakeAdapter) CalculateTrust(ctx context.Context, name string, meta pkgmeta.Metadata, versions []pkgmeta.VersionRecord) (int, []pkgmeta.Breakdown, error) {
	b := a.byName[name]
	if b == nil {
		return 0, nil, nil
	}
	return b.score, []pkgmeta.Breakdown{{Signal: "stage1", Points: b.score}}, nil
}

func (a *fakeAdapter) FetchDependentsCount(ctx context.Context, name string) (int64, error) {
	return -1, nil
}

func (a *fakeAdapter) SourceHostScore(ctx context.Context, meta pkgmeta.Metadata) (int, []pkgmeta.Breakdown, error) {
	return 0, nil, nil
}

func (a *fakeAdapter) DetectAnomalies(ctx context.Context, name string, meta pkgmeta.Metadata, versions []pkgmeta.VersionRecord) ([]anomaly.Anomaly, error) {
	b := a.byName[name]
	if b == nil {
		return nil, nil
	}
	if b.anomaliesErr != nil {
		return nil, b.anomaliesErr
	}
	return b.anomalies, nil
}

var _ pkgecosystem.Adapter = (*fakeAdapter)(nil)

func registryWith(a *fakeAdapter) *pkgecosystem.Registry {
	r := pkgecosystem.NewRegistry()
	_ = r.Register("fake", func() pkgecosystem.Adapter { return a })
	return r
}

func TestRunVerifiesHighScoringPackage(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"rails": {score: 90},
	}}
	refs := []pkgref.Ref{{Ecosystem: "fake", Name: "rails", Version: "7.1.0"}}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Verified)
	require.Equal(t, Verified, summary.Results[0].Action)
}

func TestRunMarksNotFoundPackage(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"nonexistent-package-xyz": {notFound: true},
	}}
	refs := []pkgref.Ref{{Ecosystem: "fake", Name: "nonexistent-package-xyz", Version: "0.1.0"}}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)
	require.Equal(t, 1, summary.NotFound)
	require.Equal(t, NotFound, summary.Results[0].Action)
}

func TestRunBlocksOnHighSeverityAnomalyBelowVerifiedFloor(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"rai1s": {score: 30, anomalies: []anomaly.Anomaly{{Type: "typosquat", Severity: anomaly.High, TargetPackage: "rails"}}},
	}}
	refs := []pkgref.Ref{{Ecosystem: "fake", Name: "rai1s", Version: "1.0.0"}}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)
	require.Equal(t, 1, summary.HighRisk)
	require.Equal(t, Block, summary.Results[0].Action)
}

func TestRunWarnsOnLowMidBandScore(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"shaky-package": {score: 25},
	}}
	refs := []pkgref.Ref{{Ecosystem: "fake", Name: "shaky-package", Version: "0.2.0"}}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Suspicious)
	require.Equal(t, Warn, summary.Results[0].Action)
}

func TestRunBlocksVeryLowScoreEvenWithoutAnomalies(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"barely-anything": {score: 5},
	}}
	refs := []pkgref.Ref{{Ecosystem: "fake", Name: "barely-anything", Version: "0.0.1"}}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)
	require.Equal(t, 1, summary.HighRisk)
	require.Equal(t, Block, summary.Results[0].Action)
}

func TestRunRecoversFromPanicIntoWarnVerdict(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"exploder": {panic: true},
	}}
	refs := []pkgref.Ref{{Ecosystem: "fake", Name: "exploder", Version: "1.0.0"}}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Suspicious)
	require.Equal(t, Warn, summary.Results[0].Action)
	require.Contains(t, summary.Results[0].Error, "panic")
}

func TestRunConvertsNonFatalErrorToWarn(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"flaky": {fetchErr: fmt.Errorf("transient network error")},
	}}
	refs := []pkgref.Ref{{Ecosystem: "fake", Name: "flaky", Version: "1.0.0"}}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Suspicious)
	require.Equal(t, Warn, summary.Results[0].Action)
}

func TestRunStopsDispatchOnFatalRateLimit(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"rate-limited": {fetchErr: httpfetch.ErrFatalRateLimit},
		"fine":         {score: 90},
	}}
	refs := []pkgref.Ref{
		{Ecosystem: "fake", Name: "rate-limited", Version: "1.0.0"},
		{Ecosystem: "fake", Name: "fine", Version: "1.0.0"},
	}
	summary, err := Run(context.Background(), registryWith(a), refs, 1)
	require.NoError(t, err)
	require.True(t, summary.Partial)
}

func TestRunSkipsUnsupportedEcosystem(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{}}
	refs := []pkgref.Ref{
		{Ecosystem: "fake", Name: "known", Version: "1.0.0"},
		{Ecosystem: "npm", Name: "unsupported-thing", Version: "1.0.0"},
	}
	a.byName["known"] = &fakeBehavior{score: 90}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
}

func TestAggregateSortsBySeverityThenName(t *testing.T) {
	summary := aggregate([]Verdict{
		{Ref: pkgref.Ref{Name: "zzz"}, Action: Verified},
		{Ref: pkgref.Ref{Name: "ccc"}, Action: Block},
		{Ref: pkgref.Ref{Name: "mmm"}, Action: Warn},
		{Ref: pkgref.Ref{Name: "bbb"}, Action: NotFound},
		{Ref: pkgref.Ref{Name: "aaa"}, Action: Verified},
		{Ref: pkgref.Ref{Name: "nnn"}, Action: Block},
	})

	var got []string
	for _, v := range summary.Results {
		got = append(got, string(v.Action)+":"+v.Ref.Name)
	}
	require.Equal(t, []string{
		"BLOCK:ccc",
		"BLOCK:nnn",
		"NOT_FOUND:bbb",
		"WARN:mmm",
		"VERIFIED:aaa",
		"VERIFIED:zzz",
	}, got)
	require.Equal(t, 2, summary.Verified)
	require.Equal(t, 1, summary.Suspicious)
	require.Equal(t, 2, summary.HighRisk)
	require.Equal(t, 1, summary.NotFound)
}

func TestRunResultsAreOrderedBySeverityThenName(t *testing.T) {
	a := &fakeAdapter{byName: map[string]*fakeBehavior{
		"good-zzz": {score: 90},
		"good-aaa": {score: 90},
		"missing":  {notFound: true},
		"squatted": {score: 50, anomalies: []anomaly.Anomaly{{Type: anomaly.TyposquatType, Severity: anomaly.High}}},
		"weak":     {score: 30},
	}}
	refs := []pkgref.Ref{
		{Ecosystem: "fake", Name: "good-zzz", Version: "1.0.0"},
		{Ecosystem: "fake", Name: "weak", Version: "1.0.0"},
		{Ecosystem: "fake", Name: "squatted", Version: "1.0.0"},
		{Ecosystem: "fake", Name: "good-aaa", Version: "1.0.0"},
		{Ecosystem: "fake", Name: "missing", Version: "1.0.0"},
	}
	summary, err := Run(context.Background(), registryWith(a), refs, 3)
	require.NoError(t, err)

	var got []string
	for _, v := range summary.Results {
		got = append(got, string(v.Action)+":"+v.Ref.Name)
	}
	require.Equal(t, []string{
		"BLOCK:squatted",
		"NOT_FOUND:missing",
		"WARN:weak",
		"VERIFIED:good-aaa",
		"VERIFIED:good-zzz",
	}, got)
}

func TestDeriveActionBoundaries(t *testing.T) {
	cases := []struct {
		name    string
		level   trust.Level
		score   int
		hasHigh bool
		want    Action
	}{
		{"not found passes through", trust.NotFound, 0, false, NotFound},
		{"high anomaly at or above verified floor still verifies", trust.Medium, 80, true, Verified},
		{"very low score blocks without anomaly", trust.Medium, 10, false, Block},
		{"low band warns", trust.Medium, 30, false, Warn},
		{"mid band verifies without high anomaly", trust.Medium, 45, false, Verified},
		{"at floor verifies", trust.Medium, 60, false, Verified},
	}
	for _, c := range cases {
		got := deriveAction(c.level, c.score, c.hasHigh)
		require.Equal(t, c.want, got, c.name)
	}
}
