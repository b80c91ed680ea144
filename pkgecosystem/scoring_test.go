package pkgecosystem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quay/slopguard/pkgmeta"
)

func TestScoreTierLadder(t *testing.T) {
	tiers := []Tier{
		{Min: 1000, Points: 30},
		{Min: 100, Points: 20},
		{Min: 10, Points: 10},
	}
	cases := []struct {
		name  string
		value float64
		want  int
	}{
		{"above top tier", 5000, 30},
		{"exactly at top cutoff", 1000, 30},
		{"just under top cutoff", 999, 20},
		{"exactly at middle cutoff", 100, 20},
		{"exactly at bottom cutoff", 10, 10},
		{"just under bottom cutoff", 9, 0},
		{"zero", 0, 0},
		{"negative", -5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Score(tc.value, tiers))
		})
	}
}

func TestScoreEmptyTiers(t *testing.T) {
	require.Equal(t, 0, Score(1_000_000, nil))
	require.Equal(t, 0, Score(1_000_000, []Tier{}))
}

func TestScoreWalksTiersInGivenOrder(t *testing.T) {
	// Tiers are walked in the order supplied, first match wins: a caller
	// that hands them lowest-first gets the lowest tier's points for any
	// qualifying value. The ladders in this module are all declared
	// highest-first for exactly this reason.
	misordered := []Tier{
		{Min: 10, Points: 10},
		{Min: 1000, Points: 30},
	}
	require.Equal(t, 10, Score(5000, misordered))
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{-40, 0},
		{-1, 0},
		{0, 0},
		{1, 1},
		{60, 60},
		{100, 100},
		{101, 100},
		{250, 100},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Clamp(tc.in))
	}
}

func TestAgeScoreTiersOnOldestVersion(t *testing.T) {
	cfg := EcosystemConfig{AgeTiers: []Tier{
		{Min: 730, Points: 15},
		{Min: 365, Points: 10},
		{Min: 182, Points: 5},
	}}
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	versions := []pkgmeta.VersionRecord{
		{Version: "2.0.0", Created: now.AddDate(0, -1, 0)},
		{Version: "1.0.0", Created: now.AddDate(-3, 0, 0)},
	}

	b := AgeScore(versions, cfg, now)
	require.Equal(t, "age", b.Signal)
	require.Equal(t, 15, b.Points, "the oldest version, not the newest, sets the age")
}

func TestAgeScoreNoDatedVersions(t *testing.T) {
	cfg := EcosystemConfig{AgeTiers: []Tier{{Min: 1, Points: 15}}}
	b := AgeScore([]pkgmeta.VersionRecord{{Version: "1.0.0"}}, cfg, time.Now())
	require.Equal(t, 0, b.Points)
}

func TestVersionCountScore(t *testing.T) {
	cfg := EcosystemConfig{VersionCountTiers: []Tier{
		{Min: 21, Points: 10},
		{Min: 11, Points: 7},
		{Min: 6, Points: 3},
	}}
	versions := func(n int) []pkgmeta.VersionRecord {
		out := make([]pkgmeta.VersionRecord, n)
		return out
	}
	require.Equal(t, 10, VersionCountScore(versions(25), cfg).Points)
	require.Equal(t, 10, VersionCountScore(versions(21), cfg).Points)
	require.Equal(t, 7, VersionCountScore(versions(20), cfg).Points)
	require.Equal(t, 3, VersionCountScore(versions(6), cfg).Points)
	require.Equal(t, 0, VersionCountScore(versions(5), cfg).Points)
	require.Equal(t, 0, VersionCountScore(nil, cfg).Points)
}

func TestDownloadScoreNegativeMeansUnavailable(t *testing.T) {
	cfg := EcosystemConfig{DownloadTiers: []Tier{{Min: 1, Points: 30}}}
	b := DownloadScore(-1, cfg)
	require.Equal(t, 0, b.Points)
	require.Equal(t, "downloads", b.Signal)
}

func TestDependentsScore(t *testing.T) {
	cfg := EcosystemConfig{DependentsTiers: []Tier{
		{Min: 1001, Points: 10},
		{Min: 101, Points: 7},
		{Min: 11, Points: 3},
	}}
	require.Equal(t, 10, DependentsScore(1200, cfg).Points)
	require.Equal(t, 7, DependentsScore(101, cfg).Points)
	require.Equal(t, 0, DependentsScore(10, cfg).Points)
	require.Equal(t, 0, DependentsScore(0, cfg).Points)
}

func TestSourceHostScoreCapsAtConfiguredMax(t *testing.T) {
	cfg := EcosystemConfig{SourceHostMaxPoints: 20}

	// Top star tier plus the organization bonus would exceed the cap.
	b := SourceHostScore(50_000, true, cfg)
	require.Equal(t, 20, b.Points)

	b = SourceHostScore(50_000, false, cfg)
	require.Equal(t, 20, b.Points)

	b = SourceHostScore(5000, true, cfg)
	require.Equal(t, 19, b.Points) // 3/4 of max plus a fifth of max

	b = SourceHostScore(500, false, cfg)
	require.Equal(t, 10, b.Points) // half of max

	b = SourceHostScore(0, false, cfg)
	require.Equal(t, 0, b.Points)
}

func TestSum(t *testing.T) {
	require.Equal(t, 0, Sum(nil))
	require.Equal(t, 7, Sum([]pkgmeta.Breakdown{
		{Signal: "a", Points: 10},
		{Signal: "b", Points: -3},
	}))
}
