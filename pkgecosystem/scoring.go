package pkgecosystem

import (
	"fmt"
	"time"

	"github.com/quay/slopguard/pkgmeta"
)

// AgeScore awards points from the age of the oldest known version, per the
// tiered ladder in cfg.AgeTiers. Packages with no dated version score 0.
func AgeScore(versions []pkgmeta.VersionRecord, cfg EcosystemConfig, now time.Time) pkgmeta.Breakdown {
	oldest, ok := pkgmeta.OldestVersion(versions)
	if !ok {
		return pkgmeta.Breakdown{Signal: "age", Points: 0, Reason: "no dated version available"}
	}
	days := AgeDays(oldest, now)
	pts := Score(days, cfg.AgeTiers)
	return pkgmeta.Breakdown{
		Signal: "age",
		Points: pts,
		Reason: fmt.Sprintf("oldest version is %.0f days old", days),
	}
}

// VersionCountScore awards points from the number of published versions,
// per cfg.VersionCountTiers.
func VersionCountScore(versions []pkgmeta.VersionRecord, cfg EcosystemConfig) pkgmeta.Breakdown {
	n := len(versions)
	pts := Score(float64(n), cfg.VersionCountTiers)
	return pkgmeta.Breakdown{
		Signal: "version_count",
		Points: pts,
		Reason: fmt.Sprintf("%d published versions", n),
	}
}

// DownloadScore awards points from an all-time download count, per
// cfg.DownloadTiers. Ecosystems without a downloads signal should not call
// this; downloads < 0 scores 0.
func DownloadScore(downloads int64, cfg EcosystemConfig) pkgmeta.Breakdown {
	if downloads < 0 {
		return pkgmeta.Breakdown{Signal: "downloads", Points: 0, Reason: "no download count available"}
	}
	pts := Score(float64(downloads), cfg.DownloadTiers)
	return pkgmeta.Breakdown{
		Signal: "downloads",
		Points: pts,
		Reason: fmt.Sprintf("%d all-time downloads", downloads),
	}
}

// DependentsScore awards points from a reverse-dependency count, per
// cfg.DependentsTiers.
func DependentsScore(count int64, cfg EcosystemConfig) pkgmeta.Breakdown {
	pts := Score(float64(count), cfg.DependentsTiers)
	return pkgmeta.Breakdown{
		Signal: "dependents",
		Points: pts,
		Reason: fmt.Sprintf("%d dependent packages", count),
	}
}

// SourceHostScore awards points from a resolved source repository's star
// count and whether it's owned by an organization rather than a personal
// account, capped at cfg.SourceHostMaxPoints.
func SourceHostScore(stars int, isOrg bool, cfg EcosystemConfig) pkgmeta.Breakdown {
	max := cfg.SourceHostMaxPoints
	if max <= 0 {
		max = 15
	}
	pts := 0
	switch {
	case stars >= 10000:
		pts = max
	case stars >= 1000:
		pts = max * 3 / 4
	case stars >= 100:
		pts = max / 2
	case stars >= 10:
		pts = max / 4
	}
	if isOrg {
		pts += max / 5
	}
	if pts > max {
		pts = max
	}
	return pkgmeta.Breakdown{
		Signal: "source_host",
		Points: pts,
		Reason: fmt.Sprintf("%d stars, organization owned: %t", stars, isOrg),
	}
}

// Clamp restricts score to [0,100].
func Clamp(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// Sum totals the points across a breakdown sequence.
func Sum(breakdown []pkgmeta.Breakdown) int {
	total := 0
	for _, b := range breakdown {
		total += b.Points
	}
	return total
}
