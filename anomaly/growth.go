package anomaly

import (
	"fmt"
	"time"

	"github.com/quay/slopguard/pkgmeta"
)

// downloadInflationWatermark: above this all-time download count, a package
// is assumed too established for the inflation heuristic to be meaningful.
const downloadInflationWatermark = 50_000_000

// DownloadInflation flags abnormally fast download accumulation relative to
// package age. It never fires above downloadInflationWatermark downloads, or
// for packages younger than 7 days (too little signal either way).
func DownloadInflation(downloads int64, oldest time.Time, now time.Time) *Anomaly {
	if downloads < 0 || downloads >= downloadInflationWatermark {
		return nil
	}
	if oldest.IsZero() {
		return nil
	}
	ageDays := now.Sub(oldest).Hours() / 24
	if ageDays < 7 {
		return nil
	}
	ratio := float64(downloads) / (ageDays * 1000)
	switch {
	case ratio > 100 && ageDays < 30:
		return &Anomaly{
			Type:     DownloadInflationType,
			Severity: High,
			Description: fmt.Sprintf(
				"%d downloads in %.0f days (ratio %.1f) is abnormally fast growth for a new package",
				downloads, ageDays, ratio),
		}
	case ratio > 50 && ageDays < 14:
		return &Anomaly{
			Type:     DownloadInflationType,
			Severity: Medium,
			Description: fmt.Sprintf(
				"%d downloads in %.0f days (ratio %.1f) is unusually fast growth for a new package",
				downloads, ageDays, ratio),
		}
	}
	return nil
}

// VersionSpike flags an unusual burst of version releases in a short
// window: 5+ in the last 24h is HIGH, 10+ in the last 7 days is MEDIUM.
func VersionSpike(versions []pkgmeta.VersionRecord, now time.Time) *Anomaly {
	var in24h, in7d int
	for _, v := range versions {
		if v.Created.IsZero() {
			continue
		}
		age := now.Sub(v.Created)
		if age <= 24*time.Hour {
			in24h++
		}
		if age <= 7*24*time.Hour {
			in7d++
		}
	}
	switch {
	case in24h >= 5:
		return &Anomaly{
			Type:        VersionSpikeType,
			Severity:    High,
			Description: fmt.Sprintf("%d versions released in the last 24 hours", in24h),
		}
	case in7d >= 10:
		return &Anomaly{
			Type:        VersionSpikeType,
			Severity:    Medium,
			Description: fmt.Sprintf("%d versions released in the last 7 days", in7d),
		}
	}
	return nil
}

// newPackageThreshold is the age, in days, under which a package is flagged
// as new.
const newPackageThreshold = 90

// NewPackageFinding flags a package whose oldest version was published less
// than 90 days ago, at LOW severity: on its own this is common and
// unremarkable, but it raises the stakes of other findings.
func NewPackageFinding(oldest time.Time, now time.Time) *Anomaly {
	if oldest.IsZero() {
		return nil
	}
	ageDays := now.Sub(oldest).Hours() / 24
	if ageDays >= newPackageThreshold {
		return nil
	}
	return &Anomaly{
		Type:        NewPackage,
		Severity:    Low,
		Description: fmt.Sprintf("oldest version is only %.0f days old", ageDays),
	}
}

// RapidVersioningFinding flags more than 20 versions published within 30
// days of the oldest version, at MEDIUM severity.
func RapidVersioningFinding(versions []pkgmeta.VersionRecord) *Anomaly {
	oldest, ok := pkgmeta.OldestVersion(versions)
	if !ok {
		return nil
	}
	count := 0
	for _, v := range versions {
		if v.Created.IsZero() {
			continue
		}
		if v.Created.Sub(oldest) < 30*24*time.Hour {
			count++
		}
	}
	if count > 20 {
		return &Anomaly{
			Type:        RapidVersioning,
			Severity:    Medium,
			Description: fmt.Sprintf("%d versions published within 30 days of the first", count),
		}
	}
	return nil
}
