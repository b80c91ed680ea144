// Package pkgmeta holds the small data shapes that flow between an
// [github.com/quay/slopguard/pkgecosystem.Adapter], the trust scorer, and the
// anomaly detectors: what a registry told us about a package and its
// versions.
//
// It's split out from [pkgecosystem] so that the anomaly package can depend
// on these shapes without creating an import cycle back through the Adapter
// interface, which itself returns anomaly findings.
package pkgmeta

import "time"

// VersionRecord describes a single published version of a package.
type VersionRecord struct {
	Version string
	// Created is when the registry recorded this version as published.
	// It is the zero [time.Time] when the registry doesn't report it.
	Created time.Time
	Yanked  bool
}

// SourceRepo identifies a resolved code-hosting repository.
type SourceRepo struct {
	Host  string // e.g. "github.com"
	Owner string
	Repo  string
}

// Metadata is the opaque, ecosystem-native attribute bag an Adapter fills in
// from a registry response, plus the handful of fields every ecosystem is
// expected to resolve.
type Metadata struct {
	// Raw holds ecosystem-specific fields (classifiers, license, owner
	// login, scorecard response, ...) that only that ecosystem's scoring
	// and anomaly functions interpret.
	Raw map[string]any
	// SourceRepo is the resolved code-hosting repository, if any.
	SourceRepo *SourceRepo
	// Stdlib marks a module-path package that short-circuits scoring
	// because it lives under a reserved standard-library-equivalent
	// namespace (e.g. golang.org/x/...).
	Stdlib bool
	// Author is the ecosystem's notion of "who currently owns this
	// package" (gem owner, PyPI maintainer, repo owner login). Used by the
	// ownership-change detector.
	Author string
	// Downloads is the all-time (or best available) download count, or -1
	// when the registry has no such concept.
	Downloads int64
}

// Breakdown is one signed scoring contribution.
type Breakdown struct {
	Signal string
	Points int
	Reason string
}

// OldestVersion returns the earliest Created timestamp among versions,
// ignoring zero-valued (unknown) timestamps. The ok result is false when no
// version carries a known creation time.
func OldestVersion(versions []VersionRecord) (t time.Time, ok bool) {
	for _, v := range versions {
		if v.Created.IsZero() {
			continue
		}
		if !ok || v.Created.Before(t) {
			t = v.Created
			ok = true
		}
	}
	return t, ok
}
