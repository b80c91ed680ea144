// Package pkgecosystem defines the capability set that every supported
// package registry (RubyGems, PyPI, the Go module proxy/index) implements,
// plus the scoring helpers shared across them.
//
// Every registry differs in which signals it can produce (downloads,
// dependents, classifiers, a security scorecard), but the trust pipeline
// treats them uniformly: a capability-set interface plus free functions
// parameterized by an [EcosystemConfig]. There is no shared mutable state
// between ecosystems, just shared math.
package pkgecosystem

import (
	"context"

	"github.com/quay/slopguard/anomaly"
	"github.com/quay/slopguard/pkgmeta"
)

// FetchResult is what [Adapter.FetchMetadata] returns on a successful probe.
type FetchResult struct {
	Metadata pkgmeta.Metadata
	Versions []pkgmeta.VersionRecord
}

// Adapter is the uniform contract every supported ecosystem implements.
//
// A nil [FetchResult] and nil error from FetchMetadata means the package
// does not exist in that ecosystem's registry; callers must not confuse that
// with an error.
type Adapter interface {
	// Name identifies the ecosystem, e.g. "ruby", "python", "module-path".
	Name() string

	// FetchMetadata is the canonical existence probe. It returns
	// (nil, nil) when the package does not exist.
	FetchMetadata(ctx context.Context, name string) (*FetchResult, error)

	// CalculateTrust derives basic-signal trust points from metadata
	// already in hand; it must not make further network calls.
	CalculateTrust(ctx context.Context, name string, meta pkgmeta.Metadata, versions []pkgmeta.VersionRecord) (points int, breakdown []pkgmeta.Breakdown, err error)

	// FetchDependentsCount returns how many other packages in this
	// ecosystem declare a dependency on name, or (-1, nil) when the
	// registry exposes no such signal.
	FetchDependentsCount(ctx context.Context, name string) (int64, error)

	// SourceHostScore scores the resolved source repository (stars,
	// organization ownership), or (0, nil, nil) when none was resolved.
	SourceHostScore(ctx context.Context, meta pkgmeta.Metadata) (points int, breakdown []pkgmeta.Breakdown, err error)

	// DetectAnomalies runs ecosystem-specific pattern checks.
	DetectAnomalies(ctx context.Context, name string, meta pkgmeta.Metadata, versions []pkgmeta.VersionRecord) ([]anomaly.Anomaly, error)
}
