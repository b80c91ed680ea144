// Package anomaly implements the family of independent pattern checkers that
// flag suspicious packages: name-similarity attacks (typosquatting,
// homoglyphs), namespace squatting, download/version growth anomalies, and
// ownership changes.
//
// Each detector is a free function rather than a type, since none of them
// carry constructor-time state; the one exception, the ownership-change
// detector, is explicit about the cache it reads and writes rather than
// hiding that dependency behind an adapter boundary (see
// [OwnershipChange]).
package anomaly

import "fmt"

// Severity ranks how serious an Anomaly is.
type Severity string

const (
	High   Severity = "HIGH"
	Medium Severity = "MEDIUM"
	Low    Severity = "LOW"
)

// Penalty returns the score deduction for a Severity: HIGH -20, MEDIUM -10,
// LOW -5.
func (s Severity) Penalty() int {
	switch s {
	case High:
		return -20
	case Medium:
		return -10
	case Low:
		return -5
	default:
		return 0
	}
}

// Type identifies which detector produced an Anomaly.
type Type string

const (
	TyposquatType            Type = "typosquat"
	HomoglyphType            Type = "homoglyph"
	NamespaceSquatType       Type = "namespace_squat"
	DownloadInflationType    Type = "download_inflation"
	VersionSpikeType         Type = "version_spike"
	NewPackage               Type = "new_package"
	RapidVersioning          Type = "rapid_versioning"
	OwnershipChangeType      Type = "ownership_change"
	NamePatternTyposquatType Type = "name_pattern_typosquat"
)

// Anomaly is one finding produced by a detector.
type Anomaly struct {
	Type           Type
	Severity       Severity
	Description    string
	TargetPackage  string // the popular/base package this finding is relative to, if any
}

func (a Anomaly) String() string {
	if a.TargetPackage != "" {
		return fmt.Sprintf("%s[%s] vs %s: %s", a.Type, a.Severity, a.TargetPackage, a.Description)
	}
	return fmt.Sprintf("%s[%s]: %s", a.Type, a.Severity, a.Description)
}
