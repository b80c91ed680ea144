package anomaly

import (
	"fmt"
	"strings"
)

// magnetNamespaces are framework-brand prefixes treated as namespace
// magnets in ecosystems that carry no download counts (e.g. module-path
// packages), where the downloads-ratio test from [NamespaceSquat] can't
// run.
var magnetNamespaces = []string{
	"react", "vue", "angular", "django", "flask", "rails", "spring",
	"kubernetes", "docker", "aws", "azure", "google", "tensorflow",
}

// namespaceBaseDownloadWatermark is the minimum downloads a base package
// needs before its prefix is considered a squat magnet.
const namespaceBaseDownloadWatermark = 10_000_000

// splitNamespace returns the token before the first '-' or '_' in name.
func splitNamespace(name string) string {
	if i := strings.IndexAny(name, "-_"); i > 0 {
		return name[:i]
	}
	return name
}

// NamespaceSquat flags name when its namespace prefix matches a popular
// base package but the subject is unrelated to it.
//
// For ecosystems with downloads (hasDownloads true): the prefix must match a
// popular base package with at least 10M downloads, and the subject's own
// downloads must be under 1% of the base's — HIGH when the subject has
// under 1,000 downloads, MEDIUM otherwise.
//
// For ecosystems without downloads: flags whenever the prefix appears in a
// hard-coded list of framework-brand namespaces, at MEDIUM severity.
func NamespaceSquat(name string, downloads int64, hasDownloads bool, popular PopularList) *Anomaly {
	prefix := splitNamespace(name)
	if prefix == name {
		return nil // no namespace separator present
	}

	if !hasDownloads {
		for _, magnet := range magnetNamespaces {
			if strings.EqualFold(prefix, magnet) {
				return &Anomaly{
					Type:          NamespaceSquatType,
					Severity:      Medium,
					TargetPackage: magnet,
					Description:   fmt.Sprintf("%q is prefixed with reserved namespace %q", name, magnet),
				}
			}
		}
		return nil
	}

	baseDownloads, ok := popular.Lookup(prefix)
	if !ok || baseDownloads < namespaceBaseDownloadWatermark {
		return nil
	}
	if downloads < 0 {
		return nil
	}
	ratio := float64(downloads) / float64(baseDownloads)
	if ratio >= 0.01 {
		return nil
	}
	sev := Medium
	if downloads < 1000 {
		sev = High
	}
	return &Anomaly{
		Type:          NamespaceSquatType,
		Severity:      sev,
		TargetPackage: prefix,
		Description: fmt.Sprintf(
			"%q is namespaced under popular package %q (%d downloads) but has only %d downloads (%.4f%%)",
			name, prefix, baseDownloads, downloads, 100*ratio),
	}
}
