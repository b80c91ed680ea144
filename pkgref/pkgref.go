// Package pkgref defines the input shape this module's core consumes from an
// external SBOM extractor: a bare (ecosystem, name, version) triple.
//
// Parsing an actual SBOM file and deciding which purl types map to which
// [Ecosystem] is the extractor's job, not this package's; see
// [github.com/package-url/packageurl-go] for the wire format such an
// extractor would typically decode from.
package pkgref

import (
	"fmt"
	"regexp"

	"github.com/package-url/packageurl-go"
)

// Ecosystem identifies which package registry a [Ref] belongs to.
type Ecosystem string

const (
	RubyGems  Ecosystem = "ruby"
	PyPI      Ecosystem = "python"
	GoModule  Ecosystem = "module-path"
	Unknown   Ecosystem = ""
)

// Supported reports the ecosystems this module knows how to evaluate.
func Supported() []Ecosystem {
	return []Ecosystem{RubyGems, PyPI, GoModule}
}

var (
	nameRE    = regexp.MustCompile(`^[A-Za-z0-9._/@-]+$`)
	versionRE = regexp.MustCompile(`^[A-Za-z0-9.+-]+$`)
)

// Ref is an immutable (ecosystem, name, version) triple identifying a
// declared dependency.
//
// A sequence of Refs handed to [github.com/quay/slopguard.Scan] MUST already
// be deduplicated by the caller: two Refs with the same Ecosystem, Name, and
// Version are considered the same declared dependency.
type Ref struct {
	Ecosystem Ecosystem
	Name      string
	Version   string
}

// String implements fmt.Stringer, rendering a Ref as "ecosystem:name@version".
func (r Ref) String() string {
	return fmt.Sprintf("%s:%s@%s", r.Ecosystem, r.Name, r.Version)
}

// Validate reports whether r satisfies the size and character-class limits
// documented for extractor input: a nonempty name of at most 200 characters
// drawn from [A-Za-z0-9._/@-], and a nonempty version of at most 50
// characters drawn from [A-Za-z0-9.+-].
func (r Ref) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("pkgref: empty name")
	case len(r.Name) > 200:
		return fmt.Errorf("pkgref: name %q exceeds 200 characters", r.Name)
	case !nameRE.MatchString(r.Name):
		return fmt.Errorf("pkgref: name %q contains disallowed characters", r.Name)
	case r.Version == "":
		return fmt.Errorf("pkgref: empty version")
	case len(r.Version) > 50:
		return fmt.Errorf("pkgref: version %q exceeds 50 characters", r.Version)
	case !versionRE.MatchString(r.Version):
		return fmt.Errorf("pkgref: version %q contains disallowed characters", r.Version)
	}
	return nil
}

// normalizeEcosystem maps common purl type aliases onto the Ecosystem tags
// this module understands.
func normalizeEcosystem(purlType string) Ecosystem {
	switch purlType {
	case "gem":
		return RubyGems
	case "pypi":
		return PyPI
	case "golang", "go":
		return GoModule
	default:
		return Unknown
	}
}

// FromPURL converts a decoded [packageurl.PackageURL] into a Ref, for
// extractors that already parse purls and just need the ecosystem alias
// normalized.
//
// For the "golang" purl type, the module path is reconstructed from the
// purl's namespace and name, since packageurl-go splits "github.com/x/y" into
// a namespace of "github.com/x" and a name of "y".
func FromPURL(p packageurl.PackageURL) Ref {
	name := p.Name
	if p.Namespace != "" {
		name = p.Namespace + "/" + p.Name
	}
	return Ref{
		Ecosystem: normalizeEcosystem(p.Type),
		Name:      name,
		Version:   p.Version,
	}
}
