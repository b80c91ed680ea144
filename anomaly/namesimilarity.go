package anomaly

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Typosquat flags name as a HIGH-severity typosquat when it is edit-distance
// 1 from some package in popular and the subject's downloads are under 0.1%
// of that target's. Exact matches (the subject is the popular package
// itself) never flag.
func Typosquat(name string, downloads int64, popular PopularList) *Anomaly {
	for _, target := range popular.Names() {
		if target == name {
			continue
		}
		if editDistance(name, target, 1) != 1 {
			continue
		}
		targetDownloads, ok := popular.Lookup(target)
		if !ok {
			continue
		}
		if targetDownloads == UnknownPopularity {
			// Ecosystem exposes no download figure for target, so there's no
			// ratio to compare: the edit-distance-1 match against a known
			// popular name is itself the signal.
			return &Anomaly{
				Type:          TyposquatType,
				Severity:      High,
				TargetPackage: target,
				Description: fmt.Sprintf(
					"%q is one character from popular package %q", name, target),
			}
		}
		if targetDownloads <= 0 || downloads < 0 {
			continue
		}
		if float64(downloads) < 0.001*float64(targetDownloads) {
			return &Anomaly{
				Type:          TyposquatType,
				Severity:      High,
				TargetPackage: target,
				Description: fmt.Sprintf(
					"%q is one character from popular package %q, with %d downloads vs %d (%.4f%%)",
					name, target, downloads, targetDownloads, 100*float64(downloads)/float64(targetDownloads)),
			}
		}
	}
	return nil
}

// confusable is a (visually-similar, canonical) substitution pair.
type confusable struct {
	similar, canonical string
}

// confusables is deliberately small and Latin-centric; widening it to
// cover the full Unicode confusables table would need a correspondingly
// wider test surface.
var confusables = []confusable{
	{"0", "O"},
	{"1", "l"},
	{"1", "I"},
	{"rn", "m"},
	{"vv", "w"},
}

// Homoglyph flags name as HIGH severity when substituting a known
// confusable pair into it yields a name present in popular.
//
// It takes popular as an explicit parameter rather than assuming
// [Typosquat] already populated some shared state, making the dependency
// between the two detectors visible at the call site.
func Homoglyph(name string, popular PopularList) *Anomaly {
	// NFKC-normalize so visually-equivalent Unicode code points collapse to
	// the same byte sequence before the (deliberately small) substitution
	// table is applied; this does not widen the confusable pair set.
	name = norm.NFKC.String(name)
	for _, c := range confusables {
		candidate := replaceAll(name, c.similar, c.canonical)
		if candidate == name {
			continue
		}
		if _, ok := popular.Lookup(candidate); ok {
			return &Anomaly{
				Type:          HomoglyphType,
				Severity:      High,
				TargetPackage: candidate,
				Description:   fmt.Sprintf("%q resembles popular package %q via visually-similar character substitution", name, candidate),
			}
		}
	}
	return nil
}

func replaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		if i+len(old) <= len(s) && s[i:i+len(old)] == old {
			out = append(out, new...)
			i += len(old)
			continue
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}
