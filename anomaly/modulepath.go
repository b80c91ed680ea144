package anomaly

import (
	"fmt"
	"regexp"
)

var (
	trailingGoSuffix = regexp.MustCompile(`-go$`)
	golangPrefix     = regexp.MustCompile(`^golang-`)
	trailingDigits   = regexp.MustCompile(`[0-9]{2,}$`)
)

// hasTripleRepeatChars reports whether s contains the same character
// repeated three or more times in a row. Go's regexp package (RE2) does
// not support backreferences, so this cannot be expressed as a regexp.
func hasTripleRepeatChars(s string) bool {
	runes := []rune(s)
	for i := 0; i+2 < len(runes); i++ {
		if runes[i] == runes[i+1] && runes[i+1] == runes[i+2] {
			return true
		}
	}
	return false
}

// NamePatternTyposquat flags module-path repository names matching common
// hallucination shapes: a "-go" suffix, a "golang-" prefix, a triple (or
// more) repeated letter, or a trailing multi-digit suffix.
func NamePatternTyposquat(repoName string) *Anomaly {
	var reason string
	switch {
	case trailingGoSuffix.MatchString(repoName):
		reason = `repository name ends in "-go"`
	case golangPrefix.MatchString(repoName):
		reason = `repository name starts with "golang-"`
	case hasTripleRepeatChars(repoName):
		reason = "repository name contains a triple-repeated letter"
	case trailingDigits.MatchString(repoName):
		reason = "repository name ends in a multi-digit suffix"
	default:
		return nil
	}
	return &Anomaly{
		Type:        NamePatternTyposquatType,
		Severity:    Medium,
		Description: fmt.Sprintf("%s: %q", reason, repoName),
	}
}
