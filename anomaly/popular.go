package anomaly

// UnknownPopularity is the sentinel [PopularList.Downloads] figure for a
// package known to be popular whose adoption count the ecosystem doesn't
// expose (PyPI, Go modules).
const UnknownPopularity int64 = -1

// PopularList is a per-ecosystem list of well-known package names and their
// popularity proxy (downloads, or any monotonically-comparable adoption
// figure the ecosystem provides). Both [Typosquat] and [Homoglyph] consume
// it; the caller is responsible for fetching it once per ecosystem per scan
// (typically through a long-TTL cache entry) rather than recomputing it per
// package. [Homoglyph] takes the list as an explicit parameter rather than
// relying on [Typosquat] having run first.
type PopularList struct {
	// Downloads maps a lowercase package name to its popularity figure.
	// A figure of -1 means "known to be popular but no figure available"
	// (used by ecosystems with no download counts).
	Downloads map[string]int64
}

// Lookup returns the popularity figure for name (case-sensitive as stored;
// callers normalize before calling), and whether it's present.
func (p PopularList) Lookup(name string) (int64, bool) {
	if p.Downloads == nil {
		return 0, false
	}
	v, ok := p.Downloads[name]
	return v, ok
}

// Names returns every name in the list.
func (p PopularList) Names() []string {
	out := make([]string, 0, len(p.Downloads))
	for n := range p.Downloads {
		out = append(out, n)
	}
	return out
}
