// Package gomodule implements the [github.com/quay/slopguard/pkgecosystem.Adapter]
// contract for Go module paths: there is no central index, so a package is
// addressed by its host path and resolved through the module proxy, a
// vanity-domain meta-tag lookup, and a scorecard-style security aggregator
// rather than a single registry API.
package gomodule

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/quay/slopguard/anomaly"
	"github.com/quay/slopguard/internal/diskcache"
	"github.com/quay/slopguard/internal/httpfetch"
	"github.com/quay/slopguard/internal/sourcehost"
	"github.com/quay/slopguard/pkgecosystem"
	"github.com/quay/slopguard/pkgmeta"
)

// Name is the ecosystem tag this adapter registers under, matching
// [github.com/quay/slopguard/pkgref.GoModule].
const Name = "module-path"

var cfg = pkgecosystem.EcosystemConfig{
	AgeTiers: []pkgecosystem.Tier{
		{Min: 730, Points: 10},
		{Min: 365, Points: 6},
		{Min: 182, Points: 3},
	},
	VersionCountTiers: []pkgecosystem.Tier{
		{Min: 21, Points: 5},
		{Min: 11, Points: 3},
		{Min: 6, Points: 1},
	},
	SourceHostMaxPoints: 20,
}

// stdlibScore is the fixed score given to a reserved stdlib-equivalent
// module, short-circuiting the rest of the scoring pipeline.
const stdlibScore = 95

// stdlibPrefixes are module-path prefixes treated as part of the extended
// standard library, vendored outside the main module but maintained by the
// same Go team.
var stdlibPrefixes = []string{
	"golang.org/x/",
	"golang.org/toolchain",
}

func isStdlib(name string) bool {
	for _, p := range stdlibPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// popularModules stands in for a deps-aggregator popularity ranking, used by
// the name-similarity detectors. Go modules carry no downloads figure, so
// entries use the -1 "known popular" sentinel documented on [anomaly.PopularList].
var popularModules = map[string]int64{
	"github.com/gin-gonic/gin":      -1,
	"github.com/spf13/cobra":        -1,
	"github.com/stretchr/testify":   -1,
	"github.com/sirupsen/logrus":    -1,
	"github.com/gorilla/mux":        -1,
	"github.com/prometheus/client_golang": -1,
	"github.com/docker/docker":      -1,
	"github.com/kubernetes/kubernetes": -1,
}

// Adapter implements pkgecosystem.Adapter against the Go module proxy, a
// vanity-domain resolver, and a scorecard-style aggregator.
type Adapter struct {
	fetcher *httpfetch.Fetcher
	cache   *diskcache.Cache
	clock   func() time.Time
}

// New constructs an Adapter. clock defaults to time.Now when nil.
func New(fetcher *httpfetch.Fetcher, cache *diskcache.Cache, clock func() time.Time) *Adapter {
	if clock == nil {
		clock = time.Now
	}
	return &Adapter{fetcher: fetcher, cache: cache, clock: clock}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Config() pkgecosystem.EcosystemConfig { return cfg }

type versionInfo struct {
	Version string    `json:"Version"`
	Time    time.Time `json:"Time"`
}

type depsAggregatorResponse struct {
	Licenses        []string `json:"licenses"`
	DependencyCount int      `json:"dependencyCount"`
	Advisories      []struct {
		Severity string `json:"severity"`
	} `json:"advisories"`
}

type scorecardResponse struct {
	Score  float64 `json:"score"`
	Checks []struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
	} `json:"checks"`
}

func (a *Adapter) FetchMetadata(ctx context.Context, name string) (*pkgecosystem.FetchResult, error) {
	if isStdlib(name) {
		return &pkgecosystem.FetchResult{Metadata: pkgmeta.Metadata{Stdlib: true, Downloads: -1}}, nil
	}

	list, err := a.fetchVersionList(ctx, name)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, nil
	}

	var versions []pkgmeta.VersionRecord
	for _, v := range list {
		versions = append(versions, pkgmeta.VersionRecord{Version: v})
	}
	if len(versions) > 0 {
		if t, err := a.fetchVersionTime(ctx, name, versions[0].Version); err == nil {
			versions[0].Created = t
		}
	}

	repo := resolveModuleRepo(ctx, a.fetcher, a.cache, name)

	raw := map[string]any{}
	if repo != nil && len(versions) > 0 {
		agg, err := a.fetchAggregator(ctx, name, versions[0].Version)
		if err != nil {
			return nil, err
		}
		if agg != nil {
			raw["licenses"] = agg.Licenses
			raw["dependency_count"] = agg.DependencyCount
			raw["advisory_count"] = len(agg.Advisories)
		}

		sc, err := a.fetchScorecard(ctx, *repo)
		if err != nil {
			return nil, err
		}
		if sc != nil {
			raw["scorecard_score"] = sc.Score
			raw["scorecard_maintained"] = maintainedCheck(*sc)
		}
	}

	meta := pkgmeta.Metadata{
		Raw:        raw,
		SourceRepo: repo,
		Downloads:  -1,
	}
	return &pkgecosystem.FetchResult{Metadata: meta, Versions: versions}, nil
}

func (a *Adapter) CalculateTrust(ctx context.Context, name string, meta pkgmeta.Metadata, versions []pkgmeta.VersionRecord) (int, []pkgmeta.Breakdown, error) {
	if meta.Stdlib {
		return stdlibScore, []pkgmeta.Breakdown{
			{Signal: "standard_library", Points: stdlibScore, Reason: "module path is a reserved standard-library-equivalent prefix"},
		}, nil
	}

	breakdown := []pkgmeta.Breakdown{
		pkgecosystem.AgeScore(versions, cfg, a.clock()),
		pkgecosystem.VersionCountScore(versions, cfg),
		scorecardScore(meta),
		licenseScore(meta),
		dependencyCountInverseScore(meta),
		repoQualityScore(meta),
		advisoryPenalty(meta),
	}
	return pkgecosystem.Sum(breakdown), breakdown, nil
}

// FetchDependentsCount always reports unsupported: there is no reverse
// dependency index for arbitrary module paths.
func (a *Adapter) FetchDependentsCount(ctx context.Context, name string) (int64, error) {
	return -1, nil
}

func (a *Adapter) SourceHostScore(ctx context.Context, meta pkgmeta.Metadata) (int, []pkgmeta.Breakdown, error) {
	if meta.Stdlib || meta.SourceRepo == nil {
		return 0, nil, nil
	}
	facts, err := sourcehost.Resolve(ctx, a.fetcher, a.cache, *meta.SourceRepo)
	if err != nil {
		return 0, nil, err
	}
	b := pkgecosystem.SourceHostScore(facts.Stars, facts.IsOrg, cfg)
	return b.Points, []pkgmeta.Breakdown{b}, nil
}

func (a *Adapter) DetectAnomalies(ctx context.Context, name string, meta pkgmeta.Metadata, versions []pkgmeta.VersionRecord) ([]anomaly.Anomaly, error) {
	if meta.Stdlib {
		return nil, nil
	}

	now := a.clock()
	oldest, _ := pkgmeta.OldestVersion(versions)
	popular := anomaly.PopularList{Downloads: popularModules}

	var found []anomaly.Anomaly
	for _, fn := range []*anomaly.Anomaly{
		anomaly.Typosquat(name, -1, popular),
		anomaly.Homoglyph(name, popular),
		anomaly.NamespaceSquat(name, 0, false, popular),
		anomaly.VersionSpike(versions, now),
		anomaly.NewPackageFinding(oldest, now),
		anomaly.RapidVersioningFinding(versions),
	} {
		if fn != nil {
			found = append(found, *fn)
		}
	}

	if meta.SourceRepo != nil {
		if a := anomaly.NamePatternTyposquat(meta.SourceRepo.Repo); a != nil {
			found = append(found, *a)
		}
	}
	return found, nil
}

func (a *Adapter) fetchVersionList(ctx context.Context, name string) ([]string, error) {
	key := fmt.Sprintf("meta:gomodule:versions:%s", name)
	var list []string
	_, err := a.cache.Fetch(ctx, key, diskcache.LongTTL, &list, func(ctx context.Context) (any, error) {
		body, err := a.fetcher.GetText(ctx, fmt.Sprintf("https://proxy.golang.org/%s/@v/list", escapePath(name)))
		if err != nil {
			if errors.Is(err, httpfetch.ErrAbsent) {
				return []string{}, nil
			}
			return nil, err
		}
		var vs []string
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				vs = append(vs, line)
			}
		}
		return vs, nil
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

func (a *Adapter) fetchVersionTime(ctx context.Context, name, version string) (time.Time, error) {
	key := fmt.Sprintf("meta:gomodule:info:%s@%s", name, version)
	var info versionInfo
	_, err := a.cache.Fetch(ctx, key, diskcache.LongTTL, &info, func(ctx context.Context) (any, error) {
		var vi versionInfo
		reqURL := fmt.Sprintf("https://proxy.golang.org/%s/@v/%s.info", escapePath(name), escapePath(version))
		if err := a.fetcher.GetJSON(ctx, reqURL, &vi); err != nil {
			if errors.Is(err, httpfetch.ErrAbsent) {
				return versionInfo{}, nil
			}
			return nil, err
		}
		return vi, nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return info.Time, nil
}

func (a *Adapter) fetchAggregator(ctx context.Context, name, version string) (*depsAggregatorResponse, error) {
	key := fmt.Sprintf("meta:gomodule:deps:%s@%s", name, version)
	var resp depsAggregatorResponse
	_, err := a.cache.Fetch(ctx, key, diskcache.LongTTL, &resp, func(ctx context.Context) (any, error) {
		var r depsAggregatorResponse
		reqURL := fmt.Sprintf("https://api.deps.dev/v3/systems/go/packages/%s/versions/%s", url.PathEscape(name), url.PathEscape(version))
		if err := a.fetcher.GetJSON(ctx, reqURL, &r); err != nil {
			if errors.Is(err, httpfetch.ErrAbsent) {
				return depsAggregatorResponse{}, nil
			}
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *Adapter) fetchScorecard(ctx context.Context, repo pkgmeta.SourceRepo) (*scorecardResponse, error) {
	key := fmt.Sprintf("meta:gomodule:scorecard:%s/%s", repo.Owner, repo.Repo)
	var resp scorecardResponse
	_, err := a.cache.Fetch(ctx, key, diskcache.LongTTL, &resp, func(ctx context.Context) (any, error) {
		var r scorecardResponse
		reqURL := fmt.Sprintf("https://api.securityscorecards.dev/projects/github.com/%s/%s", repo.Owner, repo.Repo)
		if err := a.fetcher.GetJSON(ctx, reqURL, &r); err != nil {
			if errors.Is(err, httpfetch.ErrAbsent) {
				return scorecardResponse{}, nil
			}
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func scorecardScore(meta pkgmeta.Metadata) pkgmeta.Breakdown {
	score, ok := meta.Raw["scorecard_score"].(float64)
	if !ok {
		return pkgmeta.Breakdown{Signal: "scorecard", Points: 0, Reason: "no scorecard assessment available"}
	}
	pts := int(score / 10 * 20)
	if pts > 20 {
		pts = 20
	}
	if pts < 0 {
		pts = 0
	}
	return pkgmeta.Breakdown{Signal: "scorecard", Points: pts, Reason: fmt.Sprintf("scorecard score %.1f/10", score)}
}

func licenseScore(meta pkgmeta.Metadata) pkgmeta.Breakdown {
	licenses, _ := meta.Raw["licenses"].([]string)
	if len(licenses) > 0 {
		return pkgmeta.Breakdown{Signal: "license", Points: 5, Reason: "license declared"}
	}
	return pkgmeta.Breakdown{Signal: "license", Points: 0, Reason: "no license declared"}
}

// dependencyCountInverseScore awards fewer points as a module's own
// dependency count grows: a smaller attack surface is slightly more
// trustworthy.
func dependencyCountInverseScore(meta pkgmeta.Metadata) pkgmeta.Breakdown {
	count, ok := meta.Raw["dependency_count"].(int)
	if !ok {
		return pkgmeta.Breakdown{Signal: "dependency_count_inverse", Points: 0, Reason: "dependency count unavailable"}
	}
	var pts int
	switch {
	case count == 0:
		pts = 5
	case count <= 5:
		pts = 4
	case count <= 15:
		pts = 2
	default:
		pts = 0
	}
	return pkgmeta.Breakdown{Signal: "dependency_count_inverse", Points: pts, Reason: fmt.Sprintf("%d direct dependencies", count)}
}

func repoQualityScore(meta pkgmeta.Metadata) pkgmeta.Breakdown {
	maintained, ok := meta.Raw["scorecard_maintained"].(bool)
	if !ok || !maintained {
		return pkgmeta.Breakdown{Signal: "repo_quality", Points: 0, Reason: "no maintenance signal"}
	}
	return pkgmeta.Breakdown{Signal: "repo_quality", Points: 5, Reason: "scorecard reports active maintenance"}
}

func advisoryPenalty(meta pkgmeta.Metadata) pkgmeta.Breakdown {
	count, ok := meta.Raw["advisory_count"].(int)
	if !ok || count == 0 {
		return pkgmeta.Breakdown{Signal: "advisories", Points: 0, Reason: "no known advisories"}
	}
	pts := -10 * count
	if pts < -30 {
		pts = -30
	}
	return pkgmeta.Breakdown{Signal: "advisories", Points: pts, Reason: fmt.Sprintf("%d known advisories", count)}
}

func maintainedCheck(sc scorecardResponse) bool {
	for _, c := range sc.Checks {
		if strings.EqualFold(c.Name, "Maintained") && c.Score > 0 {
			return true
		}
	}
	return false
}

var goImportMeta = regexp.MustCompile(`<meta\s+name="go-import"\s+content="([^"]+)"`)

// resolveModuleRepo splits direct github.com/x/y module paths literally, and
// resolves anything else through the vanity-domain go-import discovery
// protocol, caching the result long-TTL.
func resolveModuleRepo(ctx context.Context, fetcher *httpfetch.Fetcher, cache *diskcache.Cache, name string) *pkgmeta.SourceRepo {
	if strings.HasPrefix(name, "github.com/") {
		parts := strings.Split(name, "/")
		if len(parts) >= 3 {
			return &pkgmeta.SourceRepo{Host: "github.com", Owner: parts[1], Repo: parts[2]}
		}
		return nil
	}

	parts := strings.SplitN(name, "/", 2)
	host := parts[0]
	if !strings.Contains(host, ".") {
		return nil
	}

	key := fmt.Sprintf("meta:gomodule:vanity:%s", name)
	var repo pkgmeta.SourceRepo
	if _, err := cache.Fetch(ctx, key, diskcache.LongTTL, &repo, func(ctx context.Context) (any, error) {
		r := resolveVanity(ctx, fetcher, name)
		if r == nil {
			return pkgmeta.SourceRepo{}, nil
		}
		return *r, nil
	}); err != nil || repo.Host == "" {
		return nil
	}
	return &repo
}

func resolveVanity(ctx context.Context, fetcher *httpfetch.Fetcher, name string) *pkgmeta.SourceRepo {
	body, err := fetcher.GetText(ctx, fmt.Sprintf("https://%s?go-get=1", name))
	if err != nil {
		return nil
	}
	match := goImportMeta.FindStringSubmatch(body)
	if match == nil {
		return nil
	}
	fields := strings.Fields(match[1])
	if len(fields) != 3 {
		return nil
	}
	repoURL := fields[2]
	u, err := url.Parse(repoURL)
	if err != nil || u.Host != "github.com" {
		return nil
	}
	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(pathParts) < 2 {
		return nil
	}
	return &pkgmeta.SourceRepo{Host: "github.com", Owner: pathParts[0], Repo: strings.TrimSuffix(pathParts[1], ".git")}
}

// escapePath implements the module-proxy "escaped path" encoding: each
// uppercase letter is replaced by an exclamation mark followed by its
// lowercase form, per the proxy protocol's case-fold-safe path rule.
func escapePath(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('!')
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
