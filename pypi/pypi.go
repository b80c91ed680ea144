// Package pypi implements the [github.com/quay/slopguard/pkgecosystem.Adapter]
// contract against the public PyPI JSON API. PyPI exposes no downloads or
// reverse-dependents signal, so its weights lean more heavily on age,
// version count, and trove classifiers than RubyGems does.
package pypi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
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
// [github.com/quay/slopguard/pkgref.PyPI].
const Name = "python"

var cfg = pkgecosystem.EcosystemConfig{
	AgeTiers: []pkgecosystem.Tier{
		{Min: 730, Points: 25},
		{Min: 365, Points: 17},
		{Min: 182, Points: 8},
	},
	VersionCountTiers: []pkgecosystem.Tier{
		{Min: 21, Points: 20},
		{Min: 11, Points: 14},
		{Min: 6, Points: 6},
	},
	SourceHostMaxPoints: 15,
}

// popularPackages is a hard-coded set of well-known PyPI projects. PyPI
// exposes no public download-count figure per package, so the popularity
// proxy is -1 ("known popular, no figure available"), per [anomaly.PopularList]'s
// documented sentinel.
var popularPackages = map[string]int64{
	"django":     -1,
	"flask":      -1,
	"requests":   -1,
	"numpy":      -1,
	"pandas":     -1,
	"pytest":     -1,
	"sqlalchemy": -1,
	"boto3":      -1,
	"scipy":      -1,
	"pillow":     -1,
}

// Normalize canonicalizes a PyPI project name: lowercase, with '_' and '.'
// collapsed onto '-', matching PyPI's own registry lookup rules.
func Normalize(name string) string {
	lower := strings.ToLower(name)
	replaced := strings.NewReplacer("_", "-", ".", "-").Replace(lower)
	for strings.Contains(replaced, "--") {
		replaced = strings.ReplaceAll(replaced, "--", "-")
	}
	return replaced
}

// Adapter implements pkgecosystem.Adapter against the PyPI JSON API.
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

type projectResponse struct {
	Info struct {
		Author      string   `json:"author"`
		License     string   `json:"license"`
		Classifiers []string `json:"classifiers"`
		ProjectURLs map[string]string `json:"project_urls"`
		HomePage    string   `json:"home_page"`
	} `json:"info"`
	Releases map[string][]struct {
		UploadTimeISO8601 time.Time `json:"upload_time_iso_8601"`
	} `json:"releases"`
}

func (a *Adapter) FetchMetadata(ctx context.Context, name string) (*pkgecosystem.FetchResult, error) {
	normalized := Normalize(name)
	var proj projectResponse
	err := a.fetcher.GetJSON(ctx, fmt.Sprintf("https://pypi.org/pypi/%s/json", url.PathEscape(normalized)), &proj)
	if err != nil {
		if errors.Is(err, httpfetch.ErrAbsent) {
			return nil, nil
		}
		return nil, err
	}

	var records []pkgmeta.VersionRecord
	for version, releases := range proj.Releases {
		if len(releases) == 0 {
			records = append(records, pkgmeta.VersionRecord{Version: version})
			continue
		}
		records = append(records, pkgmeta.VersionRecord{Version: version, Created: releases[0].UploadTimeISO8601})
	}

	meta := pkgmeta.Metadata{
		Raw: map[string]any{
			"classifiers": proj.Info.Classifiers,
			"license":     proj.Info.License,
		},
		SourceRepo: resolveSourceRepo(proj.Info.ProjectURLs, proj.Info.HomePage),
		Author:     proj.Info.Author,
		Downloads:  -1,
	}
	return &pkgecosystem.FetchResult{Metadata: meta, Versions: records}, nil
}

func (a *Adapter) CalculateTrust(ctx context.Context, name string, meta pkgmeta.Metadata, versions []pkgmeta.VersionRecord) (int, []pkgmeta.Breakdown, error) {
	breakdown := []pkgmeta.Breakdown{
		pkgecosystem.AgeScore(versions, cfg, a.clock()),
		pkgecosystem.VersionCountScore(versions, cfg),
		maturityScore(meta),
		licenseScore(meta),
		modernLanguageScore(meta),
	}
	return pkgecosystem.Sum(breakdown), breakdown, nil
}

// FetchDependentsCount always reports unsupported: PyPI exposes no reverse
// dependency API.
func (a *Adapter) FetchDependentsCount(ctx context.Context, name string) (int64, error) {
	return -1, nil
}

func (a *Adapter) SourceHostScore(ctx context.Context, meta pkgmeta.Metadata) (int, []pkgmeta.Breakdown, error) {
	if meta.SourceRepo == nil {
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
	popular, err := a.popularList(ctx)
	if err != nil {
		return nil, err
	}

	now := a.clock()
	oldest, _ := pkgmeta.OldestVersion(versions)
	normalized := Normalize(name)

	var found []anomaly.Anomaly
	for _, fn := range []*anomaly.Anomaly{
		anomaly.Typosquat(normalized, -1, popular),
		anomaly.Homoglyph(normalized, popular),
		anomaly.NamespaceSquat(normalized, 0, false, popular),
		anomaly.VersionSpike(versions, now),
		anomaly.NewPackageFinding(oldest, now),
		anomaly.RapidVersioningFinding(versions),
	} {
		if fn != nil {
			found = append(found, *fn)
		}
	}

	change, err := anomaly.OwnershipChange(ctx, a.cache, Name, normalized, meta.Author, 0)
	if err != nil {
		return nil, err
	}
	if change != nil {
		found = append(found, *change)
	}
	return found, nil
}

func (a *Adapter) popularList(ctx context.Context) (anomaly.PopularList, error) {
	var list anomaly.PopularList
	_, err := a.cache.Fetch(ctx, "popular:python", diskcache.LongTTL, &list, func(ctx context.Context) (any, error) {
		return anomaly.PopularList{Downloads: popularPackages}, nil
	})
	return list, err
}

func maturityScore(meta pkgmeta.Metadata) pkgmeta.Breakdown {
	classifiers, _ := meta.Raw["classifiers"].([]string)
	for _, c := range classifiers {
		switch {
		case strings.Contains(c, "5 - Production/Stable"):
			return pkgmeta.Breakdown{Signal: "maturity", Points: 10, Reason: "classified Production/Stable"}
		case strings.Contains(c, "4 - Beta"):
			return pkgmeta.Breakdown{Signal: "maturity", Points: 5, Reason: "classified Beta"}
		case strings.Contains(c, "3 - Alpha"):
			return pkgmeta.Breakdown{Signal: "maturity", Points: 2, Reason: "classified Alpha"}
		case strings.Contains(c, "7 - Inactive"):
			return pkgmeta.Breakdown{Signal: "maturity", Points: 0, Reason: "classified Inactive"}
		}
	}
	return pkgmeta.Breakdown{Signal: "maturity", Points: 0, Reason: "no development-status classifier"}
}

func licenseScore(meta pkgmeta.Metadata) pkgmeta.Breakdown {
	classifiers, _ := meta.Raw["classifiers"].([]string)
	license, _ := meta.Raw["license"].(string)
	declared := license != ""
	for _, c := range classifiers {
		if strings.HasPrefix(c, "License ::") {
			declared = true
			break
		}
	}
	if declared {
		return pkgmeta.Breakdown{Signal: "license", Points: 5, Reason: "license declared"}
	}
	return pkgmeta.Breakdown{Signal: "license", Points: 0, Reason: "no license declared"}
}

func modernLanguageScore(meta pkgmeta.Metadata) pkgmeta.Breakdown {
	classifiers, _ := meta.Raw["classifiers"].([]string)
	for _, c := range classifiers {
		if strings.HasPrefix(c, "Programming Language :: Python :: 3") {
			return pkgmeta.Breakdown{Signal: "modern_language_support", Points: 5, Reason: "declares Python 3 support"}
		}
	}
	return pkgmeta.Breakdown{Signal: "modern_language_support", Points: 0, Reason: "no Python 3 classifier"}
}

func resolveSourceRepo(projectURLs map[string]string, homepage string) *pkgmeta.SourceRepo {
	candidates := make([]string, 0, len(projectURLs)+1)
	for _, v := range projectURLs {
		candidates = append(candidates, v)
	}
	candidates = append(candidates, homepage)
	for _, c := range candidates {
		if repo := parseGitHubRepo(c); repo != nil {
			return repo
		}
	}
	return nil
}

func parseGitHubRepo(uri string) *pkgmeta.SourceRepo {
	if uri == "" {
		return nil
	}
	u, err := url.Parse(uri)
	if err != nil || u.Host != "github.com" {
		return nil
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return nil
	}
	return &pkgmeta.SourceRepo{Host: "github.com", Owner: parts[0], Repo: strings.TrimSuffix(parts[1], ".git")}
}
