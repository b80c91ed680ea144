// Package rubygems implements the [github.com/quay/slopguard/pkgecosystem.Adapter]
// contract against the public RubyGems.org API: gem metadata, version list,
// reverse dependencies, and a hard-coded popular-gem list for the
// name-similarity detectors.
package rubygems

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
// [github.com/quay/slopguard/pkgref.RubyGems].
const Name = "ruby"

var cfg = pkgecosystem.EcosystemConfig{
	DownloadTiers: []pkgecosystem.Tier{
		{Min: 100_000_000, Points: 30},
		{Min: 10_000_000, Points: 22},
		{Min: 1_000_000, Points: 15},
		{Min: 100_000, Points: 8},
	},
	AgeTiers: []pkgecosystem.Tier{
		{Min: 730, Points: 15},
		{Min: 365, Points: 10},
		{Min: 182, Points: 5},
	},
	VersionCountTiers: []pkgecosystem.Tier{
		{Min: 21, Points: 10},
		{Min: 11, Points: 7},
		{Min: 6, Points: 3},
	},
	DependentsTiers: []pkgecosystem.Tier{
		{Min: 1001, Points: 10},
		{Min: 101, Points: 7},
		{Min: 11, Points: 3},
	},
	SourceHostMaxPoints: 15,
}

// popularGems is a hard-coded set of well-known gems with approximate
// all-time download counts, standing in for the registry's download-ranking
// listing.
var popularGems = map[string]int64{
	"rails":      550_000_000,
	"rake":       900_000_000,
	"rspec":      700_000_000,
	"devise":     250_000_000,
	"sidekiq":    300_000_000,
	"puma":       500_000_000,
	"nokogiri":   800_000_000,
	"bundler":    950_000_000,
	"activesupport": 850_000_000,
	"faraday":    400_000_000,
}

// Adapter implements pkgecosystem.Adapter against the RubyGems.org API.
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

// Config exposes this adapter's scoring tiers so the trust scorer's stage 2
// can convert a dependents count to points with this adapter's
// DependentsTiers.
func (a *Adapter) Config() pkgecosystem.EcosystemConfig { return cfg }

type gemResponse struct {
	Name          string   `json:"name"`
	Downloads     int64    `json:"downloads"`
	Version       string   `json:"version"`
	Authors       string   `json:"authors"`
	Licenses      []string `json:"licenses"`
	SourceCodeURI string   `json:"source_code_uri"`
	HomepageURI   string   `json:"homepage_uri"`
}

type versionEntry struct {
	Number    string    `json:"number"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Adapter) FetchMetadata(ctx context.Context, name string) (*pkgecosystem.FetchResult, error) {
	var gem gemResponse
	err := a.fetcher.GetJSON(ctx, fmt.Sprintf("https://rubygems.org/api/v1/gems/%s.json", url.PathEscape(name)), &gem)
	if err != nil {
		if errors.Is(err, httpfetch.ErrAbsent) {
			return nil, nil
		}
		return nil, err
	}

	var versions []versionEntry
	key := fmt.Sprintf("meta:ruby:versions:%s", name)
	if _, err := a.cache.Fetch(ctx, key, diskcache.LongTTL, &versions, func(ctx context.Context) (any, error) {
		var vs []versionEntry
		err := a.fetcher.GetJSON(ctx, fmt.Sprintf("https://rubygems.org/api/v1/versions/%s.json", url.PathEscape(name)), &vs)
		if err != nil {
			if errors.Is(err, httpfetch.ErrAbsent) {
				return []versionEntry{}, nil
			}
			return nil, err
		}
		return vs, nil
	}); err != nil {
		return nil, err
	}

	records := make([]pkgmeta.VersionRecord, 0, len(versions))
	for _, v := range versions {
		records = append(records, pkgmeta.VersionRecord{Version: v.Number, Created: v.CreatedAt})
	}

	meta := pkgmeta.Metadata{
		Raw: map[string]any{
			"licenses":     gem.Licenses,
			"homepage_uri": gem.HomepageURI,
		},
		SourceRepo: parseGitHubRepo(gem.SourceCodeURI),
		Author:     gem.Authors,
		Downloads:  gem.Downloads,
	}
	return &pkgecosystem.FetchResult{Metadata: meta, Versions: records}, nil
}

func (a *Adapter) CalculateTrust(ctx context.Context, name string, meta pkgmeta.Metadata, versions []pkgmeta.VersionRecord) (int, []pkgmeta.Breakdown, error) {
	breakdown := []pkgmeta.Breakdown{
		pkgecosystem.DownloadScore(meta.Downloads, cfg),
		pkgecosystem.AgeScore(versions, cfg, a.clock()),
		pkgecosystem.VersionCountScore(versions, cfg),
	}
	return pkgecosystem.Sum(breakdown), breakdown, nil
}

func (a *Adapter) FetchDependentsCount(ctx context.Context, name string) (int64, error) {
	key := fmt.Sprintf("meta:ruby:reverse_deps:%s", name)
	var count int64
	_, err := a.cache.Fetch(ctx, key, diskcache.LongTTL, &count, func(ctx context.Context) (any, error) {
		var names []string
		err := a.fetcher.GetJSON(ctx, fmt.Sprintf("https://rubygems.org/api/v1/gems/%s/reverse_dependencies.json", url.PathEscape(name)), &names)
		if err != nil {
			if errors.Is(err, httpfetch.ErrAbsent) {
				return int64(-1), nil
			}
			return nil, err
		}
		return int64(len(names)), nil
	})
	if err != nil {
		return -1, err
	}
	return count, nil
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

	var found []anomaly.Anomaly
	for _, fn := range []*anomaly.Anomaly{
		anomaly.Typosquat(name, meta.Downloads, popular),
		anomaly.Homoglyph(name, popular),
		anomaly.NamespaceSquat(name, meta.Downloads, true, popular),
		anomaly.DownloadInflation(meta.Downloads, oldest, now),
		anomaly.VersionSpike(versions, now),
		anomaly.NewPackageFinding(oldest, now),
		anomaly.RapidVersioningFinding(versions),
	} {
		if fn != nil {
			found = append(found, *fn)
		}
	}

	change, err := anomaly.OwnershipChange(ctx, a.cache, Name, name, meta.Author, meta.Downloads)
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
	_, err := a.cache.Fetch(ctx, "popular:ruby", diskcache.LongTTL, &list, func(ctx context.Context) (any, error) {
		return anomaly.PopularList{Downloads: popularGems}, nil
	})
	return list, err
}

// parseGitHubRepo extracts a (github.com, owner, repo) [pkgmeta.SourceRepo]
// from a source_code_uri, returning nil for anything else.
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
