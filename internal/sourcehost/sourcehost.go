// Package sourcehost resolves the handful of source-code-host facts every
// ecosystem adapter's stage-3 scoring needs: star count and whether the
// repository is organization-owned. Only GitHub is implemented, since it's
// the overwhelming majority source host for all three supported ecosystems;
// other hosts resolve to zero facts rather than an error.
package sourcehost

import (
	"context"
	"errors"
	"fmt"

	"github.com/quay/slopguard/internal/diskcache"
	"github.com/quay/slopguard/internal/httpfetch"
	"github.com/quay/slopguard/pkgmeta"
)

// Facts is what stage-3 scoring needs about a resolved source repository.
type Facts struct {
	Stars int
	IsOrg bool
}

type ghRepo struct {
	StargazersCount int `json:"stargazers_count"`
	Owner           struct {
		Type string `json:"type"`
	} `json:"owner"`
}

// Resolve fetches Facts for repo, through cache with a long TTL (source-host
// identity churns slowly). Any host other than "github.com" resolves to the
// zero Facts, no error: most registries that don't resolve to GitHub simply
// don't get a stage-3 bonus.
func Resolve(ctx context.Context, fetcher *httpfetch.Fetcher, cache *diskcache.Cache, repo pkgmeta.SourceRepo) (Facts, error) {
	if repo.Host != "github.com" || repo.Owner == "" || repo.Repo == "" {
		return Facts{}, nil
	}

	key := fmt.Sprintf("sourcehost:github.com:%s/%s", repo.Owner, repo.Repo)
	var facts Facts
	_, err := cache.Fetch(ctx, key, diskcache.LongTTL, &facts, func(ctx context.Context) (any, error) {
		url := fmt.Sprintf("https://api.github.com/repos/%s/%s", repo.Owner, repo.Repo)
		var resp ghRepo
		if err := fetcher.GetJSON(ctx, url, &resp); err != nil {
			if errors.Is(err, httpfetch.ErrAbsent) {
				return Facts{}, nil
			}
			return nil, err
		}
		return Facts{
			Stars: resp.StargazersCount,
			IsOrg: resp.Owner.Type == "Organization",
		}, nil
	})
	if err != nil {
		return Facts{}, err
	}
	return facts, nil
}
