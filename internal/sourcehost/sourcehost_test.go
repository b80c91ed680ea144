package sourcehost

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quay/slopguard/internal/diskcache"
	"github.com/quay/slopguard/internal/httpfetch"
	"github.com/quay/slopguard/pkgmeta"
)

// fakeDoer answers every request without touching the network, letting
// tests exercise Resolve's hardcoded api.github.com URL construction.
type fakeDoer func(*http.Request) (*http.Response, error)

func (f fakeDoer) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestResolveNonGitHubHostIsZeroFacts(t *testing.T) {
	cache, err := diskcache.New(t.TempDir())
	require.NoError(t, err)
	fetcher := httpfetch.New(httpfetch.WithClient(fakeDoer(func(r *http.Request) (*http.Response, error) {
		t.Fatal("should not make a network call for a non-github.com host")
		return nil, nil
	})))

	facts, err := Resolve(t.Context(), fetcher, cache, pkgmeta.SourceRepo{Host: "gitlab.com", Owner: "x", Repo: "y"})
	require.NoError(t, err)
	require.Equal(t, Facts{}, facts)
}

func TestResolveGitHubRepo(t *testing.T) {
	cache, err := diskcache.New(t.TempDir())
	require.NoError(t, err)
	fetcher := httpfetch.New(httpfetch.WithClient(fakeDoer(func(r *http.Request) (*http.Response, error) {
		require.Equal(t, "/repos/rails/rails", r.URL.Path)
		return jsonResponse(200, `{"stargazers_count": 25000, "owner": {"type": "Organization"}}`), nil
	})))

	facts, err := Resolve(t.Context(), fetcher, cache, pkgmeta.SourceRepo{Host: "github.com", Owner: "rails", Repo: "rails"})
	require.NoError(t, err)
	require.Equal(t, 25000, facts.Stars)
	require.True(t, facts.IsOrg)
}

func TestResolveAbsentRepoIsZeroFacts(t *testing.T) {
	cache, err := diskcache.New(t.TempDir())
	require.NoError(t, err)
	fetcher := httpfetch.New(httpfetch.WithClient(fakeDoer(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(404, ""), nil
	})))

	facts, err := Resolve(t.Context(), fetcher, cache, pkgmeta.SourceRepo{Host: "github.com", Owner: "nobody", Repo: "nothing"})
	require.NoError(t, err)
	require.Equal(t, Facts{}, facts)
}

func TestResolveIsCached(t *testing.T) {
	cache, err := diskcache.New(t.TempDir())
	require.NoError(t, err)
	calls := 0
	fetcher := httpfetch.New(httpfetch.WithClient(fakeDoer(func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(200, `{"stargazers_count": 10, "owner": {"type": "User"}}`), nil
	})))

	repo := pkgmeta.SourceRepo{Host: "github.com", Owner: "someone", Repo: "project"}
	_, err = Resolve(t.Context(), fetcher, cache, repo)
	require.NoError(t, err)
	_, err = Resolve(t.Context(), fetcher, cache, repo)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
