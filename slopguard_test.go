package slopguard

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quay/slopguard/gomodule"
	"github.com/quay/slopguard/internal/diskcache"
	"github.com/quay/slopguard/internal/httpfetch"
	"github.com/quay/slopguard/internal/scan"
	"github.com/quay/slopguard/pkgecosystem"
	"github.com/quay/slopguard/pkgref"
	"github.com/quay/slopguard/pypi"
	"github.com/quay/slopguard/rubygems"
)

// railsVersionsFixture builds a 25-version history stretching back to 2001,
// so rails clears both the age and version-count tiers outright.
func railsVersionsFixture() string {
	var entries []string
	for i := 0; i < 25; i++ {
		year := 2001 + i
		entries = append(entries, fmt.Sprintf(`{"number": "%d.0.0", "created_at": "%d-01-01T00:00:00.000Z"}`, i, year))
	}
	return "[" + strings.Join(entries, ",") + "]"
}

// railsReverseDependentsFixture builds a reverse-dependency list past the
// top dependents tier (1001+ entries).
func railsReverseDependentsFixture() string {
	var entries []string
	for i := 0; i < 1200; i++ {
		entries = append(entries, fmt.Sprintf(`"dependent-%d"`, i))
	}
	return "[" + strings.Join(entries, ",") + "]"
}

// fakeDoer answers every outbound call across every ecosystem's real host by
// matching on (host, path), letting the end-to-end test drive slopguard.Scan
// without a real network.
type fakeDoer struct {
	t         *testing.T
	responses map[string]response
}

type response struct {
	status int
	body   string
}

func (f *fakeDoer) Do(r *http.Request) (*http.Response, error) {
	key := r.URL.Host + r.URL.Path
	resp, ok := f.responses[key]
	if !ok {
		f.t.Fatalf("unexpected request to %s", key)
	}
	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Header:     make(http.Header),
	}, nil
}

const railsGem = `{
	"name": "rails",
	"downloads": 550000000,
	"authors": "David Heinemeier Hansson",
	"licenses": ["MIT"],
	"source_code_uri": "https://github.com/rails/rails"
}`

const railsBackdoorGem = `{
	"name": "rails-backdoor",
	"downloads": 500,
	"authors": "unknown",
	"licenses": [],
	"source_code_uri": ""
}`

const railsBackdoorVersions = `[
	{"number": "0.0.1", "created_at": "2026-06-01T00:00:00.000Z"}
]`

const djangoProject = `{
	"info": {
		"author": "Django Software Foundation",
		"license": "BSD-3-Clause",
		"classifiers": [
			"Development Status :: 5 - Production/Stable",
			"Programming Language :: Python :: 3",
			"License :: OSI Approved :: BSD License"
		],
		"project_urls": {"Source": "https://github.com/django/django"},
		"home_page": ""
	},
	"releases": {
		"5.0.0": [{"upload_time_iso_8601": "2011-12-04T00:00:00.000Z"}],
		"4.2.0": [{"upload_time_iso_8601": "2010-04-03T00:00:00.000Z"}]
	}
}`

func newFakeServices(t *testing.T, responses map[string]response) *Services {
	t.Helper()
	cache, err := diskcache.New(t.TempDir())
	require.NoError(t, err)
	fetcher := httpfetch.New(httpfetch.WithClient(&fakeDoer{t: t, responses: responses}))
	clock := func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }
	return &Services{HTTP: fetcher, Cache: cache, Clock: clock, Workers: 4}
}

func TestScanMixedEcosystemEndToEnd(t *testing.T) {
	services := newFakeServices(t, map[string]response{
		"rubygems.org/api/v1/gems/rails.json":                     {200, railsGem},
		"rubygems.org/api/v1/versions/rails.json":                  {200, railsVersionsFixture()},
		"rubygems.org/api/v1/gems/rails/reverse_dependencies.json": {200, railsReverseDependentsFixture()},
		"api.github.com/repos/rails/rails":                        {200, `{"stargazers_count": 55000, "owner": {"type": "Organization"}}`},

		"rubygems.org/api/v1/gems/fake-xyz.json": {404, ""},

		"rubygems.org/api/v1/gems/rails-backdoor.json":                      {200, railsBackdoorGem},
		"rubygems.org/api/v1/versions/rails-backdoor.json":                  {200, railsBackdoorVersions},
		"rubygems.org/api/v1/gems/rails-backdoor/reverse_dependencies.json": {404, ""},

		"pypi.org/pypi/django/json":       {200, djangoProject},
		"api.github.com/repos/django/django": {200, `{"stargazers_count": 75000, "owner": {"type": "Organization"}}`},

		"proxy.golang.org/github.com/gin-gonic/gin/@v/list":        {200, "v1.9.1\nv1.9.0\n"},
		"proxy.golang.org/github.com/gin-gonic/gin/@v/v1.9.1.info": {200, `{"Version":"v1.9.1","Time":"2011-04-02T00:00:00Z"}`},
		"api.deps.dev/v3/systems/go/packages/github.com/gin-gonic/gin/versions/v1.9.1": {200, `{"licenses":["MIT"],"dependencyCount":2,"advisories":[]}`},
		"api.securityscorecards.dev/projects/github.com/gin-gonic/gin":                {200, `{"score":9.0,"checks":[{"name":"Maintained","score":10}]}`},
		"api.github.com/repos/gin-gonic/gin":                                          {200, `{"stargazers_count": 30000, "owner": {"type": "Organization"}}`},

		"proxy.golang.org/github.com/fake/hallucinated/@v/list": {404, ""},
	})

	refs := []pkgref.Ref{
		{Ecosystem: pkgref.RubyGems, Name: "rails", Version: "7.1.0"},
		{Ecosystem: pkgref.PyPI, Name: "django", Version: "5.0.0"},
		{Ecosystem: pkgref.GoModule, Name: "github.com/gin-gonic/gin", Version: "v1.9.1"},
		{Ecosystem: pkgref.GoModule, Name: "golang.org/x/crypto", Version: "v0.14.0"},
		{Ecosystem: pkgref.RubyGems, Name: "fake-xyz", Version: "0.1.0"},
		{Ecosystem: pkgref.GoModule, Name: "github.com/fake/hallucinated", Version: "v0.0.1"},
		{Ecosystem: pkgref.RubyGems, Name: "rails-backdoor", Version: "0.0.1"},
	}

	summary, err := Scan(t.Context(), services, refs)
	require.NoError(t, err)

	require.Equal(t, 7, summary.Total)
	require.Equal(t, 2, summary.NotFound)
	require.GreaterOrEqual(t, summary.Verified, 3)
	require.Equal(t, 1, summary.HighRisk)
	require.False(t, summary.Partial)

	byName := make(map[string]PackageVerdict)
	for _, v := range summary.Results {
		byName[v.Ref.Name] = v
	}

	rails := byName["rails"]
	require.Equal(t, Verified, rails.Action)
	require.GreaterOrEqual(t, rails.Trust.Score, 80)

	xyz := byName["fake-xyz"]
	require.Equal(t, NotFound, xyz.Action)
	require.Equal(t, 0, xyz.Trust.Score)

	hallucinated := byName["github.com/fake/hallucinated"]
	require.Equal(t, NotFound, hallucinated.Action)

	crypto := byName["golang.org/x/crypto"]
	require.Equal(t, Verified, crypto.Action)
	require.Equal(t, 95, crypto.Trust.Score)
	require.Len(t, crypto.Trust.Breakdown, 1)
	require.Equal(t, "standard_library", crypto.Trust.Breakdown[0].Signal)

	backdoor := byName["rails-backdoor"]
	require.Equal(t, Block, backdoor.Action)
	var sawNamespaceSquat bool
	for _, a := range backdoor.Anomalies {
		if a.Type == "namespace_squat" {
			sawNamespaceSquat = true
			require.Equal(t, "rails", a.TargetPackage)
		}
	}
	require.True(t, sawNamespaceSquat)
}

func TestScanUnsupportedEcosystemIsDropped(t *testing.T) {
	services := newFakeServices(t, nil)
	refs := []pkgref.Ref{
		{Ecosystem: "npm", Name: "left-pad", Version: "1.0.0"},
	}
	summary, err := Scan(t.Context(), services, refs)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Total)
}

func TestNewServicesFromEnvReadsConfiguration(t *testing.T) {
	t.Setenv(EnvSourceHostToken, "")
	t.Setenv(EnvSourceHostTokenAlt, "fallback-token")
	t.Setenv(EnvDebug, "1")
	t.Setenv(EnvProfile, "1")

	services, err := NewServicesFromEnv(t.TempDir())
	require.NoError(t, err)
	require.True(t, services.Debug)
	require.True(t, services.Profile)
	require.NotNil(t, services.HTTP)
	require.NotNil(t, services.Cache)
}

var (
	_ pkgecosystem.Adapter = (*rubygems.Adapter)(nil)
	_ pkgecosystem.Adapter = (*pypi.Adapter)(nil)
	_ pkgecosystem.Adapter = (*gomodule.Adapter)(nil)
	_                      = scan.Verified
)
