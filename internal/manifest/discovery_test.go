package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/abraxas/internal/cas"
	"github.com/antigravity-dev/abraxas/internal/tuning"
)

func newStore(t *testing.T) *cas.Store {
	t.Helper()
	return cas.New(filepath.Join(t.TempDir(), "cas"), "")
}

func TestDiscoverManifestParsesSitemapSeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset><url><loc>https://example.com/a</loc></url></urlset>`))
	}))
	defer srv.Close()

	store := newStore(t)
	result, err := DiscoverManifest(context.Background(), DiscoveryInput{
		SourceID:    "source1",
		SeedTargets: []string{srv.URL},
		RunID:       "run1",
		NowUTC:      "2026-01-01T00:00:00Z",
		Budgets:     tuning.Default(),
		Store:       store,
	})
	require.NoError(t, err)
	assert.Equal(t, KindSitemap, result.Manifest.Kind)
	assert.Equal(t, []string{"https://example.com/a"}, result.Manifest.URLs)
	assert.Equal(t, 1, result.SeedsTried)
	assert.NotEmpty(t, result.Manifest.ManifestID)
}

func TestDiscoverManifestUnionsMultipleSeedsAndSorts(t *testing.T) {
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset><url><loc>https://example.com/b</loc></url></urlset>`))
	}))
	defer srv1.Close()
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset><url><loc>https://example.com/a</loc></url></urlset>`))
	}))
	defer srv2.Close()

	store := newStore(t)
	result, err := DiscoverManifest(context.Background(), DiscoveryInput{
		SourceID:    "source1",
		SeedTargets: []string{srv1.URL, srv2.URL},
		Budgets:     tuning.Default(),
		Store:       store,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, result.Manifest.URLs)
}

func TestDiscoverManifestUnrecognizedFormatYieldsUnknownKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not a recognized format at all`))
	}))
	defer srv.Close()

	store := newStore(t)
	result, err := DiscoverManifest(context.Background(), DiscoveryInput{
		SourceID:    "source1",
		SeedTargets: []string{srv.URL},
		Budgets:     tuning.Default(),
		Store:       store,
	})
	require.NoError(t, err)
	assert.Equal(t, Kind("UNKNOWN"), result.Manifest.Kind)
	assert.Empty(t, result.Manifest.URLs)
}

func TestDiscoverManifestNoSeedsReturnsError(t *testing.T) {
	store := newStore(t)
	_, err := DiscoverManifest(context.Background(), DiscoveryInput{
		SourceID: "source1",
		Budgets:  tuning.Default(),
		Store:    store,
	})
	assert.ErrorIs(t, err, ErrNoSeeds)
}

func TestDiscoverManifestPrefersCacheOnSecondCall(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`<urlset><url><loc>https://example.com/a</loc></url></urlset>`))
	}))
	defer srv.Close()

	store := newStore(t)
	in := DiscoveryInput{SourceID: "source1", SeedTargets: []string{srv.URL}, Budgets: tuning.Default(), Store: store}

	_, err := DiscoverManifest(context.Background(), in)
	require.NoError(t, err)
	_, err = DiscoverManifest(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 1, hits, "expected the second discovery run to serve the seed from cache")
}
