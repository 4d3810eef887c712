package manifest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antigravity-dev/abraxas/internal/canon"
	"github.com/antigravity-dev/abraxas/internal/cas"
	"github.com/antigravity-dev/abraxas/internal/telemetry"
	"github.com/antigravity-dev/abraxas/internal/transport"
	"github.com/antigravity-dev/abraxas/internal/tuning"
)

// ErrNoSeeds is returned when discovery is given no seed targets to fetch.
var ErrNoSeeds = errors.New("manifest: discovery requires at least one seed target")

// SeedEntry records one seed URL's fetch-and-parse outcome, mirroring
// the per-seed diagnostic dict the original assembles for manifest
// metadata.
type SeedEntry struct {
	SeedURL         string   `json:"seed_url"`
	Kind            Kind     `json:"kind"`
	URLs            []string `json:"urls"`
	Error           string   `json:"error,omitempty"`
	RawHash         string   `json:"raw_hash,omitempty"`
	RawBytes        int      `json:"raw_bytes,omitempty"`
	CachePath       string   `json:"cache_path,omitempty"`
	RetrievalMethod string   `json:"retrieval_method,omitempty"`
	DecodoUsed      bool     `json:"decodo_used,omitempty"`
	ReasonCode      string   `json:"reason_code,omitempty"`
	ParseNotes      string   `json:"parse_notes,omitempty"`
}

// DiscoveryResult is the outcome of one discovery run: the built
// manifest artifact plus the CAS refs for its raw and parsed payloads.
type DiscoveryResult struct {
	Manifest   Artifact
	RawHash    string
	SeedsTried int
	ParsedRef  cas.Ref
}

// DiscoveryInput parameterizes one discovery run.
type DiscoveryInput struct {
	SourceID    string
	SeedTargets []string
	RunID       string
	NowUTC      string
	Budgets     tuning.PortfolioTuningIR
	Store       *cas.Store
	Ledger      *telemetry.Ledger
	Transport   *transport.Client
	AllowDecodo bool
}

// DiscoverManifest fetches every seed (cache-first, then bulk, then a
// budget-gated surgical fallback), classifies each response by format,
// unions the extracted URLs, and builds a ManifestArtifact.v0 recording
// per-seed provenance.
//
// Unlike the original, seed resolution against a source registry is
// out of scope here: callers must supply SeedTargets directly.
func DiscoverManifest(ctx context.Context, in DiscoveryInput) (DiscoveryResult, error) {
	if len(in.SeedTargets) == 0 {
		return DiscoveryResult{}, ErrNoSeeds
	}
	if in.Store == nil {
		return DiscoveryResult{}, errors.New("manifest: discovery requires a CAS store")
	}
	nowUTC := in.NowUTC
	if nowUTC == "" {
		nowUTC = "1970-01-01T00:00:00Z"
	}
	runID := in.RunID
	if runID == "" {
		runID = "manifest"
	}

	seeds := append([]string(nil), in.SeedTargets...)
	sort.Strings(seeds)

	decodoRemaining := in.Budgets.UBV.DecodoPolicy.MaxRequests
	allowDecodo := in.AllowDecodo && in.Budgets.UBV.DecodoPolicy.ManifestOnly

	var entries []SeedEntry
	var urlsUnion []string

	for _, seed := range seeds {
		result, reasonCode, decodoUsed := fetchSeed(ctx, seed, in, allowDecodo, decodoRemaining)
		if result == nil {
			entries = append(entries, SeedEntry{
				SeedURL: seed,
				Kind:    "UNKNOWN",
				Error:   orDefault(reasonCode, "fetch_failed"),
			})
			continue
		}
		if decodoUsed {
			decodoRemaining--
			if decodoRemaining < 0 {
				decodoRemaining = 0
			}
		}

		text := decodeText(result.Body)
		kind, urls, parseNotes := parseManifestText(text)
		urlsUnion = append(urlsUnion, urls...)

		entries = append(entries, SeedEntry{
			SeedURL:         seed,
			Kind:            kind,
			URLs:            urls,
			RawHash:         result.RawRef.ContentHash,
			RawBytes:        result.RawRef.BytesLen,
			CachePath:       result.RawRef.Path,
			RetrievalMethod: result.Method,
			DecodoUsed:      result.DecodoUsed,
			ReasonCode:      reasonCode,
			ParseNotes:      parseNotes,
		})

		if in.Ledger != nil {
			_ = in.Ledger.Record(map[string]any{
				"ts":          nowUTC,
				"event":       "manifest_fetch",
				"run_id":      runID,
				"source_id":   in.SourceID,
				"seed_url":    seed,
				"bytes":       result.RawRef.BytesLen,
				"method":      result.Method,
				"decodo_used": result.DecodoUsed,
				"reason_code": reasonCode,
			})
		}
	}

	urls := normalizeDedupSort(urlsUnion)
	kind := combineKinds(entries)

	parseHash, err := canon.HashJSON(map[string]any{"kind": string(kind), "urls": urls})
	if err != nil {
		return DiscoveryResult{}, err
	}
	rawHashes := make([]string, 0, len(entries))
	for _, e := range entries {
		rawHashes = append(rawHashes, e.RawHash)
	}
	rawHash, err := canon.HashJSON(rawHashes)
	if err != nil {
		return DiscoveryResult{}, err
	}

	metadata := map[string]any{
		"seed_manifests": entries,
		"seed_count":     len(entries),
	}

	parsedRef, err := in.Store.PutJSON(map[string]any{
		"source_id":        in.SourceID,
		"kind":             string(kind),
		"urls":             urls,
		"metadata":         metadata,
		"retrieved_at_utc": nowUTC,
	}, "manifests", ".json", "", time.Time{}, map[string]any{"source_id": in.SourceID, "manifest": true})
	if err != nil {
		return DiscoveryResult{}, err
	}

	manifest, err := Build(in.SourceID, nowUTC, kind, urls, metadata, Provenance{
		RetrievalMethod: deriveRetrievalMethod(entries),
		DecodoUsed:      anyDecodoUsed(entries),
		RawHash:         rawHash,
		ParseHash:       parseHash,
		CachePath:       parsedRef.Path,
	})
	if err != nil {
		return DiscoveryResult{}, err
	}

	return DiscoveryResult{Manifest: manifest, RawHash: rawHash, SeedsTried: len(entries), ParsedRef: parsedRef}, nil
}

func fetchSeed(ctx context.Context, seed string, in DiscoveryInput, allowDecodo bool, decodoRemaining int) (*transport.Result, string, bool) {
	if in.Store != nil {
		if cached, found, err := transport.AcquireCacheOnly(in.Store, seed); err == nil && found {
			return &cached, "cache_hit", false
		}
	}

	client := in.Transport
	if client == nil {
		client = transport.NewClient()
	}

	bulkResult, bulkErr := client.AcquireBulk(ctx, in.Store, in.SourceID, seed, time.Time{})
	if bulkErr == nil {
		return &bulkResult, "", false
	}
	bulkReason := "bulk_failed:" + classifyError(bulkErr)

	if allowDecodo && decodoRemaining > 0 {
		surgicalResult, surgicalErr := client.AcquireSurgical(ctx, in.Store, in.SourceID, seed, time.Time{})
		if surgicalErr == nil {
			return &surgicalResult, "decodo", true
		}
		return nil, "surgical_failed:" + classifyError(surgicalErr) + ":" + bulkReason, false
	}

	return nil, bulkReason, false
}

func classifyError(err error) string {
	if err == nil {
		return "unknown"
	}
	return fmt.Sprintf("%T", err)
}

func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	// Best-effort latin-1 fallback: every byte is a valid Unicode code
	// point under that encoding, so this never fails outright.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

func parseManifestText(raw string) (Kind, []string, string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "UNKNOWN", nil, "empty"
	}

	if looksLikeSitemap(text) {
		urls := ParseSitemapXML(text)
		if len(urls) == 0 {
			return KindSitemap, urls, "sitemap_parse_failed"
		}
		return KindSitemap, urls, ""
	}
	if looksLikeRSS(text) {
		urls := ParseRSS(text)
		if len(urls) == 0 {
			return KindRSS, urls, "rss_parse_failed"
		}
		return KindRSS, urls, ""
	}

	if urls := ParseJSONListing(text); len(urls) > 0 {
		return KindJSONListing, urls, ""
	}
	if urls := ParseIndexHTML(text); len(urls) > 0 {
		return KindIndexHTML, urls, ""
	}

	return "UNKNOWN", nil, "unrecognized_format"
}

func looksLikeSitemap(text string) bool {
	return strings.Contains(text, "<urlset") || strings.Contains(text, "<sitemapindex")
}

func looksLikeRSS(text string) bool {
	return strings.Contains(text, "<rss") || strings.Contains(text, "<feed")
}

func combineKinds(entries []SeedEntry) Kind {
	unique := map[Kind]bool{}
	for _, e := range entries {
		if e.Kind != "" {
			unique[e.Kind] = true
		}
	}
	if len(unique) != 1 {
		return "UNKNOWN"
	}
	for k := range unique {
		return k
	}
	return "UNKNOWN"
}

func deriveRetrievalMethod(entries []SeedEntry) string {
	methods := map[string]bool{}
	for _, e := range entries {
		if e.RetrievalMethod != "" {
			methods[e.RetrievalMethod] = true
		}
	}
	if methods["surgical"] {
		return "surgical"
	}
	if methods["bulk"] {
		return "bulk"
	}
	return "cache_only"
}

func anyDecodoUsed(entries []SeedEntry) bool {
	for _, e := range entries {
		if e.DecodoUsed {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
