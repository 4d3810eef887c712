// Package manifest implements Abraxas's manifest-first acquisition
// artifact and its deterministic parsers (§4.F): sitemap XML, RSS,
// index HTML, and JSON-listing URL extraction, each normalizing,
// deduplicating, and sorting its output so manifest content is a pure
// function of input bytes.
//
// Grounded on acquisition/manifest_parse.py and
// acquisition/manifest_schema.py.
package manifest

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// Kind names the source format a manifest was extracted from.
type Kind string

const (
	KindSitemap     Kind = "sitemap"
	KindRSS         Kind = "rss"
	KindIndexHTML   Kind = "index_html"
	KindJSONListing Kind = "json_listing"
)

// Provenance records how a manifest's raw bytes were obtained.
type Provenance struct {
	RetrievalMethod string `json:"retrieval_method"`
	DecodoUsed      bool   `json:"decodo_used"`
	ReasonCode      string `json:"reason_code,omitempty"`
	RawHash         string `json:"raw_hash"`
	ParseHash       string `json:"parse_hash"`
	CachePath       string `json:"cache_path"`
}

// Artifact is ManifestArtifact.v0: the content-addressed record of one
// discovered manifest and the URLs it yielded.
type Artifact struct {
	ManifestID     string         `json:"manifest_id"`
	SourceID       string         `json:"source_id"`
	RetrievedAtUTC string         `json:"retrieved_at_utc"`
	Kind           Kind           `json:"kind"`
	URLs           []string       `json:"urls"`
	Metadata       map[string]any `json:"metadata"`
	Provenance     Provenance     `json:"provenance"`
}

// Build computes ManifestID as the content hash of every field but
// itself, mirroring ManifestArtifact.build's hash-then-construct order.
func Build(sourceID, retrievedAtUTC string, kind Kind, urls []string, metadata map[string]any, prov Provenance) (Artifact, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload := map[string]any{
		"source_id":        sourceID,
		"retrieved_at_utc": retrievedAtUTC,
		"kind":             string(kind),
		"urls":             urls,
		"metadata":         metadata,
		"provenance":       prov,
	}
	id, err := canon.HashJSON(payload)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		ManifestID:     id,
		SourceID:       sourceID,
		RetrievedAtUTC: retrievedAtUTC,
		Kind:           kind,
		URLs:           urls,
		Metadata:       metadata,
		Provenance:     prov,
	}, nil
}

// ManifestHash recomputes the content hash of an already-built Artifact.
func (a Artifact) ManifestHash() (string, error) {
	payload := map[string]any{
		"manifest_id":      a.ManifestID,
		"source_id":        a.SourceID,
		"retrieved_at_utc": a.RetrievedAtUTC,
		"kind":             string(a.Kind),
		"urls":             a.URLs,
		"metadata":         a.Metadata,
		"provenance":       a.Provenance,
	}
	return canon.HashJSON(payload)
}

var hostFold = cases.Fold()

// NormalizeURL lower-cases scheme and host, strips any fragment, and
// trims surrounding whitespace. An unparsable or empty URL normalizes
// to "".
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Host != "" {
		u.Host = hostFold.String(u.Host)
	}
	u.Fragment = ""
	return u.String()
}

func normalizeDedupSort(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		n := NormalizeURL(raw)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ParseSitemapXML extracts every <loc> URL from a sitemap document.
// Malformed XML yields an empty list rather than an error, matching
// the original's tolerate-and-skip behavior for untrusted feeds.
func ParseSitemapXML(raw string) []string {
	return extractElementText(raw, "loc")
}

// ParseRSS extracts every <link> element's text and href attribute
// from an RSS/Atom document.
func ParseRSS(raw string) []string {
	dec := xml.NewDecoder(strings.NewReader(raw))
	var urls []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(localName(start.Name.Local), "link") {
			continue
		}
		for _, attr := range start.Attr {
			if strings.EqualFold(attr.Name.Local, "href") {
				urls = append(urls, attr.Value)
			}
		}
		if text, err := decodeCharData(dec); err == nil && strings.TrimSpace(text) != "" {
			urls = append(urls, strings.TrimSpace(text))
		}
	}
	return normalizeDedupSort(urls)
}

func extractElementText(raw, elementName string) []string {
	dec := xml.NewDecoder(strings.NewReader(raw))
	var urls []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(localName(start.Name.Local), elementName) {
			continue
		}
		if text, err := decodeCharData(dec); err == nil && strings.TrimSpace(text) != "" {
			urls = append(urls, strings.TrimSpace(text))
		}
	}
	return normalizeDedupSort(urls)
}

// decodeCharData reads immediate character data following a start
// element, stopping at the first non-CharData token.
func decodeCharData(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return sb.String(), nil
			}
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		default:
			return sb.String(), nil
		}
	}
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

var anchorHrefRe = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']*)["']`)

// ParseIndexHTML extracts every <a href="..."> target from a
// directory-index HTML page. Uses a hand-rolled regexp scanner rather
// than a full HTML parser, matching the rest of the pack's
// stdlib-first treatment of untrusted, loosely-structured input.
func ParseIndexHTML(raw string) []string {
	matches := anchorHrefRe.FindAllStringSubmatch(raw, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) > 1 {
			urls = append(urls, m[1])
		}
	}
	return normalizeDedupSort(urls)
}

// urlPattern follows spec.md §6's stated regex literally (case-sensitive
// scheme, anchored at the string's start) rather than the looser,
// case-insensitive pattern manifest_parse.py's URL_RE actually uses —
// see DESIGN.md OQ7.
var urlPattern = regexp.MustCompile(`^https?://\S+`)

// ParseJSONListing walks an arbitrary JSON document looking for string
// values that contain a URL.
func ParseJSONListing(raw string) []string {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	var urls []string
	walkJSON(payload, func(v string) {
		if urlPattern.MatchString(v) {
			urls = append(urls, v)
		}
	})
	return normalizeDedupSort(urls)
}

func walkJSON(v any, visit func(string)) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkJSON(val[k], visit)
		}
	case []any:
		for _, item := range val {
			walkJSON(item, visit)
		}
	case string:
		visit(val)
	}
}
