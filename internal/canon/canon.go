// Package canon implements Abraxas's canonical JSON encoding and the
// SHA-256 content hashing built on top of it: the single serializer every
// other package uses so artifact equality is a pure function of content
// (§3 Canonical JSON, §4.A, P1).
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Bytes returns the canonical JSON encoding of v: UTF-8, object keys sorted
// by byte order, no insignificant whitespace, numeric encoding stable
// (integers verbatim, floats in the shortest round-trip form), arrays in
// source order. Values that cannot be represented in JSON fail the call
// rather than falling back to a lossy form (OQ1: raw UTF-8, no ASCII
// escaping beyond what JSON itself requires).
func Bytes(v any) ([]byte, error) {
	// First pass: let encoding/json do struct-tag-aware marshaling and
	// reject anything genuinely non-JSON-able (chan, func, ...).
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: value is not JSON-representable: %w", err)
	}

	// Second pass: decode preserving exact numeric text (UseNumber),
	// then re-encode with explicit, sorted-key, unescaped-UTF-8 output.
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: re-decode failed: %w", err)
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b (§3 Content Hash).
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashJSON is a convenience wrapper: canonical-encode v, then SHA-256 it.
func HashJSON(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		buf.WriteString(val.String())
		return nil
	case string:
		return writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canon: unsupported decoded type %T", v)
	}
}

// writeString writes a JSON string literal with minimal escaping: quote,
// backslash, and control characters only. Non-ASCII runes pass through as
// raw UTF-8 (OQ1), and HTML-sensitive characters ('<', '>', '&') are never
// escaped since canonical artifacts are never embedded in HTML.
func writeString(buf *bytes.Buffer, s string) error {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}
