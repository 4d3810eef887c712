// Package telemetry implements Abraxas's acquisition-side observability:
// an append-only JSONL performance ledger for wall-clock fetch facts,
// and a thin OTel span wrapper around network calls. Neither path ever
// touches artifact content — both are wall-clock/operational only, per
// the prohibition on persistent performance telemetry leaking into
// hash-relevant output.
//
// Grounded on acquisition/perf_ledger.py.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// DefaultLedgerPath mirrors perf_ledger.py's PerfLedger.path default.
const DefaultLedgerPath = "out/perf_ledgers/acquisition.jsonl"

// Ledger appends canonical-JSON records to a single JSONL file, one
// record per fetch or discovery step. Safe for concurrent use.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger builds a Ledger at path, defaulting to DefaultLedgerPath.
func NewLedger(path string) *Ledger {
	if path == "" {
		path = DefaultLedgerPath
	}
	return &Ledger{path: path}
}

// Record appends payload as one canonical-JSON line.
func (l *Ledger) Record(payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("telemetry: mkdir for ledger: %w", err)
	}

	line, err := canon.Bytes(payload)
	if err != nil {
		return fmt.Errorf("telemetry: canonicalize ledger record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("telemetry: append ledger: %w", err)
	}
	return nil
}

var tracer = otel.Tracer("github.com/antigravity-dev/abraxas/internal/telemetry")

// SpanAttrs restricts span attribution to transport-layer facts: URL
// host, status code, byte count. Never populate this with artifact
// content or anything that would make trace export a second, untracked
// channel for hash-relevant data.
type SpanAttrs struct {
	Host       string
	StatusCode int
	Bytes      int
	Method     string
}

// StartSpan wraps a network call in an OTel span. With no OTLP
// endpoint configured, otel.Tracer's default is a no-op, so this never
// becomes a hard runtime dependency.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// EndSpan records the restricted attribute set and ends the span.
func EndSpan(span trace.Span, attrs SpanAttrs) {
	span.SetAttributes(
		attribute.String("transport.host", attrs.Host),
		attribute.Int("transport.status_code", attrs.StatusCode),
		attribute.Int("transport.bytes", attrs.Bytes),
		attribute.String("transport.method", attrs.Method),
	)
	span.End()
}
