// Package bindings implements the deterministic pipeline binding resolver
// (§4.J): wiring the real oracle pipeline (signal, compression, overlay)
// and any shadow-lane tasks into the scheduler, with no mock data and no
// silent fallback.
//
// Go has no dotted-module import to probe at runtime, so the candidate
// list here is a set of registration names, not import paths: concrete
// oracle/shadow packages call Register* at init() time, and Resolve walks
// the same fixed, deterministic candidate order the original resolver
// used. First registered match wins; nothing is a reflection lookup.
//
// Grounded on runtime/pipeline_bindings.py.
package bindings

import (
	"fmt"
	"sort"
	"strings"
)

// PipelineFn is a scheduler-bound oracle or shadow callable.
type PipelineFn func(ctx map[string]any) (any, error)

// ShadowProvider returns the shadow task set for a binding source. It is
// called with no arguments: shadow registry lookup is context-independent.
type ShadowProvider func() map[string]PipelineFn

// Provenance records where each resolved binding came from, for auditability.
type Provenance struct {
	Bindings string `json:"bindings"`
	Oracle   struct {
		Signal   string `json:"signal"`
		Compress string `json:"compress"`
		Overlay  string `json:"overlay"`
	} `json:"oracle"`
	Shadow struct {
		Provider  string   `json:"provider"`
		TaskCount int      `json:"task_count"`
		TaskNames []string `json:"task_names"`
	} `json:"shadow"`
}

// Bindings is the resolved, ready-to-schedule pipeline.
type Bindings struct {
	RunSignal   PipelineFn
	RunCompress PipelineFn
	RunOverlay  PipelineFn
	ShadowTasks map[string]PipelineFn
	Provenance  Provenance
}

// Fixed, deterministic candidate order: canonical registry name first,
// then fallback locations. Ordering is part of the contract — do not
// reorder without updating callers that depend on resolution precedence.
var (
	signalCandidates   = []string{"oracle.registry", "oracle.signal", "oracle.signal_layer", "oracle.pipeline", "oracle.run", "engine.oracle"}
	compressCandidates = []string{"oracle.registry", "oracle.compression", "oracle.compress", "oracle.pipeline", "oracle.run", "engine.oracle"}
	overlayCandidates  = []string{"oracle.registry", "oracle.overlay", "oracle.overlays", "oracle.pipeline", "oracle.run", "engine.oracle"}
	shadowCandidates   = []string{"detectors.shadow.registry", "detectors.shadow", "shadow.registry", "runtime.shadow_bindings"}
)

// Registry accumulates bindings registered by oracle/shadow packages.
type Registry struct {
	signal   map[string]PipelineFn
	compress map[string]PipelineFn
	overlay  map[string]PipelineFn
	shadow   map[string]ShadowProvider
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		signal:   make(map[string]PipelineFn),
		compress: make(map[string]PipelineFn),
		overlay:  make(map[string]PipelineFn),
		shadow:   make(map[string]ShadowProvider),
	}
}

func (r *Registry) RegisterSignal(name string, fn PipelineFn)     { r.signal[name] = fn }
func (r *Registry) RegisterCompress(name string, fn PipelineFn)   { r.compress[name] = fn }
func (r *Registry) RegisterOverlay(name string, fn PipelineFn)    { r.overlay[name] = fn }
func (r *Registry) RegisterShadow(name string, p ShadowProvider)  { r.shadow[name] = p }

// Resolve walks each candidate list in fixed order and returns the first
// registered match. It fails hard, listing every candidate tried, if any
// of run_signal/run_compress/run_overlay is unresolved. An unresolved
// shadow provider is not an error: the shadow lane simply has no tasks.
func (r *Registry) Resolve() (Bindings, error) {
	signalFn, signalSrc := firstMatch(r.signal, signalCandidates)
	compressFn, compressSrc := firstMatch(r.compress, compressCandidates)
	overlayFn, overlaySrc := firstMatch(r.overlay, overlayCandidates)

	var missing []string
	if signalFn == nil {
		missing = append(missing, "run_signal")
	}
	if compressFn == nil {
		missing = append(missing, "run_compress")
	}
	if overlayFn == nil {
		missing = append(missing, "run_overlay")
	}

	if len(missing) > 0 {
		return Bindings{}, fmt.Errorf(
			"bindings: pipeline bindings unresolved\nmissing: %s\n\ntried (oracle pipeline):\n%s\nto fix: register run_signal, run_compress, run_overlay under one of the candidate names above (preferably \"oracle.registry\")",
			strings.Join(missing, ", "),
			triedLines(signalCandidates, compressCandidates, overlayCandidates),
		)
	}

	shadowTasks := map[string]PipelineFn{}
	var shadowSrc string
	for _, name := range shadowCandidates {
		provider, ok := r.shadow[name]
		if !ok {
			continue
		}
		shadowSrc = name
		for k, v := range provider() {
			if v != nil {
				shadowTasks[k] = v
			}
		}
		break
	}

	names := make([]string, 0, len(shadowTasks))
	for k := range shadowTasks {
		names = append(names, k)
	}
	sort.Strings(names)

	var prov Provenance
	prov.Bindings = "PipelineBindings.v0"
	prov.Oracle.Signal = signalSrc
	prov.Oracle.Compress = compressSrc
	prov.Oracle.Overlay = overlaySrc
	prov.Shadow.Provider = shadowSrc
	prov.Shadow.TaskCount = len(shadowTasks)
	prov.Shadow.TaskNames = names

	return Bindings{
		RunSignal:   signalFn,
		RunCompress: compressFn,
		RunOverlay:  overlayFn,
		ShadowTasks: shadowTasks,
		Provenance:  prov,
	}, nil
}

func firstMatch(registered map[string]PipelineFn, candidates []string) (PipelineFn, string) {
	for _, name := range candidates {
		if fn, ok := registered[name]; ok {
			return fn, name
		}
	}
	return nil, ""
}

func triedLines(lists ...[]string) string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				out = append(out, "  - "+name)
			}
		}
	}
	return strings.Join(out, "\n")
}
