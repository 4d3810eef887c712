// Package validate implements Abraxas's shallow JSON-Schema artifact
// validator (§4.P): required fields, types, const values, string
// patterns, nested object properties, array item schema. No
// external JSON Schema library is used — schemas are small, fixed,
// and known ahead of time, so they are expressed directly as Go
// struct literals rather than loaded from .schema.json files.
//
// Grounded on scripts/validate_artifacts.py.
package validate

import "regexp"

// Type is a JSON Schema primitive type name, or a union of them.
type Type []string

func T(names ...string) Type { return Type(names) }

// Schema is the shallow subset of JSON Schema this validator supports.
type Schema struct {
	Type       Type
	Required   []string
	Properties map[string]*Schema
	Const      any
	Pattern    *regexp.Regexp
	Items      *Schema
}

func obj(required []string, props map[string]*Schema) *Schema {
	return &Schema{Type: T("object"), Required: required, Properties: props}
}

func str() *Schema     { return &Schema{Type: T("string")} }
func integer() *Schema { return &Schema{Type: T("integer")} }
func boolean() *Schema { return &Schema{Type: T("boolean")} }
func anyType() *Schema { return &Schema{} }
func array(items *Schema) *Schema {
	return &Schema{Type: T("array"), Items: items}
}
func constStr(v string) *Schema {
	return &Schema{Type: T("string"), Const: v}
}

var traceEventSchema = obj([]string{"tick", "task", "lane", "status"}, map[string]*Schema{
	"tick":         integer(),
	"task":         str(),
	"lane":         str(),
	"status":       str(),
	"cost_ops":     integer(),
	"cost_entropy": integer(),
	"meta":         anyType(),
})

// TrendPackV0 is the shallow schema for TrendPack.v0.
var TrendPackV0 = obj([]string{"schema", "run_id", "tick", "timeline"}, map[string]*Schema{
	"schema":     constStr("TrendPack.v0"),
	"run_id":     str(),
	"tick":       integer(),
	"provenance": anyType(),
	"timeline":   array(traceEventSchema),
	"budget":     anyType(),
	"errors":     anyType(),
	"skipped":    anyType(),
	"stats":      anyType(),
})

// ResultsPackV0 is the shallow schema for ResultsPack.v0.
var ResultsPackV0 = obj([]string{"schema", "run_id", "tick", "items"}, map[string]*Schema{
	"schema":     constStr("ResultsPack.v0"),
	"run_id":     str(),
	"tick":       integer(),
	"items":      array(obj([]string{"task", "result"}, map[string]*Schema{"task": str(), "result": anyType()})),
	"provenance": anyType(),
})

// RunIndexV0 is the shallow schema for RunIndex.v0.
var RunIndexV0 = obj([]string{"schema", "run_id", "tick", "refs"}, map[string]*Schema{
	"schema":     constStr("RunIndex.v0"),
	"run_id":     str(),
	"tick":       integer(),
	"refs":       anyType(),
	"hashes":     anyType(),
	"provenance": anyType(),
})

// RunHeaderV0 is the shallow schema for RunHeader.v0.
var RunHeaderV0 = obj([]string{"schema", "run_id", "mode"}, map[string]*Schema{
	"schema":                constStr("RunHeader.v0"),
	"run_id":                str(),
	"mode":                  str(),
	"code":                  anyType(),
	"pipeline_bindings":     anyType(),
	"policy_refs":           anyType(),
	"stability_ref_pattern": str(),
	"env":                   anyType(),
})

// ViewPackV0 is the shallow schema for ViewPack.v0.
var ViewPackV0 = obj([]string{"schema", "run_id", "tick", "mode"}, map[string]*Schema{
	"schema":          constStr("ViewPack.v0"),
	"run_id":          str(),
	"tick":            integer(),
	"mode":            str(),
	"trendpack_ref":   anyType(),
	"aggregates":      anyType(),
	"events":          anyType(),
	"resolved":        anyType(),
	"resolved_filter": anyType(),
	"provenance":      anyType(),
})

// PolicySnapshotV0 is the shallow schema for PolicySnapshot.v0.
var PolicySnapshotV0 = obj([]string{"schema", "policy", "present"}, map[string]*Schema{
	"schema":              constStr("PolicySnapshot.v0"),
	"policy":              str(),
	"present":             boolean(),
	"source_path_pattern": str(),
	"policy_obj":          anyType(),
})

// RunStabilityV0 is the shallow schema for RunStability.v0.
var RunStabilityV0 = obj([]string{"schema", "run_id", "ok"}, map[string]*Schema{
	"schema": constStr("RunStability.v0"),
	"run_id": str(),
	"ok":     boolean(),
})

// StabilityRefV0 is the shallow schema for StabilityRef.v0.
var StabilityRefV0 = obj([]string{"schema", "run_id", "runstability_path", "runstability_sha256"}, map[string]*Schema{
	"schema":              constStr("StabilityRef.v0"),
	"run_id":              str(),
	"runstability_path":   str(),
	"runstability_sha256": str(),
})
