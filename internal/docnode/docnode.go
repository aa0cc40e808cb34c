// Package docnode is the tagged-variant representation of config
// documents the engine reads and rewrites. Spec §9 flags "untyped
// structured-document manipulation" as a source pattern requiring
// redesign: here every config is decoded into the sum of Go's JSON
// primitives (map[string]any, []any, string, float64, bool, nil) and
// all path-based access goes through the helpers in this package rather
// than ad hoc indexing scattered across the engine.
package docnode

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Doc is a parsed JSON object — the root shape of every workflow,
// action, and materialised step config (spec §3, §6.2).
type Doc = map[string]any

// Parse decodes raw JSON bytes into a Doc.
func Parse(raw []byte) (Doc, error) {
	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("docnode: parse: %w", err)
	}
	return d, nil
}

// Marshal encodes a Doc back to JSON bytes.
func Marshal(d Doc) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("docnode: marshal: %w", err)
	}
	return raw, nil
}

// Clone deep-copies a Doc by round-tripping through JSON. This is the
// simplest total operation over the tagged variant: every node kind
// (object/array/primitive) survives a marshal/unmarshal round trip
// unchanged, which is exactly the property override idempotence
// (spec §8) and per-iteration materialisation (spec §4.3) depend on.
func Clone(d Doc) (Doc, error) {
	raw, err := Marshal(d)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// CloneValue deep-copies an arbitrary decoded JSON value (used for
// array/sub-object leaves encountered while walking a Doc).
func CloneValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docnode: clone value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("docnode: clone value: %w", err)
	}
	return out, nil
}

// SetDotted sets the value at a dotted path inside d, creating any
// missing intermediate objects along the way and preserving the JSON
// primitive type of value (spec §4.7: "All paths it writes to must be
// created on demand ... All values it writes must preserve the JSON
// primitive type of the supplied value"). Backed by tidwall/sjson,
// which implements exactly this contract over raw JSON text.
func SetDotted(d Doc, path string, value any) (Doc, error) {
	raw, err := Marshal(d)
	if err != nil {
		return nil, err
	}
	updated, err := sjson.SetBytes(raw, path, value)
	if err != nil {
		return nil, fmt.Errorf("docnode: set %q: %w", path, err)
	}
	return Parse(updated)
}

// GetDotted reads the value at a dotted path inside d. The second
// return reports whether the path resolved to anything.
func GetDotted(d Doc, path string) (any, bool, error) {
	raw, err := Marshal(d)
	if err != nil {
		return nil, false, err
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false, nil
	}
	return result.Value(), true, nil
}

// FieldArray returns d[fieldName] as a []any, for the loop.values
// field-reference resolution in spec §4.4 ("${fieldName}" must resolve
// to an array field in the enclosing workflow document).
func FieldArray(d Doc, fieldName string) ([]any, bool) {
	v, ok := d[fieldName]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// ReplaceLeaf recursively rewrites v, replacing any string leaf that
// equals match (in full, not a substring) with replacement. Unlike
// WalkStrings, replacement is not constrained to be a string: this is
// what lets the dual-factor expansion (spec §4.5) swap the literal
// placeholder "${attackSegmentsConfig}" for a produced array of segment
// descriptors.
func ReplaceLeaf(v any, match string, replacement any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = ReplaceLeaf(val, match, replacement)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ReplaceLeaf(val, match, replacement)
		}
		return out
	case string:
		if t == match {
			return replacement
		}
		return t
	default:
		return t
	}
}

// WalkStrings recursively rewrites every string leaf of v using fn,
// preserving the shape and all non-string primitives unchanged. It is
// the traversal the variable substitutor (spec §4.6) and the
// attackSegments variation override (spec §4.3) build on.
func WalkStrings(v any, fn func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = WalkStrings(val, fn)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = WalkStrings(val, fn)
		}
		return out
	case string:
		return fn(t)
	default:
		return t
	}
}
