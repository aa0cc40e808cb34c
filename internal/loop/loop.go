// Package loop implements loop-value resolution (spec §4.4) and the
// dualAttackCombinations dual-factor expansion (spec §4.5). The
// pipeline engine owns iteration, override application, and
// substitution; this package only produces the resolved values or
// synthesised iterations that the engine then drives.
package loop

import (
	"fmt"

	"github.com/wraithgate/attackbench/internal/docnode"
	"github.com/wraithgate/attackbench/internal/substitute"
	"github.com/wraithgate/attackbench/internal/workflowdoc"
)

// PlaceholderAttackSegmentsConfig is the literal string a step's base
// config carries where the dual-factor expansion inserts its segment
// descriptors (spec §4.5).
const PlaceholderAttackSegmentsConfig = "${attackSegmentsConfig}"

// ResolveValues implements spec §4.4: if loop.values has exactly one
// element shaped "${fieldName}", it resolves to the named array field
// of the enclosing workflow document; otherwise values is used as-is.
func ResolveValues(spec *workflowdoc.LoopSpec, enclosing docnode.Doc) ([]any, error) {
	if len(spec.Values) == 1 {
		if s, ok := spec.Values[0].(string); ok && isFieldRef(s) {
			fieldName := s[2 : len(s)-1]
			arr, ok := docnode.FieldArray(enclosing, fieldName)
			if !ok {
				return nil, fmt.Errorf("loop: field reference %q does not resolve to an array field in the enclosing workflow", s)
			}
			return arr, nil
		}
	}
	return spec.Values, nil
}

func isFieldRef(s string) bool {
	return len(s) > 3 && s[:2] == "${" && s[len(s)-1] == '}'
}

// SegmentDescriptor is one translated attack-segment entry produced by
// the dual-factor expansion (spec §4.5 table).
type SegmentDescriptor struct {
	Name        string   `json:"name"`
	ConfigPaths []string `json:"configPaths"`
}

func (d SegmentDescriptor) toAny() any {
	paths := make([]any, len(d.ConfigPaths))
	for i, p := range d.ConfigPaths {
		paths[i] = p
	}
	return map[string]any{"name": d.Name, "configPaths": paths}
}

// DualIteration is one synthesised iteration of a dualAttackCombinations
// loop: one attack pair crossed with one dataset pattern.
type DualIteration struct {
	Attack1         string
	Attack2         string
	PatternName     string
	GlobalIteration int
	Segments        []SegmentDescriptor
}

// Bindings returns the substitution bindings spec §4.5 requires for this
// iteration: attack1, attack2, patternName, iteration.
func (it DualIteration) Bindings() substitute.Bindings {
	return substitute.Bindings{
		"attack1":     it.Attack1,
		"attack2":     it.Attack2,
		"patternName": it.PatternName,
		"iteration":   fmt.Sprintf("%d", it.GlobalIteration),
	}
}

// ApplyPlaceholder replaces the "${attackSegmentsConfig}" placeholder
// leaf of cfg with this iteration's segment descriptor array.
func (it DualIteration) ApplyPlaceholder(cfg docnode.Doc) docnode.Doc {
	descriptors := make([]any, len(it.Segments))
	for i, d := range it.Segments {
		descriptors[i] = d.toAny()
	}
	out := docnode.ReplaceLeaf(cfg, PlaceholderAttackSegmentsConfig, descriptors)
	return out.(map[string]any)
}

// ExpandDualAttackCombinations synthesises one DualIteration per
// (attack-pair × pattern), in order, with a 1-based global counter
// spanning the whole expansion (spec §4.5).
func ExpandDualAttackCombinations(spec *workflowdoc.LoopSpec) ([]DualIteration, error) {
	patterns := spec.DatasetPatterns
	if len(patterns) == 0 {
		patterns = workflowdoc.DefaultDatasetPatterns()
	}

	var out []DualIteration
	counter := 0
	for _, pairAny := range spec.Values {
		a1, a2, err := attackPair(pairAny)
		if err != nil {
			return nil, err
		}
		for _, pattern := range patterns {
			segments, err := translateSegments(pattern, a1, a2)
			if err != nil {
				return nil, err
			}
			counter++
			out = append(out, DualIteration{
				Attack1:         a1,
				Attack2:         a2,
				PatternName:     pattern.PatternName,
				GlobalIteration: counter,
				Segments:        segments,
			})
		}
	}
	return out, nil
}

func attackPair(v any) (string, string, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return "", "", fmt.Errorf("loop: dualAttackCombinations value must be a 2-element array, got %#v", v)
	}
	a1, ok1 := arr[0].(string)
	a2, ok2 := arr[1].(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("loop: dualAttackCombinations pair elements must be strings, got %#v", v)
	}
	return a1, a2, nil
}

func translateSegments(pattern workflowdoc.DatasetPattern, a1, a2 string) ([]SegmentDescriptor, error) {
	segments := make([]SegmentDescriptor, 0, len(pattern.Segments))
	for _, code := range pattern.Segments {
		switch code {
		case "A1":
			segments = append(segments, SegmentDescriptor{
				Name:        a1,
				ConfigPaths: []string{attackConfigPath(a1)},
			})
		case "A2":
			segments = append(segments, SegmentDescriptor{
				Name:        a2,
				ConfigPaths: []string{attackConfigPath(a2)},
			})
		case "A1+A2":
			segments = append(segments, SegmentDescriptor{
				Name:        a1 + "+" + a2,
				ConfigPaths: []string{attackConfigPath(a1), attackConfigPath(a2)},
			})
		case "A2+A1":
			segments = append(segments, SegmentDescriptor{
				Name:        a2 + "+" + a1,
				ConfigPaths: []string{attackConfigPath(a2), attackConfigPath(a1)},
			})
		default:
			return nil, fmt.Errorf("loop: unknown dataset pattern segment code %q", code)
		}
	}
	return segments, nil
}

func attackConfigPath(attack string) string {
	return "config/attacks/" + attack + ".json"
}
