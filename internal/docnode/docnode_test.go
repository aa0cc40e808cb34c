package docnode

import "testing"

func TestSetDottedCreatesIntermediates(t *testing.T) {
	d := Doc{}
	d, err := SetDotted(d, "output.directory", "models_variations/run1")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	out, ok := d["output"].(map[string]any)
	if !ok {
		t.Fatalf("expected output to be created as an object, got %T", d["output"])
	}
	if out["directory"] != "models_variations/run1" {
		t.Errorf("unexpected directory value: %v", out["directory"])
	}
}

func TestSetDottedPreservesPrimitiveType(t *testing.T) {
	d := Doc{}
	d, err := SetDotted(d, "randomSeed", 42)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	// JSON numbers decode to float64; the original int value must be
	// numerically preserved, not stringified.
	v, ok := d["randomSeed"].(float64)
	if !ok {
		t.Fatalf("expected numeric randomSeed, got %T", d["randomSeed"])
	}
	if v != 42 {
		t.Errorf("expected 42, got %v", v)
	}

	d, err = SetDotted(d, "enabled", true)
	if err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if b, ok := d["enabled"].(bool); !ok || !b {
		t.Errorf("expected bool true, got %v (%T)", d["enabled"], d["enabled"])
	}
}

func TestSetDottedIdempotent(t *testing.T) {
	base := Doc{"a": map[string]any{"b": 1.0}}
	first, err := SetDotted(base, "a.c", "x")
	if err != nil {
		t.Fatalf("first set: %v", err)
	}
	second, err := SetDotted(base, "a.c", "x")
	if err != nil {
		t.Fatalf("second set: %v", err)
	}
	r1, _ := Marshal(first)
	r2, _ := Marshal(second)
	if string(r1) != string(r2) {
		t.Errorf("applying the same override twice produced different configs:\n%s\nvs\n%s", r1, r2)
	}
}

func TestFieldArray(t *testing.T) {
	d := Doc{"seeds": []any{1.0, 2.0, 3.0}, "name": "x"}
	arr, ok := FieldArray(d, "seeds")
	if !ok || len(arr) != 3 {
		t.Fatalf("expected 3-element array, got %v ok=%v", arr, ok)
	}
	if _, ok := FieldArray(d, "name"); ok {
		t.Errorf("expected non-array field to fail resolution")
	}
	if _, ok := FieldArray(d, "missing"); ok {
		t.Errorf("expected missing field to fail resolution")
	}
}

func TestWalkStringsReplacesLeavesOnly(t *testing.T) {
	d := Doc{
		"name":  "attack-${iteration}",
		"count": 3.0,
		"nested": map[string]any{
			"pattern": "${patternName}",
		},
		"list": []any{"${attackName}", "static"},
	}
	bindings := map[string]string{"iteration": "2", "patternName": "simple", "attackName": "uc01"}
	out := WalkStrings(d, func(s string) string {
		for k, v := range bindings {
			s = replaceAll(s, "${"+k+"}", v)
		}
		return s
	}).(map[string]any)

	if out["name"] != "attack-2" {
		t.Errorf("unexpected name: %v", out["name"])
	}
	if out["count"] != 3.0 {
		t.Errorf("non-string leaf mutated: %v", out["count"])
	}
	nested := out["nested"].(map[string]any)
	if nested["pattern"] != "simple" {
		t.Errorf("unexpected nested pattern: %v", nested["pattern"])
	}
	list := out["list"].([]any)
	if list[0] != "uc01" || list[1] != "static" {
		t.Errorf("unexpected list: %v", list)
	}
}

func TestReplaceLeafSwapsExactMatchOnly(t *testing.T) {
	d := Doc{
		"attackSegments": "${attackSegmentsConfig}",
		"other":          "prefix-${attackSegmentsConfig}-suffix",
		"nested":         map[string]any{"inner": "${attackSegmentsConfig}"},
	}
	descriptor := []any{map[string]any{"name": "uc01", "configPaths": []any{"config/attacks/uc01.json"}}}
	out := ReplaceLeaf(d, "${attackSegmentsConfig}", descriptor).(map[string]any)

	if _, ok := out["attackSegments"].([]any); !ok {
		t.Fatalf("expected exact-match leaf replaced with array, got %T", out["attackSegments"])
	}
	if out["other"] != "prefix-${attackSegmentsConfig}-suffix" {
		t.Errorf("partial match must not be replaced, got %v", out["other"])
	}
	nested := out["nested"].(map[string]any)
	if _, ok := nested["inner"].([]any); !ok {
		t.Errorf("expected nested exact-match leaf replaced, got %T", nested["inner"])
	}
}

func replaceAll(s, old, new string) string {
	out := ""
	for {
		i := indexOf(s, old)
		if i < 0 {
			return out + s
		}
		out += s[:i] + new
		s = s[i+len(old):]
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
