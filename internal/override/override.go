// Package override implements the two override layers the pipeline
// engine applies to a step's base config before dispatch: the
// variation override driven by a loop's variationType (spec §4.3,
// "Variation-override semantics"), and the step-override derivation
// rules driven by parameterOverrides (spec §4.3, "Step-override
// semantics"). Both operate on the parsed structured config and are
// total over docnode's tagged-variant representation (spec §9).
package override

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wraithgate/attackbench/internal/config"
	"github.com/wraithgate/attackbench/internal/docnode"
	"github.com/wraithgate/attackbench/internal/substitute"
	"github.com/wraithgate/attackbench/internal/workflowdoc"
)

// ApplyVariation projects one resolved loop value onto cfg per
// variationType. It returns the updated config and any substitution
// bindings the variation itself introduces (only singleAttacks binds
// one, attackName); dualAttackCombinations is expanded by the loop
// package, which owns the cross-product, and is rejected here.
func ApplyVariation(cfg docnode.Doc, variationType string, value any, rc *config.RuntimeContext) (docnode.Doc, substitute.Bindings, error) {
	switch variationType {
	case workflowdoc.VariationRandomSeed:
		seed, err := toInt64(value)
		if err != nil {
			return nil, nil, fmt.Errorf("override: randomSeed variation: %w", err)
		}
		out, err := docnode.SetDotted(cfg, "randomSeed", seed)
		if err != nil {
			return nil, nil, err
		}
		rc.Reseed(seed)
		return out, nil, nil

	case workflowdoc.VariationAttackSegments:
		names, err := toStringSlice(value)
		if err != nil {
			return nil, nil, fmt.Errorf("override: attackSegments variation: %w", err)
		}
		out, err := applyAttackSegments(cfg, names)
		return out, nil, err

	case workflowdoc.VariationParameters:
		mapping, ok := value.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("override: parameters variation: value is not a mapping")
		}
		out := cfg
		var err error
		for dottedKey, v := range mapping {
			out, err = docnode.SetDotted(out, dottedKey, v)
			if err != nil {
				return nil, nil, fmt.Errorf("override: parameters variation: %w", err)
			}
		}
		return out, nil, nil

	case workflowdoc.VariationSingleAttacks:
		name, ok := value.(string)
		if !ok {
			return nil, nil, fmt.Errorf("override: singleAttacks variation: value is not a string")
		}
		return cfg, substitute.Bindings{"attackName": name}, nil

	case workflowdoc.VariationDualAttackCombinations:
		return nil, nil, fmt.Errorf("override: dualAttackCombinations is expanded by the loop package, not applied per-value")

	default:
		return nil, nil, fmt.Errorf("override: unknown variationType %q", variationType)
	}
}

func applyAttackSegments(cfg docnode.Doc, names []string) (docnode.Doc, error) {
	raw, ok := cfg["attackSegments"]
	if !ok {
		return nil, fmt.Errorf("override: base config has no attackSegments array")
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("override: attackSegments is not an array")
	}

	out, err := docnode.Clone(cfg)
	if err != nil {
		return nil, err
	}
	updated := make([]any, len(arr))
	for i, entryAny := range arr {
		entry, ok := entryAny.(map[string]any)
		if !ok {
			updated[i] = entryAny
			continue
		}
		segName, _ := entry["name"].(string)
		enabled := false
		for _, n := range names {
			if strings.Contains(segName, n) {
				enabled = true
				break
			}
		}
		clone := make(map[string]any, len(entry))
		for k, v := range entry {
			clone[k] = v
		}
		clone["enabled"] = enabled
		updated[i] = clone
	}
	out["attackSegments"] = updated
	return out, nil
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not a numeric string: %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

func toStringSlice(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("value is not an array")
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is not a string", i)
		}
		out[i] = s
	}
	return out, nil
}

// modelsVariationsIterPattern matches the iteration-numbered directory
// segment immediately following "models_variations/" in a path, e.g.
// "out/models_variations/2/model.model".
var modelsVariationsIterPattern = regexp.MustCompile(`(models_variations/)(\d+)`)

// ApplyStepOverrides applies parameterOverrides to cfg for one loop
// iteration (spec §4.3 "Step-override semantics"). loop may be nil for
// a step outside any loop context. This implementation preserves the
// exact "models_variations" / "training_variations" string-rewrite
// convention rather than an explicit inputFrom cross-reference (spec §9
// open question), for compatibility with campaigns already written
// against it.
func ApplyStepOverrides(cfg docnode.Doc, overrides docnode.Doc, iterationIndex int, action string, loop *workflowdoc.LoopSpec) (docnode.Doc, error) {
	out := cfg
	var err error

	if overrides == nil {
		return cfg, nil
	}

	if seed, ok := overrides["randomSeed"]; ok {
		out, err = docnode.SetDotted(out, "randomSeed", seed)
		if err != nil {
			return nil, fmt.Errorf("override: step override randomSeed: %w", err)
		}
	}

	var directory string
	if dirVal, ok, _ := docnode.GetDotted(overrides, "output.directory"); ok {
		if s, ok2 := dirVal.(string); ok2 {
			directory = s
			out, err = docnode.SetDotted(out, "output.directory", s)
			if err != nil {
				return nil, fmt.Errorf("override: step override output.directory: %w", err)
			}
		}
	}
	if fileVal, ok, _ := docnode.GetDotted(overrides, "output.filename"); ok {
		if s, ok2 := fileVal.(string); ok2 {
			filename := strings.ReplaceAll(s, "${iteration}", strconv.Itoa(iterationIndex))
			out, err = docnode.SetDotted(out, "output.filename", filename)
			if err != nil {
				return nil, fmt.Errorf("override: step override output.filename: %w", err)
			}
		}
	}

	canonical, _ := workflowdoc.CanonicalAction(action)
	switch canonical {
	case workflowdoc.ActionTrainModel:
		if directory != "" && strings.Contains(directory, "models_variations") {
			trainingDir := strings.Replace(directory, "models_variations", "training_variations", 1)
			datasetPath := fmt.Sprintf("%s/dataset_%d.arff", trainingDir, iterationIndex)
			out, err = docnode.SetDotted(out, "input.trainingDatasetPath", datasetPath)
			if err != nil {
				return nil, fmt.Errorf("override: trainModel input.trainingDatasetPath: %w", err)
			}
		}

	case workflowdoc.ActionEvaluate:
		if loop != nil && loop.BaselineDataset != "" {
			out, err = docnode.SetDotted(out, "input.testDatasetPath", loop.BaselineDataset)
			if err != nil {
				return nil, fmt.Errorf("override: evaluate input.testDatasetPath: %w", err)
			}
		}
		out, err = repointModelPaths(out, iterationIndex)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func repointModelPaths(cfg docnode.Doc, iterationIndex int) (docnode.Doc, error) {
	modelsVal, ok, err := docnode.GetDotted(cfg, "input.models")
	if err != nil {
		return nil, fmt.Errorf("override: evaluate input.models: %w", err)
	}
	if !ok {
		return cfg, nil
	}
	arr, ok := modelsVal.([]any)
	if !ok {
		return cfg, nil
	}

	out := cfg
	for i, entryAny := range arr {
		entry, ok := entryAny.(map[string]any)
		if !ok {
			continue
		}
		path, ok := entry["modelPath"].(string)
		if !ok || !strings.Contains(path, "models_variations") {
			continue
		}
		rewritten := modelsVariationsIterPattern.ReplaceAllString(path, fmt.Sprintf("${1}%d", iterationIndex))
		out, err = docnode.SetDotted(out, fmt.Sprintf("input.models.%d.modelPath", i), rewritten)
		if err != nil {
			return nil, fmt.Errorf("override: evaluate input.models[%d].modelPath: %w", i, err)
		}
	}
	return out, nil
}
