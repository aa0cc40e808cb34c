package workflowdoc

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wraithgate/attackbench/internal/docnode"
	"github.com/wraithgate/attackbench/internal/orcherr"
)

// Load reads and validates a workflow description document (spec §4.2
// points 1-2). A missing file or malformed JSON is a ConfigIO error; a
// schema mismatch or missing action is an InvalidWorkflow error.
func Load(path string) (*Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, orcherr.ConfigError(path, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, orcherr.ConfigError(path, fmt.Errorf("malformed workflow document: %w", err))
	}
	if err := Validate(generic); err != nil {
		return nil, orcherr.Invalid("%s: %v", path, err)
	}

	rawDoc, err := docnode.Parse(raw)
	if err != nil {
		return nil, orcherr.ConfigError(path, err)
	}

	var wf Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, orcherr.ConfigError(path, fmt.Errorf("decode workflow: %w", err))
	}
	wf.Raw = rawDoc

	if wf.Action == "" {
		return nil, orcherr.Invalid("%s: workflow description is missing required field 'action'", path)
	}
	if _, ok := CanonicalAction(wf.Action); !ok {
		return nil, orcherr.Invalid("%s: unknown action %q", path, wf.Action)
	}
	if canonical, _ := CanonicalAction(wf.Action); canonical != ActionPipeline && wf.ActionConfigFile == "" {
		return nil, orcherr.Invalid("%s: actionConfigFile is required unless action is 'pipeline'", path)
	}
	if wf.Loop != nil {
		if err := validateLoopSpec(wf.Loop); err != nil {
			return nil, orcherr.Invalid("%s: %v", path, err)
		}
	}
	for i, step := range wf.Pipeline {
		if step.Loop != nil {
			if err := validateLoopSpec(step.Loop); err != nil {
				return nil, orcherr.Invalid("%s: pipeline step %d: %v", path, i, err)
			}
		}
	}
	return &wf, nil
}

func validateLoopSpec(l *LoopSpec) error {
	if len(l.Values) == 0 {
		return fmt.Errorf("loop.values must not be empty")
	}
	if len(l.Steps) == 0 {
		return fmt.Errorf("loop.steps must not be empty")
	}
	switch l.VariationType {
	case VariationRandomSeed, VariationAttackSegments, VariationParameters,
		VariationSingleAttacks, VariationDualAttackCombinations:
	default:
		return fmt.Errorf("unknown variationType %q", l.VariationType)
	}
	// §4.4: a single-element field reference is the only accepted form
	// of a non-literal values list; anything else mixing references and
	// literals is rejected at validation time (spec §9 open question).
	if len(l.Values) > 1 {
		for _, v := range l.Values {
			if s, ok := v.(string); ok && looksLikeFieldRef(s) {
				return fmt.Errorf("loop.values mixes a field reference with other elements")
			}
		}
	}
	return nil
}

func looksLikeFieldRef(s string) bool {
	return len(s) > 3 && s[:2] == "${" && s[len(s)-1] == '}'
}

// LoadActionConfig reads an action-config document as an opaque Doc
// (spec §4.2 point 3: "parsed only by external action handlers ... the
// engine knows only that such documents exist").
func LoadActionConfig(path string) (docnode.Doc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, orcherr.ConfigError(path, err)
	}
	doc, err := docnode.Parse(raw)
	if err != nil {
		return nil, orcherr.ConfigError(path, fmt.Errorf("malformed action config: %w", err))
	}
	return doc, nil
}
