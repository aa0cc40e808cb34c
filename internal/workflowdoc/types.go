// Package workflowdoc parses and validates the top-level workflow
// description and per-action config documents (spec §3, §4.2, §6.2).
package workflowdoc

import "github.com/wraithgate/attackbench/internal/docnode"

// Recognised action tokens (spec §4.1). createTraining is the alias for
// createAttackDataset.
const (
	ActionCreateBenign          = "createBenign"
	ActionCreateAttackDataset   = "createAttackDataset"
	ActionCreateTraining        = "createTraining"
	ActionTrainModel            = "trainModel"
	ActionEvaluate              = "evaluate"
	ActionComprehensiveEvaluate = "comprehensiveEvaluate"
	ActionCompare               = "compare"
	ActionPipeline              = "pipeline"
)

// Variation types for a loop specification (spec §4.3).
const (
	VariationRandomSeed             = "randomSeed"
	VariationAttackSegments         = "attackSegments"
	VariationParameters             = "parameters"
	VariationSingleAttacks          = "singleAttacks"
	VariationDualAttackCombinations = "dualAttackCombinations"
)

// Workflow is the parsed top-level workflow description (spec §3).
type Workflow struct {
	Action            string        `json:"action"`
	ActionConfigFile  string        `json:"actionConfigFile,omitempty"`
	CommonConfig      CommonConfig  `json:"commonConfig,omitempty"`
	Pipeline          []PipelineStep `json:"pipeline,omitempty"`
	Loop              *LoopSpec     `json:"loop,omitempty"`

	// Raw is the full decoded document, kept so loop.values
	// field-reference resolution (spec §4.4) can look up arbitrary
	// top-level array fields that have no place in the typed shape above.
	Raw docnode.Doc `json:"-"`
}

// CommonConfig carries workflow-wide settings (spec §3).
type CommonConfig struct {
	RandomSeed   *int64 `json:"randomSeed,omitempty"`
	OutputFormat string `json:"outputFormat,omitempty"`
}

// PipelineStep is one step of a linear pipeline or a loop's steps list
// (spec §3).
type PipelineStep struct {
	Action             string      `json:"action"`
	ActionConfigFile   string      `json:"actionConfigFile,omitempty"`
	Inline             docnode.Doc `json:"inline,omitempty"`
	Description        string      `json:"description,omitempty"`
	Loop               *LoopSpec   `json:"loop,omitempty"`
	ParameterOverrides docnode.Doc `json:"parameterOverrides,omitempty"`
}

// LoopSpec is a parametric loop specification (spec §3, §4.3-§4.5).
type LoopSpec struct {
	VariationType   string           `json:"variationType"`
	Values          []any            `json:"values"`
	Steps           []PipelineStep   `json:"steps"`
	BaselineDataset string           `json:"baselineDataset,omitempty"`
	DatasetPatterns []DatasetPattern `json:"datasetPatterns,omitempty"`
}

// DatasetPattern names a pattern used by dualAttackCombinations loops
// (spec §3, §4.5). Segments elements are one of A1, A2, A1+A2, A2+A1.
type DatasetPattern struct {
	PatternName string   `json:"patternName"`
	Segments    []string `json:"segments"`
}

// DefaultDatasetPatterns is used when dualAttackCombinations carries no
// explicit datasetPatterns (spec §4.5: "defaulting to {simple, combined}
// when absent").
func DefaultDatasetPatterns() []DatasetPattern {
	return []DatasetPattern{
		{PatternName: "simple", Segments: []string{"A1", "A2"}},
		{PatternName: "combined", Segments: []string{"A1+A2"}},
	}
}

// NormalizeAction lower-cases and strips underscores so train_model,
// trainModel, and TrainModel all resolve to the same token (spec §4.1).
func NormalizeAction(action string) string {
	out := make([]rune, 0, len(action))
	for _, r := range action {
		if r == '_' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}

// CanonicalAction maps a normalised action token to its canonical form,
// resolving the createTraining alias of createAttackDataset.
func CanonicalAction(action string) (string, bool) {
	switch NormalizeAction(action) {
	case NormalizeAction(ActionCreateBenign):
		return ActionCreateBenign, true
	case NormalizeAction(ActionCreateAttackDataset), NormalizeAction(ActionCreateTraining):
		return ActionCreateAttackDataset, true
	case NormalizeAction(ActionTrainModel):
		return ActionTrainModel, true
	case NormalizeAction(ActionEvaluate):
		return ActionEvaluate, true
	case NormalizeAction(ActionComprehensiveEvaluate):
		return ActionComprehensiveEvaluate, true
	case NormalizeAction(ActionCompare):
		return ActionCompare, true
	case NormalizeAction(ActionPipeline):
		return ActionPipeline, true
	default:
		return "", false
	}
}
