package pipeline

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/wraithgate/attackbench/internal/config"
	"github.com/wraithgate/attackbench/internal/dispatcher"
	"github.com/wraithgate/attackbench/internal/docnode"
	"github.com/wraithgate/attackbench/internal/tracker"
	"github.com/wraithgate/attackbench/internal/workflowdoc"
)

func newTestTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	tr, err := tracker.New(t.TempDir(), time.Second, nil)
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	return tr
}

func captureHandler(dest *[]docnode.Doc) dispatcher.Handler {
	return func(configPath string) error {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return err
		}
		doc, err := docnode.Parse(raw)
		if err != nil {
			return err
		}
		*dest = append(*dest, doc)
		return nil
	}
}

func newEngine(t *testing.T, d *dispatcher.Dispatcher, tr *tracker.Tracker) *Engine {
	t.Helper()
	return New(d, tr, config.NewRuntimeContext(), t.TempDir(), false, nil)
}

func TestRunSingleActionDelegatesDirectly(t *testing.T) {
	var calls []docnode.Doc
	d := dispatcher.New()
	d.Register(workflowdoc.ActionCreateBenign, captureHandler(&calls))
	tr := newTestTracker(t)
	e := newEngine(t, d, tr)

	dir := t.TempDir()
	cfgPath := dir + "/cfg.json"
	if err := os.WriteFile(cfgPath, []byte(`{"outputFormat":"arff"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	wf := &workflowdoc.Workflow{Action: workflowdoc.ActionCreateBenign, ActionConfigFile: cfgPath, Raw: docnode.Doc{}}

	if err := e.Run(wf, "workflow.json"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", len(calls))
	}

	rows, err := tr.QueryDatabase("experiments", "status", "completed")
	if err != nil {
		t.Fatalf("QueryDatabase: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("single-action dispatch must not create a pipeline-owned experiment, found %d rows", len(rows))
	}
}

func TestRunLinearPipelineAbortsOnFirstFailure(t *testing.T) {
	var calls []docnode.Doc
	sentinel := errors.New("step B failed")
	d := dispatcher.New()
	d.Register(workflowdoc.ActionCreateBenign, captureHandler(&calls))
	d.Register(workflowdoc.ActionTrainModel, func(string) error { return sentinel })
	d.Register(workflowdoc.ActionEvaluate, captureHandler(&calls))
	tr := newTestTracker(t)
	e := newEngine(t, d, tr)

	wf := &workflowdoc.Workflow{
		Action: workflowdoc.ActionPipeline,
		Raw:    docnode.Doc{},
		Pipeline: []workflowdoc.PipelineStep{
			{Action: workflowdoc.ActionCreateBenign, Inline: docnode.Doc{"outputFormat": "arff"}, Description: "step A"},
			{Action: workflowdoc.ActionTrainModel, Inline: docnode.Doc{}, Description: "step B"},
			{Action: workflowdoc.ActionEvaluate, Inline: docnode.Doc{}, Description: "step C"},
		},
	}

	err := e.Run(wf, "workflow.json")
	if err == nil {
		t.Fatalf("expected the pipeline to fail on step B")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected the underlying error wrapped, got %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected step C to be skipped after step B's failure, got %d dispatched calls", len(calls))
	}

	rows, err := tr.QueryDatabase("experiments", "status", "failed")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected the pipeline-owned experiment marked failed, err=%v rows=%v", err, rows)
	}
}

func TestRunParametricLoopMaterializesPerIterationConfig(t *testing.T) {
	var calls []docnode.Doc
	d := dispatcher.New()
	d.Register(workflowdoc.ActionCreateAttackDataset, captureHandler(&calls))
	tr := newTestTracker(t)
	e := newEngine(t, d, tr)

	wf := &workflowdoc.Workflow{
		Action: workflowdoc.ActionPipeline,
		Raw:    docnode.Doc{},
		Loop: &workflowdoc.LoopSpec{
			VariationType: workflowdoc.VariationParameters,
			Values: []any{
				map[string]any{"attackRatio": 0.1},
				map[string]any{"attackRatio": 0.5},
			},
			Steps: []workflowdoc.PipelineStep{
				{
					Action:             workflowdoc.ActionCreateAttackDataset,
					Inline:             docnode.Doc{"outputFormat": "arff"},
					ParameterOverrides: docnode.Doc{"output": map[string]any{"filename": "attack_${iteration}.arff"}},
				},
			},
		},
	}

	if err := e.Run(wf, "workflow.json"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 dispatched iterations, got %d", len(calls))
	}

	outA, _, _ := docnode.GetDotted(calls[0], "output.filename")
	if outA != "attack_1.arff" {
		t.Errorf("expected iteration 1 filename substitution, got %v", outA)
	}
	outB, _, _ := docnode.GetDotted(calls[1], "output.filename")
	if outB != "attack_2.arff" {
		t.Errorf("expected iteration 2 filename substitution, got %v", outB)
	}
	ratioA, _, _ := docnode.GetDotted(calls[0], "attackRatio")
	if ratioA != 0.1 {
		t.Errorf("expected the parameters variation applied, got %v", ratioA)
	}

	rows, err := tr.QueryDatabase("experiments", "status", "completed")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected the pipeline-owned experiment marked completed, err=%v rows=%v", err, rows)
	}
}

func TestRunDualAttackCombinationsAppliesPlaceholderAndBindings(t *testing.T) {
	var calls []docnode.Doc
	d := dispatcher.New()
	d.Register(workflowdoc.ActionCreateAttackDataset, captureHandler(&calls))
	tr := newTestTracker(t)
	e := newEngine(t, d, tr)

	wf := &workflowdoc.Workflow{
		Action: workflowdoc.ActionPipeline,
		Raw:    docnode.Doc{},
		Loop: &workflowdoc.LoopSpec{
			VariationType: workflowdoc.VariationDualAttackCombinations,
			Values:        []any{[]any{"sqlInjection", "xss"}},
			Steps: []workflowdoc.PipelineStep{
				{
					Action: workflowdoc.ActionCreateAttackDataset,
					Inline: docnode.Doc{
						"attackSegmentsConfig": "${attackSegmentsConfig}",
						"description":          "${attack1} vs ${attack2}, pattern ${patternName}",
					},
				},
			},
		},
	}

	if err := e.Run(wf, "workflow.json"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 dispatched iterations (simple, combined), got %d", len(calls))
	}

	desc0, _ := calls[0]["description"].(string)
	if desc0 != "sqlInjection vs xss, pattern simple" {
		t.Errorf("unexpected iteration 1 description: %q", desc0)
	}
	segs, ok := calls[0]["attackSegmentsConfig"].([]any)
	if !ok || len(segs) != 2 {
		t.Fatalf("expected the placeholder replaced with a 2-element segment array, got %#v", calls[0]["attackSegmentsConfig"])
	}

	desc1, _ := calls[1]["description"].(string)
	if desc1 != "sqlInjection vs xss, pattern combined" {
		t.Errorf("unexpected iteration 2 description: %q", desc1)
	}
}

func TestRunNestedLoopWithinLinearPipeline(t *testing.T) {
	var calls []docnode.Doc
	d := dispatcher.New()
	d.Register(workflowdoc.ActionCreateAttackDataset, captureHandler(&calls))
	tr := newTestTracker(t)
	e := newEngine(t, d, tr)

	wf := &workflowdoc.Workflow{
		Action: workflowdoc.ActionPipeline,
		Raw:    docnode.Doc{},
		Pipeline: []workflowdoc.PipelineStep{
			{
				Description: "inner sweep",
				Loop: &workflowdoc.LoopSpec{
					VariationType: workflowdoc.VariationRandomSeed,
					Values:        []any{float64(1), float64(2), float64(3)},
					Steps: []workflowdoc.PipelineStep{
						{Action: workflowdoc.ActionCreateAttackDataset, Inline: docnode.Doc{}},
					},
				},
			},
		},
	}

	if err := e.Run(wf, "workflow.json"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 dispatched iterations from the nested loop, got %d", len(calls))
	}
}
