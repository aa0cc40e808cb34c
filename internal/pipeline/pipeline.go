// Package pipeline is the Pipeline Engine (spec §4.3): it executes a
// single action by delegating to the dispatcher, a linear pipeline by
// running each step in declaration order, and a parametric loop by
// resolving values, applying the variation and step overrides, and
// substituting variables before each dispatch. It composes
// internal/override, internal/loop, and internal/substitute to produce
// a materialised per-step config and hands it to internal/dispatcher,
// recording provenance through internal/tracker and progress through
// internal/progress as side effects.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wraithgate/attackbench/internal/config"
	"github.com/wraithgate/attackbench/internal/dispatcher"
	"github.com/wraithgate/attackbench/internal/docnode"
	loopexpand "github.com/wraithgate/attackbench/internal/loop"
	"github.com/wraithgate/attackbench/internal/orcherr"
	"github.com/wraithgate/attackbench/internal/override"
	"github.com/wraithgate/attackbench/internal/progress"
	"github.com/wraithgate/attackbench/internal/substitute"
	"github.com/wraithgate/attackbench/internal/tracker"
	"github.com/wraithgate/attackbench/internal/workflowdoc"
)

// Engine ties together the dispatcher, tracker, and process-wide
// runtime context to execute a workflow (spec §4.3).
type Engine struct {
	Dispatcher        *dispatcher.Dispatcher
	Tracker           *tracker.Tracker
	Runtime           *config.RuntimeContext
	Logger            *slog.Logger
	TempDir           string
	RetainTempConfigs bool
}

// New builds an Engine from its collaborators.
func New(d *dispatcher.Dispatcher, tr *tracker.Tracker, rc *config.RuntimeContext, tempDir string, retainTempConfigs bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Dispatcher:        d,
		Tracker:           tr,
		Runtime:           rc,
		Logger:            logger.With("component", "pipeline"),
		TempDir:           tempDir,
		RetainTempConfigs: retainTempConfigs,
	}
}

// Run executes the workflow described by wf, loaded from workflowPath
// (recorded as the experiment's pipeline_config_path).
func (e *Engine) Run(wf *workflowdoc.Workflow, workflowPath string) error {
	canonical, ok := workflowdoc.CanonicalAction(wf.Action)
	if !ok {
		return orcherr.Invalid("pipeline: unknown action %q", wf.Action)
	}

	// (a) Single action: no pipeline, no loop. Delegate to the
	// dispatcher directly (spec §4.3(a)).
	if canonical != workflowdoc.ActionPipeline {
		return e.Dispatcher.Dispatch(canonical, wf.ActionConfigFile)
	}

	return e.runPipeline(wf, workflowPath)
}

func (e *Engine) runPipeline(wf *workflowdoc.Workflow, workflowPath string) error {
	experimentID, owns, err := e.resolveWorkflowExperiment(wf, workflowPath)
	if err != nil {
		return err
	}

	totalTop := len(wf.Pipeline)
	if wf.Loop != nil {
		totalTop++
	}
	root := progress.New("pipeline", totalTop, e.Logger)
	root.Start()

	// Pre-loop pipeline steps execute directly (spec §4.3(c) pseudocode:
	// "for each step in (pre-loop) pipeline: execute directly"), whether
	// or not a loop follows.
	runErr := e.executeSteps(wf.Pipeline, experimentID, wf.Raw, root)
	if runErr == nil && wf.Loop != nil {
		runErr = e.executeLoop(wf.Loop, experimentID, wf.Raw, root)
		if runErr == nil {
			root.IncrementStep("parametric loop")
		}
	}

	if runErr != nil {
		e.failIfOwned(experimentID, owns, runErr)
		return runErr
	}
	root.Complete()
	e.completeIfOwned(experimentID, owns)
	return nil
}

func (e *Engine) resolveWorkflowExperiment(wf *workflowdoc.Workflow, workflowPath string) (id string, owns bool, err error) {
	if existing, ok, _ := docnode.GetDotted(wf.Raw, "experimentId"); ok {
		if s, ok2 := existing.(string); ok2 && s != "" {
			return s, false, nil
		}
	}
	id, err = e.Tracker.StartExperiment(workflowdoc.ActionPipeline, "", workflowPath, "")
	if err != nil {
		if e2, ok := orcherr.As(err); ok && e2.Kind == orcherr.ProvenanceWriteError {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (e *Engine) completeIfOwned(experimentID string, owns bool) {
	if !owns || experimentID == "" {
		return
	}
	if err := e.Tracker.CompleteExperiment(experimentID); err != nil {
		e.Logger.Warn("failed to mark experiment completed", "experimentId", experimentID, "error", err)
	}
}

func (e *Engine) failIfOwned(experimentID string, owns bool, cause error) {
	if !owns || experimentID == "" {
		return
	}
	if err := e.Tracker.FailExperiment(experimentID, cause.Error()); err != nil {
		e.Logger.Warn("failed to mark experiment failed", "experimentId", experimentID, "error", err)
	}
}

// executeSteps runs steps in declaration order, aborting on the first
// failure (spec §4.3(b): "On any step failure the remaining steps are
// skipped").
func (e *Engine) executeSteps(steps []workflowdoc.PipelineStep, experimentID string, enclosing docnode.Doc, tr *progress.Tracker) error {
	for _, step := range steps {
		if err := e.executeStep(step, experimentID, enclosing, tr); err != nil {
			return err
		}
		if tr != nil {
			tr.IncrementStep(step.Description)
		}
	}
	return nil
}

func (e *Engine) executeStep(step workflowdoc.PipelineStep, experimentID string, enclosing docnode.Doc, tr *progress.Tracker) error {
	if step.Loop != nil {
		return e.executeLoop(step.Loop, experimentID, enclosing, tr)
	}
	return e.runIteration(step, nil, nil, 0, experimentID, nil, nil)
}

// executeLoop resolves loop.values and drives the N x K iteration cross
// product (spec §4.3(c), §4.4). dualAttackCombinations is delegated to
// executeDualAttackLoop, which owns its own cross-product (spec §4.5).
// parent, if non-nil, gets a sub-tracker (spec §4.10 parent-child
// relation); a nil parent means this loop is its own progress root.
func (e *Engine) executeLoop(spec *workflowdoc.LoopSpec, experimentID string, enclosing docnode.Doc, parent *progress.Tracker) error {
	if spec.VariationType == workflowdoc.VariationDualAttackCombinations {
		return e.executeDualAttackLoop(spec, experimentID, parent)
	}

	values, err := loopexpand.ResolveValues(spec, enclosing)
	if err != nil {
		return orcherr.Invalid("loop: %v", err)
	}

	tr := e.loopTracker(parent, "loop", len(values)*len(spec.Steps))
	tr.Start()

	for i, v := range values {
		iterationIndex := i + 1
		for _, step := range spec.Steps {
			if step.Loop != nil {
				if err := e.executeLoop(step.Loop, experimentID, enclosing, tr); err != nil {
					return err
				}
				continue
			}
			if err := e.runIteration(step, spec, v, iterationIndex, experimentID, nil, nil); err != nil {
				return err
			}
			tr.IncrementStep(step.Description)
		}
	}
	tr.Complete()
	return nil
}

func (e *Engine) executeDualAttackLoop(spec *workflowdoc.LoopSpec, experimentID string, parent *progress.Tracker) error {
	iterations, err := loopexpand.ExpandDualAttackCombinations(spec)
	if err != nil {
		return orcherr.Invalid("loop: %v", err)
	}

	tr := e.loopTracker(parent, "dualAttackCombinations", len(iterations)*len(spec.Steps))
	tr.Start()

	for _, it := range iterations {
		for _, step := range spec.Steps {
			if step.Loop != nil {
				if err := e.executeLoop(step.Loop, experimentID, nil, tr); err != nil {
					return err
				}
				continue
			}
			if err := e.runIteration(step, spec, nil, it.GlobalIteration, experimentID, it.Bindings(), it.ApplyPlaceholder); err != nil {
				return err
			}
			tr.IncrementStep(step.Description)
		}
	}
	tr.Complete()
	return nil
}

// loopTracker builds a sub-tracker under parent, or a fresh root tracker
// when this loop has no enclosing progress tracker of its own.
func (e *Engine) loopTracker(parent *progress.Tracker, name string, total int) *progress.Tracker {
	if parent != nil {
		return parent.CreateSubTracker(name, total)
	}
	return progress.New(name, total, e.Logger)
}

// runIteration materialises one step's config for one iteration: load,
// apply the variation override, apply any placeholder substitution
// (dual-factor expansion), apply step overrides, substitute variables,
// write, dispatch, delete (spec §4.3(c) pseudocode).
func (e *Engine) runIteration(step workflowdoc.PipelineStep, loopSpec *workflowdoc.LoopSpec, value any, iterationIndex int, experimentID string, extraBindings substitute.Bindings, placeholder func(docnode.Doc) docnode.Doc) error {
	cfg, err := e.loadBaseConfig(step)
	if err != nil {
		return err
	}

	bindings := substitute.Bindings{}
	if iterationIndex > 0 {
		bindings["iteration"] = strconv.Itoa(iterationIndex)
	}
	for k, v := range extraBindings {
		bindings[k] = v
	}

	if loopSpec != nil && loopSpec.VariationType != workflowdoc.VariationDualAttackCombinations {
		var varBindings substitute.Bindings
		cfg, varBindings, err = override.ApplyVariation(cfg, loopSpec.VariationType, value, e.Runtime)
		if err != nil {
			return orcherr.Invalid("loop: %v", err)
		}
		for k, v := range varBindings {
			bindings[k] = v
		}
	}

	if placeholder != nil {
		cfg = placeholder(cfg)
	}

	cfg, err = override.ApplyStepOverrides(cfg, step.ParameterOverrides, iterationIndex, step.Action, loopSpec)
	if err != nil {
		return err
	}

	cfg = substitute.Apply(cfg, bindings).(docnode.Doc)

	if experimentID != "" {
		cfg["experimentId"] = experimentID
	}

	return e.writeDispatchDelete(step, cfg, iterationIndex)
}

func (e *Engine) loadBaseConfig(step workflowdoc.PipelineStep) (docnode.Doc, error) {
	if step.Inline != nil {
		return docnode.Clone(step.Inline)
	}
	if step.ActionConfigFile == "" {
		return docnode.Doc{}, nil
	}
	return workflowdoc.LoadActionConfig(step.ActionConfigFile)
}

// writeDispatchDelete writes the materialised config to a scoped temp
// file, dispatches, and releases the temp file on every exit path
// unless retention is toggled (spec §4.3, §5, §9 "Scoped temp
// resources").
func (e *Engine) writeDispatchDelete(step workflowdoc.PipelineStep, cfg docnode.Doc, iterationIndex int) error {
	canonical, ok := workflowdoc.CanonicalAction(step.Action)
	if !ok {
		return orcherr.Invalid("pipeline: unknown action %q", step.Action)
	}
	if canonical == workflowdoc.ActionPipeline {
		return orcherr.Invalid("pipeline: a pipeline step cannot itself be action 'pipeline'")
	}

	tmpPath, err := e.writeTempConfig(step.Action, iterationIndex, cfg)
	if err != nil {
		return orcherr.ConfigError(tmpPath, err)
	}
	if !e.RetainTempConfigs {
		defer os.Remove(tmpPath)
	}

	if err := e.Dispatcher.Dispatch(canonical, tmpPath); err != nil {
		return orcherr.ActionError(step.Description, iterationIndex, err)
	}
	return nil
}

// writeTempConfig names the materialised config with the action name,
// iteration index, and current time in ms (spec §5). Two steps with the
// same action and iteration written in the same millisecond get the
// same name.
func (e *Engine) writeTempConfig(action string, iterationIndex int, cfg docnode.Doc) (string, error) {
	if e.TempDir == "" {
		e.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(e.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("pipeline: create temp dir %s: %w", e.TempDir, err)
	}
	raw, err := docnode.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("pipeline: marshal temp config: %w", err)
	}
	name := fmt.Sprintf("%s_%d_%d.json", action, iterationIndex, time.Now().UnixMilli())
	path := filepath.Join(e.TempDir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return path, fmt.Errorf("pipeline: write temp config %s: %w", path, err)
	}
	return path, nil
}
