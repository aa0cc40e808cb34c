// Package handlers implements the action handlers the dispatcher
// invokes (spec §4.1, §6.4): each accepts a materialised config path,
// performs its work by consulting an external collaborator, and calls
// the tracker to record the artifacts it produced. The collaborators
// themselves (Simulator, AttackGenerator, Trainer, Evaluator,
// Comparator) are out of scope per spec §1 and are consulted only
// through the typed interfaces this package defines.
package handlers

import (
	"fmt"

	"github.com/wraithgate/attackbench/internal/docnode"
	"github.com/wraithgate/attackbench/internal/orcherr"
	"github.com/wraithgate/attackbench/internal/tracker"
	"github.com/wraithgate/attackbench/internal/workflowdoc"
)

// Simulator produces synthetic benign network-protocol traffic.
type Simulator interface {
	GenerateBenign(cfg docnode.Doc) (artifactPath string, err error)
}

// AttackGenerator produces attack-specific datasets.
type AttackGenerator interface {
	GenerateAttack(cfg docnode.Doc) (artifactPath string, attackTypes []string, err error)
}

// Trainer trains a classifier from a training dataset.
type Trainer interface {
	Train(cfg docnode.Doc) (artifactPath string, trainMs int64, hyperparamsJSON string, err error)
}

// Evaluator scores a trained model against a test dataset.
type Evaluator interface {
	Evaluate(cfg docnode.Doc) (metrics tracker.Metrics, confusionMatrixJSON string, err error)
}

// Comparator produces a comparison/statistics report across results.
type Comparator interface {
	Compare(cfg docnode.Doc) error
}

// Collaborators bundles the external systems and the tracker that the
// action handlers call (spec §6.4). Any of the five external-system
// fields may be nil; dispatching to a handler whose collaborator is nil
// fails with ActionFailed rather than panicking. Tracker must be set.
type Collaborators struct {
	Simulator       Simulator
	AttackGenerator AttackGenerator
	Trainer         Trainer
	Evaluator       Evaluator
	Comparator      Comparator
	Tracker         *tracker.Tracker
}

// CreateBenign implements the createBenign action (spec §8 scenario 1).
func (c *Collaborators) CreateBenign(configPath string) error {
	cfg, err := workflowdoc.LoadActionConfig(configPath)
	if err != nil {
		return err
	}
	if c.Simulator == nil {
		return orcherr.ActionError(workflowdoc.ActionCreateBenign, 0, fmt.Errorf("no simulator collaborator configured"))
	}

	expID, owns, err := c.resolveExperiment(cfg, workflowdoc.ActionCreateBenign, configPath)
	if err != nil {
		return err
	}

	artifactPath, genErr := c.Simulator.GenerateBenign(cfg)
	if genErr != nil {
		c.failIfOwned(expID, owns, genErr)
		return orcherr.ActionError(workflowdoc.ActionCreateBenign, 0, genErr)
	}

	if _, trackErr := c.Tracker.TrackBenignDataset(expID, artifactPath, stringField(cfg, "outputFormat"), configPath, stringField(cfg, "randomSeed"), "{}", "", ""); trackErr != nil {
		// ProvenanceWriteError is swallowed here per spec §7: the action
		// itself succeeded and must not be masked by a tracking failure.
		_ = trackErr
	}
	c.completeIfOwned(expID, owns)
	return nil
}

// CreateAttackDataset implements createAttackDataset (alias createTraining).
func (c *Collaborators) CreateAttackDataset(configPath string) error {
	cfg, err := workflowdoc.LoadActionConfig(configPath)
	if err != nil {
		return err
	}
	if c.AttackGenerator == nil {
		return orcherr.ActionError(workflowdoc.ActionCreateAttackDataset, 0, fmt.Errorf("no attack generator collaborator configured"))
	}

	expID, owns, err := c.resolveExperiment(cfg, workflowdoc.ActionCreateAttackDataset, configPath)
	if err != nil {
		return err
	}

	artifactPath, attackTypes, genErr := c.AttackGenerator.GenerateAttack(cfg)
	if genErr != nil {
		c.failIfOwned(expID, owns, genErr)
		return orcherr.ActionError(workflowdoc.ActionCreateAttackDataset, 0, genErr)
	}

	if _, trackErr := c.Tracker.TrackAttackDataset(expID, artifactPath, stringField(cfg, "outputFormat"), configPath, joinComma(attackTypes), stringField(cfg, "randomSeed"), "{}", "", ""); trackErr != nil {
		_ = trackErr
	}
	c.completeIfOwned(expID, owns)
	return nil
}

// TrainModel implements trainModel.
func (c *Collaborators) TrainModel(configPath string) error {
	cfg, err := workflowdoc.LoadActionConfig(configPath)
	if err != nil {
		return err
	}
	if c.Trainer == nil {
		return orcherr.ActionError(workflowdoc.ActionTrainModel, 0, fmt.Errorf("no trainer collaborator configured"))
	}

	expID, owns, err := c.resolveExperiment(cfg, workflowdoc.ActionTrainModel, configPath)
	if err != nil {
		return err
	}

	modelPath, trainMs, hyperparams, trainErr := c.Trainer.Train(cfg)
	if trainErr != nil {
		c.failIfOwned(expID, owns, trainErr)
		return orcherr.ActionError(workflowdoc.ActionTrainModel, 0, trainErr)
	}

	trainingDatasetID := c.lookupDatasetID(dottedStringField(cfg, "input.trainingDatasetPath"))
	classifier := stringField(cfg, "classifier")
	if _, trackErr := c.Tracker.TrackModel(expID, trainingDatasetID, classifier, modelPath, trainMs, hyperparams, configPath, ""); trackErr != nil {
		_ = trackErr
	}
	c.completeIfOwned(expID, owns)
	return nil
}

// Evaluate implements evaluate and comprehensiveEvaluate, which share a
// contract (spec §4.1): comprehensiveEvaluate evaluates the same way,
// over a broader config-defined dataset set the evaluator itself owns.
func (c *Collaborators) Evaluate(configPath string) error {
	cfg, err := workflowdoc.LoadActionConfig(configPath)
	if err != nil {
		return err
	}
	if c.Evaluator == nil {
		return orcherr.ActionError(workflowdoc.ActionEvaluate, 0, fmt.Errorf("no evaluator collaborator configured"))
	}

	expID, owns, err := c.resolveExperiment(cfg, workflowdoc.ActionEvaluate, configPath)
	if err != nil {
		return err
	}

	metrics, confusion, evalErr := c.Evaluator.Evaluate(cfg)
	if evalErr != nil {
		c.failIfOwned(expID, owns, evalErr)
		return orcherr.ActionError(workflowdoc.ActionEvaluate, 0, evalErr)
	}

	modelID := c.lookupModelID(firstModelPath(cfg))
	testDatasetID := c.lookupDatasetID(dottedStringField(cfg, "input.testDatasetPath"))
	if _, trackErr := c.Tracker.TrackResult(expID, modelID, testDatasetID, metrics, confusion, configPath, ""); trackErr != nil {
		_ = trackErr
	}
	c.completeIfOwned(expID, owns)
	return nil
}

// ComprehensiveEvaluate implements comprehensiveEvaluate by delegating
// to the same evaluator contract as Evaluate.
func (c *Collaborators) ComprehensiveEvaluate(configPath string) error {
	return c.Evaluate(configPath)
}

// Compare implements compare.
func (c *Collaborators) Compare(configPath string) error {
	cfg, err := workflowdoc.LoadActionConfig(configPath)
	if err != nil {
		return err
	}
	if c.Comparator == nil {
		return orcherr.ActionError(workflowdoc.ActionCompare, 0, fmt.Errorf("no comparator collaborator configured"))
	}
	expID, owns, err := c.resolveExperiment(cfg, workflowdoc.ActionCompare, configPath)
	if err != nil {
		return err
	}
	if cmpErr := c.Comparator.Compare(cfg); cmpErr != nil {
		c.failIfOwned(expID, owns, cmpErr)
		return orcherr.ActionError(workflowdoc.ActionCompare, 0, cmpErr)
	}
	c.completeIfOwned(expID, owns)
	return nil
}

// resolveExperiment implements the experiment-creation lifecycle rule
// (spec §3 Lifecycle): reuse an experimentId the caller supplied in the
// materialised config, or start a new one and report that this handler
// owns its completion.
func (c *Collaborators) resolveExperiment(cfg docnode.Doc, actionType, configPath string) (id string, owns bool, err error) {
	if existing, ok := cfg["experimentId"].(string); ok && existing != "" {
		return existing, false, nil
	}
	id, err = c.Tracker.StartExperiment(actionType, stringField(cfg, "description"), configPath, "")
	if err != nil {
		if e, ok := orcherr.As(err); ok && e.Kind == orcherr.ProvenanceWriteError {
			// Experiment creation failing is itself a provenance write
			// failure; degraded mode still lets the action run without
			// an experiment id to report against.
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (c *Collaborators) completeIfOwned(experimentID string, owns bool) {
	if !owns || experimentID == "" {
		return
	}
	_ = c.Tracker.CompleteExperiment(experimentID)
}

func (c *Collaborators) failIfOwned(experimentID string, owns bool, cause error) {
	if !owns || experimentID == "" {
		return
	}
	_ = c.Tracker.FailExperiment(experimentID, cause.Error())
}

func (c *Collaborators) lookupDatasetID(path string) string {
	if path == "" {
		return ""
	}
	rows, err := c.Tracker.QueryDatabase("datasets", "file_path", path)
	if err != nil || len(rows) == 0 {
		return ""
	}
	return rows[0]["dataset_id"]
}

func (c *Collaborators) lookupModelID(path string) string {
	if path == "" {
		return ""
	}
	rows, err := c.Tracker.QueryDatabase("models", "model_path", path)
	if err != nil || len(rows) == 0 {
		return ""
	}
	return rows[0]["model_id"]
}

func stringField(cfg docnode.Doc, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func dottedStringField(cfg docnode.Doc, path string) string {
	v, ok, err := docnode.GetDotted(cfg, path)
	if err != nil || !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func firstModelPath(cfg docnode.Doc) string {
	v, ok, err := docnode.GetDotted(cfg, "input.models.0.modelPath")
	if err != nil || !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}
