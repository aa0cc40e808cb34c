package tracker

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wraithgate/attackbench/internal/ids"
	"github.com/wraithgate/attackbench/internal/orcherr"
)

// Dataset kinds (spec §3 Dataset entity).
const (
	DatasetBenign   = "benign"
	DatasetAttack   = "attack"
	DatasetTest     = "test"
	DatasetTraining = "training"
)

// Experiment status values (spec §3 Experiment entity).
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var experimentColumns = []string{
	"experiment_id", "timestamp", "experiment_type", "description",
	"pipeline_config_path", "status", "notes",
}

var datasetColumns = []string{
	"dataset_id", "timestamp", "experiment_id", "dataset_type", "file_path",
	"format", "num_instances", "num_attributes", "config_path", "attack_types",
	"random_seed", "dataset_structure", "source_files", "notes",
}

var modelColumns = []string{
	"model_id", "timestamp", "experiment_id", "dataset_id", "classifier_name",
	"model_path", "training_time_ms", "hyperparameters", "config_path", "notes",
}

var resultColumns = []string{
	"result_id", "timestamp", "experiment_id", "model_id", "test_dataset_id",
	"accuracy", "precision", "recall", "f1_score", "true_positives",
	"true_negatives", "false_positives", "false_negatives",
	"evaluation_time_ms", "confusion_matrix", "config_path", "notes",
}

var optimizerResultColumns = []string{
	"optimizer_id", "timestamp", "attack_key", "attack_combination",
	"optimizer_type", "num_trials", "best_metric_f1", "best_parameters_json",
	"config_base_path", "notes",
}

// Tracker is the typed API over the five append-only entity tables
// (spec §4.8). It is safe for concurrent use by multiple Tracker
// instances, including in separate processes, pointed at the same
// directory (spec §5).
type Tracker struct {
	dir             string
	lockWaitTimeout time.Duration
	logger          *slog.Logger

	experiments       *table
	datasets          *table
	models            *table
	results           *table
	optimizerResults  *table
}

// New opens (creating if absent) a tracking directory containing the
// five entity tables (spec §6.3).
func New(dir string, lockWaitTimeout time.Duration, logger *slog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, orcherr.ConfigError(dir, fmt.Errorf("tracker: create tracking dir: %w", err))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		dir:              dir,
		lockWaitTimeout:  lockWaitTimeout,
		logger:           logger.With("component", "tracker"),
		experiments:      newTable(dir, "experiments", experimentColumns),
		datasets:         newTable(dir, "datasets", datasetColumns),
		models:           newTable(dir, "models", modelColumns),
		results:          newTable(dir, "results", resultColumns),
		optimizerResults: newTable(dir, "optimizer_results", optimizerResultColumns),
	}, nil
}

// StartExperiment creates an experiment row with status running and
// returns its minted id.
func (tr *Tracker) StartExperiment(experimentType, description, workflowPath, notes string) (string, error) {
	id, err := ids.Generate(ids.PrefixExperiment)
	if err != nil {
		return "", err
	}
	row := []string{id, now(), experimentType, description, workflowPath, StatusRunning, notes}
	if err := tr.experiments.appendRow(tr.lockWaitTimeout, row); err != nil {
		return id, tr.degrade(err)
	}
	return id, nil
}

// CompleteExperiment transitions an experiment to completed (spec §3
// Lifecycle: running -> completed exactly once).
func (tr *Tracker) CompleteExperiment(experimentID string) error {
	return tr.updateExperimentStatus(experimentID, StatusCompleted)
}

// FailExperiment transitions an experiment to failed, appending reason
// to its notes.
func (tr *Tracker) FailExperiment(experimentID, reason string) error {
	return tr.updateExperimentStatusWithNotes(experimentID, StatusFailed, reason)
}

func (tr *Tracker) updateExperimentStatus(experimentID, status string) error {
	return tr.updateExperimentStatusWithNotes(experimentID, status, "")
}

// updateExperimentStatusWithNotes is the single read-modify-write
// mutation the model permits (spec §4.8, §5): the whole file is read,
// the one row with a matching id is mutated, and the file is rewritten,
// all under the table's exclusive lock.
func (tr *Tracker) updateExperimentStatusWithNotes(experimentID, status, appendNote string) error {
	err := tr.experiments.rewriteRows(tr.lockWaitTimeout, func(rows []map[string]string) ([]map[string]string, error) {
		found := false
		for _, row := range rows {
			if row["experiment_id"] == experimentID {
				if row["status"] != StatusRunning {
					return nil, fmt.Errorf("tracker: experiment %q is already %s", experimentID, row["status"])
				}
				row["status"] = status
				if appendNote != "" {
					if row["notes"] == "" {
						row["notes"] = appendNote
					} else {
						row["notes"] = row["notes"] + "; " + appendNote
					}
				}
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("tracker: no experiment row with id %q", experimentID)
		}
		return rows, nil
	})
	if err != nil {
		return tr.degrade(err)
	}
	return nil
}

// trackDataset is the shared implementation behind TrackBenignDataset,
// TrackAttackDataset, and TrackTestDataset (spec §4.8): they differ
// only in the dataset_type value recorded.
func (tr *Tracker) trackDataset(experimentID, datasetType, filePath, format, configPath, attackTypes, randomSeed, datasetStructure, sourceFiles, notes string) (string, error) {
	id, err := ids.Generate(ids.PrefixDataset)
	if err != nil {
		return "", err
	}
	numInstances, numAttributes := bestEffortArffCounts(filePath)
	row := []string{
		id, now(), experimentID, datasetType, filePath, format,
		strconv.Itoa(numInstances), strconv.Itoa(numAttributes),
		configPath, attackTypes, randomSeed, datasetStructure, sourceFiles, notes,
	}
	if err := tr.datasets.appendRow(tr.lockWaitTimeout, row); err != nil {
		return id, tr.degrade(err)
	}
	return id, nil
}

// TrackBenignDataset records a benign dataset row.
func (tr *Tracker) TrackBenignDataset(experimentID, filePath, format, configPath, randomSeed, datasetStructure, sourceFiles, notes string) (string, error) {
	return tr.trackDataset(experimentID, DatasetBenign, filePath, format, configPath, "", randomSeed, datasetStructure, sourceFiles, notes)
}

// TrackAttackDataset records an attack dataset row.
func (tr *Tracker) TrackAttackDataset(experimentID, filePath, format, configPath, attackTypes, randomSeed, datasetStructure, sourceFiles, notes string) (string, error) {
	return tr.trackDataset(experimentID, DatasetAttack, filePath, format, configPath, attackTypes, randomSeed, datasetStructure, sourceFiles, notes)
}

// TrackTestDataset records a held-out evaluation dataset row.
func (tr *Tracker) TrackTestDataset(experimentID, filePath, format, configPath, attackTypes, randomSeed, datasetStructure, sourceFiles, notes string) (string, error) {
	return tr.trackDataset(experimentID, DatasetTest, filePath, format, configPath, attackTypes, randomSeed, datasetStructure, sourceFiles, notes)
}

// TrackModel records a trained model row.
func (tr *Tracker) TrackModel(experimentID, trainingDatasetID, classifier, modelPath string, trainMs int64, hyperparams, configPath, notes string) (string, error) {
	id, err := ids.Generate(ids.PrefixModel)
	if err != nil {
		return "", err
	}
	row := []string{
		id, now(), experimentID, trainingDatasetID, classifier, modelPath,
		strconv.FormatInt(trainMs, 10), hyperparams, configPath, notes,
	}
	if err := tr.models.appendRow(tr.lockWaitTimeout, row); err != nil {
		return id, tr.degrade(err)
	}
	return id, nil
}

// Metrics carries the scalar evaluation outcomes for one Result row.
type Metrics struct {
	Accuracy         float64
	Precision        float64
	Recall           float64
	F1               float64
	TruePositives    int
	TrueNegatives    int
	FalsePositives   int
	FalseNegatives   int
	EvaluationTimeMs int64
}

// TrackResult records an evaluation result row.
func (tr *Tracker) TrackResult(experimentID, modelID, testDatasetID string, m Metrics, confusionMatrix, configPath, notes string) (string, error) {
	id, err := ids.Generate(ids.PrefixResult)
	if err != nil {
		return "", err
	}
	row := []string{
		id, now(), experimentID, modelID, testDatasetID,
		strconv.FormatFloat(m.Accuracy, 'f', -1, 64),
		strconv.FormatFloat(m.Precision, 'f', -1, 64),
		strconv.FormatFloat(m.Recall, 'f', -1, 64),
		strconv.FormatFloat(m.F1, 'f', -1, 64),
		strconv.Itoa(m.TruePositives), strconv.Itoa(m.TrueNegatives),
		strconv.Itoa(m.FalsePositives), strconv.Itoa(m.FalseNegatives),
		strconv.FormatInt(m.EvaluationTimeMs, 10), confusionMatrix, configPath, notes,
	}
	if err := tr.results.appendRow(tr.lockWaitTimeout, row); err != nil {
		return id, tr.degrade(err)
	}
	return id, nil
}

// OptimizerResult is one OptimizerBest row (spec §3).
type OptimizerResult struct {
	AttackKey         string
	AttackCombination string
	OptimizerType     string
	NumTrials         int
	BestF1            float64
	BestParametersJSON string
	ConfigBasePath    string
	Notes             string
}

// SaveResult appends an OptimizerBest row; optimiser results are never
// merged or updated in place (spec §3 Lifecycle).
func (tr *Tracker) SaveResult(r OptimizerResult) (string, error) {
	id, err := ids.Generate(ids.PrefixOptimizerBest)
	if err != nil {
		return "", err
	}
	row := []string{
		id, now(), r.AttackKey, r.AttackCombination, r.OptimizerType,
		strconv.Itoa(r.NumTrials), strconv.FormatFloat(r.BestF1, 'f', -1, 64),
		r.BestParametersJSON, r.ConfigBasePath, r.Notes,
	}
	if err := tr.optimizerResults.appendRow(tr.lockWaitTimeout, row); err != nil {
		return id, tr.degrade(err)
	}
	return id, nil
}

// QueryDatabase performs a linear equality-filter scan over one table
// (spec §4.8, §1 Non-goals: "no query language beyond simple equality
// filters"). table is one of "experiments", "datasets", "models",
// "results", "optimizer_results".
func (tr *Tracker) QueryDatabase(tableName, column, value string) ([]map[string]string, error) {
	t, err := tr.tableByName(tableName)
	if err != nil {
		return nil, err
	}
	rows, err := t.readAll()
	if err != nil {
		return nil, orcherr.ProvenanceError(err)
	}
	var out []map[string]string
	for _, row := range rows {
		if row[column] == value {
			out = append(out, row)
		}
	}
	return out, nil
}

func (tr *Tracker) tableByName(name string) (*table, error) {
	switch name {
	case "experiments":
		return tr.experiments, nil
	case "datasets":
		return tr.datasets, nil
	case "models":
		return tr.models, nil
	case "results":
		return tr.results, nil
	case "optimizer_results":
		return tr.optimizerResults, nil
	default:
		return nil, fmt.Errorf("tracker: unknown table %q", name)
	}
}

// GetBestResultForAttack returns the OptimizerBest row with minimum F1
// for the given attack key (spec §4.8, §8 scenario 6).
func (tr *Tracker) GetBestResultForAttack(attackKey string) (map[string]string, bool, error) {
	rows, err := tr.optimizerResults.readAll()
	if err != nil {
		return nil, false, orcherr.ProvenanceError(err)
	}
	var best map[string]string
	var bestF1 float64
	for _, row := range rows {
		if row["attack_key"] != attackKey {
			continue
		}
		f1, err := strconv.ParseFloat(row["best_metric_f1"], 64)
		if err != nil {
			continue
		}
		if best == nil || f1 < bestF1 {
			best = row
			bestF1 = f1
		}
	}
	return best, best != nil, nil
}

// GetBestResultForCombination returns the OptimizerBest row with
// minimum F1 whose attack_combination is the same set of attack keys as
// attackKeys, irrespective of order (spec §4.8, §8 combination-match
// symmetry property).
func (tr *Tracker) GetBestResultForCombination(attackKeys []string) (map[string]string, bool, error) {
	wanted := keySet(attackKeys)
	rows, err := tr.optimizerResults.readAll()
	if err != nil {
		return nil, false, orcherr.ProvenanceError(err)
	}
	var best map[string]string
	var bestF1 float64
	for _, row := range rows {
		if !keySetsEqual(keySet(strings.Split(row["attack_combination"], ",")), wanted) {
			continue
		}
		f1, err := strconv.ParseFloat(row["best_metric_f1"], 64)
		if err != nil {
			continue
		}
		if best == nil || f1 < bestF1 {
			best = row
			bestF1 = f1
		}
	}
	return best, best != nil, nil
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.TrimSpace(k)] = struct{}{}
	}
	return set
}

func keySetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// degrade implements spec §7's ProvenanceWriteError policy: log a
// warning and return an error the caller is expected to swallow rather
// than propagate, so tracking failures never mask a successful action.
func (tr *Tracker) degrade(err error) error {
	tr.logger.Warn("provenance write failed", "error", err)
	return orcherr.ProvenanceError(err)
}

// bestEffortArffCounts scans an ARFF-style dataset file for its
// instance and attribute counts. Failure of any kind — missing file,
// unreadable, unrecognised format — is non-fatal and reported as -1,-1
// (spec §4.8: "failure is non-fatal (record -1)").
func bestEffortArffCounts(path string) (instances, attributes int) {
	f, err := os.Open(path)
	if err != nil {
		return -1, -1
	}
	defer f.Close()

	attributes = 0
	instances = 0
	inData := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "@attribute"):
			attributes++
		case strings.HasPrefix(lower, "@data"):
			inData = true
		case inData:
			instances++
		}
	}
	if err := sc.Err(); err != nil {
		return -1, -1
	}
	if attributes == 0 && instances == 0 {
		return -1, -1
	}
	return instances, attributes
}
