package handlers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wraithgate/attackbench/internal/docnode"
	"github.com/wraithgate/attackbench/internal/tracker"
)

type fakeSimulator struct {
	path string
	err  error
}

func (f *fakeSimulator) GenerateBenign(cfg docnode.Doc) (string, error) {
	return f.path, f.err
}

type fakeAttackGenerator struct {
	path  string
	types []string
	err   error
}

func (f *fakeAttackGenerator) GenerateAttack(cfg docnode.Doc) (string, []string, error) {
	return f.path, f.types, f.err
}

func writeConfig(t *testing.T, dir, name string, doc docnode.Doc) string {
	t.Helper()
	raw, err := docnode.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newTestTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	tr, err := tracker.New(t.TempDir(), time.Second, nil)
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	return tr
}

func TestCreateBenignStartsAndCompletesExperimentWhenUnowned(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t)
	configPath := writeConfig(t, dir, "cfgA.json", docnode.Doc{"outputFormat": "arff"})

	c := &Collaborators{
		Simulator: &fakeSimulator{path: filepath.Join(dir, "benign.arff")},
		Tracker:   tr,
	}
	if err := c.CreateBenign(configPath); err != nil {
		t.Fatalf("CreateBenign: %v", err)
	}

	rows, err := tr.QueryDatabase("experiments", "status", "completed")
	if err != nil {
		t.Fatalf("QueryDatabase: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 completed experiment row, got %d", len(rows))
	}

	datasetRows, err := tr.QueryDatabase("datasets", "dataset_type", tracker.DatasetBenign)
	if err != nil || len(datasetRows) != 1 {
		t.Fatalf("expected exactly 1 benign dataset row, err=%v rows=%v", err, datasetRows)
	}
}

func TestCreateBenignReusesSuppliedExperimentId(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t)
	expID, err := tr.StartExperiment("pipeline", "outer", "workflow.json", "")
	if err != nil {
		t.Fatalf("StartExperiment: %v", err)
	}
	configPath := writeConfig(t, dir, "cfgA.json", docnode.Doc{"experimentId": expID})

	c := &Collaborators{
		Simulator: &fakeSimulator{path: filepath.Join(dir, "benign.arff")},
		Tracker:   tr,
	}
	if err := c.CreateBenign(configPath); err != nil {
		t.Fatalf("CreateBenign: %v", err)
	}

	rows, err := tr.QueryDatabase("experiments", "experiment_id", expID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected the caller-supplied experiment row, err=%v rows=%v", err, rows)
	}
	if rows[0]["status"] != tracker.StatusRunning {
		t.Errorf("expected a reused experiment to remain running (owned by the caller), got %v", rows[0]["status"])
	}
}

func TestCreateBenignFailsExperimentOnSimulatorError(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t)
	configPath := writeConfig(t, dir, "cfgA.json", docnode.Doc{})

	c := &Collaborators{
		Simulator: &fakeSimulator{err: os.ErrInvalid},
		Tracker:   tr,
	}
	err := c.CreateBenign(configPath)
	if err == nil {
		t.Fatalf("expected an error from a failing simulator")
	}

	rows, err := tr.QueryDatabase("experiments", "status", "failed")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected the owned experiment marked failed, err=%v rows=%v", err, rows)
	}
}

func TestCreateAttackDatasetRecordsAttackTypes(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t)
	configPath := writeConfig(t, dir, "cfgB.json", docnode.Doc{})

	c := &Collaborators{
		AttackGenerator: &fakeAttackGenerator{
			path:  filepath.Join(dir, "attack.arff"),
			types: []string{"uc01", "uc02"},
		},
		Tracker: tr,
	}
	if err := c.CreateAttackDataset(configPath); err != nil {
		t.Fatalf("CreateAttackDataset: %v", err)
	}

	rows, err := tr.QueryDatabase("datasets", "dataset_type", tracker.DatasetAttack)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 attack dataset row, err=%v rows=%v", err, rows)
	}
	if rows[0]["attack_types"] != "uc01,uc02" {
		t.Errorf("expected joined attack types, got %q", rows[0]["attack_types"])
	}
}

func TestMissingCollaboratorFailsAction(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t)
	configPath := writeConfig(t, dir, "cfgA.json", docnode.Doc{})

	c := &Collaborators{Tracker: tr}
	if err := c.CreateBenign(configPath); err == nil {
		t.Fatalf("expected an ActionFailed error when no simulator is configured")
	}
}
