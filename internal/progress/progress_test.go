package progress

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPercentCompleteAdvancesWithSteps(t *testing.T) {
	tr := New("root", 4, discardLogger())
	tr.Start()
	if tr.percentComplete() != 0 {
		t.Fatalf("expected 0%% before any step, got %v", tr.percentComplete())
	}
	tr.IncrementStep("step 1")
	if got := tr.percentComplete(); got != 25 {
		t.Errorf("expected 25%%, got %v", got)
	}
	tr.IncrementStep("step 2")
	if got := tr.percentComplete(); got != 50 {
		t.Errorf("expected 50%%, got %v", got)
	}
}

func TestEtaUndefinedBeforeFirstStep(t *testing.T) {
	tr := New("root", 4, discardLogger())
	tr.Start()
	if _, ok := tr.eta(); ok {
		t.Errorf("expected no ETA before the first step completes")
	}
}

func TestEtaShrinksAsStepsComplete(t *testing.T) {
	tr := New("root", 4, discardLogger())
	tr.startedAt = time.Now().Add(-4 * time.Second)
	tr.currentStep = 1
	etaAfterOne, ok := tr.eta()
	if !ok {
		t.Fatalf("expected an ETA after one step")
	}
	tr.currentStep = 3
	etaAfterThree, ok := tr.eta()
	if !ok {
		t.Fatalf("expected an ETA after three steps")
	}
	if etaAfterThree >= etaAfterOne {
		t.Errorf("expected ETA to shrink as more steps complete: after1=%v after3=%v", etaAfterOne, etaAfterThree)
	}
}

func TestCreateSubTrackerIsIndependentlyCountable(t *testing.T) {
	root := New("root", 2, discardLogger())
	child := root.CreateSubTracker("child", 3)
	child.Start()
	child.IncrementStep("")
	if child.currentStep != 1 {
		t.Errorf("expected child tracker to count independently, got %d", child.currentStep)
	}
	if root.currentStep != 0 {
		t.Errorf("expected parent tracker unaffected by child increments, got %d", root.currentStep)
	}
}
