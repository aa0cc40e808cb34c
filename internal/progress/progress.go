// Package progress implements the nested step/percent/ETA tracker
// (spec §4.10). It is purely observational: it never influences
// control flow, only reports it. Output is routed through a
// *slog.Logger rather than raw stdout so progress lines carry the same
// structured fields as the rest of the orchestrator's logging.
package progress

import (
	"log/slog"
	"time"
)

// Tracker reports progress through a fixed number of steps, with an
// optional parent-child relation (spec §4.10: "createSubTracker").
type Tracker struct {
	name        string
	totalSteps  int
	currentStep int
	startedAt   time.Time
	logger      *slog.Logger
	parent      *Tracker
}

// New builds a root tracker. name identifies the tracker in log output.
func New(name string, totalSteps int, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		name:       name,
		totalSteps: totalSteps,
		logger:     logger.With("tracker", name),
	}
}

// Start marks the tracker's beginning, fixing the reference point ETA
// is computed from.
func (t *Tracker) Start() {
	t.startedAt = time.Now()
	t.logger.Info("started", "totalSteps", t.totalSteps)
}

// IncrementStep advances the tracker by one step and logs the given
// description, if any, along with the current percent complete and ETA.
func (t *Tracker) IncrementStep(description string) {
	t.currentStep++
	attrs := []any{
		"step", t.currentStep,
		"totalSteps", t.totalSteps,
		"percentComplete", t.percentComplete(),
	}
	if eta, ok := t.eta(); ok {
		attrs = append(attrs, "etaSeconds", eta.Seconds())
	}
	if description != "" {
		attrs = append(attrs, "description", description)
	}
	t.logger.Info("step", attrs...)
}

// CompleteCurrentStep logs an optional completion message for the step
// most recently started, without advancing the step counter (a step may
// be incremented once and completed once).
func (t *Tracker) CompleteCurrentStep(message string) {
	attrs := []any{"step", t.currentStep, "totalSteps", t.totalSteps}
	if message != "" {
		attrs = append(attrs, "message", message)
	}
	t.logger.Info("step complete", attrs...)
}

// Complete marks the tracker as finished.
func (t *Tracker) Complete() {
	t.logger.Info("complete", "elapsedSeconds", time.Since(t.startedAt).Seconds())
}

// CreateSubTracker returns a child tracker whose log lines carry this
// tracker's name as a prefix, for nested loop/pipeline progress (spec
// §4.10 parent-child relation).
func (t *Tracker) CreateSubTracker(name string, totalSteps int) *Tracker {
	child := New(t.name+"/"+name, totalSteps, t.logger)
	child.parent = t
	return child
}

func (t *Tracker) percentComplete() float64 {
	if t.totalSteps <= 0 {
		return 0
	}
	return 100 * float64(t.currentStep) / float64(t.totalSteps)
}

// eta computes elapsed * (remaining / completed), the formula spec
// §4.10 specifies. It reports false until at least one step has
// completed, since the ratio is undefined at zero.
func (t *Tracker) eta() (time.Duration, bool) {
	if t.currentStep <= 0 || t.startedAt.IsZero() {
		return 0, false
	}
	remaining := t.totalSteps - t.currentStep
	if remaining < 0 {
		remaining = 0
	}
	elapsed := time.Since(t.startedAt)
	ratio := float64(remaining) / float64(t.currentStep)
	return time.Duration(float64(elapsed) * ratio), true
}
