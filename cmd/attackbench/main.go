package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wraithgate/attackbench/internal/config"
	"github.com/wraithgate/attackbench/internal/dispatcher"
	"github.com/wraithgate/attackbench/internal/handlers"
	"github.com/wraithgate/attackbench/internal/orcherr"
	"github.com/wraithgate/attackbench/internal/pipeline"
	"github.com/wraithgate/attackbench/internal/tracker"
	"github.com/wraithgate/attackbench/internal/workflowdoc"
)

func configureLogger(logLevel string, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "attackbench.toml", "path to the ambient runtime config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: attackbench [-config attackbench.toml] <workflow-description-path>")
		os.Exit(1)
	}
	workflowPath := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "attackbench: failed to load config %s: %v\n", *configPath, err)
		os.Exit(orcherr.ExitCode(orcherr.ConfigError(*configPath, err)))
	}

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)
	logger.Info("attackbench starting", "workflow", workflowPath)

	exitCode := run(cfg, workflowPath, logger)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func run(cfg *config.Config, workflowPath string, logger *slog.Logger) int {
	wf, err := workflowdoc.Load(workflowPath)
	if err != nil {
		logger.Error("failed to load workflow description", "path", workflowPath, "error", err)
		return orcherr.ExitCode(err)
	}

	rc := config.NewRuntimeContext()
	if wf.CommonConfig.RandomSeed != nil {
		rc.Reseed(*wf.CommonConfig.RandomSeed)
	}

	trackingDir := cfg.General.TrackingDir
	tr, err := tracker.New(trackingDir, cfg.General.LockWaitTimeout.Duration, logger)
	if err != nil {
		logger.Error("failed to initialise provenance tracker", "dir", trackingDir, "error", err)
		return orcherr.ExitCode(err)
	}

	collaborators := &handlers.Collaborators{Tracker: tr}

	d := dispatcher.New()
	d.Register(workflowdoc.ActionCreateBenign, collaborators.CreateBenign)
	d.Register(workflowdoc.ActionCreateAttackDataset, collaborators.CreateAttackDataset)
	d.Register(workflowdoc.ActionTrainModel, collaborators.TrainModel)
	d.Register(workflowdoc.ActionEvaluate, collaborators.Evaluate)
	d.Register(workflowdoc.ActionComprehensiveEvaluate, collaborators.ComprehensiveEvaluate)
	d.Register(workflowdoc.ActionCompare, collaborators.Compare)

	tempDir := filepath.Join(trackingDir, "tmp")
	engine := pipeline.New(d, tr, rc, tempDir, cfg.General.RetainTempConfigs, logger)

	if runErr := engine.Run(wf, workflowPath); runErr != nil {
		e, _ := orcherr.As(runErr)
		if e != nil {
			logger.Error("workflow failed", "kind", e.Kind, "step", e.Step, "iteration", e.Iter, "error", runErr)
		} else {
			logger.Error("workflow failed", "error", runErr)
		}
		return orcherr.ExitCode(runErr)
	}

	logger.Info("workflow completed")
	return 0
}
