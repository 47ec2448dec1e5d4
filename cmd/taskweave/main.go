package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/goneri/taskweave/internal/common"
	"github.com/goneri/taskweave/internal/expander"
	"github.com/goneri/taskweave/internal/invoker"
	"github.com/goneri/taskweave/internal/playbook"
	"github.com/goneri/taskweave/internal/scheduler"
)

// version is stamped at release time; "dev" is the checkout default.
var version = "dev"

// configPaths is a custom flag type that allows multiple -config flags,
// later files overriding fields set by earlier ones.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

// extraVarsPaths is a custom flag type that allows multiple -extra-vars
// flags, one per JSON/YAML file of variables.
type extraVarsPaths []string

func (e *extraVarsPaths) String() string {
	return fmt.Sprintf("%v", *e)
}

func (e *extraVarsPaths) Set(value string) error {
	*e = append(*e, value)
	return nil
}

var (
	configFiles    configPaths
	extraVarsFiles extraVarsPaths
	showVersion    = flag.Bool("version", false, "Print version information")
	showVersionV   = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
	flag.Var(&extraVarsFiles, "extra-vars", "Extra-vars file path (can be specified multiple times)")
	flag.Var(&extraVarsFiles, "e", "Extra-vars file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("taskweave version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskweave [flags] <playbook.yml>")
		os.Exit(2)
	}
	playbookPath := args[0]

	cfg, err := common.LoadConfig(configFiles)
	if err != nil {
		tempLogger := common.GetLogger()
		tempLogger.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	logger := common.SetupLogger(cfg)

	extraVars, err := loadExtraVars(extraVarsFiles)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load extra-vars")
	}

	doc, err := loadPlaybook(playbookPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load playbook")
	}
	if err := doc.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("playbook failed validation")
	}

	sched := newScheduler(cfg, logger, playbookPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("interrupt received, cancelling run")
		cancel()
	}()

	logger.Info().Str("playbook", playbookPath).Msg("starting run")
	if err := sched.Run(ctx, doc, extraVars); err != nil {
		logger.Fatal().Err(err).Msg("run failed")
	}
	logger.Info().Msg("run completed")
}

func newScheduler(cfg *common.Config, logger arbor.ILogger, playbookPath string) *scheduler.Scheduler {
	inv := invoker.New(cfg.Runner, logger)
	// set_fact is handled directly by the scheduler (it fans out per-key,
	// not as a single module call) and never reaches the invoker.
	inv.Register("assert", invoker.AssertHandler{})
	inv.Register("debug", invoker.DebugHandler{Logger: logger})
	inv.Register("pause", invoker.PauseHandler{})

	loader := fileTaskLoader(playbookPath)
	return scheduler.New(logger, inv, loader)
}

// fileTaskLoader resolves include_tasks targets relative to the directory
// the top-level playbook lives in.
func fileTaskLoader(playbookPath string) expander.IncludeTasksLoader {
	dir := playbookDir(playbookPath)
	return func(name string) ([]*playbook.Task, error) {
		f, err := os.Open(joinPath(dir, name))
		if err != nil {
			return nil, fmt.Errorf("open include_tasks file %q: %w", name, err)
		}
		defer f.Close()
		return playbook.ParseTasksFile(f)
	}
}

func loadPlaybook(path string) (playbook.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open playbook %q: %w", path, err)
	}
	defer f.Close()
	return playbook.Parse(f)
}

func loadExtraVars(paths []string) (map[string]interface{}, error) {
	merged := map[string]interface{}{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open extra-vars %q: %w", p, err)
		}
		vars, err := parseExtraVarsFile(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse extra-vars %q: %w", p, err)
		}
		for k, v := range vars {
			merged[k] = v
		}
	}
	return merged, nil
}
