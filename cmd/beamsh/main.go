package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"beamsh/config"
	"beamsh/internal/logging"
	"beamsh/internal/ui"
	"beamsh/scaffold"
	"beamsh/session"
	"beamsh/shell"
	"beamsh/userload"
)

func main() {
	var (
		cfgPath       string
		experiment    string
		debug         bool
		simMode       bool
		createHutch   string
		noInteraction bool
	)

	root := &cobra.Command{
		Use:           "beamsh [script]",
		Short:         "Interactive beamline sessions",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(noInteraction)

			if createHutch != "" {
				dir, err := scaffold.Create(".", createHutch)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Created %s", dir))
				return nil
			}

			var script string
			if len(args) == 1 {
				script = args[0]
			}
			return run(cmd.Context(), runOptions{
				cfgPath:    cfgPath,
				experiment: experiment,
				debug:      debug,
				sim:        simMode,
				script:     script,
			})
		},
	}

	root.Flags().StringVar(&cfgPath, "cfg", "", "Path to the deployment conf.yml")
	root.Flags().StringVar(&experiment, "exp", "", "Experiment to load, overriding the configuration")
	root.Flags().BoolVar(&debug, "debug", false, "Start with debug console logging")
	root.Flags().BoolVar(&simMode, "sim", false, "Use simulated data acquisition")
	root.Flags().StringVar(&createHutch, "create", "", "Scaffold a new deployment for the named hutch and exit")
	root.Flags().BoolVar(&noInteraction, "no-interaction", false, "Never prompt; failed user code continues")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	cfgPath    string
	experiment string
	debug      bool
	sim        bool
	script     string
}

func run(ctx context.Context, opts runOptions) error {
	log := slog.Default()

	cfg := &config.Config{DAQType: config.DAQTypeTCP, SessionTimer: config.DefaultSessionTimer}
	if opts.cfgPath != "" {
		loaded, err := config.Load(opts.cfgPath, log)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	consoleLevel := slog.LevelInfo
	if opts.debug {
		consoleLevel = slog.LevelDebug
	}
	pipeline, err := logging.Setup(ctx, logging.Config{
		Dir:          cfg.Dir,
		ConsoleLevel: consoleLevel,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer pipeline.Close()

	res, err := session.Load(ctx, cfg, session.Deps{
		Pipeline: pipeline,
		Prompt:   promptAdapter{log: slog.Default()},
	}, session.Options{
		Sim:        opts.sim,
		Experiment: opts.experiment,
	})
	if err != nil {
		if errors.Is(err, userload.ErrDeclined) {
			return errors.New("session aborted by operator")
		}
		return err
	}
	for _, failed := range res.Failed() {
		fmt.Fprintln(os.Stderr, ui.WarnMsg("%s did not load: %v", failed.Name, failed.Err))
	}

	if opts.script != "" {
		return shell.RunScript(ctx, opts.script, res.Namespace)
	}
	return shell.Run(ctx, res.Namespace, shell.Options{
		Hutch:       cfg.Hutch,
		Experiment:  res.Experiment,
		LogFile:     pipeline.SessionLogFile(),
		IdleTimeout: time.Duration(cfg.SessionTimer) * time.Second,
	})
}

// promptAdapter turns the terminal confirm dialog into the session's
// Prompter. A non-interactive console cannot answer, so the session
// keeps going with a warning instead of hanging.
type promptAdapter struct {
	log *slog.Logger
}

func (p promptAdapter) Confirm(question string) bool {
	yes, err := ui.Confirm(question)
	if err != nil {
		if errors.Is(err, ui.ErrNoInteraction) {
			p.log.Warn("No operator to ask, continuing.", "question", question)
			return true
		}
		p.log.Warn("Could not prompt the operator, continuing.", "err", err)
		return true
	}
	return yes
}
