// Package cli wires the fanout command line: loading configuration, building
// a pool and running a registered job type.
package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"

	"github.com/nemanja-m/fanout/internal/shared/config"
	"github.com/nemanja-m/fanout/internal/shared/logging"
	"github.com/nemanja-m/fanout/pkg/jobs"
	"github.com/nemanja-m/fanout/pkg/local"
)

type runOptions struct {
	configPath   string
	threads      int
	waitInterval time.Duration
	logLevel     string
	logFormat    string
	showMetrics  bool
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fanout",
		Short:         "fanout runs job trees on a local worker pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newListCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <job> [args...]",
		Short: "Run a registered job type and print its report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, &opts, args[0], args[1:])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default: ./config/fanout.yaml or ./fanout.yaml)")
	flags.IntVar(&opts.threads, "threads", 1, "number of workers, 0 for cores-1 (overrides config)")
	flags.DurationVar(&opts.waitInterval, "wait-interval", local.DefaultWaitInterval, "poll interval while waiting for workers (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&opts.logFormat, "log-format", "json", "log format: json or text (overrides config)")
	flags.BoolVar(&opts.showMetrics, "metrics", false, "print pool metrics to stderr after the run")
	return cmd
}

func runJob(cmd *cobra.Command, opts *runOptions, name string, args []string) error {
	cfg, err := config.LoadPool(opts.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("threads") {
		cfg.Pool.ThreadCount = opts.threads
	}
	if flags.Changed("wait-interval") {
		cfg.Pool.WaitInterval = opts.waitInterval
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cmd.ErrOrStderr(), level, cfg.Logging.Format)

	def, err := jobs.Get(name)
	if err != nil {
		return fmt.Errorf("%w (available: %v)", err, jobs.List())
	}

	if def.Params == nil {
		return fmt.Errorf("job %s does not accept arguments", name)
	}
	params, err := def.Params(args)
	if err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	var state any
	if def.NewState != nil {
		state = def.NewState()
	}

	registry := metrics.NewRegistry()
	pool, err := local.NewPool(
		state,
		local.WithThreadCount(cfg.Pool.ThreadCount),
		local.WithWaitInterval(cfg.Pool.WaitInterval),
		local.WithLogger(logger.With("job", name)),
		local.WithMetrics(registry),
	)
	if err != nil {
		return err
	}

	runErr := pool.Run(def.Type, params)
	if opts.showMetrics {
		metrics.WriteOnce(registry, cmd.ErrOrStderr())
	}
	if runErr != nil {
		return fmt.Errorf("job %s failed: %w", name, runErr)
	}

	if def.Report != nil {
		return def.Report(state, cmd.OutOrStdout())
	}
	return nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered job types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range jobs.List() {
				def, err := jobs.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", name, def.Description)
			}
			return w.Flush()
		},
	}
}
