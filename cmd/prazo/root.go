package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aureliano/prazo/config"
	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/logging"
	"github.com/aureliano/prazo/metrics"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configFile string
	logFormat  string
	logLevel   string
	timeout    string
	useSignals bool
	hard       bool
	allowEval  bool
	args       []string
	repeat     int
	metrics    bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "prazo",
		Short:         "Run functions under a deadline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newListCmd())

	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the functions that can be run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, 0, len(demos))
			for name := range demos {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name, demos[name].usage)
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <function>",
		Short: "Run a function under a timeout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "YAML or JSON file with timeout defaults")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: logfmt or json")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	f.StringVar(&opts.timeout, "timeout", "", "seconds, duration literal or expression")
	f.BoolVar(&opts.useSignals, "use-signals", true, "run under the interval timer instead of a worker process")
	f.BoolVar(&opts.hard, "hard", false, "count worker start-up against the timeout")
	f.BoolVar(&opts.allowEval, "allow-eval", false, "evaluate textual timeouts as expressions")
	f.StringArrayVar(&opts.args, "arg", nil, "positional argument, integers are passed as int")
	f.IntVar(&opts.repeat, "repeat", 1, "number of calls")
	f.BoolVar(&opts.metrics, "metrics", false, "print Prometheus metrics after the calls")

	return cmd
}

func run(cmd *cobra.Command, opts *runOptions, name string) error {
	d, ok := demos[name]
	if !ok {
		return fmt.Errorf("unknown function %q, see prazo list", name)
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("use-signals") {
		cfg.UseSignals = &opts.useSignals
	}
	if flags.Changed("hard") {
		cfg.HardTimeout = opts.hard
	}
	if flags.Changed("allow-eval") {
		cfg.AllowEval = opts.allowEval
	}

	logger := logging.New(cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	policy, err := cfg.Policy(logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}
	summary := core.NewMetric()
	policy.Observers = []core.Observer{collector, summary}

	in := core.Input{Args: parseArgs(opts.args)}
	decorated := d.decorator.WithTimeout(policy)
	out := cmd.OutOrStdout()

	failed := 0
	for i := 0; i < opts.repeat; i++ {
		v, err := decorated.CallWith(cmd.Context(), in)
		if err != nil {
			failed++
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, v)
	}
	level.Debug(logger).Log("msg", "calls finished", "function", name, "calls", opts.repeat, "failed", failed, "last_duration", summary.PolicyDuration().Round(time.Microsecond))

	if opts.metrics {
		if err := dumpMetrics(cmd, reg); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d calls failed", failed, opts.repeat)
	}

	return nil
}

func parseArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, s := range raw {
		if n, err := strconv.Atoi(s); err == nil {
			args[i] = n
		} else {
			args[i] = s
		}
	}

	return args
}

func dumpMetrics(cmd *cobra.Command, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(cmd.OutOrStdout(), expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}

	return nil
}
