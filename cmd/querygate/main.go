package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fentz26/querygate/internal/config"
	"github.com/fentz26/querygate/internal/connectors/localexec"
	"github.com/fentz26/querygate/internal/models"
	"github.com/fentz26/querygate/internal/observability"
	"github.com/fentz26/querygate/internal/page"
	"github.com/fentz26/querygate/internal/supervisor"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "querygate [request]",
	Short: "querygate - run one query under a fixed time budget",
	Long: `querygate renders a query form, hands the form-encoded request's "query"
field to an external query engine and waits for it up to a fixed deadline.
If the engine has not finished in time a timeout notice is written and the
process exits, leaving the engine behind. The exit status is always 0.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runQuery,
}

var (
	configPath  string
	envFile     string
	timeout     time.Duration
	engineCmd   string
	engineArgs  []string
	title       string
	contentType bool
	metricsFile string
	logLevel    string
	summary     bool
)

func init() {
	addFlags(rootCmd.Flags())
}

func addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&configPath, "config", config.DefaultPath(), "Path to YAML config file")
	flags.StringVar(&envFile, "env-file", ".env", "Path to .env file loaded before reading the environment")
	flags.DurationVar(&timeout, "timeout", config.DefaultTimeout, "Deadline for the query engine")
	flags.StringVar(&engineCmd, "engine", "", "Query engine executable (query is passed on stdin)")
	flags.StringArrayVar(&engineArgs, "engine-arg", nil, "Argument for the query engine (repeatable)")
	flags.StringVar(&title, "title", "", "Page title")
	flags.BoolVar(&contentType, "content-type", false, "Emit a CGI Content-Type header before the page")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus text-format metrics to this file on exit")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&summary, "summary", false, "Print a one-line outcome summary to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Even a failed start answers with the page, a diagnostic and
		// status 0. The configured header may be what failed, so the
		// default one is used.
		_ = page.DefaultHeader().Render(os.Stdout, "")
		fmt.Fprintf(os.Stdout, "ERROR: %v\n", err)
	}
	os.Exit(0)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel)
	metrics := observability.NewMetrics()

	sup := supervisor.New(supervisor.Options{
		Timeout:   time.Duration(cfg.Timeout),
		Header:    cfg.Page.Header(),
		Connector: localexec.New(cfg.Engine.Command, cfg.Engine.Args, cfg.Engine.WorkDir),
		Out:       os.Stdout,
		Logger:    logger,
		Metrics:   metrics,
	})

	if cfg.MetricsFile != "" {
		sup.OnExit(func(inv *models.Invocation) {
			if err := metrics.WriteFile(cfg.MetricsFile); err != nil {
				logger.WithError(err).WithField("invocation_id", inv.ID).Warn("failed to write metrics")
			}
		})
	}
	if summary {
		sup.OnExit(func(inv *models.Invocation) {
			fmt.Fprintln(os.Stderr, renderSummary(inv))
		})
	}

	sup.Run(args)
	return nil
}

// loadConfig layers the config file, the environment and explicitly set
// flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.Timeout = config.Duration(timeout)
	}
	if flags.Changed("engine") {
		cfg.Engine.Command = engineCmd
	}
	if flags.Changed("engine-arg") {
		cfg.Engine.Args = engineArgs
	}
	if flags.Changed("title") {
		cfg.Page.Title = title
	}
	if flags.Changed("content-type") {
		cfg.Page.ContentType = contentType
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = metricsFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
