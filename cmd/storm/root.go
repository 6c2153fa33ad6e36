package main

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/syssam/storm"
	dsql "github.com/syssam/storm/dialect/sql"
	"github.com/syssam/storm/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// app holds the state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	metrics bool

	cfg    *config.Config
	logger *slog.Logger
	stats  *dsql.StatsDriver
	client *storm.Client
}

type appKey struct{}

// fromContext returns the app set up by the root command.
func fromContext(ctx context.Context) *app {
	a, _ := ctx.Value(appKey{}).(*app)
	return a
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "storm",
		Short: "storm - relational entity mapping engine",
		Long: `storm maps entities to relational tables across PostgreSQL, MySQL,
MariaDB, Oracle, SQL Server and SQLite.

The CLI runs statements and queries through the engine, with ? placeholders
and list expansion, and reports the dialect detected for a database.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			if err := a.open(cmd); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./storm.yaml)")
	flags.String("driver", "", "database/sql driver: sqlite, postgres, pgx or mysql")
	flags.String("dsn", "", "data source name")
	flags.Bool("strict", true, "fail on result columns without a mapped field")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.Duration("slow-threshold", 0, "duration above which statements are logged as slow")
	flags.String("product-name", "", "database product name, for drivers without a version probe")
	flags.String("product-version", "", "database product version")
	flags.BoolVar(&a.metrics, "metrics", false, "print statement metrics after the command")

	_ = rootCmd.RegisterFlagCompletionFunc("driver", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"sqlite", "postgres", "pgx", "mysql"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newDialectCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newCallCmd())
	return rootCmd
}

// open loads the configuration and opens the client.
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	if cfg.DSN == "" {
		return fmt.Errorf("no data source name configured")
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))
	if cfg.File != "" {
		a.logger.Debug("using config file", "path", cfg.File)
	}

	var opts []dsql.Option
	if md := cfg.Metadata(); md != nil {
		opts = append(opts, dsql.WithProduct(*md))
	}
	drv, err := dsql.Open(cfg.Driver, cfg.DSN, opts...)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	a.stats = dsql.NewStatsDriver(drv,
		dsql.WithSlowThreshold(cfg.SlowThreshold),
		dsql.WithSlowQueryLog(a.logger),
	)
	a.client = storm.NewClient(a.stats,
		storm.WithLogger(a.logger),
		storm.WithStrict(cfg.Strict),
	)
	return nil
}

// close prints the metrics if requested and closes the database.
func (a *app) close(cmd *cobra.Command) error {
	if a.stats == nil {
		return nil
	}
	defer a.stats.Close()
	a.logger.Debug("statement statistics", "stats", a.stats.QueryStats().Stats().String())
	if !a.metrics {
		return nil
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(a.stats); err != nil {
		return err
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" {
					name += "{kind=" + l.GetValue() + "}"
				}
			}
			out[name] = m.GetCounter().GetValue()
		}
	}
	return render(cmd.OutOrStdout(), map[string]any{"metrics": out})
}
