package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/maquinanerd/IAMN/internal/config"
	"github.com/maquinanerd/IAMN/internal/database"
	"github.com/maquinanerd/IAMN/internal/scheduler"
	"github.com/maquinanerd/IAMN/internal/server"
)

// stopGrace bounds how long start waits for an in-flight cycle after a stop signal.
const stopGrace = 10 * time.Second

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var logLevel string

	root := &cobra.Command{
		Use:           "iamn",
		Short:         "Repurposes entertainment news feeds into rewritten, SEO-ready posts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			cfg.LogLevel = level
			zerolog.SetGlobalLevel(level)

			if cfg.SentryDSN != "" {
				err := sentry.Init(sentry.ClientOptions{
					Dsn:              cfg.SentryDSN,
					AttachStacktrace: true,
				})
				if err != nil {
					log.Warn().Err(err).Msg("Failed to initialize Sentry, continuing without error reporting")
				} else {
					log.Info().Msg("Sentry error reporting enabled")
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			sentry.Flush(2 * time.Second)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.DBPath, "db", config.GetEnvString("IAMN_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: IAMN_DB_PATH)")
	pf.StringVar(&logLevel, "log-level", config.GetEnvString("IAMN_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: IAMN_LOG_LEVEL)")

	root.AddCommand(
		startCmd(cfg),
		runCmd(cfg),
		cleanupCmd(cfg),
		serverCmd(cfg),
		migrateCmd(cfg),
		keysCmd(cfg),
	)
	return root
}

func addPipelineFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.FeedsPath, "feeds", config.GetEnvString("IAMN_FEEDS_PATH", ""),
		"YAML file with feed sources, built-in sources when empty (env: IAMN_FEEDS_PATH)")
	f.StringVar(&cfg.PromptPath, "prompt", config.GetEnvString("IAMN_PROMPT_PATH", ""),
		"Prompt template file, built-in template when empty (env: IAMN_PROMPT_PATH)")
	f.IntVar(&cfg.MaxArticlesPerFeed, "max-per-feed", config.GetEnvInt("IAMN_MAX_PER_FEED", config.DefaultMaxArticlesPerFeed),
		"Maximum new articles per source per cycle, 0 for no cap (env: IAMN_MAX_PER_FEED)")
	f.DurationVar(&cfg.APICallDelay, "delay", config.GetEnvDuration("IAMN_API_DELAY", time.Second, cfg.APICallDelay),
		"Minimum delay between articles (env: IAMN_API_DELAY, seconds)")
}

func addRetentionFlag(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().DurationVar(&cfg.Retention, "retention", config.GetEnvDuration("IAMN_RETENTION_HOURS", time.Hour, cfg.Retention),
		"Age after which articles are purged (env: IAMN_RETENTION_HOURS, hours)")
}

func addServerFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.ServerHost, "host", config.GetEnvString("IAMN_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: IAMN_HOST)")
	f.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("IAMN_PORT", config.DefaultServerPort),
		"Port to listen on (env: IAMN_PORT)")
}

// startCmd runs the scheduler: a cycle at start and every interval, plus the retention sweep.
func startCmd(cfg *config.Config) *cobra.Command {
	var withAPI bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the pipeline on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := openDB(cfg.DBPath, false)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := buildPipeline(cmd.Context(), cfg, db)
			if err != nil {
				return err
			}

			sched := scheduler.New()
			err = errors.Join(
				sched.Add(scheduler.Job{
					ID:         "pipeline",
					Interval:   cfg.Interval,
					RunAtStart: true,
					Run: func(ctx context.Context) error {
						_, err := p.RunCycle(ctx)
						return err
					},
				}),
				sched.Add(scheduler.Job{
					ID:       "cleanup",
					Interval: cfg.CleanupInterval,
					Run: func(ctx context.Context) error {
						_, err := p.PurgeOldArticles(ctx, cfg.Retention)
						return err
					},
				}),
			)
			if err != nil {
				return err
			}

			log.Info().
				Dur("interval", cfg.Interval).
				Dur("cleanup_interval", cfg.CleanupInterval).
				Dur("retention", cfg.Retention).
				Msg("Running in periodic mode")

			if err := sched.Start(ctx); err != nil {
				return err
			}

			serverErr := make(chan error, 1)
			if withAPI {
				opts := serverOptions(cfg)
				opts.Jobs = sched
				go func() {
					serverErr <- server.RunServer(ctx, db, cfg.ListenAddr(), log.Logger, opts)
				}()
			}

			select {
			case <-ctx.Done():
				log.Info().Msg("Shutdown signal received")
			case err := <-serverErr:
				if err != nil {
					log.Error().Err(err).Msg("API server stopped, shutting down")
				}
			}
			sched.Stop()

			select {
			case <-sched.Done():
			case <-time.After(stopGrace):
				log.Warn().Dur("grace", stopGrace).Msg("In-flight job did not stop in time")
			}

			for _, job := range sched.Status() {
				log.Info().
					Str("job", job.ID).
					Int("runs", job.Runs).
					Str("last_error", job.LastError).
					Msg("Job summary")
			}

			processed, failed, published := p.Stats()
			log.Info().
				Int64("processed", processed).
				Int64("failed", failed).
				Int64("published", published).
				Msg("Processing stats")
			return nil
		},
	}

	addPipelineFlags(cmd, cfg)
	addRetentionFlag(cmd, cfg)
	addServerFlags(cmd, cfg)
	cmd.Flags().DurationVar(&cfg.Interval, "interval", config.GetEnvDuration("IAMN_INTERVAL", time.Minute, cfg.Interval),
		"Time between pipeline cycles (env: IAMN_INTERVAL, minutes)")
	cmd.Flags().DurationVar(&cfg.CleanupInterval, "cleanup-interval", config.GetEnvDuration("IAMN_CLEANUP_INTERVAL", time.Hour, cfg.CleanupInterval),
		"Time between retention sweeps (env: IAMN_CLEANUP_INTERVAL, hours)")
	cmd.Flags().BoolVar(&withAPI, "api", config.GetEnvBool("IAMN_API", false),
		"Also serve the status API (env: IAMN_API)")
	return cmd
}

// runCmd executes a single cycle and exits.
func runCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			db, err := openDB(cfg.DBPath, false)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := buildPipeline(cmd.Context(), cfg, db)
			if err != nil {
				return err
			}

			stats, err := p.RunCycle(cmd.Context())
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("Processing cycle canceled by shutdown signal")
				return nil
			}
			if err != nil {
				return err
			}

			log.Info().
				Str("run_id", stats.RunID).
				Int("processed", stats.Processed).
				Int("failed", stats.Failed).
				Msg("One-shot processing completed, exiting")
			return nil
		},
	}
	addPipelineFlags(cmd, cfg)
	return cmd
}

func cleanupCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete articles older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cfg.DBPath, false)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := buildPipeline(cmd.Context(), cfg, db)
			if err != nil {
				return err
			}

			n, err := p.PurgeOldArticles(cmd.Context(), cfg.Retention)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info().Int64("purged_count", n).Msg("Successfully purged old articles")
			} else {
				log.Info().Msg("No old articles needed purging")
			}
			return nil
		},
	}
	addRetentionFlag(cmd, cfg)
	return cmd
}

func serverCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Debug().Msg("Starting server with debug logging enabled")

			db, err := openDB(cfg.DBPath, true)
			if err != nil {
				return err
			}
			defer db.Close()

			return server.RunServer(cmd.Context(), db, cfg.ListenAddr(), log.Logger, serverOptions(cfg))
		},
	}
	addServerFlags(cmd, cfg)
	return cmd
}

func migrateCmd(cfg *config.Config) *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations, or roll back with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the database applies pending migrations.
			db, err := openDB(cfg.DBPath, false)
			if err != nil {
				return err
			}
			defer db.Close()

			if down > 0 {
				if err := db.Rollback(down); err != nil {
					return fmt.Errorf("failed to roll back migrations: %w", err)
				}
			}

			version, err := db.SchemaVersion()
			if err != nil {
				return err
			}
			log.Info().Str("path", cfg.DBPath).Int("steps_down", down).Int("schema_version", version).Msg("Migrations done")
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "Number of migrations to roll back")
	return cmd
}

// keysCmd reports which generation credentials are configured, masked.
func keysCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List configured generation credentials per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := loadSources(cfg)
			if err != nil {
				return err
			}
			client, err := newGenerationClient(cmd.Context(), cfg, sources)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(client.Status())
		},
	}
	cmd.Flags().StringVar(&cfg.FeedsPath, "feeds", config.GetEnvString("IAMN_FEEDS_PATH", ""),
		"YAML file with feed sources (env: IAMN_FEEDS_PATH)")
	return cmd
}

func openDB(path string, readOnly bool) (*database.DB, error) {
	dbCfg := database.NewConfig(path)
	if readOnly {
		dbCfg = database.NewReadOnlyConfig(path)
	}

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func serverOptions(cfg *config.Config) server.Options {
	return server.Options{
		APIKey:    cfg.APIKey,
		FeedTitle: cfg.Site.PublisherName,
		FeedLink:  cfg.WordPress.SiteDomain(),
	}
}
