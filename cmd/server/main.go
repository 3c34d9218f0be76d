package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mar-engine/internal/auth"
	"mar-engine/internal/config"
	"mar-engine/internal/database"
	"mar-engine/internal/handlers"
	"mar-engine/internal/models"
	"mar-engine/internal/repository"
	"mar-engine/internal/repository/postgres"
	"mar-engine/internal/services"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mar-server",
		Short:         "Medication administration and stock ledger API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.close()
			return nil
		},
	}
}

func stockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Run stock jobs once",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "snapshot",
		Short: "Create today's ledger entry for every active medication",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *services.Engine, _ *config.Config, log zerolog.Logger) error {
				created, err := engine.Ledger.RecordDailyStock(cmd.Context())
				if err != nil {
					return err
				}
				log.Info().Int("created", created).Msg("daily stock recorded")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Raise low-stock alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *services.Engine, _ *config.Config, log zerolog.Logger) error {
				created, err := engine.Alerts.CheckMedicationStock(cmd.Context())
				if err != nil {
					return err
				}
				log.Info().Int("created", created).Msg("stock levels checked")
				return nil
			})
		},
	})

	cmd.AddCommand(summaryCmd())

	return cmd
}

func summaryCmd() *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Generate a stock summary, the last seven days unless a range is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (start == "") != (end == "") {
				return errors.New("--start and --end go together")
			}
			return withEngine(cmd.Context(), func(engine *services.Engine, cfg *config.Config, log zerolog.Logger) error {
				var (
					summary *models.StockSummary
					err     error
				)
				if start == "" {
					summary, err = engine.Summaries.GenerateWeekly(cmd.Context())
				} else {
					var from, to time.Time
					if from, err = time.ParseInLocation(models.DateLayout, start, cfg.Location()); err != nil {
						return fmt.Errorf("parse --start: %w", err)
					}
					if to, err = time.ParseInLocation(models.DateLayout, end, cfg.Location()); err != nil {
						return fmt.Errorf("parse --end: %w", err)
					}
					summary, err = engine.Summaries.Generate(cmd.Context(), from, to, 0)
				}
				if err != nil {
					return err
				}
				log.Info().
					Int64("summary_id", summary.ID).
					Str("start_date", summary.StartDate).
					Str("end_date", summary.EndDate).
					Int("medications", len(summary.Entries)).
					Msg("stock summary generated")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD")
	return cmd
}

// tokenCmd issues a bearer token. Accounts live outside this service.
func tokenCmd() *cobra.Command {
	var (
		userID   int64
		username string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.TokenDuration).
				GenerateToken(userID, username, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "user ID carried in the token")
	cmd.Flags().StringVar(&username, "username", "", "username carried in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleStaff, "admin or staff")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	engine := newEngine(cfg, b.stores, logger)
	jwtManager := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.TokenDuration)

	router, limiter := handlers.NewRouter(engine, jwtManager, handlers.RouterConfig{
		Location:          cfg.Location(),
		CORSOrigins:       cfg.Server.CORSOrigins,
		RateLimitRequests: cfg.Security.RateLimitRequests,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
		HSTSEnabled:       cfg.Security.HSTSEnabled,
		Health:            b.ping,
	}, logger)
	defer limiter.Stop()

	var scheduler *services.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = services.NewScheduler(engine, cfg.Location(), services.Schedules{
			Snapshot: cfg.Scheduler.SnapshotSpec,
			Alerts:   cfg.Scheduler.AlertSpec,
			Summary:  cfg.Scheduler.SummarySpec,
		}, logger.With().Str("component", "scheduler").Logger())
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("environment", cfg.Server.Environment).
			Str("driver", cfg.Database.Driver).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

func withEngine(ctx context.Context, fn func(*services.Engine, *config.Config, zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	return fn(newEngine(cfg, b.stores, logger), cfg, logger)
}

func newEngine(cfg *config.Config, stores repository.Stores, logger zerolog.Logger) *services.Engine {
	return services.NewEngine(stores, services.Options{
		Location:        cfg.Location(),
		ThresholdBefore: cfg.Administration.ThresholdBefore,
		ThresholdAfter:  cfg.Administration.ThresholdAfter,
		StockAlertDays:  cfg.Stock.AlertDays,
		InferFromNotes:  cfg.Stock.InferFromNotes,
		Metrics:         services.NewMetrics(),
		Logger:          logger,
	})
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Server.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if !cfg.IsProduction() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return logger
}

// backend is an open, migrated store
type backend struct {
	stores repository.Stores
	ping   handlers.HealthChecker
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := database.OpenPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		applied, err := database.MigratePostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logMigrations(logger, applied)
		return &backend{
			stores: postgres.NewStores(pool).Repository(),
			ping:   pool.Ping,
			close:  pool.Close,
		}, nil

	default:
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		db, err := database.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		applied, err := db.RunMigrations(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logMigrations(logger, applied)
		return &backend{
			stores: repository.NewSQLiteStores(db),
			ping:   db.PingContext,
			close:  func() { db.Close() },
		}, nil
	}
}

func logMigrations(logger zerolog.Logger, applied []string) {
	if len(applied) == 0 {
		logger.Debug().Msg("database schema up to date")
		return
	}
	logger.Info().Strs("migrations", applied).Msg("migrations applied")
}
