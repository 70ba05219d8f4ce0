// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dyezepchik/time-chart-bot/internal/config"
	"github.com/dyezepchik/time-chart-bot/internal/database"
	"github.com/dyezepchik/time-chart-bot/internal/handler"
	"github.com/dyezepchik/time-chart-bot/internal/logging"
	"github.com/dyezepchik/time-chart-bot/internal/repository"
	"github.com/dyezepchik/time-chart-bot/internal/scheduler"
	"github.com/dyezepchik/time-chart-bot/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "timechart: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, driver, port string
	var autogenerate bool

	flagSet := pflag.NewFlagSet("timechart", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default: $"+config.EnvConfigPath+")")
	flagSet.StringVar(&driver, "storage", "", "storage driver override: postgres or sqlite")
	flagSet.StringVar(&port, "port", "", "HTTP port override")
	flagSet.BoolVar(&autogenerate, "autogenerate", false, "generate next week's calendar on the configured cron schedule")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// ── 1. Load configuration ─────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if driver != "" {
		cfg.Storage.Driver = driver
	}
	if port != "" {
		cfg.Port = port
	}
	if flagSet.Changed("autogenerate") {
		cfg.Autogenerate.Enabled = autogenerate
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	pol, err := cfg.Policy()
	if err != nil {
		return err
	}

	log, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 2. Open storage ───────────────────────────────────────────────────
	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo.Close()

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	opts := []service.Option{service.WithLogger(log)}
	classes := service.NewClassService(repo, pol, opts...)
	users := service.NewUserService(repo, pol, opts...)
	bookings := service.NewBookingService(classes, opts...)

	router := handler.NewRouter(handler.Services{
		Classes:  classes,
		Bookings: bookings,
		Users:    users,
		Sessions: handler.NewSessionStore(cfg.SessionTTL),
		Log:      log,
	})

	// ── 4. Start server (and scheduler) with graceful shutdown ────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Autogenerate.Enabled {
		sched, err := scheduler.New(cfg.Autogenerate.Spec, pol.Location, classes, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// openRepository connects to the configured backend and brings its schema
// up to date.
func openRepository(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.Repository, io.Closer, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if err := database.MigrateSQLite(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		log.Info("opened SQLite database", "path", cfg.Storage.SQLitePath)
		return repository.NewSQLite(db), db, nil

	default:
		pool, err := database.NewPool(ctx, cfg.Storage.Postgres, log)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		log.Info("connected to PostgreSQL")
		return repository.NewPostgres(pool), closerFunc(pool.Close), nil
	}
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
