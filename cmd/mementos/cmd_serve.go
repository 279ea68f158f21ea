package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/mementos/server/internal/engine"
	"github.com/MRamiBalles/mementos/server/internal/events"
	"github.com/MRamiBalles/mementos/server/internal/infra/storage"
	"github.com/MRamiBalles/mementos/server/internal/network"
	"github.com/MRamiBalles/mementos/server/internal/platform/config"
	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
	"github.com/MRamiBalles/mementos/server/internal/platform/metrics"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Long: `Run the HTTP API and WebSocket hub for one session.

Settings come from the defaults, then --config, then MEMENTOS_* environment
variables, then the flags below.

Examples:
  mementos serve
  mementos serve --addr :9000 --time-scale 120
  mementos serve --memory   # no SQLite file, nothing is persisted`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := serveConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, cfg)
		},
	}

	cmd.Flags().String("config", "", "YAML configuration file")
	cmd.Flags().String("addr", "", "HTTP listen address")
	cmd.Flags().String("db", "", "SQLite database path")
	cmd.Flags().Bool("memory", false, "Keep the event log and customization in memory only")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().Float64("time-scale", 0, "Simulated seconds per tick")
	cmd.Flags().Duration("tick-interval", 0, "Real time between ticks")
	cmd.Flags().StringSlice("allowed-origins", nil, "WebSocket origins allowed besides same-origin")

	return cmd
}

// serveConfig layers the flags the user set over the loaded config.
func serveConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("db") {
		cfg.DatabasePath, _ = flags.GetString("db")
	}
	if memory, _ := flags.GetBool("memory"); memory {
		cfg.DatabasePath = ""
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("time-scale") {
		cfg.TimeScale, _ = flags.GetFloat64("time-scale")
	}
	if flags.Changed("tick-interval") {
		cfg.TickInterval, _ = flags.GetDuration("tick-interval")
	}
	if flags.Changed("allowed-origins") {
		cfg.AllowedOrigins, _ = flags.GetStringSlice("allowed-origins")
	}
	if flags.Changed("timeline") {
		cfg.TimelinePath, _ = flags.GetString("timeline")
	}
	if flags.Changed("library") {
		cfg.LibraryPath, _ = flags.GetString("library")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// backend is the storage a session runs against: SQLite when a database
// path is configured, process memory otherwise.
type backend struct {
	db        *sql.DB
	sessions  storage.SessionRepository
	persister events.EventPersister
	recap     network.RecapSource
	custom    storage.CustomizationStore
}

func openBackend(ctx context.Context, cfg config.Config, sessionID string, hoursPerDay float64, log *logger.Logger, m *metrics.Collector) (*backend, error) {
	if cfg.DatabasePath == "" {
		log.Warn("no database configured, the event log is kept in memory only")
		return &backend{custom: storage.NewMemoryCustomizationStore()}, nil
	}

	db, err := storage.InitSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	eventRepo := storage.NewSQLiteEventRepository(db)
	sessions := storage.NewSQLiteSessionRepository(db)
	if err := sessions.Create(ctx, storage.SessionRecord{
		ID:        sessionID,
		StartedAt: time.Now(),
		TimeScale: cfg.TimeScale,
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record session: %w", err)
	}

	return &backend{
		db:        db,
		sessions:  sessions,
		persister: storage.NewEventPersister(eventRepo, sessionID, log, m),
		recap:     storage.NewRecapper(eventRepo, hoursPerDay),
		custom:    storage.NewSQLiteCustomizationStore(db),
	}, nil
}

func serve(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	appLogger := logger.New(cfg.LogLevel, cmd.ErrOrStderr())
	m := metrics.Get()

	tl, cat, err := loadContent(cmd, cfg.TimelinePath, cfg.LibraryPath)
	if err != nil {
		return err
	}
	session, err := engine.NewSession(tl, engine.WithTimeScale(cfg.TimeScale))
	if err != nil {
		return err
	}
	appLogger.Info("timeline loaded",
		"days", len(tl.Days),
		"emails", tl.EmailCount(),
		"shutdown_after_hours", tl.EndHours(),
		"library_items", cat.Len(),
		"library_size", gigabytes(cat.TotalSizeGB()),
	)

	be, err := openBackend(ctx, cfg, session.ID(), tl.HoursPerDay, appLogger, m)
	if err != nil {
		return err
	}
	if be.db != nil {
		defer be.db.Close()
	}

	eventLog := events.NewEventLog(be.persister)
	gameEngine := engine.NewEngine(session, cat, eventLog, appLogger)
	gameEngine.SetMetrics(m)

	hub := network.NewHub(gameEngine, appLogger, network.HubConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.ClientSendBuffer,
		Metrics:        m,
	})
	gameEngine.SetBroadcaster(hub)
	go hub.Run(ctx)
	go gameEngine.Run(ctx, cfg.TickInterval)

	custom := storage.NewCustomization(be.custom, appLogger)
	api := network.NewAPI(gameEngine, custom, be.recap, hub, m, appLogger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(appLogger.Slog().Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP API & WS server listening",
			"addr", cfg.Addr,
			"session", session.ID(),
			"shutdown", humanize.Time(time.Now().Add(realDuration(tl.EndHours(), cfg))),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP shutdown incomplete", "error", err)
	}

	eventLog.Close()
	if dropped := eventLog.Dropped(); dropped > 0 {
		appLogger.Warn("audit events dropped under load", "count", dropped)
	}
	finishSession(shutdownCtx, be, gameEngine, appLogger)
	return nil
}

// finishSession stamps the session record when the countdown reached the end.
func finishSession(ctx context.Context, be *backend, e *engine.Engine, log *logger.Logger) {
	if be.sessions == nil || !e.Session().IsEnded() {
		return
	}
	st := e.Stats()
	if err := be.sessions.MarkEnded(ctx, e.SessionID(), time.Now(), st.ItemsSaved, st.PercentageSaved); err != nil {
		log.Warn("failed to close session record", "error", err)
	}
}

// realDuration is how long the countdown takes on the wall clock.
func realDuration(endHours float64, cfg config.Config) time.Duration {
	ticks := endHours * 3600 / cfg.TimeScale
	return time.Duration(ticks * float64(cfg.TickInterval))
}
