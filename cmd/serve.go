package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/encoder"
	"github.com/kozaktomas/face-attendance/internal/encodings"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/hub"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/relay"
	"github.com/kozaktomas/face-attendance/internal/scan"
	"github.com/kozaktomas/face-attendance/internal/settings"
	"github.com/kozaktomas/face-attendance/internal/web"
)

const (
	shutdownTimeout        = 30 * time.Second
	sessionCleanupInterval = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance server",
	Long: `Start the Face Attendance server.
The server exposes the REST API for users, scans, attendance history and
settings, the /ws live feed of attendance decisions and /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// connectDatabase initializes PostgreSQL, runs migrations and registers the repositories.
func connectDatabase(cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	pool := postgres.GetGlobalPool()
	postgres.Register(pool)
	return pool, nil
}

// services are the long-lived components the server is built from.
type services struct {
	deps     web.Deps
	store    *encodings.Store
	hub      *hub.Hub
	relay    *relay.Relay
	registry *prometheus.Registry
}

func buildServices(ctx context.Context, cfg *config.Config, pool *postgres.Pool) (*services, error) {
	identities, err := database.GetIdentityWriter(ctx)
	if err != nil {
		return nil, err
	}
	decisions, err := database.GetDecisionStore(ctx)
	if err != nil {
		return nil, err
	}
	settingsStore, err := database.GetSettingsStore(ctx)
	if err != nil {
		return nil, err
	}
	admins, err := database.GetAdminStore(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := database.GetSessionStore(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWith(reg)

	settingsSvc := settings.NewService(settingsStore, cfg.Recognition.Threshold, 0)
	if err := settingsSvc.Load(ctx); err != nil {
		return nil, err
	}
	fmt.Printf("Match threshold: %.3f\n", settingsSvc.Threshold())

	store := encodings.NewStore(identities)
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading encodings: %w", err)
	}
	fmt.Printf("Loaded %d enrolled encodings\n", store.Len())

	h := hub.New(cfg.Hub.QueueSize, hub.WithMetrics(m))

	s := &services{store: store, hub: h, registry: reg}

	var publisher scan.Publisher = h
	client, err := relay.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	if client != nil {
		s.relay = relay.New(client, cfg.Redis.Channel, h, relay.WithMetrics(m))
		publisher = relay.Fanout{h, s.relay}
		fmt.Printf("Cross-instance relay enabled (instance %s)\n", s.relay.Instance())
	}

	var enc scan.Encoder
	if cfg.Encoder.URL != "" {
		enc = encoder.NewClient(cfg.Encoder.URL, cfg.Recognition.Dimension, cfg.Encoder.Timeout)
		fmt.Printf("Face encoder: %s\n", cfg.Encoder.URL)
	} else {
		fmt.Printf("Warning: ENCODER_URL not set, enrollment and image scans are disabled\n")
	}

	pipeline := scan.New(scan.Deps{
		Store:     store,
		Threshold: settingsSvc,
		Matcher:   facematch.NewMatcher(cfg.Recognition.Dimension),
		Recorder:  decisions,
		Publisher: publisher,
		Encoder:   enc,
		Metrics:   m,
	})

	s.deps = web.Deps{
		Identities: identities,
		Decisions:  decisions,
		Admins:     admins,
		Sessions:   sessions,
		Settings:   settingsSvc,
		Store:      store,
		Pipeline:   pipeline,
		Encoder:    enc,
		Hub:        h,
		DB:         pool,
		Gatherer:   reg,
	}
	return s, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	if cfg.Web.SessionSecret == "" {
		fmt.Printf("Warning: WEB_SESSION_SECRET not set, using the development secret\n")
	}

	pool, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, pool)
	if err != nil {
		return err
	}
	server := web.NewServer(cfg, svc.deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return svc.store.RunRefresher(gctx, cfg.Recognition.RefreshInterval) })
	g.Go(func() error { return server.SessionManager().RunCleanup(gctx, sessionCleanupInterval) })
	if svc.relay != nil {
		g.Go(func() error { return svc.relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		svc.hub.Close()
		return err
	})

	fmt.Printf("Starting Face Attendance on http://%s\n", cfg.Web.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		return err
	}
	return nil
}
