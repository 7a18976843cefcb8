package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/api"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/config"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/domains"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/issues"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/logging"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/monitoring"
	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/websocket"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:          "uma-sync",
	Short:        "Keep a live snapshot of an Unraid server in sync",
	Long:         `uma-sync polls the Unraid Management Agent REST API, applies its websocket push events and serves the merged state over HTTP.`,
	Version:      Version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(fingerprintCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "uma-sync %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads settings and re-initializes logging from them.
func loadConfig() (*config.Config, error) {
	// Baseline logger for early startup messages.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "uma-sync",
	})

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "uma-sync",
		FilePath:  cfg.LogFile,
	})
	return cfg, nil
}

// newClient builds the REST client dialing through dns.
func newClient(cfg *config.Config, dns *unraid.DNSCache) (*unraid.Client, error) {
	clientCfg := cfg.ClientConfig()
	if dns != nil {
		clientCfg.DialContext = dns.DialContext
	}
	client, err := unraid.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create unraid client: %w", err)
	}
	return client, nil
}

// newCoordinator wires the client into a coordinator over the full domain table.
func newCoordinator(cfg *config.Config, client *unraid.Client, push bool) (*monitoring.Coordinator, error) {
	deps := monitoring.Deps{
		Registry:   domains.Unraid(),
		API:        client,
		Collectors: client,
		Actions:    client,
	}
	if push {
		deps.Stream = monitoring.DialerOpener(unraid.NewStreamDialer(client, cfg.ConnectTimeout))
	}

	return monitoring.New(deps, monitoring.Options{
		Instance:                 cfg.Host,
		PollInterval:             cfg.PollInterval,
		CollectorRefreshInterval: cfg.CollectorRefreshInterval,
		FetchTimeout:             cfg.FetchTimeout,
		ConnectTimeout:           cfg.ConnectTimeout,
		DisablePush:              !push,
		Backoff: monitoring.BackoffConfig{
			Initial:    cfg.ReconnectBase,
			Multiplier: cfg.ReconnectMultiplier,
			Jitter:     cfg.ReconnectJitter,
			Max:        cfg.ReconnectMax,
		},
	})
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer logging.Shutdown()

	log.Info().Str("version", Version).Msg("Starting uma-sync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startMetricsServer(ctx, cfg.MetricsAddr)

	dns := unraid.NewDNSCache(cfg.DNSCacheTTL)
	dns.Start(ctx)

	client, err := newClient(cfg, dns)
	if err != nil {
		return err
	}
	coord, err := newCoordinator(cfg, client, cfg.EnableWebsocket)
	if err != nil {
		return fmt.Errorf("failed to initialize synchronization: %w", err)
	}

	checker := issues.NewChecker(coord)
	hub := websocket.NewHub(func() any { return api.CurrentState(coord) })
	router := api.NewRouter(cfg, coord, checker, hub, Version)

	go hub.Run(ctx)
	go hub.Forward(ctx, coord.Subscribe(), router.Resolve)
	go checker.Run(ctx, coord.Subscribe())

	coord.Start(ctx)

	configWatcher, err := config.NewWatcher(cfg, func(r config.Reload) {
		onConfigReload(ctx, r, coord, router)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, .env changes will require restart")
	} else {
		configWatcher.Start()
		defer configWatcher.Stop()
	}

	// ReadHeaderTimeout instead of ReadTimeout keeps upgraded websocket
	// connections free of a connection-wide deadline.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	defer signal.Stop(reloadChan)

	var runErr error
loop:
	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading configuration")
			if configWatcher != nil {
				configWatcher.Reload()
			}
			coord.RequestRefresh()
		case <-sigChan:
			log.Info().Msg("Shutting down server")
			break loop
		case err := <-serverErr:
			log.Error().Err(err).Msg("HTTP server failed")
			runErr = err
			break loop
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	coord.Stop()

	log.Info().Msg("Server stopped")
	return runErr
}

type reloadTarget interface {
	RefreshCollectors(ctx context.Context) error
	RequestRefresh()
}

// onConfigReload applies live settings and resynchronizes.
func onConfigReload(ctx context.Context, r config.Reload, coord reloadTarget, router *api.Router) {
	prev := logging.Level()
	logging.SetLevel(r.Config.LogLevel)
	if level := logging.Level(); level != prev {
		log.Info().Str("level", level).Msg("Log level updated")
	}
	if router != nil {
		router.SetConfig(r.Config)
	}
	if err := coord.RefreshCollectors(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to refresh collectors after config reload")
	}
	coord.RequestRefresh()
}
