// webhuawei is a single-binary dashboard for a Huawei NE8000 router:
// it polls the device over SSH or Telnet, caches parsed results in
// Redis plus a local tier, and serves them over HTTP and WebSocket.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Br10Consultoria/webhuawei/internal/cache"
	"github.com/Br10Consultoria/webhuawei/internal/config"
	"github.com/Br10Consultoria/webhuawei/internal/logger"
	"github.com/Br10Consultoria/webhuawei/internal/models"
	"github.com/Br10Consultoria/webhuawei/internal/poller"
	"github.com/Br10Consultoria/webhuawei/internal/router"
	"github.com/Br10Consultoria/webhuawei/internal/server"
)

var version = "dev"

// Traffic history retention: samples older than this are pruned by a
// background sweep while the server runs.
const (
	historyRetention = 30 * 24 * time.Hour
	pruneInterval    = 6 * time.Hour
)

func main() {
	root := &cobra.Command{
		Use:          "webhuawei",
		Short:        "NE8000 router dashboard",
		SilenceUsage: true,
	}
	root.AddCommand(serverCmd(), checkCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	log := logger.New(cfg.LogLevel, cfg.LogJSON)
	log.Info().Str("version", version).Str("router", cfg.Router.Host).Str("protocol", cfg.Router.Protocol).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := server.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}

	tiered := cache.New(ctx, cfg.Cache, log)
	defer tiered.Close()

	transport := router.NewTransport(cfg.Router, log)
	pool := router.NewPool(cfg.Pool, transport.Connect, log)
	defer pool.Shutdown()

	exec := router.NewExecutor(pool, cfg.Retry, cfg.Router.Timeouts.Command, log)
	hub := server.NewHub(log)
	defer hub.Shutdown()

	p := poller.New(exec, tiered, cfg, log, func(category string, payload any) {
		hub.Broadcast(server.ChannelRouterData, category, payload)
		switch category {
		case models.CategorySystem:
			hub.Broadcast(server.ChannelSystemStatus, category, payload)
		case models.CategoryTraffic:
			if stats, ok := payload.(models.TrafficStats); ok {
				if err := db.SaveTrafficSample(stats); err != nil {
					log.Error().Err(err).Msg("traffic sample write failed")
				}
			}
		}
	})
	p.Start(ctx)
	defer p.Stop()

	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := db.PruneTrafficHistory(time.Now().Add(-historyRetention))
				if err != nil {
					log.Error().Err(err).Msg("traffic history prune failed")
				} else if pruned > 0 {
					log.Info().Int64("pruned", pruned).Msg("traffic history pruned")
				}
			}
		}
	}()

	srv := server.New(cfg, exec, pool, tiered, p, db, hub, log)
	addr := net.JoinHostPort(cfg.ListenHost, fmt.Sprintf("%d", cfg.ListenPort))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect to the router once and print the device version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogJSON)

			transport := router.NewTransport(cfg.Router, log)
			pool := router.NewPool(cfg.Pool, transport.Connect, log)
			defer pool.Shutdown()
			exec := router.NewExecutor(pool, cfg.Retry, cfg.Router.Timeouts.Command, log)

			start := time.Now()
			results, err := exec.Execute(cmd.Context(), []string{"display version"})
			if err != nil {
				return fmt.Errorf("router check failed: %w", err)
			}
			fmt.Printf("connected to %s via %s in %s\n", cfg.Router.Host, cfg.Router.Protocol, time.Since(start).Round(time.Millisecond))
			if len(results) > 0 {
				fmt.Println(results[0])
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("webhuawei", version)
		},
	}
}
