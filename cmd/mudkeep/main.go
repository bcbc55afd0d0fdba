package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mudkeep/mudkeep/internal/api"
	"github.com/mudkeep/mudkeep/internal/config"
	"github.com/mudkeep/mudkeep/internal/events"
	"github.com/mudkeep/mudkeep/internal/logger"
	"github.com/mudkeep/mudkeep/internal/proxy"
)

var configPath = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging.Level)

	var publisher events.Publisher
	if cfg.Redis.Enabled {
		pub, err := events.NewRedisPublisher(&cfg.Redis)
		if err != nil {
			// Event publishing is best-effort; the proxy runs without it.
			logger.Warn("event publisher disabled", "error", err)
		} else {
			publisher = pub
			defer pub.Close()
		}
	}

	proxySrv := proxy.NewServer(cfg, publisher)

	reload := func() error {
		newCfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		proxySrv.Reload(newCfg)
		return nil
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.NewServer(&cfg.API, cfg.Monitoring.MetricsPath, proxySrv, reload)
		go func() {
			if err := apiSrv.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("API server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- proxySrv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-errCh:
			// Start returns an error only on a bind failure.
			if err != nil {
				logger.Error("proxy failed to start", "error", err)
				os.Exit(1)
			}
			return

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := reload(); err != nil {
					logger.Error("reload failed, keeping previous configuration", "error", err)
				}
				continue
			}

			logger.Info("shutdown signal received", "signal", sig.String())
			proxySrv.Stop()
			if apiSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = apiSrv.Shutdown(ctx)
				cancel()
			}
			return
		}
	}
}
