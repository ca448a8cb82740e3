package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/execution-hub/bizrules/internal/api/http"
	"github.com/execution-hub/bizrules/internal/bootstrap"
	"github.com/execution-hub/bizrules/internal/config"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, true, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer app.Close()

	apiServer := httpapi.NewServer(app.Approval, app.SLA, app.Report, app.Audit, app.Hub, cfg.SchedulerBatch, logger).
		WithInbox(app.Stores.Inbox)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// background loops
	go func() {
		ticker := time.NewTicker(cfg.SchedulerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				res, err := app.SLA.ProcessDueChecks(ctx, now.UTC(), cfg.SchedulerBatch)
				if err != nil {
					logger.Error().Err(err).Msg("sla sweep failed")
					continue
				}
				if res.Processed+res.Failed > 0 {
					logger.Info().
						Int("processed", res.Processed).
						Int("failed", res.Failed).
						Int("findings", res.Findings).
						Msg("sla sweep")
				}
			}
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.Hub.Stop()
	_ = httpServer.Shutdown(ctxShutdown)
}
