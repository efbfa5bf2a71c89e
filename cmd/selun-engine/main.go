// Package main is the Selun allocation engine's entry point.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/r3e-network/selun-engine/applications"
	"github.com/r3e-network/selun-engine/applications/httpapi"
	"github.com/r3e-network/selun-engine/pkg/config"
	"github.com/r3e-network/selun-engine/system/framework/lifecycle"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logrus.New()
	if level, parseErr := logrus.ParseLevel(cfg.Logging.Level); parseErr == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	app, err := applications.Build(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Manager.Start(ctx); err != nil {
		logger.WithError(err).Fatal("start services")
	}

	mux := httpapi.NewRouter(app.Router)
	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + portOrDefault(cfg.Server.Port),
		Handler:           httpapi.WithDefaultMiddleware(mux, app.Router.Log),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Infof("selun-engine listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server error")
		}
	}()

	hooks := lifecycle.NewHooks()
	hooks.OnPreStopNamed("stop-accepting-requests", func(ctx context.Context) error {
		logger.Info("shutting down: draining http listener")
		return nil
	})
	hooks.OnPostStopNamed("log-shutdown-complete", func(ctx context.Context) error {
		logger.Info("shutdown complete")
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := hooks.RunPreStop(shutdownCtx); err != nil {
		logger.WithError(err).Error("pre-stop hooks")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http server shutdown")
	}
	if err := app.Manager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("service shutdown")
	}
	if err := hooks.RunPostStop(shutdownCtx); err != nil {
		logger.WithError(err).Error("post-stop hooks")
	}
}

func portOrDefault(port int) string {
	if port <= 0 {
		return "8080"
	}
	return strconv.Itoa(port)
}
