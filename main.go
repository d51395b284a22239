/*
Package main is the entry point for the Concierge agent service.

It loads configuration, initializes structured logging, selects the schedule
store (Postgres when DATABASE_URL is set, in-memory otherwise), creates the
core server with all of its dependencies, and runs the Echo HTTP server with
graceful shutdown support.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"concierge/core"
	"concierge/store"
)

func main() {
	config := core.LoadConfig()
	logger := core.InitializeLogger(config)
	logger.Info("Starting Concierge agent server")

	ctx := context.Background()

	var schedule store.Store
	if config.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, config.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer pool.Close()
		schedule, err = store.NewPGStore(ctx, pool, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Postgres schedule store")
		}
		logger.Info("Using Postgres schedule store")
	} else {
		schedule = store.NewMemoryStore()
		logger.Info("Using in-memory schedule store")
	}
	if err := schedule.Init(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to initialize schedule store")
	}

	server, err := core.NewServer(config, schedule, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server.RegisterRoutes(e)

	go func() {
		logger.WithField("port", config.Port).Info("Starting server")
		if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to gracefully shutdown server")
	} else {
		logger.Info("Server shutdown complete")
	}
}
