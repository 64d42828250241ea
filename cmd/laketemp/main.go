package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/alpinelakes/laketemp/internal/api/http"
	"github.com/alpinelakes/laketemp/internal/config"
	"github.com/alpinelakes/laketemp/internal/coordinator"
	"github.com/alpinelakes/laketemp/internal/metrics"
	"github.com/alpinelakes/laketemp/internal/ratelimit"
	"github.com/alpinelakes/laketemp/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	settings, err := config.Load()
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: settings.LogLevel}))
	slog.SetDefault(log)

	lakes, err := config.LoadLakes(settings.LakesFile)
	if err != nil {
		log.Error("failed to load lakes file", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "lakes", len(lakes), "file", settings.LakesFile)

	st := store.NewMemoryStore()
	m := metrics.New()
	limiter := ratelimit.New(settings.MaxConcurrent, settings.MinSpacing)

	registry := coordinator.NewRegistry(lakes, coordinator.Options{
		HydroOOEURL:    settings.HydroOOEURL,
		SalzburgOGDURL: settings.SalzburgOGDURL,
	}, limiter, st, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registry.Start(ctx); err != nil {
		log.Error("failed to start coordinators", "error", err)
		os.Exit(1)
	}
	defer registry.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "laketemp",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, st, m)

	go func() {
		log.Info("http server listening", "port", settings.Port)
		if err := app.Listen(":" + settings.Port); err != nil {
			log.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during http shutdown", "error", err)
	}
}
