package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"formflow-backend/internal/admin"
	"formflow-backend/internal/auth"
	"formflow-backend/internal/config"
	"formflow-backend/internal/engine"
	"formflow-backend/internal/instrument"
	"formflow-backend/internal/metadata"
	"formflow-backend/internal/storage"
	"formflow-backend/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db.DB, reg); err != nil {
		log.Printf("WARN: Failed to load metadata: %v", err)
	}

	// Instrumentation: buffered span writes into _events
	var instrumenter instrument.Instrumenter = &instrument.NoopInstrumenter{}
	if cfg.Instrumentation.Enabled {
		buffer := instrument.NewEventBuffer(db.DB, db.Dialect,
			cfg.Instrumentation.BufferSize,
			time.Duration(cfg.Instrumentation.FlushIntervalMs)*time.Millisecond)
		defer buffer.Stop()
		instrumenter = instrument.NewDBInstrumenter(buffer, "server")
	}

	dispatcher := engine.NewDispatcher(db, reg, cfg.BaseURL)
	requestStore := engine.NewSQLRequestStore()
	reviewEngine := engine.NewReviewEngine(db, reg, requestStore, dispatcher)

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(instrument.With(c.UserContext(), instrumenter))
		return c.Next()
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Auth routes (no auth required)
	authHandler := auth.NewAuthHandler(db, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	adminMW := auth.RequireAdmin()

	// Admin configuration surface (auth + admin role)
	adminHandler := admin.NewHandler(db, reg)
	admin.RegisterAdminRoutes(app, adminHandler, authMW, adminMW)

	// Form evaluation and request lifecycle (auth required)
	formHandler := engine.NewFormHandler(reg)
	engine.RegisterFormRoutes(app, formHandler, authMW)

	requestHandler := engine.NewRequestHandler(reviewEngine, reg)
	engine.RegisterRequestRoutes(app, requestHandler, authMW)

	notificationHandler := engine.NewNotificationHandler(db)
	engine.RegisterNotificationRoutes(app, notificationHandler, authMW)

	fileStorage := storage.NewLocalStorage(cfg.Storage.LocalPath)
	fileHandler := engine.NewFileHandler(db, fileStorage, cfg.Storage.MaxFileSize)
	engine.RegisterFileRoutes(app, fileHandler, authMW)

	// Approval reminder scheduler
	reminders := engine.NewReminderScheduler(db, reg, requestStore, dispatcher,
		time.Duration(cfg.Notify.ReminderIntervalMin)*time.Minute,
		time.Duration(cfg.Notify.ReminderAfterHours)*time.Hour)
	reminders.Start()
	defer reminders.Stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Block until SIGINT/SIGTERM, then drain in-flight requests so the
	// deferred scheduler and instrumentation shutdowns get to run.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("ERROR: Shutdown: %v", err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
