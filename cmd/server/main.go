package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/localnerve/jam-build-sitehost/internal/blob"
	"github.com/localnerve/jam-build-sitehost/internal/config"
	"github.com/localnerve/jam-build-sitehost/internal/database"
	"github.com/localnerve/jam-build-sitehost/internal/deploy"
	"github.com/localnerve/jam-build-sitehost/internal/gc"
	"github.com/localnerve/jam-build-sitehost/internal/handlers"
	"github.com/localnerve/jam-build-sitehost/internal/idgen"
	"github.com/localnerve/jam-build-sitehost/internal/middleware"
	"github.com/localnerve/jam-build-sitehost/internal/router"
	"github.com/localnerve/jam-build-sitehost/internal/utils"

	_ "github.com/localnerve/jam-build-sitehost/docs/api" // Swagger docs
)

// @title Sitehost API
// @version 1.0.0
// @description Static site hosting with versioned, content-addressed deployments

// @contact.name API Support
// @contact.url https://github.com/localnerve/jam-build-sitehost
// @contact.email info@localnerve.com

// @host localhost:3000
// @BasePath /api
// @schemes http https

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to the registry database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to registry database: %v", err)
	}
	defer database.Close(db)

	// Run auto-migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Open the content store
	store, err := blob.Open(cfg.BlobPath)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}
	defer store.Close()

	collector := &gc.Collector{
		DB:        db,
		Store:     store,
		Retention: cfg.RetentionWindow,
		Interval:  cfg.GCInterval,
	}

	// The registry is the source of truth across restarts: content with no
	// referencing version is collectible immediately.
	if n, err := collector.SweepOrphans(); err != nil {
		log.Printf("Startup orphan sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("Startup orphan sweep removed %d blobs", n)
	}

	gcCtx, stopGC := context.WithCancel(context.Background())
	go collector.Run(gcCtx)

	orchestrator := &deploy.Orchestrator{
		DB:              db,
		Store:           store,
		IDGen:           idgen.New(),
		MaxArchiveBytes: cfg.MaxArchiveBytes,
		IndexDoc:        cfg.FallbackDoc,
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.MaxArchiveBytes),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("sitehost")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Control plane under /api
	api := app.Group("/api")

	appsHandler := &handlers.AppsHandler{DB: db}
	versionsHandler := &handlers.VersionsHandler{DB: db, Orchestrator: orchestrator}
	healthHandler := &handlers.HealthHandler{Cfg: cfg, DB: db, Store: store}

	api.Get("/health", healthHandler.Health)
	api.Get("/apps", appsHandler.ListApps)
	api.Post("/apps", appsHandler.CreateApp)
	api.Get("/apps/:name", appsHandler.GetApp)
	api.Get("/apps/:name/versions", versionsHandler.ListVersions)
	api.Post("/apps/:name/versions", versionsHandler.Publish)
	api.Post("/apps/:name/versions/:version/activate", versionsHandler.Activate)
	api.Post("/apps/:name/versions/:version/retire", versionsHandler.Retire)
	api.Post("/apps/:name/rollback", versionsHandler.Rollback)

	// 404 for anything else under /api
	api.Use(func(c *fiber.Ctx) error {
		return utils.NotFoundResponse(c, "[404] Resource Not Found")
	})

	// Serving surface: everything outside /api resolves through the
	// routing table to the active (or pinned) version's asset tree.
	serving := router.New(db, store, router.NewTable(cfg.Routes), cfg.FallbackDoc, cfg.CacheMaxAge)
	app.Use(middleware.PinnedVersion())
	app.Use(serving.Serve)

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down...")
		stopGC()
		_ = app.Shutdown()
	}()

	// Start server
	log.Printf("Starting server on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    code,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
	})
}
