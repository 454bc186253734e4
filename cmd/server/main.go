package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/handlers"
	"parley/internal/jobs"
	"parley/internal/logging"
	"parley/internal/middleware"
	"parley/internal/services"
	"parley/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Parley Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	// Initialize settings database (MySQL or SQLite, detected from URL)
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Initialize MongoDB (required - stores messages and audio)
	if cfg.MongoURI == "" {
		log.Fatal("❌ MONGODB_URI environment variable is required (message and speech storage)")
	}
	log.Println("🔗 Connecting to MongoDB...")
	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())

	if err := mongoDB.Initialize(context.Background()); err != nil {
		log.Printf("⚠️ Failed to ensure MongoDB indexes: %v", err)
	}
	log.Println("✅ MongoDB connected successfully")

	// Initialize Redis (optional - backs daily dispatch quotas)
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (dispatch quotas disabled)", err)
			redisService = nil
		} else {
			log.Println("✅ Redis connected successfully")
			defer redisService.Close()
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - dispatch quotas disabled")
	}

	// Load the provider catalog
	catalog, err := config.LoadCatalog(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("❌ Failed to load provider catalog from %s: %v", cfg.ProvidersFile, err)
	}
	log.Printf("✅ Provider catalog loaded (%d providers)", len(catalog.Providers))

	// Initialize services
	providerService := services.NewProviderService(db, catalog)
	conversationService := services.NewConversationService(db)
	messageStore := services.NewMessageStore(mongoDB)
	speechService := services.NewSpeechService(messageStore, providerService, cfg)
	chatService := services.NewChatService(messageStore, providerService, speechService, cfg)

	// Initialize Prometheus metrics
	services.InitMetrics()

	// Hot-reload the catalog when providers.json changes
	go startCatalogWatcher(cfg.ProvidersFile, providerService)

	// Initialize JWT authentication
	var jwtAuth *auth.LocalJWTAuth
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(jwtSecret, 24*time.Hour, 7*24*time.Hour)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("✅ Local JWT authentication enabled")
	} else {
		if os.Getenv("ENVIRONMENT") == "production" {
			log.Fatal("❌ CRITICAL SECURITY ERROR: JWT_SECRET is required in production")
		}
		log.Println("⚠️ JWT_SECRET not set - authentication disabled (development mode only)")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Parley v1.0",
		ReadTimeout:  300 * time.Second, // local models can take minutes on cold start
		WriteTimeout: 300 * time.Second,
		BodyLimit:    10 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("parley")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Load rate limiting configuration
	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Public=%d/min, Dispatch=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.PublicReadMax,
		rateLimitConfig.DispatchMax,
	)

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	// Global API rate limiter - first line of DDoS defense
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Redis-backed daily dispatch quota
	dispatchLimiter := middleware.NewDispatchLimiter(redisClient(redisService))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	authHandler := handlers.NewAuthHandler(jwtAuth, cfg.AdminEmail, cfg.AdminPassword)
	providerHandler := handlers.NewProviderHandler(providerService)
	conversationHandler := handlers.NewConversationHandler(conversationService, chatService, messageStore, dispatchLimiter)
	speechHandler := handlers.NewSpeechHandler(messageStore)

	// Routes
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")

	authGroup := api.Group("/auth", middleware.PublicReadRateLimiter(rateLimitConfig))
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/refresh", authHandler.RefreshToken)

	providersGroup := api.Group("/providers", middleware.LocalAuthMiddleware(jwtAuth))
	providersGroup.Get("/", providerHandler.List)
	providersGroup.Get("/:name", providerHandler.Get)
	providersGroup.Put("/:name", providerHandler.Update)

	conversations := api.Group("/conversations", middleware.LocalAuthMiddleware(jwtAuth))
	conversations.Post("/", conversationHandler.Create)
	conversations.Get("/:id", conversationHandler.Get)
	conversations.Get("/:id/messages", conversationHandler.ListMessages)
	conversations.Post("/:id/messages",
		middleware.DispatchRateLimiter(rateLimitConfig),
		dispatchLimiter.CheckLimit,
		conversationHandler.DispatchMessage,
	)

	// Audio playback goes through optional auth: browser audio elements
	// cannot set headers, so the token arrives as a query parameter if at all
	speeches := api.Group("/speeches", middleware.OptionalLocalAuthMiddleware(jwtAuth))
	speeches.Get("/:id/audio",
		middleware.PublicReadRateLimiter(rateLimitConfig),
		speechHandler.GetAudio,
	)

	// Background jobs
	jobScheduler := jobs.NewScheduler()
	jobScheduler.Register("speech-cleanup", jobs.NewSpeechCleanupJob(messageStore, cfg.SpeechRetention))
	jobScheduler.Start()
	log.Println("🕐 Background jobs: speech cleanup (daily 3 AM UTC)")

	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// redisClient unwraps the service, tolerating a nil service
func redisClient(s *services.RedisService) *redis.Client {
	if s == nil {
		return nil
	}
	return s.Client()
}

// startCatalogWatcher watches the providers file and hot-reloads the catalog
func startCatalogWatcher(filePath string, providerService *services.ProviderService) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		watcher.Close()
		return
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	// Debounce to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(debounceDuration, func() {
					log.Printf("🔄 Detected changes in %s, reloading provider catalog...", filePath)

					catalog, err := config.LoadCatalog(filePath)
					if err != nil {
						log.Printf("❌ Failed to reload provider catalog: %v", err)
						return
					}

					providerService.ReloadCatalog(catalog)
					log.Printf("✅ Provider catalog reloaded (%d providers)", len(catalog.Providers))
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
