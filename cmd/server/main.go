package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/config"
	"github.com/yukihoshiii/zfh-project/internal/database"
	"github.com/yukihoshiii/zfh-project/internal/discord"
	"github.com/yukihoshiii/zfh-project/internal/handler"
	"github.com/yukihoshiii/zfh-project/internal/middleware"
	"github.com/yukihoshiii/zfh-project/internal/repository"
	"github.com/yukihoshiii/zfh-project/internal/service"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshot storage
	snapshots, err := openSnapshots(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open snapshot storage: %v", err)
	}
	store := service.NewStore(snapshots)
	if err := store.Open(ctx, cfg.DefaultChannels); err != nil {
		log.Fatalf("Failed to load chat state: %v", err)
	}
	if cfg.TrustClientTimestamps {
		store.SetDeleteTolerance(service.DeleteTolerance)
	}
	go store.Run(ctx, cfg.FlushInterval)

	// Attachments
	blobs, closeBlobs, err := openBlobs(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open attachment storage: %v", err)
	}

	// Services
	channels := service.NewChannelRegistry(store)
	authSvc := service.NewAuthService(store, cfg.JWTSecret, cfg.SessionTTL, cfg.AdminUsers)
	wsHub := service.NewWSHub(channels)
	router := service.NewRouter(wsHub, channels, store, authSvc, blobs, service.RouterConfig{
		HistoryLimit:          cfg.HistoryLimit,
		TrustClientTimestamps: cfg.TrustClientTimestamps,
		MaxFileSize:           service.MaxFileSize,
	})
	reconciler := service.NewReconciler(store, channels)

	relay, err := discord.NewRelay(cfg.DiscordWebhookID, cfg.DiscordWebhookToken)
	if err != nil {
		log.Printf("Discord relay disabled: %v", err)
	}
	if relay != nil {
		router.SetNotifier(relay)
		go relay.Run(ctx)
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    service.MaxFileSize*4/3 + 64*1024, // base64 attachment + envelope
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health
	healthH := handler.NewHealthHandler(store)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)

	// API v1
	v1 := app.Group("/api/v1")
	limiterStorage := middleware.LimiterStorage(cfg.RedisURL)

	// Auth (public)
	authH := handler.NewAuthHandler(authSvc, channels)
	auth := v1.Group("/auth")
	auth.Post("/register", middleware.RateLimit(5, time.Minute, limiterStorage), authH.Register)
	auth.Post("/login", middleware.RateLimit(10, time.Minute, limiterStorage), authH.Login)
	auth.Post("/logout", authH.Logout)
	auth.Get("/session", authH.Session)

	// Admin: registered BEFORE protected group
	admin := v1.Group("/admin", middleware.AdminKey(cfg.AdminKey))
	adminH := handler.NewAdminHandler(store, wsHub, router, authSvc)
	admin.Get("/stats", adminH.Stats)
	admin.Post("/announce", adminH.Announce)

	// Attachment ids are random UUIDs; downloads work from plain <a>/<img> tags.
	chatH := handler.NewChatHandler(router, channels, store, reconciler)
	v1.Get("/files/:fileId", chatH.DownloadFile)

	// Session-protected routes (catch-all, must be LAST)
	protected := v1.Group("", middleware.Auth(authSvc))
	protected.Get("/channels", chatH.ListChannels)
	protected.Post("/channels", chatH.CreateChannel)
	protected.Post("/private-chat", chatH.OpenPrivateChat)
	protected.Get("/channels/:channel/messages", chatH.ListMessages)
	protected.Post("/channels/:channel/messages", chatH.PostMessage)
	protected.Get("/channels/:channel/messages/last5", chatH.LastMessages)
	protected.Delete("/channels/:channel/messages/:id", chatH.DeleteMessage)
	protected.Post("/channels/:channel/files", middleware.RateLimit(30, time.Minute, limiterStorage), chatH.PostFile)
	protected.Post("/channels/:channel/reconcile", chatH.Reconcile)

	// WebSocket
	wsH := handler.NewWSHandler(wsHub, router, service.MaxFileSize)
	app.Get("/ws", wsH.Upgrade)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Printf("Chat server running on :%s (%s, store=%s, blobs=%s)", cfg.Port, cfg.Env, cfg.StoreDriver, cfg.BlobDriver)

	// Graceful shutdown: stop HTTP, drop connections, then flush state.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat": func(ctx context.Context) error {
				log.Println("Shutting down...")
				_ = app.ShutdownWithContext(ctx)
				wsHub.Shutdown()
				cancel()
				if closeBlobs != nil {
					closeBlobs()
				}
				return store.Close(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server stopped (exit code %d)", exitCode)
	os.Exit(exitCode)
}

func openSnapshots(ctx context.Context, cfg *config.Config) (repository.SnapshotRepository, error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := database.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Println("Migrations applied successfully")
		return repository.NewChatRepository(db), nil
	case "memory":
		log.Println("Using in-memory snapshots, state is lost on exit")
		return repository.NewMemorySnapshotRepository(nil), nil
	default:
		return repository.NewFileSnapshotRepository(cfg.DataDir)
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (repository.BlobRepository, func(), error) {
	if cfg.BlobDriver == "nats" {
		blobs, err := repository.NewNATSBlobRepository(ctx, cfg.NATSURL, cfg.NATSBucket)
		if err != nil {
			return nil, nil, err
		}
		return blobs, blobs.Close, nil
	}
	blobs, err := repository.NewDiskBlobRepository(cfg.UploadDir)
	if err != nil {
		return nil, nil, err
	}
	return blobs, nil, nil
}
