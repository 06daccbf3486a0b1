package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/ukiyolabs/ukiyo-serve/auth"
	"github.com/ukiyolabs/ukiyo-serve/config"
	"github.com/ukiyolabs/ukiyo-serve/database"
	handler "github.com/ukiyolabs/ukiyo-serve/handlers"
	"github.com/ukiyolabs/ukiyo-serve/logging"
	"github.com/ukiyolabs/ukiyo-serve/models"
	"github.com/ukiyolabs/ukiyo-serve/router"
	"github.com/ukiyolabs/ukiyo-serve/storage"
)

func main() {
	log := logging.New("api")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = database.GetDB()
	defer func() {
		if err := database.CloseDB(); err != nil {
			log.Error().Err(err).Msg("closing database connection")
		}
	}()

	err := database.MigrateModels(
		&models.User{},
		&models.Transformation{},
		&models.GalleryItem{},
		&models.ModelConfig{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	if err := database.SeedModelConfigs(); err != nil {
		log.Fatal().Err(err).Msg("model catalog seeding failed")
	}

	store, err := storage.NewFromEnv(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("storage setup failed")
	}

	redisOpt, err := redis.ParseURL(config.ConfigOr("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()

	asynqOpt := asynq.RedisClientOpt{Addr: redisOpt.Addr, Password: redisOpt.Password, DB: redisOpt.DB}
	queueClient := asynq.NewClient(asynqOpt)
	defer queueClient.Close()
	inspector := asynq.NewInspector(asynqOpt)
	defer inspector.Close()

	auth.SetupAuthService()
	handler.Setup(store, queueClient, inspector, redisClient, log)

	maxBody := config.ConfigInt("MAX_CONTENT_LENGTH", 16*1024*1024)
	app := fiber.New(fiber.Config{
		AppName:   "ukiyo-serve",
		BodyLimit: maxBody,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: config.ConfigOr("CORS_ORIGINS", "*"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        config.ConfigInt("RATE_LIMIT_PER_MINUTE", 60),
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Per-user when authenticated, per-client otherwise.
			if authHeader := c.Get("Authorization"); authHeader != "" {
				return authHeader
			}
			return c.IP()
		},
	}))

	var localRoot string
	if local, ok := store.(*storage.LocalStorage); ok {
		localRoot = local.Root()
	}
	router.SetupRoutes(app, localRoot)

	addr := ":" + config.ConfigOr("PORT", "3000")
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := app.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
