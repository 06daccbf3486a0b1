package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/ukiyolabs/ukiyo-serve/config"
	"github.com/ukiyolabs/ukiyo-serve/database"
	"github.com/ukiyolabs/ukiyo-serve/diffusion"
	"github.com/ukiyolabs/ukiyo-serve/logging"
	"github.com/ukiyolabs/ukiyo-serve/notify"
	"github.com/ukiyolabs/ukiyo-serve/storage"
	"github.com/ukiyolabs/ukiyo-serve/tasks"
)

func main() {
	log := logging.New("worker")

	db := database.GetDB()
	defer func() {
		if err := database.CloseDB(); err != nil {
			log.Error().Err(err).Msg("closing database connection")
		}
	}()

	store, err := storage.NewFromEnv(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("storage setup failed")
	}

	replicateClient, err := diffusion.NewReplicateClient(config.Config("REPLICATE_API_TOKEN"))
	if err != nil {
		log.Fatal().Err(err).Msg("replicate client setup failed")
	}
	cache := diffusion.NewModelCache(replicateClient)
	service := diffusion.NewService(replicateClient, cache, config.ConfigInt("GENERATION_MAX_SIZE", diffusion.DefaultMaxSize))

	redisOpt, err := redis.ParseURL(config.ConfigOr("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()

	notifier := notify.NewRedisNotifier(redisClient)
	processor := tasks.NewProcessor(tasks.NewGormStore(db), store, service, notifier, log)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisOpt.Addr, Password: redisOpt.Password, DB: redisOpt.DB},
		asynq.Config{
			Concurrency: config.ConfigInt("WORKER_CONCURRENCY", 2),
			Queues:      map[string]int{tasks.QueueTransforms: 1},
			Logger:      logging.NewAsynqLogger(log),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeTransformRun, processor.ProcessTask)

	log.Info().Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
