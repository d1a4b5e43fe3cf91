package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"community-issue-feed/pkg/config"
	"community-issue-feed/pkg/database"
	"community-issue-feed/pkg/events"
	"community-issue-feed/pkg/logging"
	"community-issue-feed/pkg/middleware"
	"community-issue-feed/pkg/queue"
	"community-issue-feed/pkg/storage"
	"community-issue-feed/pkg/urgency"
)

func main() {
	config.LoadDotEnv()
	logging.Setup("post-service")
	middleware.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	classifyTimeout, err := config.Duration("CLASSIFY_TIMEOUT", 8*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	fetchLimit, err := config.Int("FEED_FETCH_LIMIT", 50)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	useSSL, err := config.Bool("MINIO_USE_SSL", false)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	apiKey, err := config.Required("OPENAI_API_KEY")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	mongoURI := database.MongoURI(
		config.String("MONGO_USER", "admin"),
		config.String("MONGO_PASSWORD", "password"),
		config.String("MONGO_HOST", "localhost"),
		config.String("MONGO_PORT", "27017"),
	)
	db, err := database.ConnectMongo(ctx, mongoURI, config.String("MONGO_DB", "community_feed"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer db.Client().Disconnect(context.Background())

	store := newMongoStore(db)
	if err := store.ensureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("continuing without indexes")
	}

	amqpURI := queue.URL(
		config.String("RABBITMQ_USER", "guest"),
		config.String("RABBITMQ_PASS", "guest"),
		config.String("RABBITMQ_HOST", "localhost"),
		config.String("RABBITMQ_PORT", "5672"),
	)
	conn, ch, err := queue.ConnectRabbitMQ(amqpURI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer conn.Close()
	defer ch.Close()

	pub, err := queue.NewPublisher(ch, events.Exchange)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to declare exchange")
	}

	images, err := storage.NewImageStore(ctx, storage.ImageStoreConfig{
		Endpoint:       config.String("MINIO_ENDPOINT", "localhost:9000"),
		PublicEndpoint: config.String("MINIO_PUBLIC_ENDPOINT", ""),
		AccessKey:      config.String("MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey:      config.String("MINIO_SECRET_KEY", "minioadmin"),
		Bucket:         config.String("MINIO_BUCKET", "post-images"),
		UseSSL:         useSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise image storage")
	}

	classifier := urgency.Instrumented(
		urgency.NewOpenAIClassifier(
			apiKey,
			config.String("OPENAI_BASE_URL", ""),
			config.String("OPENAI_MODEL", ""),
			classifyTimeout,
		),
		urgency.NewMetrics(prometheus.DefaultRegisterer),
	)

	srv := &server{
		posts:           store,
		events:          pub,
		images:          images,
		classifier:      classifier,
		classifyTimeout: classifyTimeout,
		fetchLimit:      fetchLimit,
		now:             time.Now,
	}

	httpServer := &http.Server{
		Addr:              ":" + config.String("PORT", "8082"),
		Handler:           srv.routes(config.JWTSecret()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("post service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
