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
	"community-issue-feed/pkg/events"
	"community-issue-feed/pkg/logging"
	"community-issue-feed/pkg/middleware"
	"community-issue-feed/pkg/queue"
	"community-issue-feed/pkg/ranking"
)

const queueName = "notifications.posts"

func main() {
	config.LoadDotEnv()
	logging.Setup("notification-service")
	middleware.RegisterMetrics()
	prometheus.MustRegister(connectedClients, notificationsSent, notificationsDropped)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	radiusKm, err := config.Float("ALERT_RADIUS_KM", ranking.RadiusKm)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
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

	msgs, err := queue.Subscribe(ch, events.Exchange, queueName,
		events.PostCreated, events.PostUpdated, events.PostResolved)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe")
	}

	hub := NewHub(radiusKm)
	go hub.Run(ctx)
	go queue.Handle(ctx, msgs, hub.Publish)

	srv := &server{hub: hub, secret: config.JWTSecret()}
	httpServer := &http.Server{
		Addr:              ":" + config.String("NOTIFICATION_PORT", "8084"),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Float64("alert_radius_km", radiusKm).Msg("notification service listening")
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
