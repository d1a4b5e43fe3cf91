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
)

const queueName = "dispatcher.post_created"

var dispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatched_posts_total",
		Help: "New posts routed to responder desks",
	},
	[]string{"desk", "priority"},
)

// dispatch routes a created post and records the assignment.
func dispatch(_ context.Context, ev events.PostEvent) error {
	if ev.PostID == "" {
		return errors.New("event has no post id")
	}

	a := route(ev)
	dispatchedTotal.WithLabelValues(a.Desk, a.Priority()).Inc()

	entry := log.Info()
	if a.Escalated {
		entry = log.Warn()
	}
	entry.
		Str("post_id", ev.PostID).
		Str("title", ev.Title).
		Str("category", ev.Category.String()).
		Str("urgency", ev.Urgency.String()).
		Str("desk", a.Desk).
		Bool("escalated", a.Escalated).
		Bool("triage", a.Triage).
		Msg("post routed")
	return nil
}

func main() {
	config.LoadDotEnv()
	logging.Setup("dispatcher-service")
	middleware.RegisterMetrics()
	prometheus.MustRegister(dispatchedTotal)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	msgs, err := queue.Subscribe(ch, events.Exchange, queueName, events.PostCreated)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", middleware.GetMetricsHandler())
	httpServer := &http.Server{
		Addr:              ":" + config.String("PORT", "8083"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	log.Info().Str("queue", queueName).Msg("waiting for new posts")
	queue.Handle(ctx, msgs, dispatch)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("dispatcher stopped")
}
