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
	"community-issue-feed/pkg/logging"
	"community-issue-feed/pkg/middleware"
	"community-issue-feed/services/auth-service/models"
)

func main() {
	config.LoadDotEnv()
	logging.Setup("auth-service")
	middleware.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := database.PostgresDSN(
		config.String("POSTGRES_HOST", "localhost"),
		config.String("POSTGRES_USER", "admin"),
		config.String("POSTGRES_PASSWORD", "password"),
		config.String("POSTGRES_DB", "auth_db"),
		config.String("POSTGRES_PORT", "5434"),
		config.String("POSTGRES_SSLMODE", "disable"),
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	log.Info().Msg("running auto migration")
	if err := db.AutoMigrate(&models.User{}); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	store := &gormStore{db: db}
	registerUserGauges(store)

	srv := &server{
		users:  store,
		secret: config.JWTSecret(),
		now:    time.Now,
	}

	httpServer := &http.Server{
		Addr:              ":" + config.String("PORT", "8081"),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("auth service listening")
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

// registerUserGauges exposes user counts, read from the database at scrape
// time.
func registerUserGauges(store userStore) {
	count := func(volunteersOnly bool) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := store.Count(ctx, volunteersOnly)
			if err != nil {
				log.Warn().Err(err).Msg("failed to count users")
				return 0
			}
			return float64(n)
		}
	}

	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "registered_users",
			Help: "Number of registered users",
		}, count(false)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "registered_volunteers",
			Help: "Number of users who signed up as volunteers",
		}, count(true)),
	)
}
