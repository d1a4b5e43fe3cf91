package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"community-issue-feed/pkg/geo"
	"community-issue-feed/pkg/middleware"
	"community-issue-feed/pkg/response"
)

var (
	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_connected_clients",
		Help: "Open notification streams",
	})
	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications written to client queues",
		},
		[]string{"type"},
	)
	notificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Notifications dropped because a client queue was full",
	})
)

const keepAliveInterval = 25 * time.Second

type server struct {
	hub    *Hub
	secret []byte
}

func (s *server) routes() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/health", s.health)
	apiMux.Handle("/metrics", middleware.GetMetricsHandler())

	apiHandler := middleware.TraceMiddleware(
		middleware.MetricsMiddleware(
			middleware.LoggerMiddleware(apiMux),
		),
	)

	// Streams skip the metrics and access log middleware, which would only
	// report when the connection closes.
	rootMux := http.NewServeMux()
	rootMux.Handle("/subscribe", middleware.TraceMiddleware(http.HandlerFunc(s.subscribe)))
	rootMux.Handle("/", apiHandler)
	return rootMux
}

// subscribe opens an SSE stream. The token may come from the Authorization
// header or the token query parameter; lat and lng, when usable, enable
// alerts about urgent posts nearby.
func (s *server) subscribe(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r)

	tokenString := middleware.BearerToken(r)
	if tokenString == "" {
		response.Error(w, http.StatusUnauthorized, "Missing token", "")
		return
	}
	claims, err := middleware.ParseToken(tokenString, s.secret)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid token attempt")
		response.Error(w, http.StatusUnauthorized, "Invalid or expired token", "")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Streaming unsupported", "")
		return
	}

	q := r.URL.Query()
	client := &Client{
		UserID:   claims.UserID,
		Location: geo.Parse(q.Get("lat"), q.Get("lng")),
		Send:     make(chan Notification, 10),
	}
	if !s.hub.Register(r.Context(), client) {
		return
	}
	defer s.hub.Unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	hello := Notification{
		Type:      TypeConnected,
		Message:   "Connection established",
		CreatedAt: time.Now().UTC(),
	}
	if err := writeEvent(w, hello); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-client.Send:
			if !ok {
				return
			}
			if err := writeEvent(w, n); err != nil {
				logger.Debug().Err(err).Msg("stream closed")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":            "UP",
		"service":           "notification-service",
		"connected_clients": s.hub.Count(),
	})
}
