package main

import (
	"cmp"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"community-issue-feed/pkg/geo"
	"community-issue-feed/pkg/middleware"
	"community-issue-feed/pkg/ranking"
	"community-issue-feed/pkg/response"
	"community-issue-feed/services/auth-service/models"
	"community-issue-feed/services/auth-service/utils"
)

// volunteerRadiusKm bounds the nearby volunteers list.
const volunteerRadiusKm = 5.0

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// isValidPassword checks password length and returns the reason when it fails.
func isValidPassword(password string) (bool, string) {
	if len(password) < 8 {
		return false, "Password must be at least 8 characters"
	}
	// bcrypt ignores anything past 72 bytes.
	if len(password) > 72 {
		return false, "Password too long"
	}
	return true, ""
}

type server struct {
	users  userStore
	secret []byte
	now    func() time.Time
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.TraceMiddleware, middleware.MetricsMiddleware, middleware.LoggerMiddleware)

	authed := middleware.Auth(s.secret)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", middleware.GetMetricsHandler()).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/register", s.register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.login).Methods(http.MethodPost)
	r.Handle("/api/auth/me", authed(http.HandlerFunc(s.me))).Methods(http.MethodGet)
	r.Handle("/api/auth/me/role", authed(http.HandlerFunc(s.setRole))).Methods(http.MethodPut)
	r.Handle("/api/auth/me/location", authed(http.HandlerFunc(s.setLocation))).Methods(http.MethodPut)
	r.Handle("/api/auth/volunteers/nearby", authed(middleware.RequireVolunteer(http.HandlerFunc(s.nearbyVolunteers)))).Methods(http.MethodGet)

	return r
}

// session is returned by every endpoint that issues a token.
type session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
	Role  string       `json:"role"`
}

func (s *server) issue(w http.ResponseWriter, r *http.Request, status int, message string, user *models.User) {
	token, err := utils.GenerateJWT(user, s.secret, s.now())
	if err != nil {
		middleware.Logger(r).Error().Err(err).Str("user_id", user.ID).Msg("failed to sign token")
		response.Error(w, http.StatusInternalServerError, "Failed to generate token", "")
		return
	}
	response.Success(w, status, message, session{Token: token, User: user, Role: user.Role()})
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r)

	var input struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Name        string `json:"name"`
		AvatarURL   string `json:"avatarUrl"`
		IsVolunteer bool   `json:"isVolunteer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Name = strings.TrimSpace(input.Name)

	if input.Email == "" || input.Password == "" || input.Name == "" {
		response.Error(w, http.StatusBadRequest, "Email, Password, and Name are required", "")
		return
	}
	if !isValidEmail(input.Email) {
		response.Error(w, http.StatusBadRequest, "Invalid email format", "")
		return
	}
	if valid, msg := isValidPassword(input.Password); !valid {
		response.Error(w, http.StatusBadRequest, msg, "")
		return
	}
	if utf8.RuneCountInString(input.Name) < 2 {
		response.Error(w, http.StatusBadRequest, "Name must be at least 2 characters", "")
		return
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		logger.Error().Err(err).Msg("failed to hash password")
		response.Error(w, http.StatusInternalServerError, "Failed to process registration", "")
		return
	}

	user := &models.User{
		Email:       input.Email,
		Password:    hashed,
		Name:        input.Name,
		AvatarURL:   input.AvatarURL,
		IsVolunteer: input.IsVolunteer,
	}
	err = s.users.Create(r.Context(), user)
	switch {
	case errors.Is(err, errEmailTaken):
		logger.Warn().Msg("registration attempt with existing email")
		response.Error(w, http.StatusConflict, "Email already registered", "")
		return
	case err != nil:
		logger.Error().Err(err).Msg("failed to save user")
		response.Error(w, http.StatusInternalServerError, "Failed to save user", "")
		return
	}

	logger.Info().Str("user_id", user.ID).Str("role", user.Role()).Msg("user registered")
	s.issue(w, r, http.StatusCreated, "User registered successfully", user)
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r)

	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if input.Email == "" || input.Password == "" {
		response.Error(w, http.StatusBadRequest, "Email and Password are required", "")
		return
	}

	user, err := s.users.ByEmail(r.Context(), strings.ToLower(strings.TrimSpace(input.Email)))
	switch {
	case errors.Is(err, errUserNotFound):
		logger.Warn().Msg("failed login attempt")
		response.Error(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	case err != nil:
		logger.Error().Err(err).Msg("failed to look up user")
		response.Error(w, http.StatusInternalServerError, "Failed to log in", "")
		return
	}

	if !utils.CheckPasswordHash(input.Password, user.Password) {
		logger.Warn().Str("user_id", user.ID).Msg("invalid password attempt")
		response.Error(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}

	logger.Info().Str("user_id", user.ID).Msg("user logged in")
	s.issue(w, r, http.StatusOK, "Login successful", user)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Failed to retrieve user context", "")
		return
	}

	user, err := s.users.ByID(r.Context(), claims.UserID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}
	response.Success(w, http.StatusOK, "User profile fetched", user)
}

// setRole switches between resident and volunteer and returns a token
// carrying the new role.
func (s *server) setRole(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Failed to retrieve user context", "")
		return
	}

	var input struct {
		IsVolunteer *bool `json:"isVolunteer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.IsVolunteer == nil {
		response.Error(w, http.StatusBadRequest, "isVolunteer is required", "")
		return
	}

	err := s.users.SetVolunteer(r.Context(), claims.UserID, *input.IsVolunteer)
	switch {
	case errors.Is(err, errUserNotFound):
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	case err != nil:
		response.Error(w, http.StatusInternalServerError, "Failed to update role", err.Error())
		return
	}

	user, err := s.users.ByID(r.Context(), claims.UserID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to reload user", err.Error())
		return
	}

	middleware.Logger(r).Info().Str("user_id", user.ID).Str("role", user.Role()).Msg("role updated")
	s.issue(w, r, http.StatusOK, "Role updated", user)
}

func (s *server) setLocation(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Failed to retrieve user context", "")
		return
	}

	var loc geo.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil || !loc.Valid() {
		response.Error(w, http.StatusBadRequest, "A valid latitude and longitude are required", "")
		return
	}

	err := s.users.SetLocation(r.Context(), claims.UserID, loc)
	switch {
	case errors.Is(err, errUserNotFound):
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	case err != nil:
		response.Error(w, http.StatusInternalServerError, "Failed to update location", err.Error())
		return
	}
	response.Success(w, http.StatusOK, "Location updated", loc)
}

type nearbyVolunteer struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	AvatarURL  string  `json:"avatar_url,omitempty"`
	DistanceKm float64 `json:"distanceKm"`
}

// nearbyVolunteers lists other volunteers around the caller, closest first.
// The lat and lng parameters override the caller's saved location.
func (s *server) nearbyVolunteers(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	q := r.URL.Query()
	origin := geo.Parse(q.Get("lat"), q.Get("lng"))
	if origin == nil {
		if me, err := s.users.ByID(r.Context(), claims.UserID); err == nil {
			origin = me.Location()
		}
	}
	if origin == nil {
		response.Error(w, http.StatusBadRequest, "Location required", "Share your location or pass lat and lng")
		return
	}

	users, err := s.users.Volunteers(r.Context())
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to list volunteers", err.Error())
		return
	}

	nearby := []nearbyVolunteer{}
	for _, u := range users {
		if u.ID == claims.UserID {
			continue
		}
		d := geo.Between(origin, u.Location())
		if !ranking.WithinRadius(d, volunteerRadiusKm) {
			continue
		}
		nearby = append(nearby, nearbyVolunteer{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL, DistanceKm: d})
	}
	slices.SortStableFunc(nearby, func(a, b nearbyVolunteer) int {
		return cmp.Compare(a.DistanceKm, b.DistanceKm)
	})

	response.SuccessWithMeta(w, http.StatusOK, "Nearby volunteers", nearby, map[string]float64{"radiusKm": volunteerRadiusKm}, "")
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{
		"status":   "UP",
		"service":  "auth-service",
		"database": "connected",
	}

	if err := s.users.Ping(r.Context()); err != nil {
		health["status"] = "DOWN"
		health["database"] = "disconnected"
		response.JSON(w, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, http.StatusOK, health)
}
