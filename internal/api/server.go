package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/lox/planti/internal/auth"
	"github.com/lox/planti/internal/health"
	"github.com/lox/planti/internal/imagegen"
	"github.com/lox/planti/internal/store"
)

const cardCacheTTL = 10 * time.Minute

// NextRunner reports when the scheduled health job fires next.
type NextRunner interface {
	NextRun() time.Time
}

type Server struct {
	store         *store.Store
	health        *health.Service
	auth          *auth.Service
	cards         *imagegen.CardCache
	validate      *validator.Validate
	scheduler     NextRunner
	port          string
	secureCookies bool
	origins       []string
}

func NewServer(st *store.Store, healthSvc *health.Service, authSvc *auth.Service, port string) *Server {
	return &Server{
		store:    st,
		health:   healthSvc,
		auth:     authSvc,
		cards:    imagegen.NewCardCache(cardCacheTTL),
		validate: newValidator(),
		port:     port,
	}
}

// SetScheduler exposes the next scheduled run on the status endpoint.
func (s *Server) SetScheduler(n NextRunner) {
	s.scheduler = n
}

// SetSecureCookies marks session cookies Secure, for HTTPS deployments.
func (s *Server) SetSecureCookies(secure bool) {
	s.secureCookies = secure
}

// SetAllowedOrigins enables credentialed CORS for the given frontend origins.
func (s *Server) SetAllowedOrigins(origins ...string) {
	s.origins = origins
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/auth/magic-link", s.handleMagicLink)
	mux.HandleFunc("POST /api/auth/verify", s.handleVerify)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.Handle("GET /api/plants", s.requireUser(s.handleListPlants))
	mux.Handle("POST /api/plants", s.requireUser(s.handleCreatePlant))
	mux.Handle("GET /api/plants/{id}", s.requireUser(s.handleGetPlant))
	mux.Handle("PUT /api/plants/{id}", s.requireUser(s.handleUpdatePlant))
	mux.Handle("DELETE /api/plants/{id}", s.requireUser(s.handleDeletePlant))
	mux.Handle("GET /api/plants/{id}/health", s.requireUser(s.handlePlantHealth))
	mux.Handle("POST /api/plants/{id}/records", s.requireUser(s.handleCreateRecord))
	mux.Handle("GET /api/plants/{id}/history", s.requireUser(s.handlePlantHistory))
	mux.Handle("GET /api/plants/{id}/card.png", s.requireUser(s.handlePlantCard))

	if len(s.origins) == 0 {
		return mux
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(mux)
}

func (s *Server) requireUser(h http.HandlerFunc) http.Handler {
	return s.auth.RequireUser(h)
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
