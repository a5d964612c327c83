package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/usermgmt/apiserver/config"
	"github.com/usermgmt/apiserver/internal/db"
	"github.com/usermgmt/apiserver/internal/events"
	"github.com/usermgmt/apiserver/internal/handlers"
	"github.com/usermgmt/apiserver/internal/logging"
	"github.com/usermgmt/apiserver/internal/metrics"
	"github.com/usermgmt/apiserver/internal/mq"
	"github.com/usermgmt/apiserver/internal/security"
	"github.com/usermgmt/apiserver/internal/services"
	"github.com/usermgmt/apiserver/internal/store"
	"github.com/usermgmt/apiserver/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const requestTimeout = 60 * time.Second

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Users     services.UserRepository
	Hasher    services.PasswordHasher
	Tokens    *security.TokenService
	Publisher events.Publisher
	Options   handlers.Options
	Logger    *slog.Logger
}

// NewHandler composes the router with middleware and all routes.
func NewHandler(deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authService := services.NewAuthService(deps.Users, deps.Hasher, deps.Tokens, deps.Publisher)
	accountService := services.NewAccountService(deps.Users, deps.Hasher, deps.Publisher)
	requireAuth := handlers.RequireAuth(deps.Tokens, deps.Options.CookieName)

	router := chi.NewRouter()
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(logger),
		middleware.Recoverer,
		metrics.Middleware,
		middleware.Timeout(requestTimeout),
	)

	router.Get("/", handlers.Root)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, requireAuth, deps.Options)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, accountService, requireAuth, deps.Options)
	})

	return router
}

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sqlx.DB
	queue      *mq.MQ
	tracing    tracing.ShutdownFunc
	logger     *slog.Logger
}

// New constructs a Server from configuration, opening the store, message
// queue and tracer provider it needs.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger}

	users, err := s.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher := events.Publisher(events.Discard{})
	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	if queue != nil {
		s.queue = queue
		publisher = events.NewMQPublisher(queue, cfg.MQ.Channel)
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Endpoint, cfg.ServiceName)
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.tracing = shutdownTracing

	s.router = NewHandler(Deps{
		Users:     users,
		Hasher:    security.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:    security.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Publisher: publisher,
		Options: handlers.Options{
			CookieName:   cfg.Auth.CookieName,
			CookieSecure: cfg.SecureCookies(),
			TokenTTL:     cfg.Auth.TokenTTL,
			Debug:        cfg.IsDevelopment(),
		},
		Logger: logger,
	})

	var handler http.Handler = s.router
	if cfg.Tracing.Endpoint != "" {
		handler = otelhttp.NewHandler(handler, cfg.ServiceName)
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) openStore(ctx context.Context, cfg config.Config) (services.UserRepository, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		s.logger.Warn("using in-memory user store; data is lost on restart")
		return store.NewMemoryUserRepository(), nil
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(cfg.Database, db.Up); err != nil {
			return nil, err
		}
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s.db = dbConn
	return store.NewUserRepository(dbConn), nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the root handler, including tracing instrumentation.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server. It returns nil once Shutdown has been called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx is done, then releases the
// store, message queue and tracer provider.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.tracing != nil {
		if tErr := s.tracing(ctx); tErr != nil {
			s.logger.Warn("tracer shutdown failed", "error", tErr)
		}
	}
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Warn("message queue close failed", "error", err)
		}
		s.queue = nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}
