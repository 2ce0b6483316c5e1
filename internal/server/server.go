package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/internal/db"
	"github.com/storefront/apiserver/internal/handlers"
	"github.com/storefront/apiserver/internal/mq"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/internal/storage"
	"github.com/storefront/apiserver/internal/store"
)

const apiPrefix = "/api/v1"

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	mq         *mq.MQ
	logger     *slog.Logger
}

// Dependencies are the external collaborators the router is built from.
// Storage and MQ are optional.
type Dependencies struct {
	DB      *sql.DB
	Storage *storage.Storage
	MQ      *mq.MQ
	Logger  *slog.Logger
}

// New connects to the database and the optional storage and MQ backends,
// and constructs a Server with the full API mounted.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	objectStorage, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	broker, err := mq.Connect(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init mq: %w", err)
	}

	router, err := NewRouter(cfg, Dependencies{
		DB:      dbConn,
		Storage: objectStorage,
		MQ:      broker,
		Logger:  logger,
	})
	if err != nil {
		_ = dbConn.Close()
		if broker != nil {
			_ = broker.Close()
		}
		return nil, err
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		mq:         broker,
		logger:     logger,
	}, nil
}

// NewRouter wires repositories, services and handlers into a chi router.
func NewRouter(cfg config.Config, deps Dependencies) (*chi.Mux, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokenManager, err := services.NewTokenManager(cfg.Auth)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(deps.DB)
	tokenRepo := store.NewRefreshTokenRepository(deps.DB)
	productRepo := store.NewProductRepository(deps.DB)
	cartRepo := store.NewCartRepository(deps.DB)
	orderRepo := store.NewOrderRepository(deps.DB)

	paging := services.Paging{
		DefaultLimit: cfg.Catalog.DefaultPageSize,
		MaxLimit:     cfg.Catalog.MaxPageSize,
	}

	// Typed nils must not reach the service interfaces.
	var images services.ImageStore
	if deps.Storage != nil {
		images = deps.Storage
	}
	var events services.EventPublisher
	if deps.MQ != nil {
		events = deps.MQ
	}

	authService := services.NewAuthService(userRepo, tokenRepo, tokenManager, logger)
	userService := services.NewUserService(userRepo, tokenRepo, logger)
	catalogService := services.NewCatalogService(productRepo, images, paging, logger)
	cartService := services.NewCartService(cartRepo, productRepo, logger)
	orderService := services.NewOrderService(orderRepo, events, cfg.MQ.OrderEventsChannel, paging, logger)

	mw := handlers.NewAuthMiddleware(authService, logger)
	imagesEnabled := images != nil

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		echoRequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)

	router.Get("/health", handlers.Healthz)
	router.Get("/ready", handlers.Readyz(deps.DB))
	router.Route(apiPrefix, func(r chi.Router) {
		r.Get("/health", handlers.Healthz)
		r.Get("/ready", handlers.Readyz(deps.DB))
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authService, mw, logger)
		})
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, userService, mw, logger)
		})
		r.Route("/products", func(r chi.Router) {
			handlers.ProductRouter(r, catalogService, mw, imagesEnabled, logger)
		})
		r.Route("/seller", func(r chi.Router) {
			handlers.SellerRouter(r, catalogService, mw, imagesEnabled, logger)
		})
		r.Route("/cart", func(r chi.Router) {
			handlers.CartRouter(r, cartService, mw, logger)
		})
		r.Route("/orders", func(r chi.Router) {
			handlers.OrderRouter(r, orderService, mw, logger)
		})
		r.Route("/admin", func(r chi.Router) {
			handlers.AdminRouter(r, orderService, mw, logger)
		})
	})

	return router, nil
}

func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the broker and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.mq != nil {
		_ = s.mq.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
