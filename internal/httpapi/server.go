// Package httpapi is the HTTP boundary of the service. It maps the REST
// surface onto the lifecycle coordinator, ingestion pipeline and store, and
// owns authentication middleware and graceful shutdown.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/config"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/dispatch"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/httpapi/handlers"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/ingest"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/lifecycle"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/workload"
)

// Deps are the wired components the server exposes.
type Deps struct {
	Store       store.Store
	Coordinator *lifecycle.Coordinator
	Ledger      *workload.Ledger
	Pipeline    *ingest.Pipeline
	Pool        *dispatch.Pool
	Issuer      *auth.Issuer
	OIDC        *auth.OIDCVerifier
	STT         ingest.STTProvider
}

// Server is the HTTP API server.
type Server struct {
	deps   Deps
	cfg    *config.Config
	logger zerolog.Logger
	mux    *http.ServeMux
	api    huma.API
}

// NewServer creates the server and registers all routes.
func NewServer(deps Deps, cfg *config.Config, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()

	apiConfig := huma.DefaultConfig("Aegis Hub API", "1.0.0")
	apiConfig.Info.Description = "Emergency-response coordination service"

	api := humago.New(mux, apiConfig)

	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "httpapi").Logger(),
		mux:    mux,
		api:    api,
	}
	s.registerRoutes()
	return s
}

// isPublicPath reports whether path skips the auth middleware.
func isPublicPath(path string) bool {
	return path == "/auth/login" || path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// authMiddleware verifies the bearer token and injects the principal.
// Locally issued tokens are checked first; admin-console SSO tokens are
// accepted when OIDC is configured.
func (s *Server) authMiddleware(ctx huma.Context, next func(huma.Context)) {
	if isPublicPath(ctx.URL().Path) {
		next(ctx)
		return
	}

	header := ctx.Header("Authorization")
	if header == "" {
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Missing Authorization header")
		return
	}
	token, err := auth.ExtractBearer(header)
	if err != nil {
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid Authorization header format")
		return
	}

	p, err := s.verifyToken(ctx.Context(), token)
	if err != nil {
		s.logger.Warn().Str("token_prefix", token[:min(8, len(token))]).Msg("invalid token")
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid token")
		return
	}

	next(huma.WithValue(ctx, auth.ContextKey, p))
}

func (s *Server) verifyToken(ctx context.Context, token string) (auth.Principal, error) {
	p, err := s.deps.Issuer.Verify(token)
	if err == nil {
		return p, nil
	}
	if s.deps.OIDC != nil {
		return s.deps.OIDC.Verify(ctx, token)
	}
	return auth.Principal{}, err
}

// LoginInput is the credential exchange request.
type LoginInput struct {
	Body struct {
		Username string `json:"username" minLength:"1"`
		Role     string `json:"role" enum:"admin,responder,webhook,citizen"`
		Password string `json:"password" minLength:"1"`
	}
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Role      string    `json:"role"`
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.api.UseMiddleware(s.authMiddleware)

	huma.Register(s.api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Issue bearer token",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, input *LoginInput) (*handlers.Response[LoginResponse], error) {
		token, expiresAt, err := s.deps.Issuer.Login(input.Body.Username, input.Body.Role, input.Body.Password)
		if err != nil {
			return nil, huma.Error403Forbidden("invalid credentials")
		}
		return &handlers.Response[LoginResponse]{Body: LoginResponse{
			Token:     token,
			ExpiresAt: expiresAt,
			Role:      input.Body.Role,
		}}, nil
	})

	incidentHandler := handlers.NewIncidentHandler(s.deps.Coordinator, s.deps.Store, s.logger)
	emergencyHandler := handlers.NewEmergencyHandler(s.deps.Coordinator, s.deps.Store, s.logger)
	fleetHandler := handlers.NewFleetHandler(s.deps.Store, s.logger)
	mobileHandler := handlers.NewMobileHandler(s.deps.Pipeline, s.deps.Pool, s.deps.Store, s.deps.STT, s.logger)

	incidentHandler.RegisterRoutes(s.api)
	emergencyHandler.RegisterRoutes(s.api)
	fleetHandler.RegisterRoutes(s.api)
	mobileHandler.RegisterRoutes(s.api)

	s.registerAdminUtilityRoutes()

	// Multipart intake goes through the raw mux, like any part-streaming
	// endpoint.
	s.mux.HandleFunc("/mobile/tickets", mobileHandler.ServeTickets(s.requestPrincipal))

	// Health endpoint
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Ready endpoint
	s.mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.mux.Handle("/metrics", promhttp.Handler())
}

// requestPrincipal authenticates a raw (non-huma) request.
func (s *Server) requestPrincipal(r *http.Request) (auth.Principal, error) {
	token, err := auth.ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		return auth.Principal{}, err
	}
	return s.verifyToken(r.Context(), token)
}

// ReconcileResponse reports the on-demand reconciliation result.
type ReconcileResponse struct {
	Discrepancies []store.Discrepancy `json:"discrepancies"`
	Count         int                 `json:"count"`
}

// registerAdminUtilityRoutes registers admin utility endpoints
func (s *Server) registerAdminUtilityRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "admin-reconcile",
		Method:      http.MethodPost,
		Path:        "/admin/reconcile",
		Summary:     "Recompute workload counters now",
		Tags:        []string{"admin"},
	}, func(ctx context.Context, _ *struct{}) (*handlers.Response[ReconcileResponse], error) {
		p, err := handlers.Principal(ctx)
		if err != nil {
			return nil, err
		}
		if p.Role != auth.RoleAdmin {
			return nil, huma.Error403Forbidden("reconciliation requires admin")
		}
		discrepancies, err := s.deps.Ledger.Reconcile(ctx)
		if err != nil {
			return nil, handlers.MapError(err)
		}
		return &handlers.Response[ReconcileResponse]{Body: ReconcileResponse{
			Discrepancies: discrepancies,
			Count:         len(discrepancies),
		}}, nil
	})
}

// Handler returns the full HTTP handler with CORS applied, for tests.
func (s *Server) Handler() http.Handler {
	allowedOrigins := []string{}
	if origins := s.cfg.CORSOrigins; origins != "" {
		allowedOrigins = strings.Split(origins, ",")
	} else if origins := os.Getenv("AEGISHUB_CORS_ORIGINS"); origins != "" {
		allowedOrigins = strings.Split(origins, ",")
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "Idempotency-Key"},
		AllowCredentials: true,
	})
	return c.Handler(s.mux)
}

// API exposes the huma API for tests.
func (s *Server) API() huma.API { return s.api }

// Request handling limits. requestTimeout bounds a single exchange, which
// must cover the slowest dependency chain (triage 5s + dispatch 15s) with
// room to spare; drainTimeout is how long in-flight transactions get to
// finish after SIGTERM before the process gives up on them.
const (
	requestTimeout = 45 * time.Second
	drainTimeout   = 15 * time.Second
)

// Start serves on addr until ctx is cancelled, then drains in-flight
// requests for up to drainTimeout.
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: requestTimeout / 4,
		ReadTimeout:       requestTimeout,
		WriteTimeout:      requestTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("API listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Dur("drain", drainTimeout).Msg("API draining in-flight requests")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		s.logger.Warn().Err(err).Msg("drain incomplete, closing remaining connections")
		return httpServer.Close()
	}
	return nil
}
