// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/catalog"
	"github.com/carbon-marketplace/internal/circuitbreaker"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/service"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

// Service interfaces for dependency injection and testing

// SessionProvider resolves and manages sessions
type SessionProvider interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) *models.User
}

// KYCServiceInterface defines the KYC operations
type KYCServiceInterface interface {
	Status(ctx context.Context, user *models.User) types.KYCStatus
	GetSubmission(ctx context.Context, user *models.User) (*models.KYCSubmission, error)
	UploadDocument(ctx context.Context, user *models.User, filename string, r io.Reader) (*storage.StoredObject, error)
	Submit(ctx context.Context, user *models.User, form service.KYCForm) (*models.KYCSubmission, error)
}

// PropertyServiceInterface defines the public catalog operations
type PropertyServiceInterface interface {
	Catalog(ctx context.Context, f catalog.Filter) (*service.CatalogResult, error)
	GetProperty(ctx context.Context, id string) (*service.PropertyDetail, error)
	Gate(ctx context.Context, user *models.User) service.InvestGate
}

// OrderServiceInterface defines the invest flow
type OrderServiceInterface interface {
	CreateOrder(ctx context.Context, user *models.User, propertyID string, raw service.RawShares) (*service.Checkout, error)
	VerifyPayment(ctx context.Context, user *models.User, in service.VerifyPaymentInput) error
}

// AdminPropertyServiceInterface defines property management
type AdminPropertyServiceInterface interface {
	List(ctx context.Context, f catalog.AdminFilter) ([]models.Property, error)
	Get(ctx context.Context, id string) (*models.Property, error)
	Create(ctx context.Context, admin *models.User, draft *service.PropertyDraft, image *service.ImageUpload) (*models.Property, error)
	Update(ctx context.Context, admin *models.User, id string, in *models.Property, image *service.ImageUpload) (*models.Property, error)
}

// AdminUserServiceInterface defines user management and the admin check
type AdminUserServiceInterface interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
	List(ctx context.Context, f catalog.UserFilter) ([]models.User, error)
	ToggleKYC(ctx context.Context, admin *models.User, userID string, f catalog.UserFilter) ([]models.User, error)
	Delete(ctx context.Context, admin *models.User, userID string, f catalog.UserFilter) ([]models.User, error)
}

// RetirementServiceInterface defines the offset workflow
type RetirementServiceInterface interface {
	Offsets(ctx context.Context, user *models.User) (*service.OffsetsView, error)
	Retire(ctx context.Context, user *models.User, in service.RetireInput) (*service.RetireResult, error)
	Certificate(ctx context.Context, user *models.User, id string) (*models.Retirement, error)
}

// PortfolioServiceInterface defines the dashboard
type PortfolioServiceInterface interface {
	GetPortfolio(ctx context.Context, user *models.User, f catalog.HoldingFilter) (*service.PortfolioView, error)
}

// Services groups the collaborators of the server
type Services struct {
	Sessions        SessionProvider
	KYC             KYCServiceInterface
	Properties      PropertyServiceInterface
	Orders          OrderServiceInterface
	AdminProperties AdminPropertyServiceInterface
	AdminUsers      AdminUserServiceInterface
	Retirements     RetirementServiceInterface
	Portfolio       PortfolioServiceInterface
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AnonymousRPS    int // Requests per second without a session
	UserRPS         int // Requests per second for signed-in users
	AdminRPS        int // Requests per second for admins
	StorageRoot     string
	MaxUploadSize   int64
	MapsToken       string
	Breakers        map[string]*circuitbreaker.CircuitBreaker
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
	}

	s.setupRouter()

	return s
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.AnonymousRPS, s.config.UserRPS, s.config.AdminRPS)

	// Set up middleware (order matters!)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(MetricsMiddleware)
	s.router.Use(SessionMiddleware(s.services.Sessions))
	s.router.Use(RateLimitMiddleware(rateLimiter)) // Rate limiting needs the resolved session

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if s.config.StorageRoot != "" {
		s.router.PathPrefix("/storage/").Handler(
			http.StripPrefix("/storage/", http.FileServer(noListingFS{http.Dir(s.config.StorageRoot)})),
		).Methods("GET", "HEAD")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(CompressionMiddleware)

	// Session endpoints
	api.HandleFunc("/auth/signup", s.handleSignup).Methods("POST")
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	api.HandleFunc("/session", s.handleSession).Methods("GET")
	api.HandleFunc("/config/maps", s.handleMapsConfig).Methods("GET")

	// Public catalog
	api.HandleFunc("/properties", s.handleListProperties).Methods("GET")
	api.HandleFunc("/properties/{id}", s.handleGetProperty).Methods("GET")
	api.HandleFunc("/properties/{id}/invest", s.handleInvestGate).Methods("GET")

	// Signed-in endpoints
	user := api.NewRoute().Subrouter()
	user.Use(RequireAuth)
	user.HandleFunc("/kyc", s.handleGetKYC).Methods("GET")
	user.HandleFunc("/kyc", s.handleSubmitKYC).Methods("POST")
	user.HandleFunc("/kyc/document", s.handleUploadKYCDocument).Methods("POST")
	user.HandleFunc("/properties/{id}/orders", s.handleCreateOrder).Methods("POST")
	user.HandleFunc("/orders/verify", s.handleVerifyPayment).Methods("POST")
	user.HandleFunc("/portfolio", s.handleGetPortfolio).Methods("GET")
	user.HandleFunc("/offsets", s.handleListOffsets).Methods("GET")
	user.HandleFunc("/offsets", s.handleRetire).Methods("POST")
	user.HandleFunc("/offsets/{id}/certificate", s.handleCertificate).Methods("GET")

	// Admin endpoints
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(RequireAdmin(s.services.AdminUsers))
	admin.HandleFunc("/properties", s.handleAdminListProperties).Methods("GET")
	admin.HandleFunc("/properties", s.handleAdminCreateProperty).Methods("POST")
	admin.HandleFunc("/properties/{id}", s.handleAdminGetProperty).Methods("GET")
	admin.HandleFunc("/properties/{id}", s.handleAdminUpdateProperty).Methods("PUT")
	admin.HandleFunc("/users", s.handleAdminListUsers).Methods("GET")
	admin.HandleFunc("/users/{id}/kyc/toggle", s.handleAdminToggleKYC).Methods("POST")
	admin.HandleFunc("/users/{id}", s.handleAdminDeleteUser).Methods("DELETE")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	breakers := make(map[string]*circuitbreaker.Stats, len(s.config.Breakers))
	status := "healthy"
	for name, cb := range s.config.Breakers {
		stats := cb.GetStats()
		breakers[name] = stats
		if stats.State == circuitbreaker.StateOpen {
			status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"service":  "carbon-marketplace",
		"breakers": breakers,
	})
}

// handleMapsConfig hands the public mapping token to clients
func (s *Server) handleMapsConfig(w http.ResponseWriter, r *http.Request) {
	if s.config.MapsToken == "" {
		respondError(w, http.StatusServiceUnavailable, types.CodeServiceUnavailable, "maps are not configured", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": s.config.MapsToken})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// noListingFS hides directory listings of the bucket root
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
