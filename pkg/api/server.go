package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/blob"
	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/connector"
	"github.com/tomehq/tome/pkg/ingest"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/query"
	"github.com/tomehq/tome/pkg/scraper"
	"github.com/tomehq/tome/pkg/store"
)

// Server is the HTTP front of the service. Every handler resolves the
// caller's claims, checks permissions through pkg/auth, and speaks JSON.
type Server struct {
	auth       *auth.Service
	ingest     *ingest.Service
	pipeline   *query.Pipeline
	connectors *connector.Service
	scraper    *scraper.Engine
	store      store.Store
	blob       *blob.Store
	cfg        config.APIConfig
	uploadMax  int64
	limiter    *rateLimiter
	logger     zerolog.Logger
	httpServer *http.Server
}

// Deps carries the server's collaborators. Auth and Store are required;
// the rest may be nil, which disables the routes that need them.
type Deps struct {
	Auth           *auth.Service
	Ingest         *ingest.Service
	Pipeline       *query.Pipeline
	Connectors     *connector.Service
	Scraper        *scraper.Engine
	Store          store.Store
	Blob           *blob.Store
	Config         config.APIConfig
	UploadMaxBytes int64
}

// NewServer creates the HTTP server. Call Start to serve or Handler to
// mount it yourself.
func NewServer(deps Deps) *Server {
	return &Server{
		auth:       deps.Auth,
		ingest:     deps.Ingest,
		pipeline:   deps.Pipeline,
		connectors: deps.Connectors,
		scraper:    deps.Scraper,
		store:      deps.Store,
		blob:       deps.Blob,
		cfg:        deps.Config,
		uploadMax:  deps.UploadMaxBytes,
		limiter:    newRateLimiter(deps.Config.RateLimitRPS, deps.Config.RateLimitBurst),
		logger:     log.WithComponent("api"),
	}
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	// Unauthenticated surface.
	r.Get("/health", metrics.HealthHandler())
	r.Get("/health/ready", metrics.ReadyHandler())
	r.Get("/health/live", metrics.LivenessHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	timeout := func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			timeout(r)
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		// Everything else requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.rateLimit)
			r.Use(s.measure)

			// The socket manages its own deadlines, so it mounts outside
			// the request timeout.
			r.Get("/ws/{sessionID}", s.handleChatSocket)

			r.Group(func(r chi.Router) {
				timeout(r)

				r.Get("/users/me", s.handleMe)

				r.Get("/organizations", s.handleListOrgs)
				r.Post("/organizations", s.handleCreateOrg)
				r.Get("/organizations/{orgID}/domains", s.handleListDomains)
				r.Post("/organizations/{orgID}/domains", s.handleCreateDomain)

				r.Route("/domains/{domainID}", func(r chi.Router) {
					r.Get("/", s.handleGetDomain)
					r.Put("/", s.handleUpdateDomain)
					r.Delete("/", s.handleDeleteDomain)
					r.Get("/connectors", s.handleListConnectors)
					r.Post("/connectors", s.handleCreateConnector)
				})

				r.Post("/files/upload", s.handleUpload)
				r.Get("/files", s.handleListFiles)
				r.Route("/files/{fileID}", func(r chi.Router) {
					r.Get("/", s.handleGetFile)
					r.Delete("/", s.handleDeleteFile)
					r.Get("/download", s.handleDownloadFile)
				})

				r.Post("/search", s.handleSearch)

				r.Post("/chat", s.handleChat)
				r.Get("/chat/sessions", s.handleListSessions)
				r.Get("/chat/sessions/{sessionID}/messages", s.handleListMessages)

				r.Route("/connectors/{connectorID}", func(r chi.Router) {
					r.Get("/", s.handleGetConnector)
					r.Put("/", s.handleUpdateConnector)
					r.Delete("/", s.handleDeleteConnector)
					r.Post("/preview", s.handleConnectorPreview)
					r.Post("/discover-urls", s.handleDiscoverURLs)
					r.Post("/scrape-urls", s.handleScrapeURLs)
					r.Post("/intelligent-crawl", s.handleIntelligentCrawl)
					r.Get("/crawled-pages", s.handleCrawledPages)
					r.Get("/content-analytics", s.handleContentAnalytics)
					r.Get("/duplicate-analysis", s.handleDuplicateAnalysis)
					r.Get("/crawl-session-status", s.handleCrawlStatus)
					r.Delete("/crawl-session", s.handleCancelCrawl)
					r.Post("/sync", s.handleTriggerSync)
					r.Get("/sync-jobs", s.handleListSyncJobs)
				})
				r.Get("/connector-types/{type}/capabilities", s.handleCapabilities)
				r.Post("/connector-types/{type}/test", s.handleTestConnector)

				r.Get("/audit", s.handleListAudit)
			})
		})
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP API listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("HTTP API shutting down")
	return s.httpServer.Shutdown(ctx)
}
