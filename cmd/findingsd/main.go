// ABOUTME: Entry point for the VulnLedger findings service.
// ABOUTME: Handles initialization, configuration parsing, and starts the HTTP server.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jfeddern/VulnLedger/internal/attachments"
	"github.com/jfeddern/VulnLedger/internal/cache"
	"github.com/jfeddern/VulnLedger/internal/config"
	"github.com/jfeddern/VulnLedger/internal/enrichment"
	"github.com/jfeddern/VulnLedger/internal/findings"
	"github.com/jfeddern/VulnLedger/internal/importer"
	"github.com/jfeddern/VulnLedger/internal/metrics"
	"github.com/jfeddern/VulnLedger/internal/scanner"
	"github.com/jfeddern/VulnLedger/internal/server"
	"github.com/jfeddern/VulnLedger/internal/store"

	"github.com/sirupsen/logrus"
)

func main() {
	// Set up structured logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Set debug level if requested
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create service")
	}

	if err := app.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start service")
	}
}

type App struct {
	config  *config.Config
	logger  *logrus.Logger
	store   *store.Memory
	metrics *metrics.MetricsHandler
	api     *server.Server
	cache   *cache.CandidateCache
}

func NewApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	logger.WithFields(logrus.Fields{
		"mode":       cfg.Mode,
		"port":       cfg.Port,
		"mock":       cfg.MockMode,
		"ecr_region": cfg.ECRRegion,
	}).Info("Initializing VulnLedger")

	findingStore := store.NewMemory(logger)
	metricsHandler := metrics.NewMetricsHandler(findingStore, logger)

	service := findings.NewService(findingStore, attachments.NewManager(findingStore, logger), logger)
	importEngine := importer.NewEngine(findingStore, metricsHandler, logger)
	enricher := enrichment.NewClient(newUpstream(cfg, logger), cfg.Enrichment(), logger, enrichment.WithRecorder(metricsHandler))

	candidateCache := cache.NewCandidateCache(cfg.ScanCacheTTL, logger)
	collector, err := newCollector(ctx, cfg, candidateCache, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		config:  cfg,
		logger:  logger,
		store:   findingStore,
		metrics: metricsHandler,
		api:     server.New(service, importEngine, collector, enricher, cfg.MaxUploadBytes, logger),
		cache:   candidateCache,
	}, nil
}

func newUpstream(cfg *config.Config, logger *logrus.Logger) enrichment.Upstream {
	httpConfig, ok := cfg.EnrichmentHTTP()
	if !ok || cfg.MockMode {
		logger.Info("Using mock enrichment upstream")
		return enrichment.NewMockUpstream(logger)
	}
	return enrichment.NewHTTPUpstream(httpConfig, logger)
}

// newCollector builds the scanner pipeline. Scanner setup failures leave the API usable
// without scan imports.
func newCollector(ctx context.Context, cfg *config.Config, candidateCache *cache.CandidateCache, logger *logrus.Logger) (server.CandidateCollector, error) {
	discoverer, err := scanner.CreateImageDiscoverer(cfg.Scanner(), logger)
	if err != nil {
		logger.WithError(err).Warn("Scanner image discovery unavailable, scan imports disabled")
		return nil, nil
	}

	source, err := scanner.CreateCandidateSource(ctx, cfg.Scanner(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner source: %w", err)
	}

	return scanner.NewCollector(discoverer, source, candidateCache, logger), nil
}

// Handler returns the complete HTTP surface of the service
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.api.Register(mux)
	mux.Handle("GET /metrics", a.metrics)
	mux.HandleFunc("GET /health", a.healthHandler)
	return a.securityMiddleware(mux)
}

func (a *App) Start(ctx context.Context) error {
	go a.cache.StartCleanup(ctx, time.Minute)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      90 * time.Second, // Enrichment backoff alone can take 15s
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	a.logger.WithFields(logrus.Fields{
		"port": a.config.Port,
		"mode": a.config.Mode,
	}).Info("Starting HTTP server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	return nil
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func (a *App) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		// Only allow specific HTTP methods
		if !allowedMethods[r.Method] {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Log the request
		a.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
			"viewer_id":  r.Header.Get(server.HeaderViewerID),
		}).Debug("HTTP request received")

		next.ServeHTTP(w, r)
	})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	findingCount, attachmentCount := a.store.Stats()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","findings":%d,"attachments":%d}`, findingCount, attachmentCount)
}
