package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/topo4dform/config"
	"github.com/c360studio/topo4dform/geometry"
	"github.com/c360studio/topo4dform/metrics"
	formapi "github.com/c360studio/topo4dform/processor/form-api"
	"github.com/c360studio/topo4dform/publish"
	"github.com/c360studio/topo4dform/session"
	"github.com/c360studio/topo4dform/validation"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the form HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The service must not run without its schema.
	validator, err := validation.LoadGlobal(ctx, validation.Options{
		URL:     cfg.Schema.URL,
		Timeout: cfg.Schema.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("schema unavailable: %w", err)
	}

	publisher, err := publish.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to drain NATS connection", "error", err)
		}
	}()

	reg := metrics.NewRegistry()
	sessions := session.NewStore(cfg.Server.MaxSessions, cfg.Server.SessionTTL)
	reg.TrackSessions(sessions.Len)

	deps := formapi.Dependencies{
		Logger:    logger,
		Sessions:  sessions,
		Validator: validator,
		Deriver:   geometry.NewDeriver(geometry.NewProjReprojector(), logger),
		Metrics:   reg,
	}
	// Leave the interface nil when publishing is disabled.
	if publisher != nil {
		deps.Publisher = publisher
	}

	comp, err := formapi.NewComponent(formConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("create form-api: %w", err)
	}
	if err := comp.Start(ctx); err != nil {
		return err
	}
	defer comp.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(cfg, comp, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Serving form API",
			"addr", cfg.Server.Addr,
			"prefix", cfg.Server.Prefix,
			"version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// formConfig maps service configuration onto the form-api component.
func formConfig(cfg *config.Config) formapi.Config {
	fc := formapi.DefaultConfig()
	fc.CookieName = cfg.Server.CookieName
	fc.SecureCookie = cfg.Server.SecureCookie
	fc.UploadPatterns = cfg.Upload.Patterns
	fc.MaxUploadSize = cfg.Upload.MaxSize
	fc.StacVersion = cfg.STAC.Version
	fc.SelfHref = cfg.STAC.SelfHref
	return fc
}

// newRouter builds the HTTP handler: middleware, CORS, /metrics and the
// form API.
func newRouter(cfg *config.Config, comp *formapi.Component, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	if len(cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Handle("/metrics", reg.Handler())

	mux := http.NewServeMux()
	comp.RegisterHTTPHandlers(cfg.Server.Prefix, mux)
	r.Mount("/", mux)

	return r
}

// requestLogger logs each request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
