// Command kmerflow-server provides a REST API for kmerflow operations.
//
// Usage:
//
//	kmerflow-server [options]
//
// Options:
//
//	-config   Config file (default: ./kmerflow.toml if present)
//	-port     Port to listen on (overrides the config file)
//	-host     Host to bind to (overrides the config file)
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/aria-lang/kmerflow/api/handlers"
	"github.com/aria-lang/kmerflow/api/middleware"
	"github.com/aria-lang/kmerflow/internal/catalog"
	"github.com/aria-lang/kmerflow/internal/config"
	"github.com/aria-lang/kmerflow/internal/logging"
	"github.com/aria-lang/kmerflow/internal/shard"
	"github.com/aria-lang/kmerflow/pkg/kmerflow"
)

func newRouter(cfg *config.Config, cat catalog.Catalog) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout.Duration))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(kmerflow.Info()))
	})

	// API routes
	api := handlers.New(cat, shard.New(cfg.Shard()), cfg.Server.MaxBodyBytes)
	r.Route("/api", api.Mount)
	return r
}

// loadConfig reads the config file and applies the command-line overrides.
// Zero values leave the file's settings in place.
func loadConfig(file string, port int, host string) (*config.Config, error) {
	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
	return cfg, cfg.Validate()
}

func main() {
	configFile := flag.String("config", "", "Config file")
	port := flag.Int("port", 0, "Port to listen on")
	host := flag.String("host", "", "Host to bind to")
	flag.Parse()

	cfg, err := loadConfig(*configFile, *port, *host)
	if err != nil {
		log.Fatalf("Could not load config: %v", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Could not set up logging: %v", err)
	}

	cat := catalog.NewMemory()
	defer cat.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      newRouter(cfg, cat),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	// Graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)

	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Could not gracefully shutdown: %v", err)
		}
		close(done)
	}()

	log.Infof("kmerflow API server starting on http://%s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v", addr, err)
	}

	<-done
	log.Info("Server stopped")
}
