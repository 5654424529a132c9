package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/corpuschat"
	"github.com/brunobiangulo/corpuschat/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// .env.local wins over .env; neither overrides the real environment.
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	cfg := corpuschat.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = corpuschat.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv()

	// Structured JSON logging at the configured level.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       logging.ParseLevel(cfg.LogLevel),
		ReplaceAttr: logging.RenameLevels,
	})))

	apiKey := os.Getenv("CORPUSCHAT_API_KEY")
	corsOrigins := os.Getenv("CORPUSCHAT_CORS_ORIGINS")

	engine, err := corpuschat.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	hub := newSessionHub(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", hub.handleCreate)
	mux.HandleFunc("POST /sessions/{id}/input", hub.handleInput)
	mux.HandleFunc("GET /sessions/{id}/transcript", hub.handleTranscript)
	mux.HandleFunc("POST /sessions/{id}/reset", hub.handleReset)
	mux.HandleFunc("DELETE /sessions/{id}", hub.handleDelete)
	mux.HandleFunc("GET /health", handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // dialogue turns can take minutes behind a slow provider
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
