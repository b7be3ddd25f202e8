// Command server wires the configuration, persistence, and HTTP
// surface together and starts listening.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/birddigital/callbridge/internal/brain"
	"github.com/birddigital/callbridge/internal/carrierrest"
	"github.com/birddigital/callbridge/internal/config"
	"github.com/birddigital/callbridge/internal/executor"
	"github.com/birddigital/callbridge/internal/httpapi"
	"github.com/birddigital/callbridge/internal/interfaces"
	"github.com/birddigital/callbridge/internal/logging"
	"github.com/birddigital/callbridge/internal/session"
	"github.com/birddigital/callbridge/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("callbridge: load config: %v", err)
	}

	appLog := logging.New("callbridge", logging.ParseLevel(cfg.Logging.Level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := store.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		appLog.Error("connect to database: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		appLog.Error("migrate database: %v", err)
		os.Exit(1)
	}
	sessionStore := store.New(pool)

	carrierClient := carrierrest.New(cfg.Carrier.SID, cfg.Carrier.Token, cfg.Carrier.Space)

	var exec interfaces.Executor
	switch cfg.Executor.Mode {
	case "http":
		exec = executor.NewHTTPExecutor(cfg.Executor.URL, appLog.With("Executor"))
	default:
		exec = executor.NewSubprocessExecutor(cfg.Executor.Command, cfg.Executor.ChatID, appLog.With("Executor"))
	}

	var classifier brain.Classifier
	if cfg.ModelA.APIKey != "" || cfg.ModelB.APIKey != "" {
		apiKey := cfg.ModelB.APIKey
		if apiKey == "" {
			apiKey = cfg.ModelA.APIKey
		}
		classifier = brain.NewGeminiClassifier(apiKey, "gemini-1.5-flash")
	}

	manager := session.NewManager(cfg, sessionStore, exec, classifier, nil, appLog.With("Session"))
	handlers := httpapi.New(manager, sessionStore, carrierClient, cfg, appLog.With("HTTP"))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handlers.Mux(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the media-stream WebSocket is long-lived
	}

	go func() {
		appLog.Info("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("listen: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	appLog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("graceful shutdown: %v", err)
	}
}
