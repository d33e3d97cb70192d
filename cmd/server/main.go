// Package main provides the planning poker server binary: the room
// coordinator behind a websocket session router.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/planningpoker/internal/config"
	"github.com/cory-johannsen/planningpoker/internal/observability"
	"github.com/cory-johannsen/planningpoker/internal/poker"
	"github.com/cory-johannsen/planningpoker/internal/router"
	"github.com/cory-johannsen/planningpoker/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	decksDir := flag.String("decks", "", "path to deck YAML files directory; overrides decks.dir from config")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	deck := loadDeck(cfg, *decksDir, logger)
	logger.Info("deck selected",
		zap.String("deck", deck.ID),
		zap.Int("cards", len(deck.Cards)),
	)

	coord := poker.NewCoordinator()
	rt := router.New(coord, deck, logger)
	ws := router.NewWSHandler(rt, router.WSOptions{
		WriteTimeout: cfg.Server.WriteTimeout,
		PongWait:     cfg.Server.PongWait,
		ReadLimit:    cfg.Server.ReadLimit,
		SendBuffer:   cfg.Server.SendBuffer,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: mux,
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			logger.Info("http server listening", zap.String("addr", cfg.Server.Addr()))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		},
	})

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// loadDeck resolves the deck advertised to clients: content files when
// a directory is configured, the built-in Fibonacci deck otherwise.
func loadDeck(cfg config.Config, dirOverride string, logger *zap.Logger) *poker.Deck {
	dir := cfg.Decks.Dir
	if dirOverride != "" {
		dir = dirOverride
	}
	if dir == "" {
		return poker.DefaultDeck()
	}

	decks, err := poker.LoadDecksFromDir(dir)
	if err != nil {
		logger.Fatal("loading decks", zap.String("dir", dir), zap.Error(err))
	}
	logger.Info("decks loaded", zap.String("dir", dir), zap.Int("count", len(decks)))

	deck, ok := poker.FindDeck(decks, cfg.Decks.Default)
	if !ok {
		logger.Fatal("default deck not found",
			zap.String("deck", cfg.Decks.Default),
			zap.String("dir", dir),
		)
	}
	return deck
}
