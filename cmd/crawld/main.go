// Package main provides the crawld binary: the WebSocket server that
// coordinates shared dungeon-crawl sessions.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/crawld/internal/config"
	"github.com/cory-johannsen/crawld/internal/game/crawl"
	"github.com/cory-johannsen/crawld/internal/gateway"
	"github.com/cory-johannsen/crawld/internal/observability"
	"github.com/cory-johannsen/crawld/internal/player"
	"github.com/cory-johannsen/crawld/internal/protocol"
	"github.com/cory-johannsen/crawld/internal/server"
	"github.com/cory-johannsen/crawld/internal/session"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
	themesDir := flag.String("themes", "", "path to floor theme YAML directory; empty = built-in theme")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting crawld",
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("max_players", cfg.Session.MaxPlayers),
		zap.Int("actions_per_round", cfg.Session.ActionsPerRound),
	)

	// Load floor themes
	themeStart := time.Now()
	themes := []*crawl.Theme{crawl.DefaultTheme()}
	if *themesDir != "" {
		themes, err = crawl.LoadThemes(*themesDir)
		if err != nil {
			logger.Fatal("loading themes", zap.Error(err))
		}
	}
	library, err := crawl.NewLibrary(themes)
	if err != nil {
		logger.Fatal("building theme library", zap.Error(err))
	}
	logger.Info("themes loaded",
		zap.Int("count", len(themes)),
		zap.Duration("elapsed", time.Since(themeStart)),
	)

	// Wire the action vocabulary
	codec := protocol.NewCodec()
	crawl.RegisterActions(codec)
	logger.Info("actions registered", zap.Strings("types", codec.Types()))

	// Session layer
	deps := session.Deps{
		NewGenerator: library.NewGenerator,
		NewState:     library.NewState,
		NewTurns:     library.NewTurns,
	}
	sessions, err := session.NewManager(cfg.Session, deps, codec, logger)
	if err != nil {
		logger.Fatal("creating session manager", zap.Error(err))
	}

	// Gateway
	registry := player.NewRegistry()
	gw := gateway.New(cfg, registry, sessions, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("session-manager", sessions)
	lifecycle.Add("gateway", gw)

	logger.Info("crawld initialized", zap.Duration("startup", time.Since(start)))
	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Error("crawld exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
