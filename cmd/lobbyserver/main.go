package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/gamehub/internal/config"
	"github.com/udisondev/gamehub/internal/db"
	"github.com/udisondev/gamehub/internal/lobby"
)

const ConfigPath = "config/lobbyserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	slog.Info("gamehub lobby server starting")

	cfgPath := ConfigPath
	if p := os.Getenv("GAMEHUB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadLobbyServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded",
		"bind", cfg.BindAddress,
		"port", cfg.Port,
		"storage", cfg.StorageDir,
		"public_host", cfg.PublicHost,
		"game_ports", fmt.Sprintf("%d-%d", cfg.GamePortMin, cfg.GamePortMax))

	dbClient := db.NewClient(cfg.Database.Host, cfg.Database.Port)

	server := lobby.NewServer(cfg, dbClient)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("lobby server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
