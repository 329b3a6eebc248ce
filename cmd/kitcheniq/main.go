package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zombor/kitcheniq/internal/config"
	"github.com/zombor/kitcheniq/internal/homeassistant"
	"github.com/zombor/kitcheniq/internal/imagery"
	"github.com/zombor/kitcheniq/internal/inventory"
	"github.com/zombor/kitcheniq/internal/scanning"
	"github.com/zombor/kitcheniq/internal/storage"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, err := config.Parse(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("Initializing database...", "path", cfg.DBPath)
	db, err := inventory.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	var cache imagery.Cache = db
	if cfg.CacheBackend == config.CacheBackendBolt {
		slog.Info("Initializing bolt image cache...", "path", cfg.BoltPath)
		boltCache, err := imagery.NewBoltCache(cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("initializing image cache: %w", err)
		}
		defer boltCache.Close()
		cache = boltCache
	}

	slog.Info("Initializing storage...", "uploads", cfg.UploadDir, "image_cache", cfg.ImageCacheDir)
	uploads, err := storage.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("initializing upload storage: %w", err)
	}
	images, err := storage.NewLocalStorage(cfg.ImageCacheDir)
	if err != nil {
		return fmt.Errorf("initializing image storage: %w", err)
	}

	slog.Info("Initializing scanner...", "provider", cfg.Scanner.Provider, "model", cfg.Scanner.Model)
	scanner, err := scanning.New(cfg.Scanner)
	if err != nil {
		return fmt.Errorf("initializing scanner: %w", err)
	}
	defer scanner.Close()

	resolver := imagery.NewResolver(cfg.Images, cache, images)
	if !cfg.Images.GoogleEnabled() {
		slog.Info("Google image search disabled (no API key or CX)")
	}

	var pusher inventory.ShoppingListPusher
	if cfg.HomeAssistant.Enabled() {
		client, err := homeassistant.New(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, homeassistant.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("initializing home assistant client: %w", err)
		}
		pusher = client
		slog.Info("Home Assistant shopping list push enabled", "url", cfg.HomeAssistant.URL)
	}

	service := inventory.NewService(db, scanner, resolver, uploads, pusher)

	basicAuth := inventory.BasicAuth{
		Username: cfg.AuthUser,
		Password: cfg.AuthPass,
	}
	server := inventory.NewServer(service, basicAuth, images, uploads)
	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := server.Run(ctx, addr); err != nil {
		return fmt.Errorf("serving http: %w", err)
	}

	slog.Info("Shutting down...")
	return nil
}
