// Command liseuse serves a library of plain-text and markdown documents for
// incremental reading with persistent highlights and notes.
//
// Usage:
//
//	liseuse -config liseuse.yaml          # run with a config file
//	liseuse -root ./books -db liseuse.db  # run with defaults
//	liseuse -root ./books -mcp stdio      # serve the MCP tools on stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/liseuse/content"
	"github.com/hazyhaar/liseuse/dbopen"
	"github.com/hazyhaar/liseuse/events"
	"github.com/hazyhaar/liseuse/horosafe"
	"github.com/hazyhaar/liseuse/kv"
	"github.com/hazyhaar/liseuse/observability"
	"github.com/hazyhaar/liseuse/reader"
	"github.com/hazyhaar/liseuse/server"
)

func main() {
	configPath := flag.String("config", "", "path to liseuse.yaml config file")
	addr := flag.String("addr", "", "HTTP listen address (default :8090)")
	dbPath := flag.String("db", "", "path to SQLite database")
	root := flag.String("root", "", "library root directory")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	mcpMode := flag.String("mcp", "", `MCP transport: "" (HTTP only) or "stdio"`)
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := resolveConfig(*configPath, *addr, *dbPath, *root)
	if err != nil {
		logger.Error("liseuse: config", "error", err)
		os.Exit(1)
	}
	if err := run(ctx, logger, cfg, *mcpMode); err != nil {
		logger.Error("liseuse: fatal", "error", err)
		os.Exit(1)
	}
}

func resolveConfig(configPath, addr, dbPath, root string) (*server.Config, error) {
	cfg := &server.Config{}
	if configPath != "" {
		var err error
		if cfg, err = server.LoadConfigFile(configPath); err != nil {
			return nil, err
		}
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if root != "" {
		cfg.LibraryRoot = root
	}
	if s := os.Getenv("LISEUSE_JWT_SECRET"); s != "" {
		cfg.JWTSecret = s
	}
	cfg.Defaults()
	if cfg.RequireAuth && cfg.JWTSecret == "" {
		return nil, errors.New("require_auth needs LISEUSE_JWT_SECRET or jwt_secret")
	}
	if cfg.JWTSecret != "" {
		if err := horosafe.ValidateSecret([]byte(cfg.JWTSecret)); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *server.Config, mcpMode string) error {
	store, err := kv.Open(cfg.DBPath, dbopen.WithSchema(observability.Schema))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	metrics := observability.NewMetricsManager(store.DB, 100, 10*time.Second)
	defer metrics.Close()
	evlog := observability.NewEventLogger(store.DB)

	loader := content.NewLoader(cfg.LibraryRoot, logger)
	loader.MaxFileSize = cfg.MaxFileSize

	bus := events.NewBus()
	rcfg := cfg.Reader
	rcfg.Logger = logger
	mgr := reader.NewManager(rcfg, loader, store,
		reader.WithBus(bus),
		reader.WithMetrics(metrics),
		reader.WithEventLogger(evlog),
	)
	defer mgr.CloseAll(context.WithoutCancel(ctx))

	if mcpMode == "stdio" {
		logger.Info("liseuse: MCP on stdio", "root", cfg.LibraryRoot)
		return server.NewMCPServer(mgr).Run(ctx, &mcp.StdioTransport{})
	}
	if mcpMode != "" {
		return fmt.Errorf("unknown MCP transport %q", mcpMode)
	}

	srv := server.New(*cfg, mgr, bus, logger, server.WithMetrics(metrics))
	go srv.Hub().Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("liseuse: listening", "addr", cfg.Addr, "root", cfg.LibraryRoot, "db", cfg.DBPath)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	logger.Info("liseuse: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("liseuse: shutdown", "error", err)
	}
	srv.Shutdown(shutdownCtx)
	return nil
}
