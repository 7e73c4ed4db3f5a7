package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verifier/internal/compilers"
	"github.com/pendergraft/verifier/internal/compilers/fetch"
	"github.com/pendergraft/verifier/internal/compilers/solc"
	"github.com/pendergraft/verifier/internal/compilers/vyper"
	"github.com/pendergraft/verifier/internal/config"
	"github.com/pendergraft/verifier/internal/observability/metrics"
	"github.com/pendergraft/verifier/internal/server"
	"github.com/pendergraft/verifier/internal/storage"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "verifier-server",
		Short:   "Verifier server - smart contract source verification",
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newCompilersCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			store, err := storage.New(cfg.Storage, quietLogger())
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			fmt.Printf("✅ Schema up to date (%s)\n", cfg.Storage.Type)
			return nil
		},
	}
}

func newCompilersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compilers",
		Short: "Inspect configured compiler sources",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list [language]",
		Short: "List compiler versions known to the configured sources",
		Long: `List compiler versions known to the configured sources.

EXAMPLES:
  verifier-server compilers list
  verifier-server compilers list vyper --limit 5
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompilersList(cmd.Context(), args, limit)
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "maximum versions shown per language (0 for all)")
	cmd.AddCommand(listCmd)

	return cmd
}

func runCompilersList(ctx context.Context, args []string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pool, _, err := buildCompilers(ctx, cfg, quietLogger())
	if err != nil {
		return err
	}

	langs := pool.Languages()
	if len(args) == 1 {
		lang, err := compilers.ParseLanguage(args[0])
		if err != nil {
			return err
		}
		langs = []compilers.Language{lang}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LANGUAGE\tVERSION")
	for _, lang := range langs {
		versions, err := pool.Versions(lang)
		if err != nil {
			return err
		}
		if limit > 0 && len(versions) > limit {
			versions = versions[:limit]
		}
		for _, v := range versions {
			fmt.Fprintf(w, "%s\t%s\n", lang, v)
		}
	}
	return w.Flush()
}

// buildCompilers wires one binary cache per enabled language into a
// compiler pool. The returned refreshers must be started by the caller.
func buildCompilers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*compilers.Compilers, []*fetch.Refresher, error) {
	registry := compilers.NewRegistry()
	var refreshers []*fetch.Refresher

	if fc := cfg.Compilers.Solidity; fc.Enabled {
		cache, refresher, err := newBinaryCache(ctx, "solidity", "solc", fc, logger)
		if err != nil {
			return nil, nil, err
		}
		c := solc.New()
		registry.Register(compilers.Solidity, c, cache)
		registry.Register(compilers.Yul, c, cache)
		refreshers = append(refreshers, refresher)
	}

	if fc := cfg.Compilers.Vyper; fc.Enabled {
		cache, refresher, err := newBinaryCache(ctx, "vyper", "vyper", fc, logger)
		if err != nil {
			return nil, nil, err
		}
		registry.Register(compilers.Vyper, vyper.New(), cache)
		refreshers = append(refreshers, refresher)
	}

	if len(registry.Languages()) == 0 {
		return nil, nil, errors.New("no compiler source enabled")
	}

	pool := compilers.New(registry, cfg.Verifier.MaxThreads, cfg.Verifier.CompileTimeout, logger)
	return pool, refreshers, nil
}

type binarySource interface {
	fetch.Fetcher
	fetch.Refreshable
}

func newBinaryCache(ctx context.Context, language, binaryName string, fc config.FetcherConfig, logger *slog.Logger) (*fetch.Cache, *fetch.Refresher, error) {
	var opts []fetch.Option
	if fc.Validate {
		opts = append(opts, fetch.WithValidator(fetch.VersionFlagValidator(30*time.Second)))
	}

	var source binarySource
	var err error
	switch fc.Type {
	case "bucket":
		source, err = fetch.NewBucketFetcher(ctx, fc.URL, fc.Dir, binaryName, opts...)
	default:
		source, err = fetch.NewListFetcher(ctx, fc.URL, fc.Dir, binaryName, opts...)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("initializing %s fetcher: %w", language, err)
	}

	cache := fetch.NewCache(source, language, fc.FetchTimeout, logger)
	if _, err := cache.LoadFromDir(fc.Dir, binaryName); err != nil {
		return nil, nil, fmt.Errorf("loading cached %s compilers: %w", language, err)
	}
	return cache, fetch.NewRefresher(source, language, fc.RefreshInterval, logger), nil
}

// Server command

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info("starting verifier-server", "version", version)

	metrics.Init(cfg.Metrics.Enabled, "verifier")

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, refreshers, err := buildCompilers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	for _, r := range refreshers {
		go r.Run(ctx)
	}

	srv := server.New(cfg, store, pool, logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	// Running compilations get the shutdown grace period to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
