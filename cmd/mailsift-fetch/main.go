package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/mailsift/internal/config"
	"github.com/joshsymonds/mailsift/internal/fetch"
	"github.com/joshsymonds/mailsift/internal/rate"
	"github.com/joshsymonds/mailsift/internal/runtime"
	"github.com/joshsymonds/mailsift/internal/store"
)

type fetchConfig struct {
	configPath   string
	configSet    bool
	query        string
	maxPages     int
	pageSize     int
	databasePath string
	authDir      string
	rps          int
}

func main() {
	cfg := parseFetchFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailsift-fetch failed", "error", err)
		os.Exit(1)
	}
}

func parseFetchFlags() fetchConfig {
	configPath := flag.String("config", "mailsift.toml", "path to mailsift config file")
	query := flag.String("query", "in:inbox", "Gmail query for messages to mirror")
	maxPages := flag.Int("max-pages", 10, "pages to fetch per run")
	pageSize := flag.Int("page-size", 0, "list page size (overrides config)")
	database := flag.String("database", "", "sqlite mirror path (overrides config)")
	authDir := flag.String("auth-dir", "", "gmailctl auth directory (overrides config)")
	rps := flag.Int("rps", 0, "max requests per second (overrides config)")
	flag.Parse()

	configSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configSet = true
		}
	})
	return fetchConfig{
		configPath:   *configPath,
		configSet:    configSet,
		query:        *query,
		maxPages:     *maxPages,
		pageSize:     *pageSize,
		databasePath: *database,
		authDir:      *authDir,
		rps:          *rps,
	}
}

func run(cfg fetchConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fileCfg, err := config.Load(cfg.configPath, cfg.configSet)
	if err != nil {
		return err
	}
	if cfg.databasePath != "" {
		fileCfg.Database = cfg.databasePath
	}
	if cfg.authDir != "" {
		fileCfg.AuthDir = cfg.authDir
	}
	if cfg.rps > 0 {
		fileCfg.RPS = cfg.rps
	}
	if cfg.pageSize > 0 {
		fileCfg.PageSize = cfg.pageSize
	}

	st, err := store.Open(fileCfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	// Mirroring only reads messages; the readonly scope is enough.
	client, err := runtime.NewGmailClient(ctx, fileCfg.AuthDir, runtime.ScopeReadonly)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	var (
		limiter rate.Limiter
		bucket  *rate.TokenBucket
	)
	if fileCfg.RPS > 0 {
		bucket = rate.NewTokenBucket(fileCfg.RPS)
		limiter = bucket
		defer bucket.Stop()
	}

	svc := fetch.NewService(st, client, limiter, runtime.DefaultLogger())
	stats, err := svc.Run(ctx, fetch.Options{
		Query:    cfg.query,
		PageSize: fileCfg.PageSize,
		MaxPages: cfg.maxPages,
	})
	if err != nil {
		return fmt.Errorf("run fetch: %w", err)
	}
	fmt.Printf("fetched %d pages, %d listed, %d new\n", stats.Pages, stats.Listed, stats.Inserted)
	return nil
}
