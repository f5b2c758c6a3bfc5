package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/mailsift/internal/config"
	"github.com/joshsymonds/mailsift/internal/process"
	"github.com/joshsymonds/mailsift/internal/rate"
	"github.com/joshsymonds/mailsift/internal/rules"
	"github.com/joshsymonds/mailsift/internal/runtime"
	"github.com/joshsymonds/mailsift/internal/store"
)

type processConfig struct {
	configPath   string
	configSet    bool
	rulesPath    string
	maxMessages  int
	batchSize    int
	dryRun       bool
	databasePath string
	authDir      string
	rps          int
}

func main() {
	cfg := parseProcessFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailsift-process failed", "error", err)
		os.Exit(1)
	}
}

func parseProcessFlags() processConfig {
	configPath := flag.String("config", "mailsift.toml", "path to mailsift config file")
	rulesPath := flag.String("rules", "", "path to rules JSON file")
	maxMessages := flag.Int("max", 0, "maximum messages to consider (0 = no cap)")
	batchSize := flag.Int("batch-size", 0, "messages per store batch (overrides config)")
	dryRun := flag.Bool("dry-run", false, "log planned mutations; apply nothing")
	database := flag.String("database", "", "sqlite mirror path (overrides config)")
	authDir := flag.String("auth-dir", "", "gmailctl auth directory (overrides config)")
	rps := flag.Int("rps", 0, "max requests per second (overrides config)")
	flag.Parse()

	path := *rulesPath
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	configSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configSet = true
		}
	})
	return processConfig{
		configPath:   *configPath,
		configSet:    configSet,
		rulesPath:    path,
		maxMessages:  *maxMessages,
		batchSize:    *batchSize,
		dryRun:       *dryRun,
		databasePath: *database,
		authDir:      *authDir,
		rps:          *rps,
	}
}

func run(cfg processConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.rulesPath == "" {
		return errors.New("a rules file is required (positional or -rules)")
	}

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
	if cfg.batchSize > 0 {
		fileCfg.BatchSize = cfg.batchSize
	}

	rs, err := rules.LoadFile(cfg.rulesPath)
	if err != nil {
		return err
	}

	st, err := store.Open(fileCfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client, err := runtime.NewGmailClient(ctx, fileCfg.AuthDir, runtime.ScopeModify)
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

	svc := process.NewService(st, client, limiter, runtime.DefaultLogger())
	svc.MaxAttempts = fileCfg.MaxAttempts

	sum, err := svc.Run(ctx, rs, process.Options{
		BatchSize:   fileCfg.BatchSize,
		MaxMessages: cfg.maxMessages,
		DryRun:      cfg.dryRun,
	})
	if err != nil {
		return fmt.Errorf("run rules: %w", err)
	}
	if printErr := process.PrintSummary(os.Stdout, sum); printErr != nil {
		return printErr
	}
	return nil
}
