package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/stipend/internal/cli"
	"horse.fit/stipend/internal/config"
	"horse.fit/stipend/internal/db"
	"horse.fit/stipend/internal/logging"
	"horse.fit/stipend/internal/store"
)

func runEmbed(args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	limit := fs.Int("limit", 500, "Maximum opportunities to embed in this pass")
	userID := fs.String("user", "", "Embed one user profile instead of pending opportunities")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("embed command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	st := store.New(pool, logger)
	svc := newEmbedderService(cfg, st, logger)

	if uid := strings.TrimSpace(*userID); uid != "" {
		if err := svc.EmbedUserProfile(ctx, uid); err != nil {
			logger.Error().Err(err).Str("user_id", uid).Msg("profile embedding failed")
			fmt.Fprintf(os.Stderr, "Profile embedding failed: %v\n", err)
			return 1
		}
		fmt.Printf("embed user=%s ok\n", uid)
		return 0
	}

	result, err := svc.EmbedPendingOpportunities(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Int("limit", *limit).Msg("embedding pass failed")
		fmt.Fprintf(os.Stderr, "Embedding pass failed: %v\n", err)
		return 1
	}

	fmt.Printf("embed processed=%d embedded=%d failed=%d remaining=%d\n",
		result.Processed, result.Embedded, result.Failed, result.Remaining)
	return 0
}
