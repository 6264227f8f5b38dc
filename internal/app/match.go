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
	"horse.fit/stipend/internal/match"
	"horse.fit/stipend/internal/store"
)

func runMatch(args []string) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	userID := fs.String("user", "", "Match one user")
	allUsers := fs.Bool("all", false, "Match every user with a profile")
	kindFlag := fs.String("kind", string(match.KindManual), "Match kind: manual, user-search, or daily-automated")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	hasUser := strings.TrimSpace(*userID) != ""
	if hasUser == *allUsers {
		fmt.Fprintln(os.Stderr, "exactly one of --user or --all is required")
		return 2
	}
	kind := match.Kind(strings.TrimSpace(*kindFlag))
	if !match.ValidKind(kind) {
		fmt.Fprintln(os.Stderr, "--kind must be manual, user-search, or daily-automated")
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
		logger.Error().Err(err).Msg("match command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	st := store.New(pool, logger)
	svc := newMatcherService(cfg, st, logger)

	if hasUser {
		result, err := svc.RunForUser(ctx, strings.TrimSpace(*userID), kind)
		if err != nil {
			logger.Error().Err(err).Str("user_id", *userID).Msg("matching pass failed")
			fmt.Fprintf(os.Stderr, "Matching pass failed: %v\n", err)
			return 1
		}
		fmt.Printf("match user=%s scored=%d persisted=%d\n", result.UserID, result.Scored, result.Persisted)
		return 0
	}

	summary, err := svc.RunForAllUsers(ctx, kind)
	if err != nil {
		logger.Error().Err(err).Msg("matching pass failed")
		fmt.Fprintf(os.Stderr, "Matching pass failed: %v\n", err)
		return 1
	}
	fmt.Printf("match users=%d failed=%d persisted=%d\n", summary.Users, summary.Failed, summary.Persisted)
	return 0
}
