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
	"horse.fit/stipend/internal/discovery"
	"horse.fit/stipend/internal/logging"
	"horse.fit/stipend/internal/query"
	"horse.fit/stipend/internal/store"
)

func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	freeText := fs.String("query", "", "Free-text search input for a general run")
	userID := fs.String("user", "", "User ID for a profile-scoped run")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	hasQuery := strings.TrimSpace(*freeText) != ""
	hasUser := strings.TrimSpace(*userID) != ""
	if hasQuery == hasUser {
		fmt.Fprintln(os.Stderr, "exactly one of --query or --user is required")
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
		logger.Error().Err(err).Msg("discover command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	st := store.New(pool, logger)

	var req discovery.RunRequest
	if hasUser {
		profile, err := st.GetUserProfile(ctx, strings.TrimSpace(*userID))
		if err != nil {
			logger.Error().Err(err).Str("user_id", *userID).Msg("load user profile failed")
			fmt.Fprintf(os.Stderr, "Failed to load user profile: %v\n", err)
			return 1
		}
		uid := profile.Profile.UserID
		req = discovery.RunRequest{
			Kind:   store.JobKindProfileScoped,
			UserID: &uid,
			Query: query.BuildProfileQuery(query.Profile{
				EducationLevel:         profile.Profile.EducationLevel,
				IntendedEducationLevel: profile.Profile.IntendedEducationLevel,
				Discipline:             profile.Profile.Discipline,
				AcademicInterests:      profile.Profile.AcademicInterests,
				Nationality:            profile.Profile.Nationality,
			}),
			Scope: "profile",
		}
	} else {
		req = discovery.RunRequest{
			Kind:  store.JobKindGeneral,
			Query: query.BuildFreeTextQuery(*freeText),
			Scope: "general",
		}
	}

	emb := newEmbedderService(cfg, st, logger)
	svc := newDiscoveryService(cfg, st, emb, logger)

	result, err := svc.Run(ctx, req)
	if err != nil {
		logger.Error().Err(err).Str("query", req.Query).Msg("discovery run failed")
		fmt.Fprintf(os.Stderr, "Discovery run failed: %v\n", err)
		return 1
	}

	fmt.Printf("discover job=%s candidates=%d inserted=%d duplicates=%d\n",
		result.Job.UUID, result.Candidates, result.Inserted, result.Duplicates)
	return 0
}
