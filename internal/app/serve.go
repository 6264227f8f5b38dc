package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"horse.fit/stipend/internal/cli"
	"horse.fit/stipend/internal/config"
	"horse.fit/stipend/internal/db"
	"horse.fit/stipend/internal/httpapi"
	"horse.fit/stipend/internal/logging"
	"horse.fit/stipend/internal/match"
	"horse.fit/stipend/internal/scheduler"
	"horse.fit/stipend/internal/store"
	"horse.fit/stipend/internal/uploadstate"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	noScheduler := fs.Bool("no-scheduler", false, "Disable the recurring daily matching pass")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	st := store.New(pool, logger)
	emb := newEmbedderService(cfg, st, logger)
	discoverySvc := newDiscoveryService(cfg, st, emb, logger)
	matcherSvc := newMatcherService(cfg, st, logger)

	var uploads uploadstate.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		uploads = uploadstate.NewRedisStore(redisClient, cfg.UploadStateTTL)
	} else {
		logger.Warn().Msg("no redis configured, upload handles are process-local")
		uploads = uploadstate.NewMemoryStore(cfg.UploadStateTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	if !*noScheduler {
		sched := scheduler.New(time.Hour, logger)
		if err := sched.Add(cfg.ScheduleSpec, "daily-matching", func(taskCtx context.Context) error {
			summary, err := matcherSvc.RunForAllUsers(taskCtx, match.KindDailyAutomated)
			if err != nil {
				return err
			}
			logger.Info().
				Int("users", summary.Users).
				Int("failed", summary.Failed).
				Int("persisted", summary.Persisted).
				Msg("daily matching pass finished")
			return nil
		}); err != nil {
			logger.Error().Err(err).Msg("scheduler setup failed")
			fmt.Fprintf(os.Stderr, "Scheduler setup failed: %v\n", err)
			return 1
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := httpapi.NewServer(st, discoverySvc, matcherSvc, uploads, logger, httpapi.Options{
		Host:            cfg.HTTPHost,
		Port:            cfg.HTTPPort,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		UploadTTL:       cfg.UploadStateTTL,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", cfg.HTTPHost).Int("port", cfg.HTTPPort).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
