package app

import (
	"time"

	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/clients"
	"horse.fit/stipend/internal/config"
	"horse.fit/stipend/internal/discovery"
	"horse.fit/stipend/internal/embedder"
	"horse.fit/stipend/internal/extract"
	"horse.fit/stipend/internal/imagepreview"
	"horse.fit/stipend/internal/matcher"
	"horse.fit/stipend/internal/store"
)

const defaultClientTimeout = 30 * time.Second

func newEmbedderService(cfg *config.Config, st *store.Store, logger zerolog.Logger) *embedder.Service {
	embeddingClient := clients.NewHTTPEmbeddingClient(cfg.EmbeddingEndpoint, defaultClientTimeout)
	return embedder.New(st, embeddingClient, cfg.EmbeddingCallDelay, logger)
}

func newDiscoveryService(cfg *config.Config, st *store.Store, emb *embedder.Service, logger zerolog.Logger) *discovery.Service {
	searchClient := clients.NewHTTPSearchClient(cfg.SearchEndpoint, defaultClientTimeout)
	extractClient := clients.NewHTTPExtractClient(cfg.ExtractEndpoint, defaultClientTimeout)
	poller := extract.NewPoller(extractClient, logger, extract.PollerOptions{
		Interval:    cfg.ExtractPollInterval,
		MaxAttempts: cfg.ExtractPollAttempts,
	})

	var images discovery.ImageResolver
	if cfg.ContentEndpoint != "" {
		contentClient := clients.NewHTTPContentClient(cfg.ContentEndpoint, defaultClientTimeout)
		images = imagepreview.NewResolver(contentClient, logger)
	}

	return discovery.New(st, searchClient, extractClient, poller, images, emb, discovery.Options{
		BatchSize:          cfg.ExtractBatchSize,
		BatchDelay:         cfg.ExtractBatchDelay,
		SearchLimitGeneral: cfg.SearchLimitGeneral,
		SearchLimitProfile: cfg.SearchLimitProfile,
		SingleObjectPolicy: extract.SingleObjectPolicy(cfg.ExtractSingleObjectPolicy),
	}, logger)
}

func newMatcherService(cfg *config.Config, st *store.Store, logger zerolog.Logger) *matcher.Service {
	return matcher.New(st, matcher.Options{
		ScoreThreshold:   cfg.MatchScoreThreshold,
		CandidateLimit:   cfg.MatchCandidateLimit,
		LegacyTagMatches: cfg.LegacyTagMatches,
	}, logger)
}
