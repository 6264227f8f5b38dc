package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"ST_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"ST_DB_MAX_CONNS" default:"8"`

	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	SearchEndpoint     string `envconfig:"SEARCH_ENDPOINT" required:"true"`
	SearchLimitGeneral int    `envconfig:"SEARCH_LIMIT_GENERAL" default:"50"`
	SearchLimitProfile int    `envconfig:"SEARCH_LIMIT_PROFILE" default:"30"`

	ExtractEndpoint     string        `envconfig:"EXTRACT_ENDPOINT" required:"true"`
	ExtractBatchSize    int           `envconfig:"EXTRACT_BATCH_SIZE" default:"10"`
	ExtractBatchDelay   time.Duration `envconfig:"EXTRACT_BATCH_DELAY" default:"2s"`
	ExtractPollInterval time.Duration `envconfig:"EXTRACT_POLL_INTERVAL" default:"5s"`
	ExtractPollAttempts int           `envconfig:"EXTRACT_POLL_ATTEMPTS" default:"60"`

	// Governs decoding when the extraction capability collapses a multi-URL
	// batch into one merged object: "single-item" treats it as exactly one
	// extracted item, "discard" drops the payload and relies on the per-URL
	// fallback pass.
	ExtractSingleObjectPolicy string `envconfig:"EXTRACT_SINGLE_OBJECT_POLICY" default:"single-item"`

	EmbeddingEndpoint  string        `envconfig:"EMBEDDING_ENDPOINT" required:"true"`
	EmbeddingCallDelay time.Duration `envconfig:"EMBEDDING_CALL_DELAY" default:"200ms"`

	ContentEndpoint string `envconfig:"CONTENT_ENDPOINT" default:""`

	MatchScoreThreshold float64 `envconfig:"MATCH_SCORE_THRESHOLD" default:"30"`
	MatchCandidateLimit int     `envconfig:"MATCH_CANDIDATE_LIMIT" default:"200"`
	LegacyTagMatches    bool    `envconfig:"LEGACY_TAG_MATCHES" default:"false"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:""`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	UploadStateTTL time.Duration `envconfig:"UPLOAD_STATE_TTL" default:"15m"`

	ScheduleSpec string `envconfig:"SCHEDULE_SPEC" default:"@every 24h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("ST_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("ST_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("ST_DB_MIN_CONNS (%d) cannot exceed ST_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be in [1, 65535]")
	}
	if c.SearchLimitGeneral < 1 || c.SearchLimitProfile < 1 {
		return fmt.Errorf("search limits must be >= 1")
	}
	if c.ExtractBatchSize < 1 {
		return fmt.Errorf("EXTRACT_BATCH_SIZE must be >= 1")
	}
	if c.ExtractPollInterval <= 0 {
		return fmt.Errorf("EXTRACT_POLL_INTERVAL must be > 0")
	}
	if c.ExtractPollAttempts < 1 {
		return fmt.Errorf("EXTRACT_POLL_ATTEMPTS must be >= 1")
	}
	switch strings.TrimSpace(c.ExtractSingleObjectPolicy) {
	case "single-item", "discard":
	default:
		return fmt.Errorf("EXTRACT_SINGLE_OBJECT_POLICY must be single-item or discard")
	}
	if c.MatchScoreThreshold < 0 || c.MatchScoreThreshold > 100 {
		return fmt.Errorf("MATCH_SCORE_THRESHOLD must be in [0, 100]")
	}
	if c.MatchCandidateLimit < 1 {
		return fmt.Errorf("MATCH_CANDIDATE_LIMIT must be >= 1")
	}
	if c.UploadStateTTL <= 0 {
		return fmt.Errorf("UPLOAD_STATE_TTL must be > 0")
	}
	if strings.TrimSpace(c.ScheduleSpec) == "" {
		return fmt.Errorf("SCHEDULE_SPEC is required")
	}
	return nil
}
