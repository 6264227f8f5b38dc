package db

import (
	"encoding/json"
	"time"
)

// DiscoveryJob maps fund.discovery_jobs. One row per search-and-extract run;
// mutated only by the run that owns it and never reopened once terminal.
type DiscoveryJob struct {
	JobID            int64      `gorm:"column:job_id;primaryKey;autoIncrement"`
	DiscoveryJobUUID string     `gorm:"column:discovery_job_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Kind             string     `gorm:"column:kind;type:text;not null"`
	UserID           *string    `gorm:"column:user_id;type:text"`
	Query            string     `gorm:"column:query;type:text;not null"`
	Status           string     `gorm:"column:status;type:text;not null;default:pending"`
	ResultCount      int        `gorm:"column:result_count;type:integer;not null;default:0"`
	ErrorMessage     *string    `gorm:"column:error_message;type:text"`
	ScheduledAt      time.Time  `gorm:"column:scheduled_at;type:timestamptz;not null;default:now()"`
	CompletedAt      *time.Time `gorm:"column:completed_at;type:timestamptz"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (DiscoveryJob) TableName() string { return "fund.discovery_jobs" }

// Opportunity maps fund.opportunities. List-valued fields are stored as
// jsonb arrays of strings; the embedding column is a pgvector value written
// as a text literal.
type Opportunity struct {
	OpportunityID     int64           `gorm:"column:opportunity_id;primaryKey;autoIncrement"`
	OpportunityUUID   string          `gorm:"column:opportunity_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Title             string          `gorm:"column:title;type:text;not null"`
	Provider          string          `gorm:"column:provider;type:text;not null"`
	Description       string          `gorm:"column:description;type:text;not null;default:''"`
	Requirements      json.RawMessage `gorm:"column:requirements;type:jsonb;not null;default:'[]'"`
	RequiredDocuments json.RawMessage `gorm:"column:required_documents;type:jsonb;not null;default:'[]'"`
	EssayPrompts      json.RawMessage `gorm:"column:essay_prompts;type:jsonb;not null;default:'[]'"`
	Deadline          string          `gorm:"column:deadline;type:text;not null"`
	AwardAmount       *string         `gorm:"column:award_amount;type:text"`
	Region            *string         `gorm:"column:region;type:text"`
	ContactInfo       *string         `gorm:"column:contact_info;type:text"`
	ImageURL          *string         `gorm:"column:image_url;type:text"`
	ApplicationURL    string          `gorm:"column:application_url;type:text;not null"`
	Tags              json.RawMessage `gorm:"column:tags;type:jsonb;not null;default:'[]'"`
	SourceKind        string          `gorm:"column:source_kind;type:text;not null"`
	Embedding         *string         `gorm:"column:embedding;type:vector(1536)"`
	EmbeddingText     string          `gorm:"column:embedding_text;type:text;not null;default:''"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Opportunity) TableName() string { return "fund.opportunities" }

// UserProfile maps fund.user_profiles. Profile CRUD lives outside this
// service; this is the projection the query builder and matcher read.
type UserProfile struct {
	UserID                 string          `gorm:"column:user_id;type:text;primaryKey"`
	EducationLevel         *string         `gorm:"column:education_level;type:text"`
	IntendedEducationLevel *string         `gorm:"column:intended_education_level;type:text"`
	LegacyEducationLevel   *string         `gorm:"column:legacy_education_level;type:text"`
	Discipline             *string         `gorm:"column:discipline;type:text"`
	AcademicInterests      json.RawMessage `gorm:"column:academic_interests;type:jsonb;not null;default:'[]'"`
	Nationality            *string         `gorm:"column:nationality;type:text"`
	Embedding              *string         `gorm:"column:embedding;type:vector(1536)"`
	EmbeddingText          string          `gorm:"column:embedding_text;type:text;not null;default:''"`
	CreatedAt              time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (UserProfile) TableName() string { return "fund.user_profiles" }

// UserOpportunityMatch maps fund.user_opportunity_matches. At most one live
// row per (user, opportunity); overwrites follow the kind-priority merge rule.
type UserOpportunityMatch struct {
	MatchID            int64           `gorm:"column:match_id;primaryKey;autoIncrement"`
	MatchUUID          string          `gorm:"column:match_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	UserID             string          `gorm:"column:user_id;type:text;not null;uniqueIndex:idx_user_opportunity,priority:1"`
	OpportunityID      int64           `gorm:"column:opportunity_id;type:bigint;not null;uniqueIndex:idx_user_opportunity,priority:2"`
	MatchScore         float64         `gorm:"column:match_score;type:double precision;not null"`
	MatchKind          string          `gorm:"column:match_kind;type:text;not null"`
	Reasoning          string          `gorm:"column:reasoning;type:text;not null;default:''"`
	EligibilityFactors json.RawMessage `gorm:"column:eligibility_factors;type:jsonb;not null;default:'[]'"`
	MatchedAt          time.Time       `gorm:"column:matched_at;type:timestamptz;not null;default:now()"`
}

func (UserOpportunityMatch) TableName() string { return "fund.user_opportunity_matches" }

func autoMigrateModels() []any {
	return []any{
		&DiscoveryJob{},
		&Opportunity{},
		&UserProfile{},
		&UserOpportunityMatch{},
	}
}
