package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"horse.fit/stipend/internal/db"
	"horse.fit/stipend/internal/discovery"
	"horse.fit/stipend/internal/globaltime"
	"horse.fit/stipend/internal/match"
	"horse.fit/stipend/internal/query"
	"horse.fit/stipend/internal/store"
	"horse.fit/stipend/internal/uploadstate"
)

type createRunRequest struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

type runResponse struct {
	JobUUID     string     `json:"job_uuid"`
	Kind        string     `json:"kind"`
	UserID      *string    `json:"user_id,omitempty"`
	Query       string     `json:"query"`
	Status      string     `json:"status"`
	ResultCount int        `json:"result_count"`
	Error       *string    `json:"error,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "stipend",
		"time":    globaltime.UTC(),
	})
}

// handleCreateDiscoveryRun accepts a run request, records the pending job,
// and executes it in the background. The response carries the job UUID for
// later polling.
func (s *Server) handleCreateDiscoveryRun(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}

	runReq, failure, err := s.buildRunRequest(c.Request().Context(), req)
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve discovery run request failed")
		return internalError(c, "Failed to start discovery run")
	}
	if failure != nil {
		return fail(c, failure.status, failure.message, nil)
	}

	job, err := s.discovery.Prepare(c.Request().Context(), runReq)
	if err != nil {
		s.logger.Error().Err(err).Msg("prepare discovery run failed")
		return internalError(c, "Failed to start discovery run")
	}

	execCtx := context.WithoutCancel(c.Request().Context())
	go func() {
		if _, err := s.discovery.Execute(execCtx, job, runReq); err != nil {
			s.logger.Error().Err(err).Str("job_uuid", job.UUID).Msg("discovery run failed")
		}
	}()

	return successWithStatus(c, http.StatusAccepted, jobToResponse(job))
}

type requestFailure struct {
	status  int
	message string
}

func (s *Server) buildRunRequest(ctx context.Context, req createRunRequest) (discovery.RunRequest, *requestFailure, error) {
	kind := store.JobKind(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = store.JobKindGeneral
	}

	switch kind {
	case store.JobKindGeneral:
		freeText := strings.TrimSpace(req.Query)
		if freeText == "" {
			return discovery.RunRequest{}, &requestFailure{http.StatusBadRequest, "query is required for a general run"}, nil
		}
		return discovery.RunRequest{
			Kind:  kind,
			Query: query.BuildFreeTextQuery(freeText),
			Scope: "general",
		}, nil, nil

	case store.JobKindProfileScoped:
		userID := strings.TrimSpace(req.UserID)
		if userID == "" {
			return discovery.RunRequest{}, &requestFailure{http.StatusBadRequest, "user_id is required for a profile-scoped run"}, nil
		}
		row, err := s.storage.GetUserProfile(ctx, userID)
		if err != nil {
			if db.IsNoRows(err) {
				return discovery.RunRequest{}, &requestFailure{http.StatusNotFound, "User profile not found"}, nil
			}
			return discovery.RunRequest{}, nil, err
		}
		return discovery.RunRequest{
			Kind:   kind,
			UserID: &userID,
			Query:  query.BuildProfileQuery(queryProfile(row.Profile)),
			Scope:  "profile",
		}, nil, nil

	default:
		return discovery.RunRequest{}, &requestFailure{http.StatusBadRequest, "unknown run kind"}, nil
	}
}

func (s *Server) handleGetDiscoveryRun(c echo.Context) error {
	jobUUID := strings.TrimSpace(c.Param("job_uuid"))
	if _, err := uuid.Parse(jobUUID); err != nil {
		return fail(c, http.StatusBadRequest, "invalid job uuid", nil)
	}

	job, found, err := s.storage.GetJobByUUID(c.Request().Context(), jobUUID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_uuid", jobUUID).Msg("load discovery job failed")
		return internalError(c, "Failed to load discovery run")
	}
	if !found {
		return failNotFound(c, "Discovery run not found")
	}
	return success(c, jobToResponse(job))
}

type matchItem struct {
	OpportunityID      int64     `json:"opportunity_id"`
	Title              string    `json:"title"`
	Provider           string    `json:"provider"`
	Deadline           string    `json:"deadline"`
	ApplicationURL     string    `json:"application_url"`
	MatchScore         float64   `json:"match_score"`
	MatchKind          string    `json:"match_kind"`
	Reasoning          string    `json:"reasoning"`
	EligibilityFactors []string  `json:"eligibility_factors"`
	MatchedAt          time.Time `json:"matched_at"`
}

func (s *Server) handleListUserMatches(c echo.Context) error {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		return fail(c, http.StatusBadRequest, "user_id is required", nil)
	}

	limit := defaultMatchPageSize
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return fail(c, http.StatusBadRequest, "invalid limit", nil)
		}
		if parsed > maxMatchPageSize {
			parsed = maxMatchPageSize
		}
		limit = parsed
	}

	matches, err := s.storage.ListMatchesForUser(c.Request().Context(), userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("list matches failed")
		return internalError(c, "Failed to load matches")
	}

	items := make([]matchItem, 0, len(matches))
	for _, m := range matches {
		item := matchItem{
			OpportunityID:      m.OpportunityID,
			MatchScore:         m.MatchScore,
			MatchKind:          m.MatchKind,
			Reasoning:          m.Reasoning,
			EligibilityFactors: m.EligibilityFactors,
			MatchedAt:          m.MatchedAt,
		}
		opp, found, err := s.storage.GetOpportunity(c.Request().Context(), m.OpportunityID)
		if err != nil {
			s.logger.Error().Err(err).Int64("opportunity_id", m.OpportunityID).Msg("load opportunity failed")
			return internalError(c, "Failed to load matches")
		}
		if found {
			item.Title = opp.Title
			item.Provider = opp.Provider
			item.Deadline = opp.Deadline
			item.ApplicationURL = opp.ApplicationURL
		}
		items = append(items, item)
	}

	return success(c, map[string]any{
		"user_id": userID,
		"items":   items,
	})
}

type runMatchesRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleRunUserMatches(c echo.Context) error {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		return fail(c, http.StatusBadRequest, "user_id is required", nil)
	}

	var req runMatchesRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	kind := match.Kind(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = match.KindUserSearch
	}
	if !match.ValidKind(kind) {
		return fail(c, http.StatusBadRequest, "unknown match kind", nil)
	}

	result, err := s.matcher.RunForUser(c.Request().Context(), userID, kind)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "User profile not found")
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("matching pass failed")
		return internalError(c, "Matching pass failed")
	}
	return success(c, map[string]any{
		"user_id":   result.UserID,
		"scored":    result.Scored,
		"persisted": result.Persisted,
	})
}

type createUploadRequest struct {
	UserID   string `json:"user_id"`
	Purpose  string `json:"purpose"`
	Filename string `json:"filename"`
}

func (s *Server) handleCreateUpload(c echo.Context) error {
	var req createUploadRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Filename) == "" {
		return fail(c, http.StatusBadRequest, "user_id and filename are required", nil)
	}

	handle := uploadstate.Handle{
		Token:     uuid.NewString(),
		UserID:    strings.TrimSpace(req.UserID),
		Purpose:   strings.TrimSpace(req.Purpose),
		Filename:  strings.TrimSpace(req.Filename),
		CreatedAt: globaltime.UTC(),
	}
	if err := s.uploads.Put(c.Request().Context(), handle); err != nil {
		s.logger.Error().Err(err).Msg("store upload handle failed")
		return internalError(c, "Failed to create upload handle")
	}

	return successWithStatus(c, http.StatusCreated, map[string]any{
		"upload_token":       handle.Token,
		"expires_in_seconds": int(s.opts.UploadTTL.Seconds()),
	})
}

type confirmUploadRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleConfirmUpload(c echo.Context) error {
	var req confirmUploadRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return fail(c, http.StatusBadRequest, "token is required", nil)
	}

	handle, found, err := s.uploads.Take(c.Request().Context(), token)
	if err != nil {
		s.logger.Error().Err(err).Msg("take upload handle failed")
		return internalError(c, "Failed to confirm upload")
	}
	if !found {
		return failNotFound(c, "Upload handle not found or expired")
	}

	return success(c, map[string]any{
		"user_id":  handle.UserID,
		"purpose":  handle.Purpose,
		"filename": handle.Filename,
	})
}

func jobToResponse(job store.DiscoveryJob) runResponse {
	return runResponse{
		JobUUID:     job.UUID,
		Kind:        string(job.Kind),
		UserID:      job.UserID,
		Query:       job.Query,
		Status:      string(job.Status),
		ResultCount: job.ResultCount,
		Error:       job.ErrorMessage,
		ScheduledAt: job.ScheduledAt,
		CompletedAt: job.CompletedAt,
	}
}

func queryProfile(p match.Profile) query.Profile {
	return query.Profile{
		EducationLevel:         p.EducationLevel,
		IntendedEducationLevel: p.IntendedEducationLevel,
		Discipline:             p.Discipline,
		AcademicInterests:      p.AcademicInterests,
		Nationality:            p.Nationality,
	}
}
