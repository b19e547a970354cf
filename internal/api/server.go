package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/gosegmentd/internal/authz"
	"github.com/TimurManjosov/gosegmentd/internal/segments"
	"github.com/TimurManjosov/gosegmentd/internal/store"
	"github.com/TimurManjosov/gosegmentd/internal/telemetry"
	"github.com/TimurManjosov/gosegmentd/internal/versioning"
)

// Server exposes the segment definition service over HTTP.
type Server struct {
	svc            *versioning.Service
	adminAPIKey    string
	rateLimitPerIP int
	log            zerolog.Logger
}

// NewServer wires the HTTP layer around the versioning service.
func NewServer(svc *versioning.Service, adminAPIKey string, rateLimitPerIP int, log zerolog.Logger) *Server {
	return &Server{svc: svc, adminAPIKey: adminAPIKey, rateLimitPerIP: rateLimitPerIP, log: log}
}

// Router builds the chi router with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(telemetry.Middleware)
	if s.rateLimitPerIP > 0 {
		r.Use(httprate.LimitByIP(s.rateLimitPerIP, time.Minute))
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// reads
	r.Get("/v1/projects/{projectID}/segments", s.handleListSegments)
	r.Get("/v1/segments/{segmentID}", s.handleGetSegment)
	r.Get("/v1/segments/{segmentID}/versions", s.handleListVersions)

	// admin (protected): mutations
	r.Post("/v1/projects/{projectID}/segments", s.authAdmin(s.handleCreateSegment))
	r.Put("/v1/segments/{segmentID}/rules", s.authAdmin(s.handleSubmitDefinition))
	r.Delete("/v1/segments/{segmentID}", s.authAdmin(s.handleDeleteSegment))
	r.Post("/v1/segments/{segmentID}/whitelist", s.authAdmin(s.handleWhitelist))
	r.Delete("/v1/segments/{segmentID}/whitelist", s.authAdmin(s.handleUnwhitelist))

	return r
}

// ---- handlers ----

type createSegmentRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	FeatureID   *int64                 `json:"featureId,omitempty"`
	Rules       []segments.RulePayload `json:"rules"`
}

type submitDefinitionRequest struct {
	Rules []segments.RulePayload `json:"rules"`
}

type submitDefinitionResponse struct {
	Segment    segments.Segment `json:"segment"`
	SnapshotID *int64           `json:"snapshotId,omitempty"`
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}

	var req createSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest,
			NewErrorResponse(http.StatusBadRequest, ErrCodeInvalidJSON, "invalid JSON"))
		return
	}

	seg, err := s.svc.CreateSegment(r.Context(), actorFrom(r), versioning.CreateParams{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		ProjectID:   projectID,
		FeatureID:   req.FeatureID,
		Rules:       req.Rules,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, seg)
}

func (s *Server) handleSubmitDefinition(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathID(w, r, "segmentID")
	if !ok {
		return
	}

	var req submitDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest,
			NewErrorResponse(http.StatusBadRequest, ErrCodeInvalidJSON, "invalid JSON"))
		return
	}

	result, err := s.svc.SubmitDefinition(r.Context(), actorFrom(r), segmentID, req.Rules)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitDefinitionResponse{
		Segment:    result.Live,
		SnapshotID: result.SnapshotID,
	})
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathID(w, r, "segmentID")
	if !ok {
		return
	}
	if err := s.svc.DeleteSegment(r.Context(), actorFrom(r), segmentID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathID(w, r, "segmentID")
	if !ok {
		return
	}
	seg, err := s.svc.GetSegment(r.Context(), segmentID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	segs, err := s.svc.ListSegments(r.Context(), projectID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if segs == nil {
		segs = []segments.Segment{}
	}
	writeJSON(w, http.StatusOK, segs)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathID(w, r, "segmentID")
	if !ok {
		return
	}
	versions, err := s.svc.ListVersions(r.Context(), segmentID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathID(w, r, "segmentID")
	if !ok {
		return
	}
	wl, err := s.svc.Whitelist(r.Context(), actorFrom(r), segmentID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wl)
}

func (s *Server) handleUnwhitelist(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathID(w, r, "segmentID")
	if !ok {
		return
	}
	if err := s.svc.Unwhitelist(r.Context(), actorFrom(r), segmentID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- middleware & helpers ----

func (s *Server) authAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const scheme = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, scheme) {
			writeErrorResponse(w, r, http.StatusUnauthorized,
				NewErrorResponse(http.StatusUnauthorized, ErrCodeUnauthorized, "missing or malformed bearer token"))
			return
		}
		got := strings.TrimSpace(header[len(scheme):])
		if got == "" {
			writeErrorResponse(w, r, http.StatusUnauthorized,
				NewErrorResponse(http.StatusUnauthorized, ErrCodeUnauthorized, "missing or malformed bearer token"))
			return
		}
		// constant-time compare
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminAPIKey)) != 1 {
			writeErrorResponse(w, r, http.StatusForbidden,
				NewErrorResponse(http.StatusForbidden, ErrCodeForbidden, "invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	}
}

// actorFrom maps the authenticated request onto an authz actor. Admin-key
// auth means every authenticated mutation acts as the admin.
func actorFrom(r *http.Request) authz.Actor {
	return authz.Actor{ID: "admin", Role: authz.RoleAdmin}
}

// writeDomainError maps service errors onto the HTTP error taxonomy.
// Structural invariant failures are deliberately opaque to callers: the
// detail goes to the log, the client only learns the clone failed.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeErrorResponse(w, r, http.StatusNotFound,
			NewErrorResponse(http.StatusNotFound, ErrCodeNotFound, "segment not found"))
	case errors.Is(err, authz.ErrDenied):
		writeErrorResponse(w, r, http.StatusForbidden,
			NewErrorResponse(http.StatusForbidden, ErrCodeForbidden, "modification not permitted"))
	case errors.Is(err, store.ErrVersionConflict):
		writeErrorResponse(w, r, http.StatusConflict,
			NewErrorResponse(http.StatusConflict, ErrCodeVersionConflict,
				"segment was modified concurrently, retry the edit").Retry())
	case errors.Is(err, segments.ErrStructuralDepth),
		errors.Is(err, segments.ErrCloneMismatch),
		errors.Is(err, segments.ErrOrphanedRule):
		s.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).
			Msg("structural invariant failure")
		writeErrorResponse(w, r, http.StatusInternalServerError,
			NewErrorResponse(http.StatusInternalServerError, ErrCodeCloneFailed, "clone failed"))
	case errors.Is(err, segments.ErrInvalidKind),
		errors.Is(err, segments.ErrInvalidOperator),
		errors.Is(err, segments.ErrValueTooLong),
		errors.Is(err, segments.ErrInvalidParentage),
		errors.Is(err, segments.ErrTooDeeplyNested),
		errors.Is(err, segments.ErrDefinitionTooLarge),
		errors.Is(err, segments.ErrNameRequired),
		errors.Is(err, segments.ErrNameTooLong):
		writeErrorResponse(w, r, http.StatusBadRequest,
			NewErrorResponse(http.StatusBadRequest, ErrCodeValidation, err.Error()))
	default:
		s.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).
			Msg("internal error")
		writeErrorResponse(w, r, http.StatusInternalServerError,
			NewErrorResponse(http.StatusInternalServerError, ErrCodeInternal, "internal error"))
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeErrorResponse(w, r, http.StatusBadRequest,
			NewErrorResponse(http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
