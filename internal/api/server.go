package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/config"
	"github.com/JakeFAU/docket-pipeline/internal/dispatcher"
	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/intake"
	"github.com/JakeFAU/docket-pipeline/internal/metrics"
)

const maxPayloadBytes = 32 << 20

// Stager stages raw payloads.
type Stager interface {
	Stage(ctx context.Context, sub intake.Submission) (docket.CaseRef, error)
}

// Scheduler admits staged cases and reports their progress.
type Scheduler interface {
	Enqueue(ctx context.Context, ref docket.CaseRef) (bool, error)
	Status(ref docket.CaseRef) (docket.ProcessingRecord, bool)
}

// Server wires HTTP handlers to the stager and scheduler.
type Server struct {
	router    chi.Router
	stager    Stager
	scheduler Scheduler
	idGen     docket.IDGenerator
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	stager Stager,
	scheduler Scheduler,
	idGen docket.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		stager:    stager,
		scheduler: scheduler,
		idGen:     idGen,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/cases/{country}/{state}/{jurisdiction}", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.submitCase)
		r.Get("/{govid}/status", s.caseStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitResponse struct {
	Case     docket.CaseRef `json:"case"`
	RawKey   string         `json:"raw_key"`
	Admitted bool           `json:"admitted"`
}

func (s *Server) submitCase(w http.ResponseWriter, r *http.Request) {
	key := jurisdictionKey(r)
	if err := key.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := intake.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	force, err := parseBool(r.URL.Query().Get("force"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "force must be a boolean")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "read payload")
		return
	}

	ref, err := s.stager.Stage(r.Context(), intake.Submission{
		Key:     key,
		Payload: payload,
		Mode:    mode,
		Force:   force,
	})
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	admitted, err := s.scheduler.Enqueue(r.Context(), ref)
	if err != nil {
		s.logger.Warn("staged case not enqueued",
			zap.String("case", ref.ID()), zap.String("request_id", requestID(r.Context())), zap.Error(err))
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dispatcher.ErrQueueFull):
			w.Header().Set("Retry-After", "30")
			status = http.StatusServiceUnavailable
		case errors.Is(err, dispatcher.ErrStopped):
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, fmt.Sprintf("payload staged but not enqueued: %v", err))
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse{Case: ref, RawKey: ref.RawKey(), Admitted: admitted})
}

func (s *Server) caseStatus(w http.ResponseWriter, r *http.Request) {
	ref := docket.CaseRef{Key: jurisdictionKey(r), GovID: chi.URLParam(r, "govid")}
	if err := ref.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok := s.scheduler.Status(ref)
	if !ok {
		s.writeError(w, http.StatusNotFound, "case not tracked")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeStageError(w http.ResponseWriter, r *http.Request, err error) {
	var schemaErr *docket.SchemaViolationError
	switch {
	case errors.As(err, &schemaErr):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  err.Error(),
			"reason": docket.ReasonSchemaViolation,
			"field":  schemaErr.Field,
		})
	case errors.Is(err, docket.ErrUnsupportedJurisdiction):
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  err.Error(),
			"reason": docket.ReasonUnsupportedJurisdiction,
		})
	default:
		s.logger.Error("stage failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  err.Error(),
			"reason": docket.Reason(err),
		})
	}
}

func jurisdictionKey(r *http.Request) docket.JurisdictionKey {
	return docket.JurisdictionKey{
		Country:      chi.URLParam(r, "country"),
		State:        chi.URLParam(r, "state"),
		Jurisdiction: chi.URLParam(r, "jurisdiction"),
	}
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse bool: %w", err)
	}
	return b, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
