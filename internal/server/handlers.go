package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/observe"
)

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	Inputs          []string `json:"inputs"`
	Truncate        *bool    `json:"truncate,omitempty"`
	InstructionType string   `json:"instruction_type,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	ModelID string `json:"model_id"`
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req EmbedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	if req.Inputs == nil {
		s.respondError(w, http.StatusBadRequest, "invalid_input", "inputs is required")
		return
	}
	intent, err := embedding.ParseIntent(req.InstructionType)
	if err != nil {
		s.respondEmbedError(w, r, err)
		return
	}
	truncate := true
	if req.Truncate != nil {
		truncate = *req.Truncate
	}

	s.logger.Debug("embed request",
		zap.Int("inputs", len(req.Inputs)),
		zap.String("instruction_type", string(intent)),
		zap.Bool("truncate", truncate))
	vectors, err := s.engine.Embed(r.Context(), req.Inputs, intent, truncate)
	if err != nil {
		s.respondEmbedError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, vectors)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		ModelID: s.engine.Handle().ModelID(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Handle().Describe())
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State()
	if state != embedding.StateReady {
		w.Header().Set("Retry-After", "1")
		s.respondJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", State: state.String()})
		return
	}
	s.respondJSON(w, http.StatusOK, ReadyResponse{Status: "ready", State: state.String()})
}

// statusFor maps an engine error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch kind := embedding.KindOf(err); kind {
	case embedding.KindInvalidInput:
		return http.StatusBadRequest, kind.String()
	case embedding.KindNotReady, embedding.KindUnavailable:
		return http.StatusServiceUnavailable, kind.String()
	case embedding.KindEncodeFailure:
		return http.StatusInternalServerError, kind.String()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) respondEmbedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	log := observe.Logger(r.Context(), s.logger)
	if status >= 500 {
		log.Error("embed failed", zap.String("error_kind", code), zap.Error(err))
	} else {
		log.Debug("embed rejected", zap.String("error_kind", code), zap.Error(err))
	}
	s.respondError(w, status, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, detail string) {
	s.respondJSON(w, status, ErrorResponse{Error: code, Detail: detail})
}
