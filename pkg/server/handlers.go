package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/yukioka/tsuzuki/pkg/bus"
	"github.com/yukioka/tsuzuki/pkg/engine"
	"github.com/yukioka/tsuzuki/pkg/memory"
	"github.com/yukioka/tsuzuki/pkg/persona"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(c echo.Context) error {
	var req engine.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}

	reply, err := s.engine.Handle(c.Request().Context(), req)
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrPlatformNotAllowed):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case err != nil:
		s.log.Error("chat failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
	return c.JSON(http.StatusOK, reply)
}

type memorySearchRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
}

type memoryRecordResponse struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Key        string  `json:"key"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	LastSeenMS int64   `json:"last_seen_ms"`
}

func (s *Server) handleMemorySearch(c echo.Context) error {
	var req memorySearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "session_id and query are required"})
	}
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 10
	}

	if _, err := s.memory.Session(c.Request().Context(), req.SessionID); err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown session"})
		}
		s.log.Error("session lookup failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}

	records, err := s.memory.SearchRecords(c.Request().Context(), req.SessionID, req.Query, req.Limit)
	if err != nil {
		s.log.Error("memory search failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}

	out := make([]memoryRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, memoryRecordResponse{
			ID:         r.ID,
			Kind:       string(r.Kind),
			Key:        r.Key,
			Content:    r.Content,
			Confidence: r.Confidence,
			LastSeenMS: r.LastSeenAtMS,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"records": out})
}

func (s *Server) handleGetPersona(c echo.Context) error {
	return c.JSON(http.StatusOK, s.profiles.Current())
}

// handlePutPersona swaps the process-wide profile. Requests already in
// flight keep the profile they started with.
func (s *Server) handlePutPersona(c echo.Context) error {
	p := persona.DefaultProfile()
	if err := c.Bind(p); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed profile"})
	}
	if strings.TrimSpace(p.Name) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "profile name is required"})
	}
	for trait, w := range p.Traits {
		if w < 0 || w > 1 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "trait " + trait + " must be within [0, 1]"})
		}
	}

	s.profiles.Swap(p)
	if s.opts.ProfilePath != "" {
		if err := persona.SaveProfile(s.opts.ProfilePath, p); err != nil {
			s.log.Warn("profile not persisted", zap.Error(err))
		}
	}
	s.bus.Publish(bus.Event{Kind: bus.EventProfileUpdated, At: time.Now()})
	s.log.Info("profile updated", zap.String("name", p.Name))

	return c.JSON(http.StatusOK, p)
}
