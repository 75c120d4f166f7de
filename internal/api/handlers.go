package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/HealBot/internal/flow"
	"github.com/BTreeMap/HealBot/internal/models"
)

// eventRequest is the JSON gateway contract for one inbound event.
// Action, when set, is a button press; otherwise Text is parsed.
type eventRequest struct {
	UserID    string        `json:"user_id"`
	Text      string        `json:"text,omitempty"`
	Action    models.Action `json:"action,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
}

// eventResponse carries the ordered reply segments.
type eventResponse struct {
	Replies []models.Reply `json:"replies"`
	State   string         `json:"state"`
}

// sessionView is the operator view of a session.
type sessionView struct {
	UserID     string         `json:"user_id"`
	Stage      models.Stage   `json:"stage"`
	SubStage   string         `json:"substage,omitempty"`
	WaitingFor string         `json:"waiting_for"`
	History    models.History `json:"history"`
	Triage     string         `json:"triage,omitempty"`
	Version    int64          `json:"version"`
	UpdatedAt  string         `json:"updated_at"`
}

func toEvent(req eventRequest) (models.Event, error) {
	if err := models.ValidateInbound(req.UserID, req.Text); err != nil {
		return models.Event{}, err
	}
	if req.Action != models.ActionNone {
		ev := models.Event{UserID: req.UserID, Kind: models.EventButton, Action: req.Action, MessageID: req.MessageID}
		return ev, ev.Validate()
	}
	if req.Text == "" {
		return models.Event{}, errors.New("either text or action is required")
	}
	return flow.ParseInput(req.UserID, req.Text, req.MessageID), nil
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2*models.MaxMessageLength)).Decode(&req); err != nil {
		slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	ev, err := toEvent(req)
	if err != nil {
		slog.Warn("Server.eventsHandler: invalid event", "error", err, "userID", req.UserID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := s.practice.Handle(r.Context(), ev)
	state := "idle"
	if sess, err := s.practice.Inspect(r.Context(), ev.UserID); err == nil && sess != nil {
		state = sess.State().String()
	}
	replies := out.Replies
	if replies == nil {
		replies = []models.Reply{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(eventResponse{Replies: replies, State: state}))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, err := s.practice.Inspect(r.Context(), userID)
	if err != nil {
		slog.Error("Server.getSessionHandler: store read failed", "error", err, "userID", userID)
		writeError(w, http.StatusInternalServerError, "Failed to read session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, models.ErrSessionNotFound.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessionView{
		UserID:     sess.UserID,
		Stage:      sess.Stage,
		SubStage:   string(sess.SubStage),
		WaitingFor: string(sess.WaitingFor),
		History:    sess.History,
		Triage:     string(sess.Triage),
		Version:    sess.Version,
		UpdatedAt:  sess.UpdatedAt.UTC().Format(time.RFC3339),
	}))
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.practice.Reset(r.Context(), userID); err != nil {
		slog.Error("Server.deleteSessionHandler: reset failed", "error", err, "userID", userID)
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	slog.Info("Server.deleteSessionHandler: session reset by operator", "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}

type healthView struct {
	Engine string `json:"engine"`
	Store  string `json:"store"`
}

// healthHandler reports 503 only when the store is unreachable. An
// unhealthy engine is reported as degraded.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), DefaultHealthTimeout)
	defer cancel()

	view := healthView{Engine: "unknown", Store: "unknown"}
	status := http.StatusOK
	if s.cfg.Store != nil {
		if err := s.cfg.Store.Ping(ctx); err != nil {
			slog.Warn("Server.healthHandler: store ping failed", "error", err)
			view.Store = "down"
			status = http.StatusServiceUnavailable
		} else {
			view.Store = "up"
		}
	}
	if s.cfg.Engine != nil {
		if s.cfg.Engine.HealthCheck(ctx) {
			view.Engine = "up"
		} else {
			view.Engine = "degraded"
		}
	}
	if status != http.StatusOK {
		writeJSONResponse(w, status, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusError).
			WithMessage("store unavailable").
			WithResult(view).
			Build())
		return
	}
	writeJSONResponse(w, status, models.Success(view))
}
