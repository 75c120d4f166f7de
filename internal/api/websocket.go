package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/BTreeMap/HealBot/internal/models"
)

// wsFrame is one client message on the chat socket. A frame that is not
// JSON is treated as plain text.
type wsFrame struct {
	Text   string        `json:"text,omitempty"`
	Action models.Action `json:"action,omitempty"`
}

// wsHandler runs a browser chat. The user id comes from the "user" query
// parameter, or a fresh UUID that is announced in the first frame.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		userID = uuid.NewString()
	}
	if err := models.ValidateInbound(userID, ""); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acceptOpts := &websocket.AcceptOptions{}
	if origin := s.cfg.AllowedOrigin; origin == "" || origin == "*" {
		acceptOpts.InsecureSkipVerify = true
	} else {
		acceptOpts.OriginPatterns = []string{origin}
	}
	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		slog.Error("Server.wsHandler: accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	ctx := r.Context()
	slog.Info("Server.wsHandler: chat connected", "userID", userID)
	if err := writeFrame(ctx, conn, models.Success(map[string]string{"user_id": userID})); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				slog.Debug("Server.wsHandler: chat closed", "userID", userID)
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			slog.Warn("Server.wsHandler: read failed", "error", err, "userID", userID)
			return
		}

		ev, err := toEvent(frameRequest(userID, data))
		if err != nil {
			if werr := writeFrame(ctx, conn, models.Error(err.Error())); werr != nil {
				return
			}
			continue
		}
		out := s.practice.Handle(ctx, ev)
		if out.Empty() {
			continue
		}
		if err := writeFrame(ctx, conn, models.Success(out)); err != nil {
			slog.Warn("Server.wsHandler: write failed", "error", err, "userID", userID)
			return
		}
	}
}

func frameRequest(userID string, data []byte) eventRequest {
	req := eventRequest{UserID: userID, MessageID: uuid.NewString()}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err == nil && (frame.Text != "" || frame.Action != models.ActionNone) {
		req.Text = frame.Text
		req.Action = frame.Action
		return req
	}
	req.Text = string(data)
	return req
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		data = internalErrorBody
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
