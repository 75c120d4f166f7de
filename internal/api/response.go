package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/HealBot/internal/models"
)

// internalErrorBody is sent when a response envelope cannot be encoded.
var internalErrorBody = mustEncode(models.Error("Internal server error"))

func mustEncode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("api: encode static response: %v", err))
	}
	return data
}

// writeJSONResponse encodes v before touching w, so an encoding failure still
// reaches the client as a 500 envelope.
func writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Server.writeJSONResponse: encode failed", "error", err, "status", status)
		body, status = internalErrorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("Server.writeJSONResponse: client went away", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, models.Error(msg))
}
