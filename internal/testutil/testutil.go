// Package testutil holds HTTP helpers and fakes shared by HealBot tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/HealBot/internal/models"
)

// RequireStatus fails the test when the recorded status code is not want.
// The body is included so envelope errors show up in the failure.
func RequireStatus(t testing.TB, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

// DecodeEnvelope decodes an API envelope, checks its status field and, when
// result is non-nil, decodes the envelope's result into it.
func DecodeEnvelope(t testing.TB, rr *httptest.ResponseRecorder, want models.APIStatus, result interface{}) models.APIResponse {
	t.Helper()
	var raw struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("body is not an envelope: %v (%s)", err, rr.Body.String())
	}
	if raw.Status != string(want) {
		t.Errorf("envelope status = %q, want %q (message %q)", raw.Status, want, raw.Message)
	}
	if result != nil && len(raw.Result) > 0 {
		if err := json.Unmarshal(raw.Result, result); err != nil {
			t.Fatalf("decode envelope result: %v", err)
		}
	}
	return models.APIResponse{Status: raw.Status, Message: raw.Message, Result: result}
}

// JSONRequest builds a server-side request carrying body as JSON.
func JSONRequest(t testing.TB, method, target string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}
