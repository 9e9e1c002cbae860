package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// CheckEnvelope mirrors the check endpoint's response wire format. Results
// stay as raw maps because rule keys are dynamic.
type CheckEnvelope struct {
	OK           int              `json:"ok"`
	Results      []map[string]any `json:"results"`
	RequestID    string           `json:"request_id"`
	ErrorMessage string           `json:"error_message"`
	TotalTokens  int              `json:"total_tokens"`
	ElapsedTime  float64          `json:"elapsed_time"`
}

// ruleCheck builds one selector of a check request.
func ruleCheck(ruleID, tenantID, columns string) map[string]any {
	return map[string]any{"ID": ruleID, "mlsId": tenantID, "CheckColumns": columns}
}

// listing builds one input record; fields hold the checkable columns.
func listing(mlsnum, tenantID string, fields map[string]string) map[string]any {
	rec := map[string]any{"mlsnum": mlsnum, "mlsId": tenantID}
	for k, v := range fields {
		rec[k] = v
	}
	return rec
}

// checkBody assembles a check request from selectors and records.
func checkBody(checks []map[string]any, data []map[string]any) map[string]any {
	return map[string]any{"AIViolationID": checks, "Data": data}
}

// PostJSON issues a POST against the running server and returns the status
// code and body.
func (app *TestApp) PostJSON(t *testing.T, path string, body any) (int, []byte) {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(app.BaseURL+path, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// Check submits a compliance job and decodes the response envelope.
func (app *TestApp) Check(t *testing.T, body map[string]any) (int, *CheckEnvelope) {
	t.Helper()

	status, raw := app.PostJSON(t, "/api/v1/compliance/check", body)
	var env CheckEnvelope
	require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
	return status, &env
}

// GetJSON issues a GET against the running server and decodes the body
// into out when it is non-nil.
func (app *TestApp) GetJSON(t *testing.T, path string, out any) int {
	t.Helper()

	resp, err := http.Get(app.BaseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}

// errorDetail decodes the {"detail": ...} error body.
func errorDetail(t *testing.T, body []byte) string {
	t.Helper()

	var e struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(body, &e), "body: %s", body)
	return e.Detail
}

// finding extracts one rule's finding from a record result, asserting that
// the rule key exists and carries a non-null object.
func finding(t *testing.T, result map[string]any, ruleID string) map[string]any {
	t.Helper()

	raw, ok := result[ruleID]
	require.True(t, ok, "result has no %s key: %v", ruleID, result)
	f, ok := raw.(map[string]any)
	require.True(t, ok, "%s finding is not an object: %v", ruleID, raw)
	return f
}
