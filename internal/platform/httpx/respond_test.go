package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusServiceUnavailable, "Not Ready", "redis down")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Not Ready", body.Title)
	require.Equal(t, http.StatusServiceUnavailable, body.Status)
	require.Equal(t, "redis down", body.Detail)
}
