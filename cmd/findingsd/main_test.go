// ABOUTME: Tests for service wiring and the top-level HTTP surface.
// ABOUTME: Tests mock-mode assembly, health, metrics, security headers and method filtering.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jfeddern/VulnLedger/internal/config"
	"github.com/jfeddern/VulnLedger/internal/server"
	"github.com/jfeddern/VulnLedger/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockApp(t *testing.T) *App {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg, err := config.Parse(nil, func(key string) string {
		if key == "MOCK_MODE" {
			return "true"
		}
		return ""
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	app, err := NewApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	return app
}

func serve(app *App, method, path string, body string, role, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set(server.HeaderViewerRole, role)
		req.Header.Set(server.HeaderViewerID, id)
	}
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	app := newMockApp(t)

	w := serve(app, http.MethodGet, "/health", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","findings":0,"attachments":0}`, w.Body.String())
}

func TestSecurityMiddleware(t *testing.T) {
	app := newMockApp(t)

	w := serve(app, http.MethodGet, "/health", "", "", "")
	expectedHeaders := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'",
	}
	for header, expected := range expectedHeaders {
		assert.Equal(t, expected, w.Header().Get(header), header)
	}

	for _, method := range []string{http.MethodOptions, http.MethodTrace} {
		w := serve(app, method, "/health", "", "", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
	}
}

func TestMockModeEndToEnd(t *testing.T) {
	app := newMockApp(t)

	w := serve(app, http.MethodPost, "/projects/p1/findings", `{"name":"SQL injection","severity":"Critical"}`, "tester", "alice")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(app, http.MethodPost, "/enrichment", `{"vulnerability_name":"SQL injection"}`, "tester", "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var draft types.EnrichmentResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))
	assert.Contains(t, draft.Recommendation, "parameterised queries")

	w = serve(app, http.MethodGet, "/projects/p1/import/scan", "", "tester", "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var scan struct {
		Candidates []types.ImportCandidate `json:"candidates"`
		Plan       types.ImportPlan        `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scan))
	require.NotEmpty(t, scan.Candidates)
	assert.Len(t, scan.Plan.ToCreate, len(scan.Candidates))

	w = serve(app, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `vulnledger_findings{project_id="p1",severity="Critical",status="open",visibility_level="all"} 1`)
	assert.Contains(t, body, `vulnledger_enrichment_requests_total{outcome="success"} 1`)
	assert.Contains(t, body, `vulnledger_import_candidates_total{disposition="create",project_id="p1"}`)

	w = serve(app, http.MethodGet, "/health", "", "", "")
	assert.JSONEq(t, `{"status":"ok","findings":1,"attachments":0}`, w.Body.String())
}
