package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movatlas/movements/internal/config"
	"github.com/movatlas/movements/internal/handlers"
	"github.com/movatlas/movements/internal/logging"
	"github.com/movatlas/movements/pkg/core"
)

type staticSource []core.MovementRecord

func (s staticSource) Fetch(context.Context, core.YearRange) ([]core.MovementRecord, error) {
	return s, nil
}

func (s staticSource) Search(context.Context, core.YearRange, string, string) ([]core.MovementRecord, error) {
	return s, nil
}

func (s staticSource) Roles(context.Context) ([]string, error) {
	return []string{"mercante"}, nil
}

func newTestServer(t *testing.T, logger *slog.Logger) *httptest.Server {
	svc := handlers.NewService(handlers.Dependencies{
		Source: staticSource{{
			ID:          "1",
			PlaceName:   core.Ptr("Lyon"),
			Coordinates: &core.Coordinates{Lng: 4.83, Lat: 45.76},
			YearStart:   core.Ptr(1550),
			Role:        "mercante",
		}},
		Domain: core.YearRange{Min: 1500, Max: 1600},
		Bundle: true,
		Logger: logger,
	})
	srv := NewServer(config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        0,
		CorsOrigins: []string{"https://movatlas.example"},
	}, svc, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{
		"/api/health",
		"/api/v1/aggregates?from=1500&to=1600",
		"/api/v1/markers",
		"/api/v1/roles",
		"/api/v1/search?text=lyon",
		"/api/v1/trajectory",
		"/api/v1/export?format=json",
		"/api/v1/exports",
	} {
		resp := get(t, ts.URL+path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp := get(t, ts.URL+"/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := get(t, ts.URL+"/api/v1/roles", map[string]string{"Origin": "https://movatlas.example"})
	assert.Equal(t, "https://movatlas.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = get(t, ts.URL+"/api/v1/roles", map[string]string{"Origin": "https://elsewhere.example"})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.NewContextHandler(slog.NewJSONHandler(&buf, nil)))
	ts := newTestServer(t, logger)

	resp := get(t, ts.URL+"/api/v1/roles", nil)
	_, _ = io.Copy(io.Discard, resp.Body)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, "/api/v1/roles", entry["path"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestAddr(t *testing.T) {
	srv := NewServer(config.ServerConfig{Host: "0.0.0.0", Port: 9000}, handlers.NewService(handlers.Dependencies{}), nil)
	assert.Equal(t, "0.0.0.0:9000", srv.Addr())
}
