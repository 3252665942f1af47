package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-availability/internal/config"
	"github.com/example/fleet-availability/internal/notify"
)

const fixtureJSON = `{
  "zones": [{
    "id": "centro", "name": "Centro", "status": "active", "radius_km": 5,
    "center": {"lat": 40.4168, "lon": -3.7038},
    "vehicles": [{"vehicle_id": "v1", "driver_id": "d1"}]
  }],
  "agendas": [{
    "driver_id": "d1",
    "availability": [{"start_date": "2025-05-24T06:00:00Z", "end_date": "2025-05-24T10:00:00Z", "status": "available"}]
  }]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, k := range []string{"PG_DSN", "REDIS_ADDR", "KAFKA_BROKERS", "GOOGLE_MAPS_API_KEY"} {
		t.Setenv(k, "")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestAppServesFixtures(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	a, err := newApp(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	path := filepath.Join(t.TempDir(), "fixtures.json")
	require.NoError(t, os.WriteFile(path, []byte(fixtureJSON), 0o600))
	require.NoError(t, a.loadFixtures(ctx, path))
	// a second load keeps the existing agenda
	require.NoError(t, a.loadFixtures(ctx, path))

	body, _ := json.Marshal(map[string]any{
		"address":            "Gran Via, Madrid",
		"coordinates":        map[string]float64{"lat": 40.4168, "lon": -3.7038},
		"pickup_date":        "2025-05-24T09:00:00",
		"estimated_duration": 60,
	})
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/availability/check", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Total int `json:"total_vehicles_found"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Total)

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppPublisherFansOut(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.WebhookURL = "http://127.0.0.1:1/hook"
	a := &app{cfg: cfg, logger: slog.Default()}

	pub := a.publisher(notify.NewWSRegistry(nil))
	multi, ok := pub.(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
	assert.Empty(t, a.closers)

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	multi = a.publisher(notify.NewWSRegistry(nil)).(notify.Multi)
	assert.Len(t, multi, 3)
	assert.Len(t, a.closers, 1)
	require.NoError(t, a.Close())
}

func TestLoadFixturesRejectsBadJSON(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	assert.Error(t, a.loadFixtures(context.Background(), path))
}

func TestNewAppReturnsStoreErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Postgres.DSN = "postgres://u:p@127.0.0.1:1/fleet?sslmode=disable&connect_timeout=1"
	cfg.Postgres.Migrate = true

	var (
		a   *app
		err error
	)
	require.NotPanics(t, func() {
		a, err = newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "connect postgres")
}

func TestCloseRunsEveryCloser(t *testing.T) {
	var order []string
	a := &app{closers: []func() error{
		func() error { order = append(order, "first"); return nil },
		func() error { order = append(order, "second"); return errors.New("boom") },
	}}
	assert.EqualError(t, a.Close(), "boom")
	assert.Equal(t, []string{"second", "first"}, order)
	assert.NoError(t, a.Close())
}
