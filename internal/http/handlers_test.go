package http

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"filtersense/internal/config"
	"filtersense/internal/domain"
	"filtersense/internal/service"
)

func newTestApp(t *testing.T) (*fiber.App, *service.Services) {
	t.Helper()
	cfg := config.Default()
	cfg.Kalman.MinIndoorPM25ForLearning = 0.5
	cfg.Kalman.MinOutdoorPM25ForLearning = 5
	svcs := service.New(cfg, zerolog.Nop())
	app := fiber.New()
	Register(app, svcs)
	return app, svcs
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestEfficiency_NotFoundBeforeData(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/efficiency", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPostMeasurementThenEfficiency(t *testing.T) {
	app, _ := newTestApp(t)

	body, err := json.Marshal(domain.Measurement{
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		IndoorPM25:  6,
		OutdoorPM25: 40,
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/measurements", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/efficiency", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var est domain.EfficiencyEstimate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&est))
	require.Equal(t, 1, est.Measurements)
}

func TestPostMeasurement_BadBody(t *testing.T) {
	app, _ := newTestApp(t)
	req := httptest.NewRequest("POST", "/measurements", bytes.NewReader([]byte("nope")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestFitRun_InsufficientData(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("POST", "/fit/run", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestFitEndpoints(t *testing.T) {
	app, svcs := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/fit", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// Feed enough night-time data for a calibration run.
	ts := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		outdoor := 30 + float64(i%5)*4
		svcs.Tracking.Ingest(domain.Measurement{
			Timestamp:   ts.Add(time.Duration(i) * 5 * time.Minute),
			IndoorPM25:  outdoor * 0.16,
			OutdoorPM25: outdoor,
		})
	}

	resp, err = app.Test(httptest.NewRequest("POST", "/fit/run", nil), 30000)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/fit", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/recommendations", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var rec domain.Recommendation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.NotEqual(t, "no_analysis", rec.Status)
}

func TestSummaryAndDaily(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/summary", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/daily", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
