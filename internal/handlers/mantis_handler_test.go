package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/common"
	"github.com/copro-tools/pilotage/internal/jobs"
	"github.com/copro-tools/pilotage/internal/mantis"
	"github.com/copro-tools/pilotage/internal/models"
	"github.com/copro-tools/pilotage/internal/storage"
)

func newTestMantisHandler(t *testing.T, cfg common.MantisConfig) (*MantisHandler, *storage.TicketStore) {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	tickets, err := storage.NewTicketStore(files)
	require.NoError(t, err)

	logger := arbor.NewLogger()
	enricher := mantis.NewPriorityEnricher(30*time.Minute, 5*time.Minute, logger)
	refresh := jobs.NewRefreshRunner(cfg, tickets, enricher, logger)
	extracts := jobs.NewExtractManager(cfg, tickets, time.Hour, logger)
	return NewMantisHandler(cfg, tickets, enricher, refresh, extracts, logger), tickets
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthHandler(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestAllHandler_NoCache(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.AllHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/all", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "No data available. Please refresh.", body["error"])
}

func TestAllHandler_WithCache(t *testing.T) {
	cfg := common.MantisConfig{BaseURL: "https://mantis.example.fr"}
	h, tickets := newTestMantisHandler(t, cfg)
	require.NoError(t, tickets.Set(&models.TicketCache{
		Data:        []models.TicketRow{{models.ColIdentifier: "0001", models.ColPriority: "P1"}},
		Columns:     []string{models.ColIdentifier},
		LastUpdated: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC),
		Summary:     models.CacheSummary{TotalRows: 1},
	}))

	rec := httptest.NewRecorder()
	h.AllHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/all", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["isFromCache"])
	assert.Equal(t, "https://mantis.example.fr", body["baseUrl"])
	assert.Equal(t, "2026-03-02T07:00:00Z", body["lastUpdate"])
	assert.Len(t, body["issues"], 1)
}

func TestKPIHandler_CacheMissing(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.KPIHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/kpis", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "CACHE_MISSING", body["code"])
	assert.Contains(t, body["error"], "synchronisation")
}

func TestKPIHandler_WithCache(t *testing.T) {
	h, tickets := newTestMantisHandler(t, common.MantisConfig{})
	require.NoError(t, tickets.Set(&models.TicketCache{
		Data: []models.TicketRow{
			{models.ColCategory: "SD", models.ColStatus: "nouveau", models.ColAssignee: "j.martin", models.ColPriority: "P1"},
		},
		LastUpdated: time.Now().UTC(),
	}))

	rec := httptest.NewRecorder()
	h.KPIHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/kpis", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var report models.KPIReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.SDEnCours.Total)
	assert.Equal(t, 1, report.SDEnCours.P1)
}

func TestRefreshHandler_MissingConfiguration(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.RefreshHandler(rec, httptest.NewRequest(http.MethodPost, "/api/mantis/refresh", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Missing configuration")
}

func TestRefreshHandler_RequiresPost(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.RefreshHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefreshStatusHandler_Idle(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.RefreshStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/refresh-status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "idle", body["status"])
	assert.Equal(t, float64(0), body["progress"])
}

func TestExtractFullHandler_NoCache(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/mantis/extract-full", strings.NewReader(`{"domain":"SD"}`))
	rec := httptest.NewRecorder()
	h.ExtractFullHandler(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CACHE_MISSING", decodeBody(t, rec)["code"])
}

func TestExtractFullHandler_MissingDomain(t *testing.T) {
	h, tickets := newTestMantisHandler(t, common.MantisConfig{})
	require.NoError(t, tickets.Set(&models.TicketCache{
		Data:        []models.TicketRow{{models.ColIdentifier: "1", models.ColDomain: "SD"}},
		LastUpdated: time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/mantis/extract-full", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ExtractFullHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractFullHandler_UnknownDomain(t *testing.T) {
	h, tickets := newTestMantisHandler(t, common.MantisConfig{})
	require.NoError(t, tickets.Set(&models.TicketCache{
		Data:        []models.TicketRow{{models.ColIdentifier: "1", models.ColDomain: "SD"}},
		LastUpdated: time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/mantis/extract-full", strings.NewReader(`{"domain":"COMPTA"}`))
	rec := httptest.NewRecorder()
	h.ExtractFullHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "no tickets found for domain COMPTA")
}

func TestExtractStatusHandler_UnknownJob(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.ExtractStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/extract-status/extract-nope", nil), "extract-nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found", decodeBody(t, rec)["error"])
}

func TestExtractDownloadHandler_UnknownJob(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.ExtractDownloadHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/extract-download/extract-nope", nil), "extract-nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Result not ready or job not found", decodeBody(t, rec)["error"])
}

func TestExportXLSXHandler(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{BaseURL: "https://mantis.example.fr"})

	payload := `{"data":[{"Identifiant":"0001","Résumé":"Test"}],"columns":["Identifiant","Résumé"],"filename":"backlog"}`
	req := httptest.NewRequest(http.MethodPost, "/api/mantis/export/xlsx", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ExportXLSXHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=backlog.xlsx", rec.Header().Get("Content-Disposition"))
	assert.NotZero(t, rec.Body.Len())
}

func TestExportXLSXHandler_MissingData(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/mantis/export/xlsx", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ExportXLSXHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriorityHandler_MissingID(t *testing.T) {
	h, _ := newTestMantisHandler(t, common.MantisConfig{})

	rec := httptest.NewRecorder()
	h.PriorityHandler(rec, httptest.NewRequest(http.MethodGet, "/api/mantis/priority-p", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing id", decodeBody(t, rec)["error"])
}
