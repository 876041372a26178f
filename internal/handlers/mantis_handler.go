package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/common"
	"github.com/copro-tools/pilotage/internal/export"
	"github.com/copro-tools/pilotage/internal/jobs"
	"github.com/copro-tools/pilotage/internal/kpi"
	"github.com/copro-tools/pilotage/internal/mantis"
	"github.com/copro-tools/pilotage/internal/models"
	"github.com/copro-tools/pilotage/internal/storage"
)

// cacheMissingMessage is shown when an endpoint needs the snapshot before
// any refresh has run.
const cacheMissingMessage = "Cache Mantis non disponible. Veuillez lancer une synchronisation."

// MantisHandler serves the tracker-facing endpoints: snapshot queries,
// KPIs, refresh and extraction jobs, targeted re-enrichment and the
// spreadsheet export.
type MantisHandler struct {
	cfg      common.MantisConfig
	tickets  *storage.TicketStore
	enricher *mantis.PriorityEnricher
	refresh  *jobs.RefreshRunner
	extracts *jobs.ExtractManager
	logger   arbor.ILogger
}

// NewMantisHandler creates a handler over the given services.
func NewMantisHandler(cfg common.MantisConfig, tickets *storage.TicketStore, enricher *mantis.PriorityEnricher, refresh *jobs.RefreshRunner, extracts *jobs.ExtractManager, logger arbor.ILogger) *MantisHandler {
	return &MantisHandler{
		cfg:      cfg,
		tickets:  tickets,
		enricher: enricher,
		refresh:  refresh,
		extracts: extracts,
		logger:   logger,
	}
}

// HealthHandler reports liveness.
func (h *MantisHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// AllHandler returns the full cached snapshot.
func (h *MantisHandler) AllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	cache := h.tickets.Get()
	if cache == nil {
		WriteError(w, http.StatusNotFound, "No data available. Please refresh.")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"issues":      cache.Data,
		"columns":     cache.Columns,
		"lastUpdate":  cache.LastUpdated.Format(time.RFC3339),
		"summary":     cache.Summary,
		"isFromCache": true,
		"baseUrl":     h.cfg.BaseURL,
	})
}

// KPIHandler computes the dashboard metrics over the snapshot.
func (h *MantisHandler) KPIHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	cache := h.tickets.Get()
	if cache == nil {
		h.logger.Warn().Str("path", r.URL.Path).Msg("KPI request before first refresh")
		WriteErrorCode(w, http.StatusServiceUnavailable, cacheMissingMessage, "CACHE_MISSING")
		return
	}

	report := kpi.Compute(cache, time.Now())
	h.logger.Info().
		Int("sd_en_cours", report.SDEnCours.Total).
		Int("sd_testable", report.SDTestable.Total).
		Msg("KPIs computed")
	WriteJSON(w, http.StatusOK, report)
}

// RefreshHandler starts the bulk refresh job.
func (h *MantisHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.cfg.Validate(); err != nil {
		WriteError(w, http.StatusInternalServerError, "Missing configuration: "+err.Error())
		return
	}

	jobID, err := h.refresh.Start()
	if err != nil {
		WriteError(w, http.StatusConflict, "Refresh already in progress")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Refresh started",
		"jobId":   jobID,
	})
}

// RefreshStatusHandler reports the current or last refresh state.
func (h *MantisHandler) RefreshStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	h.writeRefreshState(w)
}

// JobStatusHandler reports refresh state for a specific job id. Only one
// refresh exists at a time, so every id maps onto the same state.
func (h *MantisHandler) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	h.writeRefreshState(w)
}

func (h *MantisHandler) writeRefreshState(w http.ResponseWriter) {
	state := h.refresh.Status()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     state.Status,
		"jobId":      state.JobID,
		"current":    state.Current,
		"total":      state.Total,
		"success":    state.Success,
		"failed":     state.Failed,
		"startTime":  state.StartTime,
		"lastUpdate": state.LastUpdate,
		"error":      state.Error,
		"progress":   state.Progress(),
	})
}

// PriorityHandler re-scrapes the priority of one ticket on demand,
// bypassing the enrichment cache. Used when a user spots a stale value
// and does not want to wait for the next bulk refresh.
func (h *MantisHandler) PriorityHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	rawID := r.URL.Query().Get("id")
	if rawID == "" {
		WriteError(w, http.StatusBadRequest, "Missing id")
		return
	}
	id := models.NormalizeTicketID(rawID)

	rid := common.NewJobID("lazy")
	client, err := mantis.NewClient(h.cfg, rid, h.logger)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if err := client.Login(ctx, h.cfg.Username, h.cfg.Password); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.enricher.Invalidate(id)
	value, reason, err := h.enricher.FetchPriority(ctx, client, id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// keep the snapshot in sync so list views pick the fresh value up
	if updateErr := h.tickets.UpdateRow(id, func(row models.TicketRow) {
		row[models.ColPriority] = value
	}); updateErr != nil && !storage.IsNotFound(updateErr) {
		h.logger.Warn().Str("ticket_id", id).Err(updateErr).Msg("Snapshot update failed after re-enrichment")
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"id":         rawID,
		"priorite_p": value,
		"reason":     reason,
	})
}

// ExtractFullHandler starts a full-detail extraction for one domain.
func (h *MantisHandler) ExtractFullHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Domain string `json:"domain" validate:"required"`
	}
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	jobID, err := h.extracts.Start(req.Domain)
	if err != nil {
		if err == jobs.ErrNoCache {
			WriteErrorCode(w, http.StatusServiceUnavailable, cacheMissingMessage, "CACHE_MISSING")
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"jobId": jobID})
}

// ExtractStatusHandler reports the state of one extraction job.
func (h *MantisHandler) ExtractStatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	state, err := h.extracts.Status(jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   state.Status,
		"progress": state.Progress,
		"step":     state.Step,
		"current":  state.Current,
		"total":    state.Total,
		"error":    state.Error,
	})
}

// ExtractDownloadHandler streams the results of a completed extraction as
// a JSON attachment. Jobs stay available for repeated downloads until
// their retention expires.
func (h *MantisHandler) ExtractDownloadHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	results, state, err := h.extracts.Results(jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Result not ready or job not found")
		return
	}

	filename := fmt.Sprintf("mantis_extract_%s_%d.json", state.Domain, time.Now().UnixMilli())
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	WriteJSON(w, http.StatusOK, results)
}

// ExportXLSXHandler renders a posted row selection as a styled workbook.
func (h *MantisHandler) ExportXLSXHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req export.Request
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	workbook, err := export.Build(req, h.cfg.BaseURL)
	if err != nil {
		h.logger.Error().Err(err).Msg("Workbook build failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer workbook.Close()

	h.logger.Info().Int("rows", len(req.Data)).Msg("Exporting spreadsheet")

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+req.FilenameOrDefault()+".xlsx")
	if _, err := workbook.WriteTo(w); err != nil {
		h.logger.Error().Err(err).Msg("Workbook write failed")
	}
}
