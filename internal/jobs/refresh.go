// Package jobs runs the background work of the dashboard: the bulk
// ticket refresh and the on-demand full extractions. Both are
// single-process affairs tracked in memory; clients poll status
// endpoints rather than holding a request open.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/common"
	"github.com/copro-tools/pilotage/internal/mantis"
	"github.com/copro-tools/pilotage/internal/models"
	"github.com/copro-tools/pilotage/internal/storage"
)

// ErrRefreshRunning is returned when a refresh is requested while one is
// already in flight.
var ErrRefreshRunning = errors.New("refresh already running")

// RefreshRunner exports the tracker query, enriches every row with its
// categorical priority and atomically replaces the ticket snapshot. Only
// one refresh runs at a time; a concurrent request is rejected, not
// queued, so schedules and impatient users cannot stack work.
type RefreshRunner struct {
	cfg      common.MantisConfig
	tickets  *storage.TicketStore
	enricher *mantis.PriorityEnricher
	logger   arbor.ILogger

	mu      sync.Mutex
	running bool
	state   models.RefreshState
}

// NewRefreshRunner creates a runner over the given stores.
func NewRefreshRunner(cfg common.MantisConfig, tickets *storage.TicketStore, enricher *mantis.PriorityEnricher, logger arbor.ILogger) *RefreshRunner {
	return &RefreshRunner{
		cfg:      cfg,
		tickets:  tickets,
		enricher: enricher,
		logger:   logger,
		state:    models.RefreshState{Status: models.JobStatusIdle},
	}
}

// Status returns a snapshot of the current or last refresh.
func (r *RefreshRunner) Status() models.RefreshState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches a refresh in the background and returns its job id.
// Returns ErrRefreshRunning when one is already in flight; the state of
// the running job is left untouched.
func (r *RefreshRunner) Start() (string, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", ErrRefreshRunning
	}
	jobID := common.NewJobID("refresh")
	started := time.Now().UTC()
	r.running = true
	r.state = models.RefreshState{
		Status:    models.JobStatusRunning,
		JobID:     jobID,
		StartTime: &started,
	}
	r.mu.Unlock()

	common.SafeGo(r.logger, "refresh", func() { r.run(jobID) })
	return jobID, nil
}

func (r *RefreshRunner) run(jobID string) {
	log := r.logger.WithCorrelationId(jobID)
	started := time.Now()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	summary, err := r.refresh(ctx, jobID, log)
	finished := time.Now().UTC()
	r.mu.Lock()
	r.state.LastUpdate = &finished
	if err != nil {
		r.state.Status = models.JobStatusFailed
		r.state.Error = err.Error()
	} else {
		r.state.Status = models.JobStatusCompleted
	}
	r.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("Refresh failed")
		return
	}
	log.Info().
		Int("total", summary.TotalRows).
		Int("success", summary.Enriched.Success).
		Int("failed", summary.Enriched.Failed).
		Str("duration", time.Since(started).Round(time.Millisecond).String()).
		Msg("Refresh completed")
}

func (r *RefreshRunner) refresh(ctx context.Context, jobID string, log arbor.ILogger) (*models.CacheSummary, error) {
	client, err := mantis.NewClient(r.cfg, jobID, r.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx, r.cfg.Username, r.cfg.Password); err != nil {
		return nil, err
	}

	payload, err := client.ExportCSV(ctx, r.cfg.QueryID)
	if err != nil {
		return nil, err
	}
	columns, rows, err := mantis.ParseCSV(payload)
	if err != nil {
		return nil, err
	}
	log.Info().Int("rows", len(rows)).Msg("Export parsed, enriching priorities")

	r.mu.Lock()
	r.state.Total = len(rows)
	r.mu.Unlock()

	summary := r.enrich(ctx, client, rows)

	cache := &models.TicketCache{
		Data:        rows,
		Columns:     columns,
		LastUpdated: time.Now().UTC(),
		Summary: models.CacheSummary{
			TotalRows: len(rows),
			Enriched:  summary,
		},
	}
	if err := r.tickets.Set(cache); err != nil {
		return nil, fmt.Errorf("persist ticket cache: %w", err)
	}
	return &cache.Summary, nil
}

// enrich walks the rows in fixed-size chunks. Each chunk runs its fetches
// concurrently and the next chunk only starts once the whole chunk has
// finished, which keeps at most EnrichConcurrency requests against the
// tracker at any moment.
func (r *RefreshRunner) enrich(ctx context.Context, client *mantis.Client, rows []models.TicketRow) models.EnrichedSummary {
	concurrency := r.cfg.EnrichConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	var mu sync.Mutex
	summary := models.EnrichedSummary{Total: len(rows)}

	record := func(failed bool) {
		mu.Lock()
		if failed {
			summary.Failed++
		} else {
			summary.Success++
		}
		mu.Unlock()

		now := time.Now().UTC()
		r.mu.Lock()
		r.state.Current++
		r.state.Success = summary.Success
		r.state.Failed = summary.Failed
		r.state.LastUpdate = &now
		r.mu.Unlock()
	}

	for start := 0; start < len(rows); start += concurrency {
		end := start + concurrency
		if end > len(rows) {
			end = len(rows)
		}

		var wg sync.WaitGroup
		for _, row := range rows[start:end] {
			id := models.NormalizeTicketID(row.Identifier())
			if id == "" {
				// nothing to look up, the row stays as exported
				record(false)
				continue
			}

			wg.Add(1)
			go func(row models.TicketRow, id string) {
				defer wg.Done()
				value, _, err := r.enricher.FetchPriority(ctx, client, id)
				row[models.ColPriority] = value
				// an empty priority counts as a miss, same as a fetch error
				record(err != nil || value == "" || value == models.PriorityErr)
			}(row, id)
		}
		wg.Wait()
	}

	return summary
}
