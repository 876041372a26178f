package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/common"
	"github.com/copro-tools/pilotage/internal/mantis"
	"github.com/copro-tools/pilotage/internal/models"
	"github.com/copro-tools/pilotage/internal/storage"
)

// ErrJobNotFound is returned for unknown or already evicted extraction jobs.
var ErrJobNotFound = errors.New("extraction job not found")

// ErrJobNotCompleted is returned when a download is requested before the
// job reaches a terminal state.
var ErrJobNotCompleted = errors.New("extraction job not completed")

// ErrNoCache is returned when an extraction is requested before any
// refresh has populated the ticket snapshot.
var ErrNoCache = errors.New("ticket cache not available")

type extractJob struct {
	state   models.ExtractState
	results []map[string]interface{}
}

// ExtractManager runs full-detail extractions over the cached ticket
// snapshot: every row of the selected domain is augmented with the
// long-form content of its tracker detail page. Jobs are identified by
// uuid and kept in memory; terminal jobs are evicted once they outlive
// the configured retention window, so repeated extractions do not grow
// the process without bound.
type ExtractManager struct {
	cfg       common.MantisConfig
	tickets   *storage.TicketStore
	retention time.Duration
	logger    arbor.ILogger

	mu   sync.Mutex
	jobs map[string]*extractJob
}

// NewExtractManager creates a manager with the given retention for
// finished jobs.
func NewExtractManager(cfg common.MantisConfig, tickets *storage.TicketStore, retention time.Duration, logger arbor.ILogger) *ExtractManager {
	if retention <= 0 {
		retention = time.Hour
	}
	return &ExtractManager{
		cfg:       cfg,
		tickets:   tickets,
		retention: retention,
		logger:    logger,
		jobs:      make(map[string]*extractJob),
	}
}

// Start launches an extraction for one domain in the background and
// returns its job id. Fails fast when no snapshot exists yet; the
// background part only deals with the tracker.
func (m *ExtractManager) Start(domain string) (string, error) {
	cache := m.tickets.Get()
	if cache == nil {
		return "", ErrNoCache
	}

	rows := filterByDomain(cache.Data, domain)
	if len(rows) == 0 {
		return "", fmt.Errorf("no tickets found for domain %s", domain)
	}

	jobID := common.NewJobID("extract")
	m.mu.Lock()
	m.evictLocked()
	m.jobs[jobID] = &extractJob{
		state: models.ExtractState{
			JobID:     jobID,
			Domain:    domain,
			Status:    models.JobStatusRunning,
			Step:      "Initialisation",
			Total:     len(rows),
			StartTime: time.Now().UTC(),
		},
	}
	m.mu.Unlock()

	common.SafeGo(m.logger, "extract", func() { m.run(jobID, domain, rows) })
	return jobID, nil
}

// Status returns a snapshot of one job's state.
func (m *ExtractManager) Status(jobID string) (models.ExtractState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()

	job, ok := m.jobs[jobID]
	if !ok {
		return models.ExtractState{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.state, nil
}

// Results returns the extracted rows of a completed job. The job stays
// resident until retention expires, so a download can be repeated.
func (m *ExtractManager) Results(jobID string) ([]map[string]interface{}, models.ExtractState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, models.ExtractState{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.state.Status != models.JobStatusCompleted {
		return nil, models.ExtractState{}, fmt.Errorf("%w: %s is %s", ErrJobNotCompleted, jobID, job.state.Status)
	}
	return job.results, job.state, nil
}

// evictLocked drops terminal jobs older than the retention window.
func (m *ExtractManager) evictLocked() {
	cutoff := time.Now().UTC().Add(-m.retention)
	for id, job := range m.jobs {
		if job.state.Status.IsTerminal() && job.state.EndTime != nil && job.state.EndTime.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}

func (m *ExtractManager) run(jobID, domain string, rows []models.TicketRow) {
	log := m.logger.WithCorrelationId(jobID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	results, err := m.extract(ctx, jobID, rows, log)

	ended := time.Now().UTC()
	m.mu.Lock()
	if job, ok := m.jobs[jobID]; ok {
		job.state.EndTime = &ended
		if err != nil {
			job.state.Status = models.JobStatusFailed
			job.state.Error = err.Error()
			job.state.Step = "Erreur: " + err.Error()
		} else {
			job.state.Status = models.JobStatusCompleted
			job.state.Progress = 100
			job.state.Step = "Extraction terminée"
			job.results = results
		}
	}
	m.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("domain", domain).Msg("Extraction failed")
		return
	}
	log.Info().Str("domain", domain).Int("tickets", len(results)).Msg("Extraction completed")
}

func (m *ExtractManager) extract(ctx context.Context, jobID string, rows []models.TicketRow, log arbor.ILogger) ([]map[string]interface{}, error) {
	client, err := mantis.NewClient(m.cfg, jobID, m.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx, m.cfg.Username, m.cfg.Password); err != nil {
		return nil, err
	}

	concurrency := m.cfg.ExtractConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	var mu sync.Mutex
	results := make([]map[string]interface{}, 0, len(rows))
	done := 0

	for start := 0; start < len(rows); start += concurrency {
		end := start + concurrency
		if end > len(rows) {
			end = len(rows)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(row models.TicketRow) {
				defer wg.Done()
				result := m.extractOne(ctx, client, row, log)

				mu.Lock()
				if result != nil {
					results = append(results, result)
				}
				done++
				current := done
				mu.Unlock()

				m.mu.Lock()
				if job, ok := m.jobs[jobID]; ok {
					job.state.Current = current
					job.state.Progress = float64(current) / float64(len(rows)) * 100
					job.state.Step = fmt.Sprintf("Extraction #%s (%d/%d)", row.Identifier(), current, len(rows))
				}
				m.mu.Unlock()
			}(rows[i])
		}
		wg.Wait()
	}

	return results, nil
}

// extractOne copies the cached row and attaches the detail page content
// under full_details. A failed detail fetch drops the row from the
// result set instead of failing the whole job.
func (m *ExtractManager) extractOne(ctx context.Context, client *mantis.Client, row models.TicketRow, log arbor.ILogger) map[string]interface{} {
	id := models.NormalizeTicketID(row.Identifier())
	if id == "" {
		return nil
	}

	detail, err := client.FetchIssueDetails(ctx, id)
	if err != nil {
		log.Warn().Str("ticket_id", id).Err(err).Msg("Detail fetch failed, skipping ticket")
		return nil
	}

	out := make(map[string]interface{}, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	out["full_details"] = detail
	return out
}

// filterByDomain keeps the rows whose domain column matches, comparing
// uppercased trimmed values. An empty filter keeps everything.
func filterByDomain(rows []models.TicketRow, domain string) []models.TicketRow {
	if domain == "" {
		return rows
	}
	want := strings.ToUpper(strings.TrimSpace(domain))
	filtered := make([]models.TicketRow, 0, len(rows))
	for _, row := range rows {
		if strings.ToUpper(strings.TrimSpace(row.Domain())) == want {
			filtered = append(filtered, row)
		}
	}
	return filtered
}
