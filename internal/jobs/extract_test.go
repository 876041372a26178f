package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copro-tools/pilotage/internal/models"
	"github.com/copro-tools/pilotage/internal/storage"
)

func seedCache(t *testing.T, tickets *storage.TicketStore, rows []models.TicketRow) {
	t.Helper()
	require.NoError(t, tickets.Set(&models.TicketCache{
		Data:        rows,
		Columns:     []string{models.ColIdentifier, models.ColDomain},
		LastUpdated: time.Now().UTC(),
		Summary:     models.CacheSummary{TotalRows: len(rows)},
	}))
}

func cachedRow(id, domain string) models.TicketRow {
	return models.TicketRow{
		models.ColIdentifier: id,
		models.ColDomain:     domain,
		models.ColStatus:     "nouveau",
	}
}

func waitExtract(t *testing.T, m *ExtractManager, jobID string) models.ExtractState {
	t.Helper()
	var state models.ExtractState
	require.Eventually(t, func() bool {
		s, err := m.Status(jobID)
		if err != nil {
			return false
		}
		state = s
		return s.Status.IsTerminal()
	}, 10*time.Second, 5*time.Millisecond)
	return state
}

func TestExtractManager_StartWithoutCache(t *testing.T) {
	tracker := newFakeTracker(t)
	tickets := newTestTicketStore(t)
	m := NewExtractManager(tracker.config(), tickets, time.Hour, testLogger())

	_, err := m.Start("SD")
	require.ErrorIs(t, err, ErrNoCache)
}

func TestExtractManager_StartUnknownDomain(t *testing.T) {
	tracker := newFakeTracker(t)
	tickets := newTestTicketStore(t)
	seedCache(t, tickets, []models.TicketRow{cachedRow("0000101", "SD")})
	m := NewExtractManager(tracker.config(), tickets, time.Hour, testLogger())

	_, err := m.Start("COMPTA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tickets found for domain COMPTA")
}

func TestExtractManager_FullRun(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.viewDelay = 10 * time.Millisecond

	tickets := newTestTicketStore(t)
	seedCache(t, tickets, []models.TicketRow{
		cachedRow("0000101", "SD"),
		cachedRow("0000102", " sd "), // domain match is trimmed and case-insensitive
		cachedRow("", "SD"),          // no identifier, dropped from the results
		cachedRow("0000201", "RH"),
		cachedRow("0000202", "RH"),
	})

	m := NewExtractManager(tracker.config(), tickets, time.Hour, testLogger())
	jobID, err := m.Start("SD")
	require.NoError(t, err)

	state := waitExtract(t, m, jobID)
	assert.Equal(t, models.JobStatusCompleted, state.Status)
	assert.Equal(t, "SD", state.Domain)
	assert.Equal(t, 3, state.Total)
	assert.Equal(t, 3, state.Current)
	assert.Equal(t, float64(100), state.Progress)
	assert.Equal(t, "Extraction terminée", state.Step)
	require.NotNil(t, state.EndTime)

	results, _, err := m.Results(jobID)
	require.NoError(t, err)
	require.Len(t, results, 2, "rows without an identifier are dropped")
	for _, result := range results {
		detail, ok := result["full_details"].(*models.IssueDetail)
		require.True(t, ok)
		assert.NotEmpty(t, detail.Description)
		assert.Equal(t, "nouveau", result[models.ColStatus])
	}

	// downloads are repeatable while the job is retained
	again, _, err := m.Results(jobID)
	require.NoError(t, err)
	assert.Len(t, again, 2)

	maxInFlight, _ := tracker.stats()
	assert.LessOrEqual(t, maxInFlight, 3, "detail fetches must not exceed the chunk size")
}

func TestExtractManager_ResultsBeforeCompletion(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.viewDelay = 200 * time.Millisecond

	tickets := newTestTicketStore(t)
	seedCache(t, tickets, []models.TicketRow{cachedRow("0000101", "SD")})

	m := NewExtractManager(tracker.config(), tickets, time.Hour, testLogger())
	jobID, err := m.Start("SD")
	require.NoError(t, err)

	_, _, err = m.Results(jobID)
	require.ErrorIs(t, err, ErrJobNotCompleted)

	waitExtract(t, m, jobID)
}

func TestExtractManager_EvictsExpiredJobs(t *testing.T) {
	tracker := newFakeTracker(t)
	tickets := newTestTicketStore(t)
	seedCache(t, tickets, []models.TicketRow{cachedRow("0000101", "SD")})

	m := NewExtractManager(tracker.config(), tickets, 200*time.Millisecond, testLogger())
	jobID, err := m.Start("SD")
	require.NoError(t, err)

	state := waitExtract(t, m, jobID)
	assert.Equal(t, models.JobStatusCompleted, state.Status)

	time.Sleep(400 * time.Millisecond)
	_, err = m.Status(jobID)
	require.ErrorIs(t, err, ErrJobNotFound)
	_, _, err = m.Results(jobID)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestExtractManager_UnknownJob(t *testing.T) {
	tracker := newFakeTracker(t)
	tickets := newTestTicketStore(t)
	m := NewExtractManager(tracker.config(), tickets, time.Hour, testLogger())

	_, err := m.Status("extract-nope")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestFilterByDomain(t *testing.T) {
	rows := []models.TicketRow{
		cachedRow("1", "SD"),
		cachedRow("2", "sd"),
		cachedRow("3", " SD "),
		cachedRow("4", "RH"),
		cachedRow("5", ""),
	}

	assert.Len(t, filterByDomain(rows, "SD"), 3)
	assert.Len(t, filterByDomain(rows, "sd"), 3)
	assert.Len(t, filterByDomain(rows, "RH"), 1)
	assert.Len(t, filterByDomain(rows, ""), 5, "an empty filter keeps everything")
	assert.Empty(t, filterByDomain(rows, "COMPTA"))
}
