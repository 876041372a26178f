package jobs

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copro-tools/pilotage/internal/mantis"
	"github.com/copro-tools/pilotage/internal/models"
	"github.com/copro-tools/pilotage/internal/storage"
)

func newTestTicketStore(t *testing.T) *storage.TicketStore {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	tickets, err := storage.NewTicketStore(files)
	require.NoError(t, err)
	return tickets
}

func waitTerminal(t *testing.T, runner *RefreshRunner) models.RefreshState {
	t.Helper()
	require.Eventually(t, func() bool {
		return runner.Status().Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)
	return runner.Status()
}

func TestRefreshRunner_FullRun(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.viewDelay = 10 * time.Millisecond
	for i := 101; i <= 110; i++ {
		tracker.priorities[models.NormalizeTicketID(paddedID(i))] = "P2"
	}
	// 111 has a detail page but no priority row on it

	rows := make([][2]string, 0, 12)
	for i := 101; i <= 111; i++ {
		rows = append(rows, [2]string{paddedID(i), "SD"})
	}
	rows = append(rows, [2]string{"", "SD"}) // exported row without an identifier
	tracker.csv = exportCSV(rows)

	tickets := newTestTicketStore(t)
	logger := testLogger()
	enricher := mantis.NewPriorityEnricher(30*time.Minute, 5*time.Minute, logger)
	runner := NewRefreshRunner(tracker.config(), tickets, enricher, logger)

	jobID, err := runner.Start()
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	state := waitTerminal(t, runner)
	assert.Equal(t, models.JobStatusCompleted, state.Status)
	assert.Equal(t, jobID, state.JobID)
	assert.Equal(t, 12, state.Total)
	assert.Equal(t, 12, state.Current)
	assert.Equal(t, 11, state.Success, "id-less rows and found priorities both count as success")
	assert.Equal(t, 1, state.Failed, "a page without a priority counts as a miss")
	require.NotNil(t, state.LastUpdate)

	maxInFlight, viewCount := tracker.stats()
	assert.LessOrEqual(t, maxInFlight, 5, "enrichment must not exceed the chunk size")
	assert.Equal(t, 11, viewCount, "the id-less row must not trigger a fetch")

	cache := tickets.Get()
	require.NotNil(t, cache)
	assert.Len(t, cache.Data, 12)
	assert.Equal(t, "Identifiant", cache.Columns[0])
	assert.Equal(t, 12, cache.Summary.TotalRows)
	assert.Equal(t, 11, cache.Summary.Enriched.Success)
	assert.Equal(t, 1, cache.Summary.Enriched.Failed)

	enriched := 0
	for _, row := range cache.Data {
		if row[models.ColPriority] == "P2" {
			enriched++
		}
	}
	assert.Equal(t, 10, enriched)
}

func TestRefreshRunner_LastUpdateAdvancesPerRow(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.viewDelay = 200 * time.Millisecond
	for i := 101; i <= 110; i++ {
		tracker.priorities[models.NormalizeTicketID(paddedID(i))] = "P2"
	}
	rows := make([][2]string, 0, 10)
	for i := 101; i <= 110; i++ {
		rows = append(rows, [2]string{paddedID(i), "SD"})
	}
	tracker.csv = exportCSV(rows)

	tickets := newTestTicketStore(t)
	logger := testLogger()
	enricher := mantis.NewPriorityEnricher(30*time.Minute, 5*time.Minute, logger)
	runner := NewRefreshRunner(tracker.config(), tickets, enricher, logger)

	_, err := runner.Start()
	require.NoError(t, err)

	// a poller must see lastUpdate move as rows complete, not only once
	// the job terminates
	require.Eventually(t, func() bool {
		st := runner.Status()
		return st.Status == models.JobStatusRunning &&
			st.Current > 0 && st.Current < st.Total &&
			st.LastUpdate != nil
	}, 10*time.Second, 5*time.Millisecond)

	midRun := *runner.Status().LastUpdate
	state := waitTerminal(t, runner)
	assert.Equal(t, models.JobStatusCompleted, state.Status)
	require.NotNil(t, state.LastUpdate)
	assert.True(t, state.LastUpdate.After(midRun) || state.LastUpdate.Equal(midRun))
}

func TestRefreshRunner_RejectsConcurrentStart(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.holdExport = make(chan struct{})
	tracker.csv = exportCSV([][2]string{{"0000101", "SD"}})
	tracker.priorities["101"] = "P1"

	tickets := newTestTicketStore(t)
	logger := testLogger()
	enricher := mantis.NewPriorityEnricher(30*time.Minute, 5*time.Minute, logger)
	runner := NewRefreshRunner(tracker.config(), tickets, enricher, logger)

	first, err := runner.Start()
	require.NoError(t, err)

	// wait until the job is parked inside the export download
	select {
	case <-tracker.exportHit:
	case <-time.After(10 * time.Second):
		t.Fatal("refresh never reached the export endpoint")
	}

	_, err = runner.Start()
	require.ErrorIs(t, err, ErrRefreshRunning)
	assert.Equal(t, first, runner.Status().JobID, "rejected start must not clobber the running job")

	close(tracker.holdExport)
	state := waitTerminal(t, runner)
	assert.Equal(t, models.JobStatusCompleted, state.Status)

	// once terminal, a new refresh is accepted again
	second, err := runner.Start()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	waitTerminal(t, runner)
}

func TestRefreshRunner_ExpiredSessionExportFails(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.csv = `<html><body>Veuillez vous connecter</body></html>`

	tickets := newTestTicketStore(t)
	logger := testLogger()
	enricher := mantis.NewPriorityEnricher(30*time.Minute, 5*time.Minute, logger)
	runner := NewRefreshRunner(tracker.config(), tickets, enricher, logger)

	_, err := runner.Start()
	require.NoError(t, err)

	state := waitTerminal(t, runner)
	assert.Equal(t, models.JobStatusFailed, state.Status)
	assert.Contains(t, state.Error, "HTML")
	assert.Nil(t, tickets.Get(), "a failed refresh must not replace the snapshot")
}

func paddedID(n int) string {
	return "000" + strconv.Itoa(n)
}
