package mantis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/common"
	"github.com/copro-tools/pilotage/internal/models"
)

func testClientConfig(baseURL string) common.MantisConfig {
	return common.MantisConfig{
		BaseURL:           baseURL,
		Username:          "dashboard",
		Password:          "secret",
		QueryID:           "1291",
		RequestTimeout:    2 * time.Second,
		RequestsPerSecond: 500,
		UserAgent:         "test-agent",
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(testClientConfig(baseURL), "test", arbor.NewLogger())
	require.NoError(t, err)
	return client
}

func TestExtractPriority_ExactLabel(t *testing.T) {
	page := `<html><body><table>
		<tr><td>Priorité</td><td>P2 - Majeure</td></tr>
	</table></body></html>`

	value, reason := ExtractPriority(page)
	assert.Equal(t, "P2", value)
	assert.Equal(t, ReasonExactLabel, reason)
}

func TestExtractPriority_ExactLabelWithoutAccent(t *testing.T) {
	page := `<html><body><table>
		<tr><th>priorite</th><td>P1</td></tr>
	</table></body></html>`

	value, reason := ExtractPriority(page)
	assert.Equal(t, "P1", value)
	assert.Equal(t, ReasonExactLabel, reason)
}

func TestExtractPriority_ExactLabelWinsOverFallback(t *testing.T) {
	// P5 appears first in the body text; the labelled row must still win.
	page := `<html><body>
		<p>Escalated from P5 backlog review</p>
		<table><tr><td>Priorité</td><td>P2 - Majeure</td></tr></table>
	</body></html>`

	value, reason := ExtractPriority(page)
	assert.Equal(t, "P2", value)
	assert.Equal(t, ReasonExactLabel, reason)
}

func TestExtractPriority_FlexibleLabel(t *testing.T) {
	page := `<html><body><table>
		<tr><td>Champ</td><td class="category">Priorité</td><td>P3 - Mineure</td></tr>
	</table></body></html>`

	value, reason := ExtractPriority(page)
	assert.Equal(t, "P3", value)
	assert.Equal(t, ReasonFlexibleLabel, reason)
}

func TestExtractPriority_DirectCell(t *testing.T) {
	page := `<html><body><table>
		<tr><td class="bug-custom-field">P1</td></tr>
	</table></body></html>`

	value, reason := ExtractPriority(page)
	assert.Equal(t, "P1", value)
	assert.Equal(t, ReasonDirectCell, reason)
}

func TestExtractPriority_GlobalFallback(t *testing.T) {
	page := `<html><body><div>Ce ticket est classé P4 par le support.</div></body></html>`

	value, reason := ExtractPriority(page)
	assert.Equal(t, "P4", value)
	assert.Equal(t, ReasonGlobal, reason)
}

func TestExtractPriority_NotFound(t *testing.T) {
	page := `<html><body><table>
		<tr><td>Priorité</td><td>haute</td></tr>
		<tr><td>Résumé</td><td>Probleme d'impression</td></tr>
	</body></html>`

	value, reason := ExtractPriority(page)
	assert.Equal(t, "", value)
	assert.Equal(t, ReasonNotFound, reason)
}

func TestExtractPriority_NoFalsePositiveOnP10(t *testing.T) {
	page := `<html><body><table>
		<tr><td class="bug-custom-field">P10</td></tr>
	</table></body></html>`

	value, reason := ExtractPriority(page)
	assert.Equal(t, "", value)
	assert.Equal(t, ReasonNotFound, reason)
}

func priorityPage(token string) string {
	return fmt.Sprintf(`<html><body><table><tr><td>Priorité</td><td>%s</td></tr></table></body></html>`, token)
}

func TestFetchPriority_HitCachedUnderLongTTL(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, priorityPage("P2 - Majeure"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	enricher := NewPriorityEnricher(30*time.Minute, 5*time.Minute, arbor.NewLogger())

	now := time.Now()
	enricher.now = func() time.Time { return now }

	value, reason, err := enricher.FetchPriority(context.Background(), client, "4521")
	require.NoError(t, err)
	assert.Equal(t, "P2", value)
	assert.Equal(t, ReasonExactLabel, reason)
	assert.Equal(t, int64(1), requests.Load())

	// 10 minutes later: still inside the long TTL, no request issued
	now = now.Add(10 * time.Minute)
	value, _, err = enricher.FetchPriority(context.Background(), client, "4521")
	require.NoError(t, err)
	assert.Equal(t, "P2", value)
	assert.Equal(t, int64(1), requests.Load())

	// 31 minutes after the original fetch: expired, refetched
	now = now.Add(21 * time.Minute)
	_, _, err = enricher.FetchPriority(context.Background(), client, "4521")
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests.Load())
}

func TestFetchPriority_MissCachedUnderShortTTL(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `<html><body><p>Aucune priorite renseignee</p></body></html>`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	enricher := NewPriorityEnricher(30*time.Minute, 5*time.Minute, arbor.NewLogger())

	now := time.Now()
	enricher.now = func() time.Time { return now }

	value, reason, err := enricher.FetchPriority(context.Background(), client, "77")
	require.NoError(t, err)
	assert.Equal(t, "", value)
	assert.Equal(t, ReasonNotFound, reason)
	assert.Equal(t, int64(1), requests.Load())

	// 4 minutes later: the empty result is still trusted
	now = now.Add(4 * time.Minute)
	_, _, err = enricher.FetchPriority(context.Background(), client, "77")
	require.NoError(t, err)
	assert.Equal(t, int64(1), requests.Load())

	// 6 minutes after the original fetch: the short TTL has expired
	now = now.Add(2 * time.Minute)
	_, _, err = enricher.FetchPriority(context.Background(), client, "77")
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests.Load())
}

func TestFetchPriority_ErrorReturnsSentinelWithoutCaching(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, priorityPage("P1 - Bloquante"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	enricher := NewPriorityEnricher(30*time.Minute, 5*time.Minute, arbor.NewLogger())

	value, _, err := enricher.FetchPriority(context.Background(), client, "900")
	require.Error(t, err)
	assert.Equal(t, models.PriorityErr, value)

	// The failure must not be cached: once the tracker recovers, the very
	// next call succeeds instead of being suppressed by the miss TTL.
	failing.Store(false)
	value, reason, err := enricher.FetchPriority(context.Background(), client, "900")
	require.NoError(t, err)
	assert.Equal(t, "P1", value)
	assert.Equal(t, ReasonExactLabel, reason)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, priorityPage("P3"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	enricher := NewPriorityEnricher(30*time.Minute, 5*time.Minute, arbor.NewLogger())

	_, _, err := enricher.FetchPriority(context.Background(), client, "12")
	require.NoError(t, err)
	_, _, err = enricher.FetchPriority(context.Background(), client, "12")
	require.NoError(t, err)
	assert.Equal(t, int64(1), requests.Load())

	enricher.Invalidate("12")
	_, _, err = enricher.FetchPriority(context.Background(), client, "12")
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests.Load())
}
