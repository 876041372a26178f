package jobs

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/common"
)

// fakeTracker emulates just enough of the Mantis UI for the job tests:
// the two-step login, the saved-filter export and the detail pages. It
// tracks how many detail requests are in flight at once so the tests can
// pin the chunked concurrency.
type fakeTracker struct {
	srv *httptest.Server

	csv        string
	priorities map[string]string // stripped id -> priority token, "" for a page without one
	viewDelay  time.Duration
	holdExport chan struct{} // when set, csv_export.php blocks until closed
	exportHit  chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	viewCount   int
}

func newFakeTracker(t *testing.T) *fakeTracker {
	t.Helper()
	ft := &fakeTracker{
		priorities: make(map[string]string),
		exportHit:  make(chan struct{}, 8),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login_page.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form action="/login_password_page.php" method="post">
			<input type="hidden" name="return" value="index.php">
			<input type="text" name="username">
		</form>`)
	})
	mux.HandleFunc("/login_password_page.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form action="/login.php" method="post">
			<input type="hidden" name="username" value="dashboard">
			<input type="hidden" name="secure_session" value="1">
			<input type="password" name="password">
		</form>`)
	})
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "MANTIS_STRING_COOKIE", Value: "session"})
		http.Redirect(w, r, "/my_view_page.php", http.StatusFound)
	})
	mux.HandleFunc("/my_view_page.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/view_all_set.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/csv_export.php", func(w http.ResponseWriter, r *http.Request) {
		select {
		case ft.exportHit <- struct{}{}:
		default:
		}
		if ft.holdExport != nil {
			<-ft.holdExport
		}
		fmt.Fprint(w, ft.csv)
	})
	mux.HandleFunc("/view.php", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		ft.inFlight++
		ft.viewCount++
		if ft.inFlight > ft.maxInFlight {
			ft.maxInFlight = ft.inFlight
		}
		ft.mu.Unlock()

		if ft.viewDelay > 0 {
			time.Sleep(ft.viewDelay)
		}

		ft.mu.Lock()
		ft.inFlight--
		ft.mu.Unlock()

		id := r.URL.Query().Get("id")
		priority := ft.priorities[id]
		priorityRow := ""
		if priority != "" {
			priorityRow = fmt.Sprintf(`<tr><th>Priorité</th><td>%s - Majeure</td></tr>`, priority)
		}
		fmt.Fprintf(w, `<html><body>
		<table>%s</table>
		<table>
			<tr><td class="category">Description</td><td>Anomalie sur le ticket %s.</td></tr>
		</table>
		</body></html>`, priorityRow, id)
	})

	ft.srv = httptest.NewServer(mux)
	t.Cleanup(ft.srv.Close)
	return ft
}

func (ft *fakeTracker) stats() (maxInFlight, viewCount int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.maxInFlight, ft.viewCount
}

func (ft *fakeTracker) config() common.MantisConfig {
	return common.MantisConfig{
		BaseURL:           ft.srv.URL,
		Username:          "dashboard",
		Password:          "secret",
		QueryID:           "1291",
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 500,
		UserAgent:         "test-agent",
	}
}

// exportCSV renders a tracker export for the given rows. Each row is
// id, domain pairs; an empty id produces a row without an identifier.
func exportCSV(rows [][2]string) string {
	var b strings.Builder
	b.WriteString("Identifiant,\"Domaine (Toray)\",Catégorie,État,Affecté à,Résumé\n")
	for i, row := range rows {
		fmt.Fprintf(&b, "%s,%s,SD,nouveau,j.martin,Ticket %d\n", row[0], row[1], i+1)
	}
	return b.String()
}

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}
