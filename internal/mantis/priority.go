package mantis

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/copro-tools/pilotage/internal/models"
)

// Extraction reason tags, one per strategy, recorded for observability.
const (
	ReasonExactLabel    = "match_custom_field_exact_label"
	ReasonFlexibleLabel = "match_flexible_label"
	ReasonDirectCell    = "match_direct_cell_pattern"
	ReasonGlobal        = "fallback_global_pattern"
	ReasonNotFound      = "not_found"
)

var (
	rePriorityPrefix = regexp.MustCompile(`^(P[1-9])`)
	rePriorityExact  = regexp.MustCompile(`^(P[1-9])$`)
	rePriorityWord   = regexp.MustCompile(`\b(P[1-9])\b`)

	accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// foldLabel lowercases, trims and strips accents so "Priorité" and
// "priorite" compare equal.
func foldLabel(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// priorityStrategy is one pure extraction heuristic over a parsed detail
// page. Strategies are tried in declaration order; the first hit wins.
type priorityStrategy struct {
	reason  string
	extract func(doc *goquery.Document) (string, bool)
}

var priorityStrategies = []priorityStrategy{
	// 1. Table rows whose first cell is exactly the priority label;
	// the value lives in the adjacent cell.
	{ReasonExactLabel, func(doc *goquery.Document) (string, bool) {
		var value string
		doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			cells := row.Find("th, td")
			if cells.Length() < 2 {
				return true
			}
			if foldLabel(cells.Eq(0).Text()) != "priorite" {
				return true
			}
			if m := rePriorityPrefix.FindStringSubmatch(strings.TrimSpace(cells.Eq(1).Text())); m != nil {
				value = m[1]
				return false
			}
			return true
		})
		return value, value != ""
	}},

	// 2. Looser: any label cell, value taken from the following sibling.
	{ReasonFlexibleLabel, func(doc *goquery.Document) (string, bool) {
		var value string
		doc.Find("td.category, th").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			if foldLabel(cell.Text()) != "priorite" {
				return true
			}
			if m := rePriorityPrefix.FindStringSubmatch(strings.TrimSpace(cell.Next().Text())); m != nil {
				value = m[1]
				return false
			}
			return true
		})
		return value, value != ""
	}},

	// 3. Any cell whose entire trimmed text is a bare P-token.
	{ReasonDirectCell, func(doc *goquery.Document) (string, bool) {
		var value string
		doc.Find(".bug-custom-field, td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			if m := rePriorityExact.FindStringSubmatch(strings.TrimSpace(cell.Text())); m != nil {
				value = m[1]
				return false
			}
			return true
		})
		return value, value != ""
	}},

	// 4. Last resort: first standalone P-token anywhere in the body text.
	{ReasonGlobal, func(doc *goquery.Document) (string, bool) {
		if m := rePriorityWord.FindStringSubmatch(doc.Find("body").Text()); m != nil {
			return m[1], true
		}
		return "", false
	}},
}

// ExtractPriority runs the cascading heuristics against a detail page and
// returns the priority token plus the reason tag of the strategy that
// matched. An unrecognized page yields ("", not_found), not an error:
// plenty of tickets legitimately carry no P-token.
func ExtractPriority(body string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", ReasonNotFound
	}
	for _, strategy := range priorityStrategies {
		if value, ok := strategy.extract(doc); ok {
			return value, strategy.reason
		}
	}
	return "", ReasonNotFound
}

type priorityEntry struct {
	value     string
	reason    string
	timestamp time.Time
}

// PriorityEnricher scrapes the categorical priority off ticket detail
// pages, backed by a memory-scoped cache with asymmetric TTLs: a found
// value is trusted for a long window, an empty result only for a short
// one, because "not found" is more often a transient scrape miss than a
// stable fact. The cache dies with the process; re-enrichment is cheap.
type PriorityEnricher struct {
	ttlHit  time.Duration
	ttlMiss time.Duration
	logger  arbor.ILogger

	mu      sync.Mutex
	entries map[string]priorityEntry

	now func() time.Time
}

// NewPriorityEnricher creates an enricher with the given TTLs.
func NewPriorityEnricher(ttlHit, ttlMiss time.Duration, logger arbor.ILogger) *PriorityEnricher {
	if ttlHit <= 0 {
		ttlHit = 30 * time.Minute
	}
	if ttlMiss <= 0 {
		ttlMiss = 5 * time.Minute
	}
	return &PriorityEnricher{
		ttlHit:  ttlHit,
		ttlMiss: ttlMiss,
		logger:  logger,
		entries: make(map[string]priorityEntry),
		now:     time.Now,
	}
}

// Invalidate drops the cache entry for one ticket id (leading zeros
// already stripped), forcing the next call to hit the tracker.
func (e *PriorityEnricher) Invalidate(ticketID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, ticketID)
}

// cachedValue returns the entry for the id if it is still inside its TTL.
func (e *PriorityEnricher) cachedValue(ticketID string) (priorityEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[ticketID]
	if !ok {
		return priorityEntry{}, false
	}
	ttl := e.ttlMiss
	if entry.value != "" {
		ttl = e.ttlHit
	}
	if e.now().Sub(entry.timestamp) >= ttl {
		return priorityEntry{}, false
	}
	return entry, true
}

func (e *PriorityEnricher) store(ticketID, value, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[ticketID] = priorityEntry{value: value, reason: reason, timestamp: e.now()}
}

// FetchPriority returns the priority label for one ticket, consulting the
// cache first. The ticket id must already have its leading zeros stripped.
//
// A page without a recognizable priority returns "" and is cached under
// the short TTL. A failed HTTP fetch returns the "ERR" sentinel together
// with the underlying error and does NOT populate the cache, so the next
// access retries immediately instead of being suppressed for five minutes.
func (e *PriorityEnricher) FetchPriority(ctx context.Context, client *Client, ticketID string) (string, string, error) {
	if entry, ok := e.cachedValue(ticketID); ok {
		return entry.value, entry.reason, nil
	}

	res, err := client.Get(ctx, "/view.php", url.Values{"id": {ticketID}})
	if err != nil {
		e.logger.Warn().Str("ticket_id", ticketID).Err(err).Msg("Priority scrape failed")
		return models.PriorityErr, "", fmt.Errorf("priority fetch for #%s: %w", ticketID, err)
	}

	value, reason := ExtractPriority(res.Body)
	e.store(ticketID, value, reason)

	e.logger.Debug().
		Str("ticket_id", ticketID).
		Str("priority", value).
		Str("reason", reason).
		Msg("Priority extracted")

	return value, reason, nil
}
