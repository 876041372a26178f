package models

import (
	"strings"
	"time"
)

// Column labels as they appear in the Mantis CSV export. The export is
// French-localized, accents included, so these are the exact map keys
// found on every TicketRow.
const (
	ColIdentifier = "Identifiant"
	ColDomain     = "Domaine (Toray)"
	ColCategory   = "Catégorie"
	ColStatus     = "État"
	ColStatusAlt  = "Etat" // older exports without the accent
	ColAssignee   = "Affecté à"
	ColSubmitted  = "Date de soumission"
	ColUpdated    = "Mis à jour"
	ColSummary    = "Résumé"

	// ColPriority is not part of the export; the enrichment pipeline adds it.
	ColPriority = "priorite_p"
)

// PriorityErr is the sentinel stored on a row when the priority scrape
// failed at the network level (as opposed to "no priority on the page",
// which is the empty string).
const PriorityErr = "ERR"

// TicketRow is one exported ticket, keyed by the CSV header labels.
// The enricher mutates it in place by adding the computed priority column.
type TicketRow map[string]string

// Identifier returns the ticket id column as exported, zero padding intact.
func (r TicketRow) Identifier() string {
	if id := r[ColIdentifier]; id != "" {
		return id
	}
	return r["id"]
}

// Status returns the trimmed, lowercased status, tolerating both the
// accented and unaccented header variants.
func (r TicketRow) Status() string {
	s := r[ColStatus]
	if s == "" {
		s = r[ColStatusAlt]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Domain returns the trimmed domain column, tolerating the bare
// "domaine" header found in older exports.
func (r TicketRow) Domain() string {
	d := r[ColDomain]
	if d == "" {
		d = r["domaine"]
	}
	return strings.TrimSpace(d)
}

// NormalizeTicketID strips leading zeros from a displayed ticket id,
// producing the numeric form the tracker expects in view.php URLs.
func NormalizeTicketID(id string) string {
	return strings.TrimLeft(strings.TrimSpace(id), "0")
}

// EnrichedSummary counts the per-row outcomes of one refresh run.
type EnrichedSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// CacheSummary is persisted alongside the dataset.
type CacheSummary struct {
	TotalRows int             `json:"totalRows"`
	Enriched  EnrichedSummary `json:"enriched"`
}

// TicketCache is the persisted dataset: the single source of truth for
// every query and KPI endpoint. It is replaced wholesale on refresh,
// never patched.
type TicketCache struct {
	Data        []TicketRow  `json:"data"`
	Columns     []string     `json:"columns,omitempty"` // export header order, for spreadsheet output
	LastUpdated time.Time    `json:"lastUpdated"`
	Summary     CacheSummary `json:"summary"`
}
