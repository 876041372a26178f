package models

// PriorityBreakdown counts tickets by P1/P2/P3 priority within a selection.
type PriorityBreakdown struct {
	Total   int `json:"total"`
	P1      int `json:"p1"`
	P2      int `json:"p2"`
	P3      int `json:"p3"`
	NonPrio int `json:"non_prio"`
}

// EvolutionPoint is one bucket of the created/validated time series.
type EvolutionPoint struct {
	Label     string `json:"label"` // week start or month start, YYYY-MM-DD
	Created   int    `json:"created"`
	Validated int    `json:"validated"`
}

// NameCount is a distribution entry (domain name -> ticket count).
type NameCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// LabelCount is a history entry (period label -> open ticket count).
type LabelCount struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// Evolution carries the created/validated series at both granularities.
type Evolution struct {
	Weekly  []EvolutionPoint `json:"weekly"`
	Monthly []EvolutionPoint `json:"monthly"`
}

// BacklogKPI describes the current open backlog.
type BacklogKPI struct {
	Total    int               `json:"total"`
	Priorite PriorityBreakdown `json:"priorite"`
	AgeMoyen int               `json:"age_moyen"` // average age in days
}

// BacklogHistory tracks open-ticket counts over past periods.
type BacklogHistory struct {
	Weekly  []LabelCount `json:"weekly"`
	Monthly []LabelCount `json:"monthly"`
}

// ResolutionKPI carries average resolution times in days.
type ResolutionKPI struct {
	Global int `json:"global"`
}

// GlobalKPIs aggregates the dashboard-wide metrics (RDD domain excluded).
type GlobalKPIs struct {
	Evolution      Evolution      `json:"evolution"`
	Domaines       []NameCount    `json:"domaines"`
	Backlog        BacklogKPI     `json:"backlog"`
	BacklogHistory BacklogHistory `json:"backlog_history"`
	OpenByDomain   []NameCount    `json:"open_by_domain"`
	Resolution     ResolutionKPI  `json:"resolution"`
}

// KPIReport is the full KPI endpoint response.
type KPIReport struct {
	SDEnCours  PriorityBreakdown `json:"sd_en_cours"`
	SDTestable PriorityBreakdown `json:"sd_testable"`
	Global     GlobalKPIs        `json:"global"`
	LastSync   string            `json:"last_sync"`
}
