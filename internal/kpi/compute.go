// Package kpi computes the dashboard metrics over the cached ticket
// snapshot. Everything here is pure aggregation over the in-memory rows;
// no network, no storage.
package kpi

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/copro-tools/pilotage/internal/models"
)

// The status vocabulary of the tracker's French workflow. A ticket is
// "open" through résolu because resolved work still needs validation;
// "validated" is the subset of closed states that counts as definitively
// done for flow metrics.
var (
	openStatuses      = statusSet("nouveau", "accepté", "chiffrage", "validation chiffrage", "réalisation", "résolu")
	closedStatuses    = statusSet("fermé", "clos", "validé", "suspendu", "annulé")
	validatedStatuses = statusSet("fermé", "validé", "suspendu", "annulé")
)

// Domain excluded from all global metrics.
const excludedDomain = "RDD"

// testerAccount owns the validation step: SD tickets resolved and
// assigned to it are "testable", and they drop out of the in-progress
// count.
const testerAccount = "yann.deschamps"

func statusSet(statuses ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func isOpen(row models.TicketRow) bool {
	_, ok := openStatuses[row.Status()]
	return ok
}

func isClosed(row models.TicketRow) bool {
	_, ok := closedStatuses[row.Status()]
	return ok
}

func isValidated(row models.TicketRow) bool {
	_, ok := validatedStatuses[row.Status()]
	return ok
}

func isSD(row models.TicketRow) bool {
	return strings.TrimSpace(row[models.ColCategory]) == "SD" || row.Domain() == "SD"
}

func assignee(row models.TicketRow) string {
	return strings.ToLower(strings.TrimSpace(row[models.ColAssignee]))
}

// parseDate accepts the formats seen in the tracker's exports.
var dateLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
	time.RFC3339,
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// weekStart returns the Monday of the date's week, formatted YYYY-MM-DD.
func weekStart(t time.Time) string {
	day := int(t.Weekday())
	if day == 0 {
		day = 7
	}
	monday := t.AddDate(0, 0, -(day - 1))
	return monday.Format("2006-01-02")
}

// monthStart returns the first day of the date's month, formatted YYYY-MM-DD.
func monthStart(t time.Time) string {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).Format("2006-01-02")
}

// breakdown counts a selection by P1/P2/P3, everything else non-prio.
func breakdown(rows []models.TicketRow) models.PriorityBreakdown {
	b := models.PriorityBreakdown{Total: len(rows)}
	for _, row := range rows {
		switch strings.ToUpper(strings.TrimSpace(row[models.ColPriority])) {
		case "P1":
			b.P1++
		case "P2":
			b.P2++
		case "P3":
			b.P3++
		}
	}
	b.NonPrio = b.Total - (b.P1 + b.P2 + b.P3)
	return b
}

// Compute builds the full KPI report from a ticket snapshot. The clock is
// injected so tests can pin ages and history windows.
func Compute(cache *models.TicketCache, now time.Time) models.KPIReport {
	data := cache.Data

	allExceptRDD := make([]models.TicketRow, 0, len(data))
	for _, row := range data {
		if row.Domain() != excludedDomain {
			allExceptRDD = append(allExceptRDD, row)
		}
	}

	// SD tickets being worked, excluding those parked on the tester.
	var sdEnCours []models.TicketRow
	for _, row := range data {
		if isSD(row) && isOpen(row) && assignee(row) != testerAccount {
			sdEnCours = append(sdEnCours, row)
		}
	}

	// SD tickets resolved and handed to the tester.
	var sdTestable []models.TicketRow
	for _, row := range data {
		if isSD(row) && row.Status() == "résolu" && assignee(row) == testerAccount {
			sdTestable = append(sdTestable, row)
		}
	}

	var open, closed []models.TicketRow
	for _, row := range allExceptRDD {
		if isOpen(row) {
			open = append(open, row)
		}
		if isClosed(row) {
			closed = append(closed, row)
		}
	}

	evolution := computeEvolution(allExceptRDD, now)

	return models.KPIReport{
		SDEnCours:  breakdown(sdEnCours),
		SDTestable: breakdown(sdTestable),
		Global: models.GlobalKPIs{
			Evolution: evolution,
			Domaines:  domainDistribution(allExceptRDD, nil),
			Backlog: models.BacklogKPI{
				Total:    len(open),
				Priorite: breakdown(open),
				AgeMoyen: averageAgeDays(open, now),
			},
			BacklogHistory: models.BacklogHistory{
				Weekly:  backlogOverTime(allExceptRDD, labels(evolution.Weekly), false),
				Monthly: backlogOverTime(allExceptRDD, labels(evolution.Monthly), true),
			},
			OpenByDomain: domainDistribution(allExceptRDD, func(row models.TicketRow) bool {
				return !isValidated(row)
			}),
			Resolution: models.ResolutionKPI{
				Global: averageResolutionDays(closed),
			},
		},
		LastSync: cache.LastUpdated.Format(time.RFC3339),
	}
}

// computeEvolution buckets creations by submission period and validations
// by last-update period, over a rolling 12-month window. Validations only
// land in buckets that already saw at least one creation, so the series
// share a single label set.
func computeEvolution(rows []models.TicketRow, now time.Time) models.Evolution {
	weekly := make(map[string]*models.EvolutionPoint)
	monthly := make(map[string]*models.EvolutionPoint)
	historyLimit := now.AddDate(0, -12, 0)

	inWindow := func(label string) bool {
		t, ok := parseDate(label)
		return ok && !t.Before(historyLimit)
	}

	for _, row := range rows {
		if submitted, ok := parseDate(row[models.ColSubmitted]); ok {
			if week := weekStart(submitted); inWindow(week) {
				if weekly[week] == nil {
					weekly[week] = &models.EvolutionPoint{Label: week}
				}
				weekly[week].Created++
			}
			if month := monthStart(submitted); inWindow(month) {
				if monthly[month] == nil {
					monthly[month] = &models.EvolutionPoint{Label: month}
				}
				monthly[month].Created++
			}
		}

		if !isValidated(row) {
			continue
		}
		if solved, ok := parseDate(row[models.ColUpdated]); ok {
			if point := weekly[weekStart(solved)]; point != nil {
				point.Validated++
			}
			if point := monthly[monthStart(solved)]; point != nil {
				point.Validated++
			}
		}
	}

	return models.Evolution{
		Weekly:  sortedPoints(weekly),
		Monthly: sortedPoints(monthly),
	}
}

func sortedPoints(buckets map[string]*models.EvolutionPoint) []models.EvolutionPoint {
	out := make([]models.EvolutionPoint, 0, len(buckets))
	for _, p := range buckets {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func labels(points []models.EvolutionPoint) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Label
	}
	return out
}

// domainDistribution counts rows per domain, optionally filtered,
// descending by count. Rows without a domain fall under N/A.
func domainDistribution(rows []models.TicketRow, keep func(models.TicketRow) bool) []models.NameCount {
	counts := make(map[string]int)
	for _, row := range rows {
		if keep != nil && !keep(row) {
			continue
		}
		dom := row.Domain()
		if dom == "" {
			dom = "N/A"
		}
		counts[dom]++
	}

	out := make([]models.NameCount, 0, len(counts))
	for name, value := range counts {
		out = append(out, models.NameCount{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// averageAgeDays computes the mean age of open tickets, rounded to whole
// days. Rows without a parseable submission date are skipped.
func averageAgeDays(rows []models.TicketRow, now time.Time) int {
	var totalDays, counted int
	for _, row := range rows {
		submitted, ok := parseDate(row[models.ColSubmitted])
		if !ok {
			continue
		}
		days := int(math.Ceil(math.Abs(now.Sub(submitted).Hours()) / 24))
		totalDays += days
		counted++
	}
	if counted == 0 {
		return 0
	}
	return int(math.Round(float64(totalDays) / float64(counted)))
}

// averageResolutionDays computes the mean submission-to-last-update span
// of closed tickets, in whole days.
func averageResolutionDays(rows []models.TicketRow) int {
	var totalDays, counted int
	for _, row := range rows {
		start, okStart := parseDate(row[models.ColSubmitted])
		end, okEnd := parseDate(row[models.ColUpdated])
		if !okStart || !okEnd {
			continue
		}
		span := end.Sub(start)
		if span < 0 {
			span = 0
		}
		totalDays += int(math.Ceil(span.Hours() / 24))
		counted++
	}
	if counted == 0 {
		return 0
	}
	return int(math.Round(float64(totalDays) / float64(counted)))
}

// backlogOverTime reconstructs, for each period label, how many tickets
// were open at the end of that period: submitted before the period end
// and either never validated or validated after it.
func backlogOverTime(rows []models.TicketRow, periods []string, monthly bool) []models.LabelCount {
	out := make([]models.LabelCount, 0, len(periods))
	for _, label := range periods {
		start, ok := parseDate(label)
		if !ok {
			continue
		}

		var end time.Time
		if monthly {
			end = time.Date(start.Year(), start.Month()+1, 0, 23, 59, 59, 0, start.Location())
		} else {
			end = start.AddDate(0, 0, 6)
			end = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, end.Location())
		}

		count := 0
		for _, row := range rows {
			submitted, ok := parseDate(row[models.ColSubmitted])
			if !ok || submitted.After(end) {
				continue
			}
			if isValidated(row) {
				closedAt, ok := parseDate(row[models.ColUpdated])
				if !ok || !closedAt.After(end) {
					continue
				}
			}
			count++
		}
		out = append(out, models.LabelCount{Label: label, Value: count})
	}
	return out
}
