package mantis

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/copro-tools/pilotage/internal/models"
)

// ParseCSV turns the raw export payload into ticket rows keyed by the
// header labels, preserving the header order for spreadsheet output.
// Short records are tolerated (older tracker versions truncate trailing
// empty columns); fully empty lines are skipped.
func ParseCSV(payload string) ([]string, []models.TicketRow, error) {
	payload = strings.TrimPrefix(payload, "\ufeff") // exporter emits a BOM

	reader := csv.NewReader(strings.NewReader(payload))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CSV export: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("CSV export is empty")
	}

	header := make([]string, 0, len(records[0]))
	for _, col := range records[0] {
		header = append(header, strings.TrimSpace(col))
	}

	rows := make([]models.TicketRow, 0, len(records)-1)
	for _, record := range records[1:] {
		if isEmptyRecord(record) {
			continue
		}
		row := make(models.TicketRow, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}

	return header, rows, nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
