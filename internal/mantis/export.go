package mantis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrHTMLExport signals that the export endpoint answered with an HTML
// page instead of CSV, which the tracker does when the session expired.
// Callers use it to tell "session died mid-job" apart from a plain
// network failure; the job is aborted rather than silently re-logged-in.
var ErrHTMLExport = errors.New("mantis export returned HTML")

// ExportCSV drives the saved-filter export flow on an authenticated
// session: load the configured filter (with a cache-busting timestamp),
// then download the CSV payload.
func (c *Client) ExportCSV(ctx context.Context, queryID string) (string, error) {
	c.logger.Debug().Str("query_id", queryID).Msg("Loading saved filter")
	_, err := c.Get(ctx, "/view_all_set.php", url.Values{
		"type":            {"3"},
		"source_query_id": {queryID},
		"t":               {strconv.FormatInt(time.Now().UnixMilli(), 10)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to load saved filter: %w", err)
	}

	c.logger.Debug().Msg("Downloading CSV export")
	res, err := c.Get(ctx, "/csv_export.php", nil)
	if err != nil {
		return "", fmt.Errorf("failed to download export: %w", err)
	}

	if strings.Contains(res.Body, "<html") {
		return "", ErrHTMLExport
	}

	return res.Body, nil
}
