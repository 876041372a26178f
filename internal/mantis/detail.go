package mantis

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/copro-tools/pilotage/internal/models"
)

// Anchors carrying these texts are tracker management actions rendered
// next to real attachments, never files themselves.
var attachmentDenylist = map[string]struct{}{
	"[Détacher]":  {},
	"[Supprimer]": {},
	"Détacher":    {},
	"Supprimer":   {},
}

func isAttachmentHref(href string) bool {
	return strings.Contains(href, "file_download.php") ||
		strings.Contains(href, "download") ||
		strings.Contains(href, "plugin.php")
}

// FetchIssueDetails scrapes the long-form sections of one ticket detail
// page: description, steps to reproduce, additional information, the
// attachment list and the public/private note thread. Ticket id must be
// the stripped form.
func (c *Client) FetchIssueDetails(ctx context.Context, ticketID string) (*models.IssueDetail, error) {
	res, err := c.Get(ctx, "/view.php", url.Values{"id": {ticketID}})
	if err != nil {
		return nil, fmt.Errorf("issue details for #%s: %w", ticketID, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse issue page for #%s: %w", ticketID, err)
	}

	detail := &models.IssueDetail{ID: ticketID}
	c.extractSections(doc, detail)
	detail.Attachments = c.extractAttachments(doc)
	detail.Notes = extractNotes(doc)
	return detail, nil
}

// extractSections fills the labelled text blocks. Labels are matched
// case-insensitively on the category cell, value taken from its sibling.
// A later match overwrites an earlier one, empty values included; real
// pages render one block per label so this only matters on odd markup.
func (c *Client) extractSections(doc *goquery.Document, detail *models.IssueDetail) {
	doc.Find("td.category").Each(func(_ int, cell *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(cell.Text()))
		value := strings.TrimSpace(cell.Next().Text())
		switch {
		case strings.Contains(label, "description"):
			detail.Description = value
		case strings.Contains(label, "reproduire"), strings.Contains(label, "steps to reproduce"):
			detail.StepsToReproduce = value
		case strings.Contains(label, "informations supplémentaires"), strings.Contains(label, "additional information"):
			detail.AdditionalInfo = value
		}
	})
}

// extractAttachments walks every table once so an attachment block that
// both carries id="attachments" and the localized header is not counted
// twice.
func (c *Client) extractAttachments(doc *goquery.Document) []models.IssueAttachment {
	attachments := make([]models.IssueAttachment, 0)
	seen := make(map[string]struct{})

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		id, _ := table.Attr("id")
		text := table.Text()
		if id != "attachments" &&
			!strings.Contains(text, "Fichiers attachés") &&
			!strings.Contains(text, "Attached Files") {
			return
		}

		table.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			name := strings.TrimSpace(link.Text())
			href, _ := link.Attr("href")
			if name == "" || !isAttachmentHref(href) {
				return
			}
			if _, denied := attachmentDenylist[name]; denied {
				return
			}
			absolute := c.Resolve(href)
			if _, dup := seen[absolute]; dup {
				return
			}
			seen[absolute] = struct{}{}
			attachments = append(attachments, models.IssueAttachment{Name: name, URL: absolute})
		})
	})

	return attachments
}

func extractNotes(doc *goquery.Document) []models.Note {
	notes := make([]models.Note, 0)

	doc.Find(".bugnote").Each(func(_ int, note *goquery.Selection) {
		text := strings.TrimSpace(note.Find(".bugnote-note-public, .bugnote-note-private").Text())
		if text == "" {
			return
		}
		notes = append(notes, models.Note{
			Author: strings.TrimSpace(note.Find(".bugnote-author").Text()),
			Date:   strings.TrimSpace(note.Find(".bugnote-date").Text()),
			Text:   text,
		})
	})
	if len(notes) > 0 {
		return notes
	}

	// Older tracker themes render the thread as a plain two-row-per-note
	// table: a header row with the author and date, then the note body.
	doc.Find("table.width100 tr").Each(func(_ int, row *goquery.Selection) {
		cell := row.Find("td.bugnote-public, td.bugnote-private").First()
		if cell.Length() == 0 {
			return
		}
		text := strings.TrimSpace(row.Next().Text())
		if text == "" {
			return
		}
		notes = append(notes, models.Note{
			Author: strings.TrimSpace(cell.Text()),
			Date:   strings.TrimSpace(row.Find("td.small").First().Text()),
			Text:   text,
		})
	})

	return notes
}
