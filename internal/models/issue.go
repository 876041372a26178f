package models

// Note is one bugnote scraped from a ticket detail page.
type Note struct {
	Author string `json:"author"`
	Date   string `json:"date,omitempty"`
	Text   string `json:"text"`
}

// IssueAttachment is a download link found in the attachments table of a
// ticket detail page.
type IssueAttachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// IssueDetail holds everything the full-detail scraper extracts from one
// ticket page. Fields may be empty when the page layout did not expose
// them; extraction is best effort.
type IssueDetail struct {
	ID               string            `json:"id"`
	Description      string            `json:"description"`
	StepsToReproduce string            `json:"steps_to_reproduce"`
	AdditionalInfo   string            `json:"additional_info"`
	Notes            []Note            `json:"notes"`
	Attachments      []IssueAttachment `json:"attachments"`
}
