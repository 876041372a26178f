package models

import "time"

// UploadedFile describes a file stored in the uploads directory, attached
// to a topic or documentation item.
type UploadedFile struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
	URL          string    `json:"url"`
}

// Topic is one ad-hoc "open topic" tracked outside Mantis.
type Topic struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Summary     string         `json:"summary"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	Owner       string         `json:"owner"`
	Tags        []string       `json:"tags"`
	DueDate     *string        `json:"dueDate"`
	Links       []string       `json:"links"`
	Attachments []UploadedFile `json:"attachments"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// TopicCreateRequest is the payload for creating a topic.
type TopicCreateRequest struct {
	Title       string   `json:"title" validate:"required,min=1"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Owner       string   `json:"owner"`
	Tags        []string `json:"tags"`
	DueDate     *string  `json:"dueDate"`
	Links       []string `json:"links"`
}

// TopicUpdateRequest is the payload for updating a topic. Nil pointers
// leave the corresponding field untouched.
type TopicUpdateRequest struct {
	Title       *string   `json:"title" validate:"omitempty,min=1"`
	Summary     *string   `json:"summary"`
	Description *string   `json:"description"`
	Status      *string   `json:"status"`
	Priority    *string   `json:"priority"`
	Owner       *string   `json:"owner"`
	Tags        *[]string `json:"tags"`
	DueDate     *string   `json:"dueDate"`
	Links       *[]string `json:"links"`
}
