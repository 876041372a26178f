package models

import "time"

// Space groups documentation items, like a SharePoint library.
type Space struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocItem is a documentation entry: either an external URL or an uploaded file.
type DocItem struct {
	ID          string        `json:"id"`
	SpaceID     string        `json:"spaceId"`
	View        string        `json:"view"`
	Title       string        `json:"title"`
	Type        string        `json:"type"` // "url" or "file"
	URL         string        `json:"url,omitempty"`
	Description string        `json:"description"`
	Tags        []string      `json:"tags"`
	File        *UploadedFile `json:"file,omitempty"`
	IsFavorite  bool          `json:"isFavorite,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// DocData is the persisted documentation library.
type DocData struct {
	Spaces []Space   `json:"spaces"`
	Items  []DocItem `json:"items"`
}

// DocItemCreateRequest is the payload for creating a URL documentation item.
type DocItemCreateRequest struct {
	SpaceID     string   `json:"spaceId" validate:"required"`
	View        string   `json:"view" validate:"required"`
	Title       string   `json:"title" validate:"required,min=1"`
	Type        string   `json:"type" validate:"omitempty,oneof=url file"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}
