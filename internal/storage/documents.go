package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copro-tools/pilotage/internal/models"
)

const documentsFile = "documentation.json"

// DefaultSpaceName is seeded on first run so items always have a home.
const DefaultSpaceName = "Général"

// DocStore manages documentation spaces and their items.
type DocStore struct {
	files *FileStore

	mu   sync.RWMutex
	data models.DocData
}

// NewDocStore loads the documentation library, seeding the default space
// when the file does not exist yet.
func NewDocStore(files *FileStore) (*DocStore, error) {
	s := &DocStore{files: files}
	err := files.ReadJSON(documentsFile, &s.data)
	switch {
	case err == nil:
	case IsNotFound(err):
		now := time.Now().UTC()
		s.data = models.DocData{
			Spaces: []models.Space{{
				ID:        uuid.New().String(),
				Name:      DefaultSpaceName,
				Order:     0,
				CreatedAt: now,
				UpdatedAt: now,
			}},
			Items: make([]models.DocItem, 0),
		}
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	if s.data.Spaces == nil {
		s.data.Spaces = make([]models.Space, 0)
	}
	if s.data.Items == nil {
		s.data.Items = make([]models.DocItem, 0)
	}
	return s, nil
}

// Data returns a copy of the whole library.
func (s *DocStore) Data() models.DocData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := models.DocData{
		Spaces: make([]models.Space, len(s.data.Spaces)),
		Items:  make([]models.DocItem, len(s.data.Items)),
	}
	copy(out.Spaces, s.data.Spaces)
	copy(out.Items, s.data.Items)
	return out
}

// CreateSpace appends a new space at the end of the ordering.
func (s *DocStore) CreateSpace(name string) (models.Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	space := models.Space{
		ID:        uuid.New().String(),
		Name:      name,
		Order:     len(s.data.Spaces),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.data.Spaces = append(s.data.Spaces, space)
	return space, s.persistLocked()
}

// UpdateSpace applies the non-nil name and order to a space.
func (s *DocStore) UpdateSpace(id string, name *string, order *int) (models.Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Spaces {
		if s.data.Spaces[i].ID != id {
			continue
		}
		if name != nil {
			s.data.Spaces[i].Name = *name
		}
		if order != nil {
			s.data.Spaces[i].Order = *order
		}
		s.data.Spaces[i].UpdatedAt = time.Now().UTC()
		return s.data.Spaces[i], s.persistLocked()
	}
	return models.Space{}, fmt.Errorf("%w: space %s", ErrNotFound, id)
}

// DeleteSpace removes a space together with its items, returning any
// uploaded files that belonged to them.
func (s *DocStore) DeleteSpace(id string) ([]models.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.data.Spaces {
		if s.data.Spaces[i].ID == id {
			s.data.Spaces = append(s.data.Spaces[:i], s.data.Spaces[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: space %s", ErrNotFound, id)
	}

	var orphaned []models.UploadedFile
	kept := s.data.Items[:0]
	for _, item := range s.data.Items {
		if item.SpaceID == id {
			if item.File != nil {
				orphaned = append(orphaned, *item.File)
			}
			continue
		}
		kept = append(kept, item)
	}
	s.data.Items = kept
	return orphaned, s.persistLocked()
}

// CreateItem adds a URL item to a space.
func (s *DocStore) CreateItem(req models.DocItemCreateRequest) (models.DocItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.spaceExistsLocked(req.SpaceID) {
		return models.DocItem{}, fmt.Errorf("%w: space %s", ErrNotFound, req.SpaceID)
	}

	now := time.Now().UTC()
	item := models.DocItem{
		ID:          uuid.New().String(),
		SpaceID:     req.SpaceID,
		View:        req.View,
		Title:       req.Title,
		Type:        req.Type,
		URL:         req.URL,
		Description: req.Description,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if item.Type == "" {
		item.Type = "url"
	}
	if item.Tags == nil {
		item.Tags = make([]string, 0)
	}
	s.data.Items = append([]models.DocItem{item}, s.data.Items...)
	return item, s.persistLocked()
}

// CreateFileItem adds a file-backed item to a space.
func (s *DocStore) CreateFileItem(spaceID, view, title, description string, tags []string, file models.UploadedFile) (models.DocItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.spaceExistsLocked(spaceID) {
		return models.DocItem{}, fmt.Errorf("%w: space %s", ErrNotFound, spaceID)
	}

	now := time.Now().UTC()
	item := models.DocItem{
		ID:          uuid.New().String(),
		SpaceID:     spaceID,
		View:        view,
		Title:       title,
		Type:        "file",
		Description: description,
		Tags:        tags,
		File:        &file,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if item.Tags == nil {
		item.Tags = make([]string, 0)
	}
	s.data.Items = append([]models.DocItem{item}, s.data.Items...)
	return item, s.persistLocked()
}

// UpdateItem applies a partial update to an item. Supported fields are
// title, url, description, tags, spaceId and isFavorite.
func (s *DocStore) UpdateItem(id string, patch map[string]interface{}) (models.DocItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Items {
		if s.data.Items[i].ID != id {
			continue
		}
		item := &s.data.Items[i]
		if v, ok := patch["title"].(string); ok && v != "" {
			item.Title = v
		}
		if v, ok := patch["url"].(string); ok {
			item.URL = v
		}
		if v, ok := patch["description"].(string); ok {
			item.Description = v
		}
		if v, ok := patch["spaceId"].(string); ok && v != "" {
			if !s.spaceExistsLocked(v) {
				return models.DocItem{}, fmt.Errorf("%w: space %s", ErrNotFound, v)
			}
			item.SpaceID = v
		}
		if v, ok := patch["isFavorite"].(bool); ok {
			item.IsFavorite = v
		}
		if raw, ok := patch["tags"].([]interface{}); ok {
			tags := make([]string, 0, len(raw))
			for _, t := range raw {
				if tag, ok := t.(string); ok {
					tags = append(tags, tag)
				}
			}
			item.Tags = tags
		}
		item.UpdatedAt = time.Now().UTC()
		return *item, s.persistLocked()
	}
	return models.DocItem{}, fmt.Errorf("%w: item %s", ErrNotFound, id)
}

// DeleteItem removes an item, returning its file when it had one.
func (s *DocStore) DeleteItem(id string) (*models.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Items {
		if s.data.Items[i].ID != id {
			continue
		}
		file := s.data.Items[i].File
		s.data.Items = append(s.data.Items[:i], s.data.Items[i+1:]...)
		return file, s.persistLocked()
	}
	return nil, fmt.Errorf("%w: item %s", ErrNotFound, id)
}

func (s *DocStore) spaceExistsLocked(id string) bool {
	for _, space := range s.data.Spaces {
		if space.ID == id {
			return true
		}
	}
	return false
}

func (s *DocStore) persistLocked() error {
	return s.files.WriteJSON(documentsFile, s.data)
}
