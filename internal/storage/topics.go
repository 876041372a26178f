package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copro-tools/pilotage/internal/models"
)

const topicsFile = "open-topics.json"

// Defaults applied when a create request leaves them blank.
const (
	DefaultTopicStatus   = "Backlog"
	DefaultTopicPriority = "P4"
)

// TopicStore manages the open-topics collection.
type TopicStore struct {
	files *FileStore

	mu     sync.RWMutex
	topics []models.Topic
}

// NewTopicStore loads the persisted collection, starting empty when none
// exists.
func NewTopicStore(files *FileStore) (*TopicStore, error) {
	s := &TopicStore{files: files, topics: make([]models.Topic, 0)}
	if err := files.ReadJSON(topicsFile, &s.topics); err != nil && !IsNotFound(err) {
		return nil, err
	}
	return s, nil
}

// List returns a copy of all topics, newest first.
func (s *TopicStore) List() []models.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Topic, len(s.topics))
	copy(out, s.topics)
	return out
}

// Get returns one topic by id.
func (s *TopicStore) Get(id string) (models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.topics {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Topic{}, fmt.Errorf("%w: topic %s", ErrNotFound, id)
}

// Create builds a topic from the request, prepends it and persists.
func (s *TopicStore) Create(req models.TopicCreateRequest) (models.Topic, error) {
	now := time.Now().UTC()
	topic := models.Topic{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Summary:     req.Summary,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Owner:       req.Owner,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
		Links:       req.Links,
		Attachments: make([]models.UploadedFile, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if topic.Status == "" {
		topic.Status = DefaultTopicStatus
	}
	if topic.Priority == "" {
		topic.Priority = DefaultTopicPriority
	}
	if topic.Tags == nil {
		topic.Tags = make([]string, 0)
	}
	if topic.Links == nil {
		topic.Links = make([]string, 0)
	}

	s.mu.Lock()
	s.topics = append([]models.Topic{topic}, s.topics...)
	err := s.persistLocked()
	s.mu.Unlock()
	return topic, err
}

// Update applies the non-nil fields of the request to the topic.
func (s *TopicStore) Update(id string, req models.TopicUpdateRequest) (models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.topics {
		if s.topics[i].ID != id {
			continue
		}
		t := &s.topics[i]
		if req.Title != nil {
			t.Title = *req.Title
		}
		if req.Summary != nil {
			t.Summary = *req.Summary
		}
		if req.Description != nil {
			t.Description = *req.Description
		}
		if req.Status != nil {
			t.Status = *req.Status
		}
		if req.Priority != nil {
			t.Priority = *req.Priority
		}
		if req.Owner != nil {
			t.Owner = *req.Owner
		}
		if req.Tags != nil {
			t.Tags = *req.Tags
		}
		if req.DueDate != nil {
			t.DueDate = req.DueDate
		}
		if req.Links != nil {
			t.Links = *req.Links
		}
		t.UpdatedAt = time.Now().UTC()
		return *t, s.persistLocked()
	}
	return models.Topic{}, fmt.Errorf("%w: topic %s", ErrNotFound, id)
}

// Delete removes the topic and returns its attachments so the caller can
// clean up the uploaded files.
func (s *TopicStore) Delete(id string) ([]models.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.topics {
		if s.topics[i].ID != id {
			continue
		}
		attachments := s.topics[i].Attachments
		s.topics = append(s.topics[:i], s.topics[i+1:]...)
		return attachments, s.persistLocked()
	}
	return nil, fmt.Errorf("%w: topic %s", ErrNotFound, id)
}

// AddAttachment records an uploaded file against the topic.
func (s *TopicStore) AddAttachment(id string, file models.UploadedFile) (models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.topics {
		if s.topics[i].ID != id {
			continue
		}
		s.topics[i].Attachments = append(s.topics[i].Attachments, file)
		s.topics[i].UpdatedAt = time.Now().UTC()
		return s.topics[i], s.persistLocked()
	}
	return models.Topic{}, fmt.Errorf("%w: topic %s", ErrNotFound, id)
}

// RemoveAttachment detaches one file from the topic and returns it.
func (s *TopicStore) RemoveAttachment(id, fileID string) (models.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.topics {
		if s.topics[i].ID != id {
			continue
		}
		for j, f := range s.topics[i].Attachments {
			if f.ID != fileID {
				continue
			}
			s.topics[i].Attachments = append(s.topics[i].Attachments[:j], s.topics[i].Attachments[j+1:]...)
			s.topics[i].UpdatedAt = time.Now().UTC()
			return f, s.persistLocked()
		}
		return models.UploadedFile{}, fmt.Errorf("%w: attachment %s", ErrNotFound, fileID)
	}
	return models.UploadedFile{}, fmt.Errorf("%w: topic %s", ErrNotFound, id)
}

func (s *TopicStore) persistLocked() error {
	return s.files.WriteJSON(topicsFile, s.topics)
}
