package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/models"
	"github.com/copro-tools/pilotage/internal/storage"
)

// maxTopicUploadSize caps one attachment upload request.
const maxTopicUploadSize = 20 << 20

// maxAttachmentsPerRequest caps how many files one upload may carry.
const maxAttachmentsPerRequest = 10

// TopicsHandler serves the open-topics CRUD endpoints.
type TopicsHandler struct {
	topics  *storage.TopicStore
	uploads *storage.UploadStore
	logger  arbor.ILogger
}

// NewTopicsHandler creates a handler over the given stores.
func NewTopicsHandler(topics *storage.TopicStore, uploads *storage.UploadStore, logger arbor.ILogger) *TopicsHandler {
	return &TopicsHandler{topics: topics, uploads: uploads, logger: logger}
}

// CollectionHandler serves GET (filtered list) and POST (create) on the
// collection route.
func (h *TopicsHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ItemHandler serves GET/PUT/DELETE on one topic.
func (h *TopicsHandler) ItemHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		topic, err := h.topics.Get(id)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Topic not found")
			return
		}
		WriteJSON(w, http.StatusOK, topic)
	case http.MethodPut:
		var req models.TopicUpdateRequest
		if !DecodeAndValidate(w, r, &req) {
			return
		}
		topic, err := h.topics.Update(id, req)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Topic not found")
			return
		}
		WriteJSON(w, http.StatusOK, topic)
	case http.MethodDelete:
		attachments, err := h.topics.Delete(id)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Topic not found")
			return
		}
		for _, att := range attachments {
			if err := h.uploads.Remove(att.Filename); err != nil {
				h.logger.Warn().Str("file", att.Filename).Err(err).Msg("Attachment cleanup failed")
			}
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TopicsHandler) list(w http.ResponseWriter, r *http.Request) {
	topics := h.topics.List()
	q := r.URL.Query()

	if search := strings.ToLower(q.Get("search")); search != "" {
		topics = filterTopics(topics, func(t models.Topic) bool {
			return strings.Contains(strings.ToLower(t.Title), search) ||
				strings.Contains(strings.ToLower(t.Summary), search) ||
				strings.Contains(strings.ToLower(t.Description), search)
		})
	}
	if status := q.Get("status"); status != "" {
		topics = filterTopics(topics, func(t models.Topic) bool { return t.Status == status })
	}
	if priority := q.Get("priority"); priority != "" {
		topics = filterTopics(topics, func(t models.Topic) bool { return t.Priority == priority })
	}
	if owner := strings.ToLower(q.Get("owner")); owner != "" {
		topics = filterTopics(topics, func(t models.Topic) bool {
			return strings.Contains(strings.ToLower(t.Owner), owner)
		})
	}
	if tag := q.Get("tag"); tag != "" {
		topics = filterTopics(topics, func(t models.Topic) bool {
			for _, candidate := range t.Tags {
				if candidate == tag {
					return true
				}
			}
			return false
		})
	}

	sortTopics(topics, q.Get("sortBy"), q.Get("sortDir"))
	WriteJSON(w, http.StatusOK, topics)
}

func (h *TopicsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req models.TopicCreateRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		WriteError(w, http.StatusBadRequest, "Title is required")
		return
	}

	topic, err := h.topics.Create(req)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info().Str("topic_id", topic.ID).Str("title", topic.Title).Msg("Topic created")
	WriteJSON(w, http.StatusCreated, topic)
}

// AttachmentsHandler serves POST (upload) on a topic's attachment route.
func (h *TopicsHandler) AttachmentsHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if _, err := h.topics.Get(id); err != nil {
		WriteError(w, http.StatusNotFound, "Topic not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTopicUploadSize)
	if err := r.ParseMultipartForm(maxTopicUploadSize); err != nil {
		WriteError(w, http.StatusBadRequest, "Upload too large or malformed: "+err.Error())
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		WriteError(w, http.StatusBadRequest, "No files provided")
		return
	}
	if len(files) > maxAttachmentsPerRequest {
		files = files[:maxAttachmentsPerRequest]
	}

	var saved []models.UploadedFile
	var topic models.Topic
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Unreadable file: "+header.Filename)
			return
		}
		uploaded, err := h.uploads.Save(file, header)
		file.Close()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}

		topic, err = h.topics.AddAttachment(id, uploaded)
		if err != nil {
			h.uploads.Remove(uploaded.Filename)
			WriteError(w, http.StatusNotFound, "Topic not found")
			return
		}
		saved = append(saved, uploaded)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"attachments": saved,
		"topic":       topic,
	})
}

// AttachmentHandler serves DELETE on one attachment.
func (h *TopicsHandler) AttachmentHandler(w http.ResponseWriter, r *http.Request, id, attachmentID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	file, err := h.topics.RemoveAttachment(id, attachmentID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Attachment not found")
		return
	}
	if err := h.uploads.Remove(file.Filename); err != nil {
		h.logger.Warn().Str("file", file.Filename).Err(err).Msg("Attachment cleanup failed")
	}

	topic, err := h.topics.Get(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Topic not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"topic":   topic,
	})
}

func filterTopics(topics []models.Topic, keep func(models.Topic) bool) []models.Topic {
	out := topics[:0]
	for _, t := range topics {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// sortTopics orders topics by the requested field, descending by default.
func sortTopics(topics []models.Topic, sortBy, sortDir string) {
	if sortBy == "" {
		sortBy = "updatedAt"
	}
	asc := sortDir == "asc"

	less := func(a, b models.Topic) bool {
		switch sortBy {
		case "createdAt":
			return a.CreatedAt.Before(b.CreatedAt)
		case "title":
			return a.Title < b.Title
		case "status":
			return a.Status < b.Status
		case "priority":
			return a.Priority < b.Priority
		case "owner":
			return a.Owner < b.Owner
		default:
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	}

	sort.SliceStable(topics, func(i, j int) bool {
		if asc {
			return less(topics[i], topics[j])
		}
		return less(topics[j], topics[i])
	})
}
