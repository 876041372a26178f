package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/models"
	"github.com/copro-tools/pilotage/internal/storage"
)

// maxDocUploadSize caps one documentation file upload.
const maxDocUploadSize = 25 << 20

// DocumentationHandler serves the documentation spaces and items.
type DocumentationHandler struct {
	docs    *storage.DocStore
	uploads *storage.UploadStore
	logger  arbor.ILogger
}

// NewDocumentationHandler creates a handler over the given stores.
func NewDocumentationHandler(docs *storage.DocStore, uploads *storage.UploadStore, logger arbor.ILogger) *DocumentationHandler {
	return &DocumentationHandler{docs: docs, uploads: uploads, logger: logger}
}

// SpacesHandler serves GET (ordered list) and POST (create) on spaces.
func (h *DocumentationHandler) SpacesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data := h.docs.Data()
		sort.Slice(data.Spaces, func(i, j int) bool { return data.Spaces[i].Order < data.Spaces[j].Order })
		WriteJSON(w, http.StatusOK, data.Spaces)
	case http.MethodPost:
		var req struct {
			Name string `json:"name" validate:"required,min=1"`
		}
		if !DecodeAndValidate(w, r, &req) {
			return
		}
		space, err := h.docs.CreateSpace(req.Name)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, space)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// SpaceHandler serves PUT/DELETE on one space.
func (h *DocumentationHandler) SpaceHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPut:
		var req struct {
			Name  *string `json:"name"`
			Order *int    `json:"order"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
			return
		}
		space, err := h.docs.UpdateSpace(id, req.Name, req.Order)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Space not found")
			return
		}
		WriteJSON(w, http.StatusOK, space)
	case http.MethodDelete:
		orphaned, err := h.docs.DeleteSpace(id)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Space not found")
			return
		}
		for _, file := range orphaned {
			if err := h.uploads.Remove(file.Filename); err != nil {
				h.logger.Warn().Str("file", file.Filename).Err(err).Msg("Documentation file cleanup failed")
			}
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ItemsHandler serves GET (filtered list) and POST (create URL item).
func (h *DocumentationHandler) ItemsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listItems(w, r)
	case http.MethodPost:
		var req models.DocItemCreateRequest
		if !DecodeAndValidate(w, r, &req) {
			return
		}
		item, err := h.docs.CreateItem(req)
		if err != nil {
			if storage.IsNotFound(err) {
				WriteError(w, http.StatusNotFound, "Space not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, item)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DocumentationHandler) listItems(w http.ResponseWriter, r *http.Request) {
	data := h.docs.Data()
	items := data.Items
	q := r.URL.Query()

	if spaceID := q.Get("spaceId"); spaceID != "" {
		items = filterItems(items, func(i models.DocItem) bool { return i.SpaceID == spaceID })
	}
	if view := q.Get("view"); view != "" {
		items = filterItems(items, func(i models.DocItem) bool { return i.View == view })
	}
	if search := strings.ToLower(q.Get("search")); search != "" {
		items = filterItems(items, func(i models.DocItem) bool {
			if strings.Contains(strings.ToLower(i.Title), search) ||
				strings.Contains(strings.ToLower(i.Description), search) {
				return true
			}
			for _, tag := range i.Tags {
				if strings.Contains(strings.ToLower(tag), search) {
					return true
				}
			}
			return false
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	WriteJSON(w, http.StatusOK, items)
}

// ItemFileHandler serves POST: create a file-backed item from a multipart
// upload. Tags arrive as a JSON array in a form field.
func (h *DocumentationHandler) ItemFileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxDocUploadSize)
	if err := r.ParseMultipartForm(maxDocUploadSize); err != nil {
		WriteError(w, http.StatusBadRequest, "Upload too large or malformed: "+err.Error())
		return
	}

	spaceID := r.FormValue("spaceId")
	view := r.FormValue("view")
	title := r.FormValue("title")
	description := r.FormValue("description")

	file, header, err := r.FormFile("file")
	if spaceID == "" || view == "" || title == "" || err != nil {
		WriteError(w, http.StatusBadRequest, "Missing required fields or file")
		return
	}
	defer file.Close()

	var tags []string
	if raw := r.FormValue("tags"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid tags field: "+err.Error())
			return
		}
	}

	uploaded, err := h.uploads.Save(file, header)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	item, err := h.docs.CreateFileItem(spaceID, view, title, description, tags, uploaded)
	if err != nil {
		h.uploads.Remove(uploaded.Filename)
		if storage.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "Space not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, item)
}

// ItemHandler serves PUT/DELETE on one item.
func (h *DocumentationHandler) ItemHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPut:
		var patch map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
			return
		}
		item, err := h.docs.UpdateItem(id, patch)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Item not found")
			return
		}
		WriteJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		file, err := h.docs.DeleteItem(id)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Item not found")
			return
		}
		if file != nil {
			if err := h.uploads.Remove(file.Filename); err != nil {
				h.logger.Warn().Str("file", file.Filename).Err(err).Msg("Documentation file cleanup failed")
			}
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func filterItems(items []models.DocItem, keep func(models.DocItem) bool) []models.DocItem {
	out := items[:0]
	for _, i := range items {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}
