package storage

import (
	"errors"
	"sync"

	"github.com/copro-tools/pilotage/internal/models"
)

const ticketCacheFile = "mantis_cache.json"

// TicketStore holds the enriched ticket snapshot. The in-memory copy is
// the source of truth for reads; the JSON file exists so a restart picks
// up the last refresh instead of starting cold.
type TicketStore struct {
	files *FileStore

	mu    sync.RWMutex
	cache *models.TicketCache
}

// NewTicketStore loads any snapshot persisted by a previous run.
func NewTicketStore(files *FileStore) (*TicketStore, error) {
	s := &TicketStore{files: files}

	var cached models.TicketCache
	err := files.ReadJSON(ticketCacheFile, &cached)
	switch {
	case err == nil:
		s.cache = &cached
	case errors.Is(err, ErrNotFound):
		// first run, nothing persisted yet
	default:
		return nil, err
	}
	return s, nil
}

// Get returns the current snapshot, or nil when no refresh has completed
// yet.
func (s *TicketStore) Get() *models.TicketCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// Set replaces the snapshot in memory and persists it atomically.
func (s *TicketStore) Set(cache *models.TicketCache) error {
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return s.files.WriteJSON(ticketCacheFile, cache)
}

// UpdateRow patches one ticket row and persists the snapshot. Used by
// the targeted re-enrichment endpoint, which must not wait for the next
// bulk refresh to make a corrected priority visible.
//
// Callers of Get encode the snapshot outside the store's lock, so the
// patch is copy on write: the matched rows are cloned, the slice and the
// cache struct are fresh allocations, and any snapshot handed out
// earlier stays valid for concurrent reads.
func (s *TicketStore) UpdateRow(ticketID string, mutate func(models.TicketRow)) error {
	s.mu.Lock()
	if s.cache == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	found := false
	data := make([]models.TicketRow, len(s.cache.Data))
	for i, row := range s.cache.Data {
		if models.NormalizeTicketID(row.Identifier()) == ticketID {
			clone := make(models.TicketRow, len(row)+1)
			for k, v := range row {
				clone[k] = v
			}
			mutate(clone)
			row = clone
			found = true
		}
		data[i] = row
	}
	if !found {
		s.mu.Unlock()
		return ErrNotFound
	}
	next := *s.cache
	next.Data = data
	s.cache = &next
	cache := s.cache
	s.mu.Unlock()

	return s.files.WriteJSON(ticketCacheFile, cache)
}
