package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/copro-tools/pilotage/internal/models"
)

// UploadStore keeps uploaded files on disk under a flat directory. Files
// are stored under generated names so uploads never collide or escape the
// directory; the original name only survives in the metadata.
type UploadStore struct {
	dir string
}

// NewUploadStore creates the uploads directory if needed.
func NewUploadStore(dir string) (*UploadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir %s: %w", dir, err)
	}
	return &UploadStore{dir: dir}, nil
}

// Dir returns the uploads directory, for serving files statically.
func (s *UploadStore) Dir() string {
	return s.dir
}

// Save writes one multipart upload to disk and returns its metadata.
func (s *UploadStore) Save(file multipart.File, header *multipart.FileHeader) (models.UploadedFile, error) {
	id := uuid.New().String()
	stored := id + filepath.Ext(header.Filename)

	dst, err := os.Create(filepath.Join(s.dir, stored))
	if err != nil {
		return models.UploadedFile{}, fmt.Errorf("create upload %s: %w", stored, err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(dst.Name())
		return models.UploadedFile{}, fmt.Errorf("write upload %s: %w", stored, err)
	}

	return models.UploadedFile{
		ID:           id,
		Filename:     stored,
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Size:         size,
		UploadedAt:   time.Now().UTC(),
		URL:          "/uploads/" + stored,
	}, nil
}

// Remove deletes a stored file. A file already gone is not an error.
func (s *UploadStore) Remove(filename string) error {
	if filename == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, filepath.Base(filename)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload %s: %w", filename, err)
	}
	return nil
}
