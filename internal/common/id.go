package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job id with the given prefix.
// Format: <prefix>-<uuid>
func NewJobID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}
