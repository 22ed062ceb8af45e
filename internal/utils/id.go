package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a short unique identifier suitable for log correlation.
func NewID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}
