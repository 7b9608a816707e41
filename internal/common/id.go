package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a client-side job identifier with the "job_" prefix.
// Used when the automation backend expects the caller to pre-assign the id.
func NewJobID() string {
	return "job_" + uuid.New().String()
}
