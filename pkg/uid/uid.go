package uid

import "github.com/google/uuid"

// New generates a new random identifier for pool items and delivery records.
func New() string {
	return uuid.NewString()
}

// IsValid reports whether id is a well-formed UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
