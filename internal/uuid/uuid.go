// Package uuid assigns identifiers to locally created records.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Ensure returns id when it is non-blank and a fresh UUID otherwise.
// Records created offline get their identifier here so the same id
// reaches the remote store on replay.
func Ensure(id string) string {
	if strings.TrimSpace(id) == "" {
		return New()
	}
	return id
}

// IsValid reports whether s is a canonical, dashed UUID v4.
func IsValid(s string) bool {
	return Validate(s) == nil
}

// Validate returns an error if s is not a canonical, dashed UUID v4.
func Validate(s string) error {
	if len(s) != 36 {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return fmt.Errorf("expected UUID v4, got %q", s)
	}
	return nil
}
