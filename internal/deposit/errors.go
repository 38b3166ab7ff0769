package deposit

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNotFound indicates no deposit row exists for the reference.
	ErrNotFound = errors.New("deposit not found")

	// ErrInvalidReference indicates a missing or malformed payment reference.
	ErrInvalidReference = errors.New("invalid payment reference")

	// ErrDuplicate indicates a uniqueness violation that the store could not absorb.
	ErrDuplicate = errors.New("duplicate deposit")
)

const maxReferenceLen = 128

var referencePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]*$`)

// NormalizeReference trims the reference and checks its shape.
func NormalizeReference(raw string) (string, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" || len(ref) > maxReferenceLen || !referencePattern.MatchString(ref) {
		return "", ErrInvalidReference
	}
	return ref, nil
}
