package collab

import (
	"errors"
	"fmt"
	"strings"
)

// DocumentType names a lockable record family.
type DocumentType string

const (
	// DocumentTypeCaseStudy addresses case study records.
	DocumentTypeCaseStudy DocumentType = "case_study"
	// DocumentTypeEvent addresses event records.
	DocumentTypeEvent DocumentType = "event"
)

const maxDocumentIDLength = 190

var (
	// ErrInvalidDocumentType indicates an unknown document type string.
	ErrInvalidDocumentType = errors.New("collab: invalid document type")
	// ErrInvalidDocumentID indicates an empty or oversized document identifier.
	ErrInvalidDocumentID = errors.New("collab: invalid document id")
)

// ParseDocumentType validates raw input and returns a DocumentType.
func ParseDocumentType(rawInput string) (DocumentType, error) {
	switch DocumentType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case DocumentTypeCaseStudy:
		return DocumentTypeCaseStudy, nil
	case DocumentTypeEvent:
		return DocumentTypeEvent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDocumentType, rawInput)
	}
}

// DocumentKey uniquely addresses a lockable record. It is a comparable value
// type so it can index the lock and presence tables directly.
type DocumentKey struct {
	Type DocumentType
	ID   string
}

// NewDocumentKey validates the parts and returns a DocumentKey.
func NewDocumentKey(documentType, documentID string) (DocumentKey, error) {
	parsedType, err := ParseDocumentType(documentType)
	if err != nil {
		return DocumentKey{}, err
	}
	trimmedID := strings.TrimSpace(documentID)
	if trimmedID == "" {
		return DocumentKey{}, fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmedID) > maxDocumentIDLength {
		return DocumentKey{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxDocumentIDLength)
	}
	return DocumentKey{Type: parsedType, ID: trimmedID}, nil
}

// String renders the key for logging and store namespacing.
func (k DocumentKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Zero reports whether the key is the empty value.
func (k DocumentKey) Zero() bool {
	return k.Type == "" && k.ID == ""
}
