package collab

import (
	"errors"
	"strings"
	"testing"
)

func mustKey(t *testing.T, documentType, documentID string) DocumentKey {
	t.Helper()
	key, err := NewDocumentKey(documentType, documentID)
	if err != nil {
		t.Fatalf("unexpected document key error: %v", err)
	}
	return key
}

func TestNewDocumentKeyNormalizesInput(t *testing.T) {
	key := mustKey(t, " Case_Study ", " cs-1 ")
	if key.Type != DocumentTypeCaseStudy {
		t.Fatalf("expected case_study type, got %s", key.Type)
	}
	if key.ID != "cs-1" {
		t.Fatalf("expected trimmed id, got %q", key.ID)
	}
	if key.String() != "case_study/cs-1" {
		t.Fatalf("unexpected string form %q", key.String())
	}
}

func TestNewDocumentKeyRejectsUnknownType(t *testing.T) {
	_, err := NewDocumentKey("resource", "r-1")
	if !errors.Is(err, ErrInvalidDocumentType) {
		t.Fatalf("expected invalid document type error, got %v", err)
	}
}

func TestNewDocumentKeyRejectsEmptyID(t *testing.T) {
	_, err := NewDocumentKey("event", "   ")
	if !errors.Is(err, ErrInvalidDocumentID) {
		t.Fatalf("expected invalid document id error, got %v", err)
	}
}

func TestNewDocumentKeyRejectsOversizedID(t *testing.T) {
	_, err := NewDocumentKey("event", strings.Repeat("x", maxDocumentIDLength+1))
	if !errors.Is(err, ErrInvalidDocumentID) {
		t.Fatalf("expected invalid document id error, got %v", err)
	}
}

func TestDocumentKeysAreComparable(t *testing.T) {
	first := mustKey(t, "event", "ev-1")
	second := mustKey(t, "event", "ev-1")
	other := mustKey(t, "case_study", "ev-1")
	if first != second {
		t.Fatalf("expected identical keys to compare equal")
	}
	if first == other {
		t.Fatalf("expected keys of different types to differ")
	}
}
