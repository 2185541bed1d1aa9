package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidTitle indicates that a record title is empty.
	ErrInvalidTitle = errors.New("documents: invalid title")
)

// DocumentID represents a validated record identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// School is a reference row that case studies and events attach to.
type School struct {
	SchoolID  string    `gorm:"column:school_id;primaryKey;size:190;not null" json:"school_id"`
	Name      string    `gorm:"column:name;size:320;not null" json:"name"`
	Region    string    `gorm:"column:region;size:190" json:"region"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (School) TableName() string {
	return "schools"
}

// CaseStudy is a lockable editorial record describing work done with a school.
type CaseStudy struct {
	CaseStudyID string    `gorm:"column:case_study_id;primaryKey;size:190;not null" json:"case_study_id"`
	SchoolID    string    `gorm:"column:school_id;size:190;index" json:"school_id"`
	Title       string    `gorm:"column:title;size:320;not null" json:"title"`
	Summary     string    `gorm:"column:summary;type:text" json:"summary"`
	BodyJSON    string    `gorm:"column:body_json;type:text;not null;default:'{}'" json:"body_json"`
	Published   bool      `gorm:"column:published;not null;default:false" json:"published"`
	UpdatedBy   string    `gorm:"column:updated_by;size:190" json:"updated_by"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (CaseStudy) TableName() string {
	return "case_studies"
}

// Event is a lockable record for a scheduled programme event.
type Event struct {
	EventID   string    `gorm:"column:event_id;primaryKey;size:190;not null" json:"event_id"`
	SchoolID  string    `gorm:"column:school_id;size:190;index" json:"school_id"`
	Title     string    `gorm:"column:title;size:320;not null" json:"title"`
	Location  string    `gorm:"column:location;size:320" json:"location"`
	StartsAt  time.Time `gorm:"column:starts_at" json:"starts_at"`
	EndsAt    time.Time `gorm:"column:ends_at" json:"ends_at"`
	BodyJSON  string    `gorm:"column:body_json;type:text;not null;default:'{}'" json:"body_json"`
	Published bool      `gorm:"column:published;not null;default:false" json:"published"`
	UpdatedBy string    `gorm:"column:updated_by;size:190" json:"updated_by"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// Resource is a downloadable asset attached to the library pages.
type Resource struct {
	ResourceID string    `gorm:"column:resource_id;primaryKey;size:190;not null" json:"resource_id"`
	Title      string    `gorm:"column:title;size:320;not null" json:"title"`
	FileURL    string    `gorm:"column:file_url;size:512" json:"file_url"`
	Category   string    `gorm:"column:category;size:190;index" json:"category"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Resource) TableName() string {
	return "resources"
}
