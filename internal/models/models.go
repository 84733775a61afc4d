package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Event workflow statuses
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// Event represents an accepted event row in the store. Column order mirrors
// the original ledger layout: title, date, time, description, link,
// original subject, status.
type Event struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	Title           string         `gorm:"not null" json:"title"`
	Date            string         `gorm:"not null" json:"date"`
	Time            string         `json:"time"`
	Description     string         `json:"description"`
	Link            string         `json:"link"`
	OriginalSubject string         `json:"original_subject"`
	Status          string         `gorm:"not null;default:Pending" json:"status"`
}

// CandidateMessage is one unread message pulled from the mail gateway.
// Immutable input: the pipeline only ever marks it read by ID.
type CandidateMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
	Unread  bool      `json:"unread"`
}

// ExtractedEvent is the structured result of a successful extraction.
type ExtractedEvent struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// NewEvent builds a Pending Event row from an extraction result and the
// subject of the message it came from.
func NewEvent(extracted ExtractedEvent, subject string) *Event {
	return &Event{
		ID:              uuid.New(),
		Title:           extracted.Title,
		Date:            extracted.Date,
		Time:            extracted.Time,
		Description:     extracted.Description,
		Link:            extracted.Link,
		OriginalSubject: subject,
		Status:          StatusPending,
	}
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}
	return nil
}
