package repositories

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/eventscout/internal/models"
)

// EventRepository provides access to the event ledger
type EventRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *EventRepository {
	return &EventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ReadAll returns every event row in insertion order
func (r *EventRepository) ReadAll(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to read events")
	}
	return events, nil
}

// Append adds one event row at the end of the ledger
func (r *EventRepository) Append(ctx context.Context, event *models.Event) error {
	// Use write DB for writes
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(err, "failed to append event")
	}
	return nil
}

// DeleteFirstMatchingTitle deletes the oldest event whose title matches
// exactly. Returns whether a match was found.
func (r *EventRepository) DeleteFirstMatchingTitle(ctx context.Context, title string) (bool, error) {
	var event models.Event
	err := r.db.WithContext(ctx).
		Where("title = ?", title).
		Order("created_at ASC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to look up event by title")
	}

	if err := r.db.WithContext(ctx).Delete(&event).Error; err != nil {
		return false, errors.Wrap(err, "failed to delete event")
	}
	return true, nil
}

// CountByStatus counts events in a given workflow status
func (r *EventRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Event{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count events by status")
	}
	return count, nil
}
