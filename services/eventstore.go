package services

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/learnquest/models"
)

// EventStore is the append-only XP event log.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// Append stores ev unless an event with the same (user_id, reason, source_ref) exists, in which
// case the stored event is returned and inserted is false.
func (s *EventStore) Append(ctx context.Context, ev models.XPEvent) (stored models.XPEvent, inserted bool, err error) {
	return appendEvent(s.db.WithContext(ctx), ev)
}

func appendEvent(tx *gorm.DB, ev models.XPEvent) (models.XPEvent, bool, error) {
	ev.ID = 0
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
	if res.Error != nil {
		return models.XPEvent{}, false, storeErr("append event", res.Error)
	}
	if res.RowsAffected == 1 {
		return ev, true, nil
	}
	if ev.SourceRef == nil {
		// only a keyed event can conflict
		return models.XPEvent{}, false, storeErr("append event", gorm.ErrInvalidData)
	}

	// a locking read sees the winner's row even under a snapshot taken before it committed
	var existing models.XPEvent
	err := forUpdate(tx).Where("user_id = ? AND reason = ? AND source_ref = ?", ev.UserID, ev.Reason, *ev.SourceRef).
		First(&existing).Error
	if err != nil {
		return models.XPEvent{}, false, storeErr("load duplicate event", err)
	}
	return existing, false, nil
}

// StreamFor returns the user's events in application order. The result is a fresh read on
// every call so replays can be restarted at any time.
func (s *EventStore) StreamFor(ctx context.Context, userID uint) ([]models.XPEvent, error) {
	return streamEvents(s.db.WithContext(ctx), userID)
}

func streamEvents(tx *gorm.DB, userID uint) ([]models.XPEvent, error) {
	var events []models.XPEvent
	err := tx.Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, storeErr("stream events", err)
	}
	return events, nil
}

// Count returns how many events the user has for reason.
func (s *EventStore) Count(ctx context.Context, userID uint, reason models.XPReason) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.XPEvent{}).
		Where("user_id = ? AND reason = ?", userID, reason).
		Count(&n).Error
	return n, storeErr("count events", err)
}
