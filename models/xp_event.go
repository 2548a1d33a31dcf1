package models

import (
	"time"

	"gorm.io/datatypes"
)

// XPReason names why an XP event was granted. It also selects the metadata schema.
type XPReason string

const (
	ReasonLessonCompleted XPReason = "lesson_completed"
	ReasonCourseCompleted XPReason = "course_completed"
	ReasonDailyLogin      XPReason = "daily_login"
	ReasonManualGrant     XPReason = "manual_grant"
)

// Valid reports whether r is a known reason.
func (r XPReason) Valid() bool {
	switch r {
	case ReasonLessonCompleted, ReasonCourseCompleted, ReasonDailyLogin, ReasonManualGrant:
		return true
	}
	return false
}

// XPEvent is an immutable entry of the activity log. (user_id, reason, source_ref) is the
// idempotency key; rows without a source_ref are never de-duplicated.
type XPEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;uniqueIndex:idx_xp_events_key,priority:1;index:idx_xp_events_user_created,priority:1" json:"user_id"`
	Amount    int            `gorm:"not null" json:"amount"`
	Reason    XPReason       `gorm:"size:32;not null;uniqueIndex:idx_xp_events_key,priority:2" json:"reason"`
	SourceRef *string        `gorm:"size:191;uniqueIndex:idx_xp_events_key,priority:3" json:"source_ref,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index:idx_xp_events_user_created,priority:2" json:"created_at"`
}
