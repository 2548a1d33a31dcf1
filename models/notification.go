package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationTrigger names what caused a notification.
type NotificationTrigger string

const (
	TriggerBadgeAwarded    NotificationTrigger = "badge_awarded"
	TriggerRankThreshold   NotificationTrigger = "rank_threshold"
	TriggerStreakMilestone NotificationTrigger = "streak_milestone"
)

// Notification is an outward message to a user. (user_id, trigger, day) is unique so a trigger
// fires at most once per calendar day. Later badge awards on the same day are folded into the
// existing row's payload.
type Notification struct {
	ID        string              `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint                `gorm:"not null;uniqueIndex:idx_notifications_key,priority:1;index:idx_notifications_user_created,priority:1" json:"user_id"`
	Trigger   NotificationTrigger `gorm:"column:trigger_type;size:32;not null;uniqueIndex:idx_notifications_key,priority:2" json:"trigger"`
	Day       string              `gorm:"size:10;not null;uniqueIndex:idx_notifications_key,priority:3" json:"day"`
	Payload   datatypes.JSON      `json:"payload"`
	CreatedAt time.Time           `gorm:"index:idx_notifications_user_created,priority:2" json:"created_at"`
	ReadAt    *time.Time          `json:"read_at,omitempty"`
}
