package services

import (
	"context"
	"time"
)

// Message types pushed to subscribers when a user's aggregates change.
const (
	MessageProgress     = "progress.changed"
	MessageStreak       = "streak.changed"
	MessageLesson       = "lesson.changed"
	MessageNotification = "notification.created"
)

// Message is an "aggregate changed" event for one user. Subscribers re-read through the
// query operations; Payload carries the new value as a convenience.
type Message struct {
	Type    string      `json:"type"`
	UserID  uint        `json:"user_id"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// Publisher delivers messages to subscribers. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Message) error { return nil }
