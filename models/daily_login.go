package models

import "time"

// DateLayout is the calendar-day format used for login dates and notification days.
const DateLayout = "2006-01-02"

// DailyLogin stores one row per user per calendar day with a recorded login.
type DailyLogin struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_daily_logins_user_date,priority:1" json:"user_id"`
	LoginDate string    `gorm:"size:10;not null;uniqueIndex:idx_daily_logins_user_date,priority:2" json:"login_date"`
	CreatedAt time.Time `json:"created_at"`
}
