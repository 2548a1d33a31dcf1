package models

import "time"

// UserProgress is derived from the XP event log: XP always equals the sum of the user's events.
type UserProgress struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	XP        int       `gorm:"not null;default:0" json:"xp"`
	Level     int       `gorm:"not null;default:1" json:"level"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// StreakState is derived from daily logins.
type StreakState struct {
	UserID        uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CurrentStreak int       `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak int       `gorm:"not null;default:0" json:"longest_streak"`
	LastLoginDate string    `gorm:"size:10" json:"last_login_date"`
	UpdatedAt     time.Time `json:"updated_at"`
}
