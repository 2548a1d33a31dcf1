package models

import "time"

// CriteriaType names the aggregate a badge threshold is compared against.
type CriteriaType string

const (
	CriteriaXPTotal     CriteriaType = "xp_total"
	CriteriaLevel       CriteriaType = "level"
	CriteriaLessonCount CriteriaType = "lesson_count"
	CriteriaStreakDays  CriteriaType = "streak_days"
	CriteriaCourseCount CriteriaType = "course_count"
)

// Valid reports whether c is a criteria type the engine can evaluate.
func (c CriteriaType) Valid() bool {
	switch c {
	case CriteriaXPTotal, CriteriaLevel, CriteriaLessonCount, CriteriaStreakDays, CriteriaCourseCount:
		return true
	}
	return false
}

// BadgeCriteria is a threshold on one metric.
type BadgeCriteria struct {
	Type      CriteriaType `yaml:"type" json:"type"`
	Threshold int          `yaml:"threshold" json:"threshold"`
}

// Badge is catalog reference data, read-only to the engine.
type Badge struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Category    string        `yaml:"category" json:"category"`
	Rarity      string        `yaml:"rarity" json:"rarity"`
	Criteria    BadgeCriteria `yaml:"criteria" json:"criteria"`
}

// UserBadge records an awarded badge. The composite primary key makes awarding write-once.
type UserBadge struct {
	UserID   uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	BadgeID  string    `gorm:"primaryKey;size:64" json:"badge_id"`
	EarnedAt time.Time `gorm:"not null" json:"earned_at"`
}
