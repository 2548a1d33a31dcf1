package models

import "time"

// LessonStatus is the lesson state machine: not_started -> in_progress -> completed (terminal).
type LessonStatus string

const (
	LessonNotStarted LessonStatus = "not_started"
	LessonInProgress LessonStatus = "in_progress"
	LessonCompleted  LessonStatus = "completed"
)

// LessonProgress tracks one user's state on one lesson. CourseID is copied from the catalog so
// unlock checks can count completions per course without joining catalog data.
type LessonProgress struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	UserID      uint         `gorm:"not null;uniqueIndex:idx_lesson_progress_user_lesson,priority:1;index:idx_lesson_progress_user_course,priority:1" json:"user_id"`
	LessonID    string       `gorm:"size:64;not null;uniqueIndex:idx_lesson_progress_user_lesson,priority:2" json:"lesson_id"`
	CourseID    string       `gorm:"size:64;not null;index:idx_lesson_progress_user_course,priority:2" json:"course_id"`
	Status      LessonStatus `gorm:"size:16;not null" json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
