package models

// Tables lists every persisted model in migration order.
func Tables() []interface{} {
	return []interface{}{
		&User{},
		&XPEvent{},
		&DailyLogin{},
		&UserProgress{},
		&StreakState{},
		&UserBadge{},
		&LessonProgress{},
		&Notification{},
	}
}
