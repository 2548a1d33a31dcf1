package services

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/learnquest/catalog"
	"github.com/cppla/learnquest/models"
)

// Metrics is a consistent snapshot of the aggregates badge criteria are compared against.
type Metrics struct {
	XP         int `json:"xp_total"`
	Level      int `json:"level"`
	Lessons    int `json:"lesson_count"`
	StreakDays int `json:"streak_days"`
	Courses    int `json:"course_count"`
}

// Value returns the metric a criteria type reads.
func (m Metrics) Value(t models.CriteriaType) int {
	switch t {
	case models.CriteriaXPTotal:
		return m.XP
	case models.CriteriaLevel:
		return m.Level
	case models.CriteriaLessonCount:
		return m.Lessons
	case models.CriteriaStreakDays:
		return m.StreakDays
	case models.CriteriaCourseCount:
		return m.Courses
	}
	return 0
}

// EarnedBadge is a catalog badge with the time the user earned it.
type EarnedBadge struct {
	models.Badge
	EarnedAt time.Time `json:"earned_at"`
}

// BadgeProgress shows how far a user is from one badge.
type BadgeProgress struct {
	Badge        models.Badge `json:"badge"`
	IsEarned     bool         `json:"is_earned"`
	EarnedAt     *time.Time   `json:"earned_at,omitempty"`
	CurrentValue int          `json:"current_value"`
	Threshold    int          `json:"threshold"`
}

// BadgeEvaluator matches aggregates against the badge catalog and awards badges at most once.
type BadgeEvaluator struct {
	db      *gorm.DB
	cat     catalog.Catalog
	unlocks *Unlocks
}

func NewBadgeEvaluator(db *gorm.DB, cat catalog.Catalog, unlocks *Unlocks) *BadgeEvaluator {
	return &BadgeEvaluator{db: db, cat: cat, unlocks: unlocks}
}

// Snapshot reads every metric inside one read-only transaction so no half-applied write is seen.
func (b *BadgeEvaluator) Snapshot(ctx context.Context, userID uint) (Metrics, error) {
	var m Metrics
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := readProgress(tx, userID)
		if err != nil {
			return err
		}
		st, err := readStreak(tx, userID)
		if err != nil {
			return err
		}
		var lessons int64
		err = tx.Model(&models.LessonProgress{}).
			Where("user_id = ? AND status = ?", userID, models.LessonCompleted).
			Count(&lessons).Error
		if err != nil {
			return storeErr("count lessons", err)
		}
		courses, err := b.unlocks.completedCourses(tx, userID)
		if err != nil {
			return err
		}
		m = Metrics{
			XP:         p.XP,
			Level:      p.Level,
			Lessons:    int(lessons),
			StreakDays: st.LongestStreak,
			Courses:    courses,
		}
		return nil
	}, snapshotTxOptions(b.db))
	if err != nil {
		return Metrics{}, storeErr("metrics snapshot", err)
	}
	return m, nil
}

// snapshotTxOptions asks for a repeatable read where the dialect honors it.
func snapshotTxOptions(db *gorm.DB) *sql.TxOptions {
	if db.Dialector.Name() == "sqlite" {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

// Evaluate awards every badge whose threshold the user has reached and returns the ones this
// call awarded. The conditional insert on (user_id, badge_id) is the only guard, so concurrent
// calls award each badge exactly once between them.
func (b *BadgeEvaluator) Evaluate(ctx context.Context, userID uint, at time.Time) ([]models.Badge, error) {
	m, err := b.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned, err := b.earnedSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	var awarded []models.Badge
	for _, badge := range b.cat.Badges() {
		if _, ok := earned[badge.ID]; ok {
			continue
		}
		if m.Value(badge.Criteria.Type) < badge.Criteria.Threshold {
			continue
		}
		row := models.UserBadge{UserID: userID, BadgeID: badge.ID, EarnedAt: at}
		res := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return awarded, storeErr("award badge", res.Error)
		}
		if res.RowsAffected == 1 {
			awarded = append(awarded, badge)
		}
	}
	return awarded, nil
}

func (b *BadgeEvaluator) earnedRows(ctx context.Context, userID uint) ([]models.UserBadge, error) {
	var rows []models.UserBadge
	err := b.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("earned_at ASC").
		Order("badge_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list user badges", err)
	}
	return rows, nil
}

func (b *BadgeEvaluator) earnedSet(ctx context.Context, userID uint) (map[string]time.Time, error) {
	rows, err := b.earnedRows(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		set[r.BadgeID] = r.EarnedAt
	}
	return set, nil
}

// Earned lists the user's badges in the order they were earned. Awards for badges that were
// removed from the catalog are skipped.
func (b *BadgeEvaluator) Earned(ctx context.Context, userID uint) ([]EarnedBadge, error) {
	rows, err := b.earnedRows(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]EarnedBadge, 0, len(rows))
	for _, r := range rows {
		if badge, ok := b.cat.Badge(r.BadgeID); ok {
			out = append(out, EarnedBadge{Badge: badge, EarnedAt: r.EarnedAt})
		}
	}
	return out, nil
}

// Progress lists every catalog badge with the user's current value against its threshold.
func (b *BadgeEvaluator) Progress(ctx context.Context, userID uint) ([]BadgeProgress, error) {
	m, err := b.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned, err := b.earnedSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	badges := b.cat.Badges()
	out := make([]BadgeProgress, 0, len(badges))
	for _, badge := range badges {
		bp := BadgeProgress{
			Badge:        badge,
			CurrentValue: m.Value(badge.Criteria.Type),
			Threshold:    badge.Criteria.Threshold,
		}
		if at, ok := earned[badge.ID]; ok {
			at := at
			bp.IsEarned = true
			bp.EarnedAt = &at
		}
		out = append(out, bp)
	}
	return out, nil
}
