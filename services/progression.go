package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/learnquest/models"
)

// DefaultXPPerLevel is the XP width of one level.
const DefaultXPPerLevel = 1000

// Progress is a user's XP total and the level derived from it.
type Progress struct {
	UserID    uint      `json:"user_id"`
	XP        int       `json:"xp"`
	Level     int       `json:"level"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LevelFor is floor(xp / xpPerLevel) + 1. Negative totals clamp to level 1.
func LevelFor(xp, xpPerLevel int) int {
	if xpPerLevel <= 0 {
		xpPerLevel = DefaultXPPerLevel
	}
	if xp < 0 {
		return 1
	}
	return xp/xpPerLevel + 1
}

// Replay folds an event stream into a Progress. It depends on nothing but its arguments.
func Replay(userID uint, events []models.XPEvent, xpPerLevel int) Progress {
	p := Progress{UserID: userID}
	for _, ev := range events {
		p.XP += ev.Amount
		if ev.CreatedAt.After(p.UpdatedAt) {
			p.UpdatedAt = ev.CreatedAt
		}
	}
	p.Level = LevelFor(p.XP, xpPerLevel)
	return p
}

func progressOf(row models.UserProgress) Progress {
	return Progress{UserID: row.UserID, XP: row.XP, Level: row.Level, UpdatedAt: row.UpdatedAt}
}

// BackfillPolicy decides what a login dated before the last recorded login does to the streak.
type BackfillPolicy string

const (
	// BackfillReset restarts the streak at 1 and moves last_login_date to the backfilled day.
	BackfillReset BackfillPolicy = "reset"
	// BackfillIgnore records the login but leaves the streak untouched.
	BackfillIgnore BackfillPolicy = "ignore"
)

// ParseBackfillPolicy maps config text to a policy, defaulting to reset.
func ParseBackfillPolicy(s string) BackfillPolicy {
	if BackfillPolicy(s) == BackfillIgnore {
		return BackfillIgnore
	}
	return BackfillReset
}

// NextStreak applies one login day to prev. changed is false when the state stays as it was.
func NextStreak(prev models.StreakState, day string, policy BackfillPolicy) (next models.StreakState, changed bool, err error) {
	d, err := time.Parse(models.DateLayout, day)
	if err != nil {
		return prev, false, validationf("login date %q is not YYYY-MM-DD", day)
	}
	next = prev

	if prev.LastLoginDate == "" {
		next.CurrentStreak = 1
	} else {
		last, err := time.Parse(models.DateLayout, prev.LastLoginDate)
		if err != nil {
			// unreadable stored date; treat as no prior login
			last = d.AddDate(0, 0, -2)
		}
		switch gap := int(d.Sub(last).Hours() / 24); {
		case gap == 0:
			return prev, false, nil
		case gap == 1:
			next.CurrentStreak = prev.CurrentStreak + 1
		case gap < 0 && policy == BackfillIgnore:
			return prev, false, nil
		default:
			next.CurrentStreak = 1
		}
	}
	next.LastLoginDate = day
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	return next, true, nil
}

// Progression owns the derived UserProgress and StreakState rows.
type Progression struct {
	db         *gorm.DB
	xpPerLevel int
	policy     BackfillPolicy
}

func NewProgression(db *gorm.DB, xpPerLevel int, policy BackfillPolicy) *Progression {
	if xpPerLevel <= 0 {
		xpPerLevel = DefaultXPPerLevel
	}
	return &Progression{db: db, xpPerLevel: xpPerLevel, policy: policy}
}

// RecomputeXP replays the event log. It reads only and never writes.
func (p *Progression) RecomputeXP(ctx context.Context, userID uint) (Progress, error) {
	events, err := streamEvents(p.db.WithContext(ctx), userID)
	if err != nil {
		return Progress{}, err
	}
	return Replay(userID, events, p.xpPerLevel), nil
}

// Get returns the stored progress, or level 1 with no XP for a user without events.
func (p *Progression) Get(ctx context.Context, userID uint) (Progress, error) {
	return readProgress(p.db.WithContext(ctx), userID)
}

func readProgress(tx *gorm.DB, userID uint) (Progress, error) {
	var row models.UserProgress
	err := tx.Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Progress{UserID: userID, Level: 1}, nil
	}
	if err != nil {
		return Progress{}, storeErr("read progress", err)
	}
	return progressOf(row), nil
}

// applyXP adds amount to the user's total with a single upsert keyed by user_id, then sets the
// level from the new total while the row lock is still held by the surrounding transaction.
func (p *Progression) applyXP(tx *gorm.DB, userID uint, amount int, at time.Time) (Progress, error) {
	row := models.UserProgress{
		UserID:    userID,
		XP:        amount,
		Level:     LevelFor(amount, p.xpPerLevel),
		UpdatedAt: at,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"xp":         gorm.Expr("user_progresses.xp + ?", amount),
			"updated_at": at,
		}),
	}).Create(&row).Error
	if err != nil {
		return Progress{}, storeErr("upsert progress", err)
	}

	if err := forUpdate(tx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		return Progress{}, storeErr("reload progress", err)
	}
	if level := LevelFor(row.XP, p.xpPerLevel); level != row.Level {
		err := tx.Model(&models.UserProgress{}).
			Where("user_id = ?", userID).
			UpdateColumn("level", level).Error
		if err != nil {
			return Progress{}, storeErr("update level", err)
		}
		row.Level = level
	}
	return progressOf(row), nil
}

// lock takes the user's progress row lock, creating the row first when needed, and returns the
// current row. Callers use it as the first statement of a transaction whose later reads must
// include every committed write for the user.
func (p *Progression) lock(tx *gorm.DB, userID uint, at time.Time) (models.UserProgress, error) {
	seed := models.UserProgress{UserID: userID, Level: 1, UpdatedAt: at}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return models.UserProgress{}, storeErr("seed progress", err)
	}
	var row models.UserProgress
	if err := forUpdate(tx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		return models.UserProgress{}, storeErr("lock progress", err)
	}
	return row, nil
}

// repair overwrites the stored progress with a replay of the log when the two disagree.
// The returned ConsistencyError is nil when no drift was found.
func (p *Progression) repair(tx *gorm.DB, userID uint, at time.Time) (Progress, *ConsistencyError, error) {
	row, err := p.lock(tx, userID, at)
	if err != nil {
		return Progress{}, nil, err
	}

	events, err := streamEvents(tx, userID)
	if err != nil {
		return Progress{}, nil, err
	}
	want := Replay(userID, events, p.xpPerLevel)
	if want.XP == row.XP && want.Level == row.Level {
		return progressOf(row), nil, nil
	}

	drift := &ConsistencyError{
		UserID:          userID,
		StoredXP:        row.XP,
		RecomputedXP:    want.XP,
		StoredLevel:     row.Level,
		RecomputedLevel: want.Level,
	}
	err = tx.Model(&models.UserProgress{}).
		Where("user_id = ?", userID).
		UpdateColumns(map[string]interface{}{"xp": want.XP, "level": want.Level, "updated_at": at}).Error
	if err != nil {
		return Progress{}, nil, storeErr("overwrite progress", err)
	}
	row.XP, row.Level, row.UpdatedAt = want.XP, want.Level, at
	return progressOf(row), drift, nil
}

// GetStreak returns the stored streak state, zero for a user who never logged in.
func (p *Progression) GetStreak(ctx context.Context, userID uint) (models.StreakState, error) {
	return readStreak(p.db.WithContext(ctx), userID)
}

func readStreak(tx *gorm.DB, userID uint) (models.StreakState, error) {
	var st models.StreakState
	err := tx.Where("user_id = ?", userID).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.StreakState{UserID: userID}, nil
	}
	if err != nil {
		return models.StreakState{}, storeErr("read streak", err)
	}
	return st, nil
}

// LoginResult is the outcome of recording one login day.
type LoginResult struct {
	Streak    models.StreakState `json:"streak"`
	Duplicate bool               `json:"duplicate"`
	// Changed is true when the streak row moved. A backfilled login under the ignore policy is
	// recorded without changing it.
	Changed   bool      `json:"changed"`
	XPAwarded int       `json:"xp_awarded"`
	Progress  *Progress `json:"progress,omitempty"`
}

// recordLogin stores the (user, day) login and advances the streak. The streak row is locked
// for the read and then written with one upsert keyed by user_id.
func (p *Progression) recordLogin(tx *gorm.DB, userID uint, day string, at time.Time) (LoginResult, error) {
	seed := models.StreakState{UserID: userID, UpdatedAt: at}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return LoginResult{}, storeErr("seed streak", err)
	}
	var prev models.StreakState
	if err := forUpdate(tx).Where("user_id = ?", userID).Take(&prev).Error; err != nil {
		return LoginResult{}, storeErr("lock streak", err)
	}

	login := models.DailyLogin{UserID: userID, LoginDate: day, CreatedAt: at}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&login)
	if res.Error != nil {
		return LoginResult{}, storeErr("insert daily login", res.Error)
	}
	if res.RowsAffected == 0 {
		return LoginResult{Streak: prev, Duplicate: true}, nil
	}

	next, changed, err := NextStreak(prev, day, p.policy)
	if err != nil {
		return LoginResult{}, err
	}
	if changed {
		next.UpdatedAt = at
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"current_streak", "longest_streak", "last_login_date", "updated_at"}),
		}).Create(&next).Error
		if err != nil {
			return LoginResult{}, storeErr("upsert streak", err)
		}
	}
	return LoginResult{Streak: next, Changed: changed}, nil
}

// forUpdate adds a row lock on dialects that support it. SQLite ignores the clause.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
