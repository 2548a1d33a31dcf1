// Package testutil provides in-memory databases, a controllable clock and seed helpers for tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/cppla/learnquest/catalog"
	"github.com/cppla/learnquest/models"
)

var dbSeq atomic.Int64

// DB opens a fresh migrated in-memory SQLite database private to tb. A single connection keeps
// the in-memory database alive and runs every transaction to completion before the next starts,
// so concurrent tests against it check idempotency keys and conditional writes, not row locking.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.Tables()...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Day returns midnight UTC of a YYYY-MM-DD date.
func Day(tb testing.TB, s string) time.Time {
	tb.Helper()
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		tb.Fatalf("bad day %q: %v", s, err)
	}
	return t
}

// SeedUser inserts a user directly, bypassing the engine.
func SeedUser(tb testing.TB, db *gorm.DB, username string) models.User {
	tb.Helper()
	u := models.User{Username: username, DisplayName: username}
	if err := db.Create(&u).Error; err != nil {
		tb.Fatalf("seed user %s: %v", username, err)
	}
	return u
}

// Catalog is two ordered courses of three and two lessons, and one badge per criteria type.
func Catalog(tb testing.TB) *catalog.Static {
	tb.Helper()
	courses := []models.Course{
		{ID: "go-basics", Title: "Go Basics", Order: 1, Lessons: []models.Lesson{
			{ID: "gb-1", Title: "Hello", Order: 1},
			{ID: "gb-2", Title: "Types", Order: 2},
			{ID: "gb-3", Title: "Funcs", Order: 3},
		}},
		{ID: "go-advanced", Title: "Go Advanced", Order: 2, Lessons: []models.Lesson{
			{ID: "ga-1", Title: "Generics", Order: 1, XP: 200},
			{ID: "ga-2", Title: "Channels", Order: 2},
		}},
	}
	badges := []models.Badge{
		{ID: "xp-500", Name: "Five Hundred", Category: "xp", Rarity: "common",
			Criteria: models.BadgeCriteria{Type: models.CriteriaXPTotal, Threshold: 500}},
		{ID: "level-2", Name: "Level Up", Category: "xp", Rarity: "common",
			Criteria: models.BadgeCriteria{Type: models.CriteriaLevel, Threshold: 2}},
		{ID: "first-lesson", Name: "First Steps", Category: "learning", Rarity: "common",
			Criteria: models.BadgeCriteria{Type: models.CriteriaLessonCount, Threshold: 1}},
		{ID: "streak-3", Name: "On a Roll", Category: "streak", Rarity: "rare",
			Criteria: models.BadgeCriteria{Type: models.CriteriaStreakDays, Threshold: 3}},
		{ID: "course-1", Name: "Graduate", Category: "learning", Rarity: "epic",
			Criteria: models.BadgeCriteria{Type: models.CriteriaCourseCount, Threshold: 1}},
	}
	cat, err := catalog.New(courses, badges)
	if err != nil {
		tb.Fatalf("catalog: %v", err)
	}
	return cat
}
