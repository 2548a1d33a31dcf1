package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/learnquest/catalog"
	"github.com/cppla/learnquest/models"
)

// ErrCourseLocked rejects lesson activity in a course whose prerequisite is not met.
var ErrCourseLocked = errors.New("course is locked")

// CourseStatus is the read-side view of one course for one user.
type CourseStatus struct {
	CourseID   string `json:"course_id"`
	Title      string `json:"title"`
	Order      int    `json:"order"`
	Unlocked   bool   `json:"unlocked"`
	Completed  int    `json:"completed_lessons"`
	Total      int    `json:"total_lessons"`
	IsComplete bool   `json:"is_complete"`
}

// Unlocks derives course unlock and completion state from LessonProgress rows.
type Unlocks struct {
	db  *gorm.DB
	cat catalog.Catalog
}

func NewUnlocks(db *gorm.DB, cat catalog.Catalog) *Unlocks {
	return &Unlocks{db: db, cat: cat}
}

// IsUnlocked reports whether the user may work on courseID. The first course is always open;
// any later course opens once the previous course has at least one completed lesson.
func (u *Unlocks) IsUnlocked(ctx context.Context, userID uint, courseID string) (bool, error) {
	return u.isUnlocked(u.db.WithContext(ctx), userID, courseID)
}

func (u *Unlocks) isUnlocked(tx *gorm.DB, userID uint, courseID string) (bool, error) {
	if _, ok := u.cat.Course(courseID); !ok {
		return false, notFoundf("course %q", courseID)
	}
	prev, ok := catalog.Previous(u.cat, courseID)
	if !ok {
		return true, nil
	}
	n, err := countCompleted(tx, userID, prev.ID)
	if err != nil {
		return false, err
	}
	return n >= 1, nil
}

func countCompleted(tx *gorm.DB, userID uint, courseID string) (int64, error) {
	var n int64
	err := tx.Model(&models.LessonProgress{}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, models.LessonCompleted).
		Count(&n).Error
	if err != nil {
		return 0, storeErr("count completed lessons", err)
	}
	return n, nil
}

type courseCount struct {
	CourseID string
	N        int
}

// completedByCourse counts the user's completed lessons per course in one query.
func completedByCourse(tx *gorm.DB, userID uint) (map[string]int, error) {
	var rows []courseCount
	err := tx.Model(&models.LessonProgress{}).
		Select("course_id, COUNT(*) AS n").
		Where("user_id = ? AND status = ?", userID, models.LessonCompleted).
		Group("course_id").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("count completed lessons", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.CourseID] = r.N
	}
	return out, nil
}

// List returns every catalog course in order with the user's unlock and completion state.
func (u *Unlocks) List(ctx context.Context, userID uint) ([]CourseStatus, error) {
	counts, err := completedByCourse(u.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	courses := u.cat.Courses()
	out := make([]CourseStatus, 0, len(courses))
	for i, c := range courses {
		st := courseStatus(c, counts[c.ID])
		st.Unlocked = i == 0 || counts[courses[i-1].ID] >= 1
		out = append(out, st)
	}
	return out, nil
}

// Status returns one course's state for the user.
func (u *Unlocks) Status(ctx context.Context, userID uint, courseID string) (CourseStatus, error) {
	tx := u.db.WithContext(ctx)
	c, ok := u.cat.Course(courseID)
	if !ok {
		return CourseStatus{}, notFoundf("course %q", courseID)
	}
	unlocked, err := u.isUnlocked(tx, userID, courseID)
	if err != nil {
		return CourseStatus{}, err
	}
	n, err := countCompleted(tx, userID, courseID)
	if err != nil {
		return CourseStatus{}, err
	}
	st := courseStatus(c, int(n))
	st.Unlocked = unlocked
	return st, nil
}

func courseStatus(c models.Course, completed int) CourseStatus {
	total := len(c.Lessons)
	return CourseStatus{
		CourseID:   c.ID,
		Title:      c.Title,
		Order:      c.Order,
		Completed:  completed,
		Total:      total,
		IsComplete: total > 0 && completed >= total,
	}
}

// CompletedCourses is the number of catalog courses whose lessons are all completed.
func (u *Unlocks) completedCourses(tx *gorm.DB, userID uint) (int, error) {
	counts, err := completedByCourse(tx, userID)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, c := range u.cat.Courses() {
		if courseStatus(c, counts[c.ID]).IsComplete {
			done++
		}
	}
	return done, nil
}

// Lesson returns the user's progress on one lesson, NotStarted when there is no row.
func (u *Unlocks) Lesson(ctx context.Context, userID uint, lessonID string) (models.LessonProgress, error) {
	l, ok := u.cat.Lesson(lessonID)
	if !ok {
		return models.LessonProgress{}, notFoundf("lesson %q", lessonID)
	}
	return readLesson(u.db.WithContext(ctx), userID, l)
}

func readLesson(tx *gorm.DB, userID uint, l models.Lesson) (models.LessonProgress, error) {
	var lp models.LessonProgress
	err := tx.Where("user_id = ? AND lesson_id = ?", userID, l.ID).Take(&lp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.LessonProgress{UserID: userID, LessonID: l.ID, CourseID: l.CourseID, Status: models.LessonNotStarted}, nil
	}
	if err != nil {
		return models.LessonProgress{}, storeErr("read lesson progress", err)
	}
	return lp, nil
}

// markStarted moves NotStarted to InProgress. Started or completed lessons are left as they are.
func markStarted(tx *gorm.DB, userID uint, l models.Lesson, at time.Time) (models.LessonProgress, error) {
	lp := models.LessonProgress{
		UserID:    userID,
		LessonID:  l.ID,
		CourseID:  l.CourseID,
		Status:    models.LessonInProgress,
		StartedAt: &at,
		UpdatedAt: at,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&lp).Error; err != nil {
		return models.LessonProgress{}, storeErr("start lesson", err)
	}
	return readLesson(tx, userID, l)
}

// markCompleted moves the lesson to Completed. first is true only for the call that performed
// the transition; the conditional insert or update is what decides it under concurrency.
func markCompleted(tx *gorm.DB, userID uint, l models.Lesson, at time.Time) (lp models.LessonProgress, first bool, err error) {
	row := models.LessonProgress{
		UserID:      userID,
		LessonID:    l.ID,
		CourseID:    l.CourseID,
		Status:      models.LessonCompleted,
		StartedAt:   &at,
		CompletedAt: &at,
		UpdatedAt:   at,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return models.LessonProgress{}, false, storeErr("complete lesson", res.Error)
	}
	first = res.RowsAffected == 1

	if !first {
		res = tx.Model(&models.LessonProgress{}).
			Where("user_id = ? AND lesson_id = ? AND status <> ?", userID, l.ID, models.LessonCompleted).
			UpdateColumns(map[string]interface{}{
				"status":       models.LessonCompleted,
				"completed_at": at,
				"updated_at":   at,
			})
		if res.Error != nil {
			return models.LessonProgress{}, false, storeErr("complete lesson", res.Error)
		}
		first = res.RowsAffected == 1
	}

	lp, err = readLesson(tx, userID, l)
	return lp, first, err
}
