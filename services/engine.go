package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/learnquest/catalog"
	"github.com/cppla/learnquest/models"
)

// Engine is the progression and gamification engine. It keeps no state between calls beyond
// what is persisted; every write lands in one transaction and the side effects that follow a
// committed write (badges, notifications, cache invalidation, push) never undo it.
type Engine struct {
	db   *gorm.DB
	cat  catalog.Catalog
	opts Options
	log  *zap.SugaredLogger

	Events      *EventStore
	Progression *Progression
	Unlocks     *Unlocks
	Badges      *BadgeEvaluator
	Leaderboard *Leaderboard
	Notifier    *Dispatcher
}

func NewEngine(db *gorm.DB, cat catalog.Catalog, opts Options) *Engine {
	opts = opts.withDefaults()
	unlocks := NewUnlocks(db, cat)
	return &Engine{
		db:          db,
		cat:         cat,
		opts:        opts,
		log:         opts.Logger,
		Events:      NewEventStore(db),
		Progression: NewProgression(db, opts.XPPerLevel, opts.Backfill),
		Unlocks:     unlocks,
		Badges:      NewBadgeEvaluator(db, cat, unlocks),
		Leaderboard: NewLeaderboard(db, opts.Cache, opts.LeaderboardTTL),
		Notifier:    NewDispatcher(db, opts.Publisher, opts.Location, opts.Logger),
	}
}

// Catalog exposes the content catalog the engine was built with.
func (e *Engine) Catalog() catalog.Catalog { return e.cat }

// Today is the current calendar day in the configured timezone.
func (e *Engine) Today() string {
	return e.opts.Now().In(e.opts.Location).Format(models.DateLayout)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

// afterCtx detaches post-commit work from the caller's cancellation but keeps a bound on it.
func (e *Engine) afterCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
}

func (e *Engine) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := e.db.WithContext(ctx).Transaction(fn)
	if err != nil {
		return storeErr("transaction", err)
	}
	return nil
}

func requireUser(tx *gorm.DB, userID uint) error {
	if userID == 0 {
		return validationf("user id is required")
	}
	var u models.User
	err := tx.Select("id").Where("id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundf("user %d", userID)
	}
	return storeErr("load user", err)
}

// EnsureUser returns the user with username, creating it with empty progress and streak rows
// when it does not exist yet.
func (e *Engine) EnsureUser(ctx context.Context, username, displayName string) (user models.User, created bool, err error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > 64 {
		return models.User{}, false, validationf("username must be 1-64 characters")
	}
	if displayName == "" {
		displayName = username
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	at := e.opts.Now()
	err = e.inTx(ctx, func(tx *gorm.DB) error {
		user = models.User{Username: username, DisplayName: displayName, CreatedAt: at}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1
		if err := tx.Where("username = ?", username).Take(&user).Error; err != nil {
			return err
		}
		seedP := models.UserProgress{UserID: user.ID, Level: 1, UpdatedAt: at}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seedP).Error; err != nil {
			return err
		}
		seedS := models.StreakState{UserID: user.ID, UpdatedAt: at}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seedS).Error
	})
	if err != nil {
		return models.User{}, false, err
	}
	if created {
		e.Leaderboard.Invalidate(ctx)
	}
	return user, created, nil
}

// AppendInput is one XP grant request.
type AppendInput struct {
	UserID    uint                   `json:"user_id"`
	Amount    int                    `json:"amount"`
	Reason    models.XPReason        `json:"reason"`
	SourceRef *string                `json:"source_ref,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AppendResult is the stored event and the user's progress after it.
type AppendResult struct {
	Event     models.XPEvent `json:"event"`
	Duplicate bool           `json:"duplicate"`
	Progress  Progress       `json:"progress"`
}

func (e *Engine) checkPayload(p Payload) error {
	switch v := p.(type) {
	case LessonCompleted:
		l, ok := e.cat.Lesson(v.LessonID)
		if !ok {
			return notFoundf("lesson %q", v.LessonID)
		}
		if l.CourseID != v.CourseID {
			return validationf("lesson %q belongs to course %q, not %q", v.LessonID, l.CourseID, v.CourseID)
		}
	case CourseCompleted:
		if _, ok := e.cat.Course(v.CourseID); !ok {
			return notFoundf("course %q", v.CourseID)
		}
	}
	return nil
}

// AppendXPEvent validates and appends an XP event. A repeated (user, reason, source_ref) returns
// the earlier event with Duplicate set and changes nothing.
func (e *Engine) AppendXPEvent(ctx context.Context, in AppendInput) (AppendResult, error) {
	if in.UserID == 0 {
		return AppendResult{}, validationf("user id is required")
	}
	if in.Amount <= 0 {
		return AppendResult{}, validationf("amount must be positive, got %d", in.Amount)
	}
	if !in.Reason.Valid() {
		return AppendResult{}, validationf("unknown reason %q", in.Reason)
	}
	payload, err := DecodePayload(in.Reason, in.Metadata)
	if err != nil {
		return AppendResult{}, err
	}
	if err := e.checkPayload(payload); err != nil {
		return AppendResult{}, err
	}
	ref, err := resolveSourceRef(payload, in.SourceRef)
	if err != nil {
		return AppendResult{}, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	prevRank := e.xpRank(ctx, in.UserID)

	at := e.opts.Now()
	var out AppendResult
	err = e.inTx(ctx, func(tx *gorm.DB) error {
		if _, err := e.Progression.lock(tx, in.UserID, at); err != nil {
			return err
		}
		if err := requireUser(tx, in.UserID); err != nil {
			return err
		}
		ev, inserted, err := appendEvent(tx, models.XPEvent{
			UserID:    in.UserID,
			Amount:    in.Amount,
			Reason:    in.Reason,
			SourceRef: ref,
			Metadata:  encodePayload(payload),
			CreatedAt: at,
		})
		if err != nil {
			return err
		}
		out.Event, out.Duplicate = ev, !inserted
		if !inserted {
			out.Progress, err = readProgress(tx, in.UserID)
			return err
		}
		out.Progress, err = e.Progression.applyXP(tx, in.UserID, in.Amount, at)
		return err
	})
	if err != nil {
		return AppendResult{}, err
	}
	if !out.Duplicate {
		e.afterXPChange(ctx, in.UserID, prevRank, out.Progress, at)
	}
	return out, nil
}

// RecordLogin records a login for day ("" means today) and advances the streak. A first login
// on a day also grants the daily login XP.
func (e *Engine) RecordLogin(ctx context.Context, userID uint, day string) (LoginResult, error) {
	if day == "" {
		day = e.Today()
	}
	if _, err := time.Parse(models.DateLayout, day); err != nil {
		return LoginResult{}, validationf("login date %q is not YYYY-MM-DD", day)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	prevRank := e.xpRank(ctx, userID)

	at := e.opts.Now()
	var out LoginResult
	err := e.inTx(ctx, func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		var err error
		out, err = e.Progression.recordLogin(tx, userID, day, at)
		if err != nil || out.Duplicate || e.opts.DailyLoginXP <= 0 {
			return err
		}
		bonus := DailyLoginBonus{Date: day}
		_, inserted, err := appendEvent(tx, models.XPEvent{
			UserID:    userID,
			Amount:    e.opts.DailyLoginXP,
			Reason:    models.ReasonDailyLogin,
			SourceRef: bonus.SourceRef(),
			Metadata:  encodePayload(bonus),
			CreatedAt: at,
		})
		if err != nil || !inserted {
			return err
		}
		p, err := e.Progression.applyXP(tx, userID, e.opts.DailyLoginXP, at)
		if err != nil {
			return err
		}
		out.XPAwarded, out.Progress = e.opts.DailyLoginXP, &p
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}
	if out.Duplicate {
		return out, nil
	}

	actx, acancel := e.afterCtx(ctx)
	defer acancel()
	if out.Changed {
		e.publish(actx, MessageStreak, userID, out.Streak, at)
		e.streakMilestones(actx, userID, out.Streak, at)
	}
	if out.Progress != nil {
		e.afterXPChange(ctx, userID, prevRank, *out.Progress, at)
	} else {
		e.Leaderboard.Invalidate(actx)
		e.evaluateAndNotify(actx, userID, at)
	}
	return out, nil
}

// MarkLessonStarted moves a lesson to InProgress. The lesson's course must be unlocked.
func (e *Engine) MarkLessonStarted(ctx context.Context, userID uint, lessonID string) (models.LessonProgress, error) {
	l, ok := e.cat.Lesson(lessonID)
	if !ok {
		return models.LessonProgress{}, notFoundf("lesson %q", lessonID)
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	at := e.opts.Now()
	var lp models.LessonProgress
	err := e.inTx(ctx, func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		if err := e.requireUnlocked(tx, userID, l.CourseID); err != nil {
			return err
		}
		var err error
		lp, err = markStarted(tx, userID, l, at)
		return err
	})
	if err != nil {
		return models.LessonProgress{}, err
	}
	return lp, nil
}

func (e *Engine) requireUnlocked(tx *gorm.DB, userID uint, courseID string) error {
	ok, err := e.Unlocks.isUnlocked(tx, userID, courseID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w %q", ErrValidation, ErrCourseLocked, courseID)
	}
	return nil
}

// LessonResult is the outcome of marking a lesson completed.
type LessonResult struct {
	Lesson models.LessonProgress `json:"lesson"`
	// FirstCompletion is false for a repeated completion, which has no effects.
	FirstCompletion bool      `json:"first_completion"`
	XPAwarded       int       `json:"xp_awarded"`
	CourseCompleted bool      `json:"course_completed"`
	Progress        *Progress `json:"progress,omitempty"`
}

// MarkLessonCompleted completes a lesson. Only the first completion appends the lesson XP
// event, the course completion event when it finishes the course, and runs badge evaluation.
func (e *Engine) MarkLessonCompleted(ctx context.Context, userID uint, lessonID string) (LessonResult, error) {
	l, ok := e.cat.Lesson(lessonID)
	if !ok {
		return LessonResult{}, notFoundf("lesson %q", lessonID)
	}
	course, _ := e.cat.Course(l.CourseID)
	amount := l.XP
	if amount <= 0 {
		amount = e.opts.LessonXP
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	prevRank := e.xpRank(ctx, userID)

	at := e.opts.Now()
	var out LessonResult
	err := e.inTx(ctx, func(tx *gorm.DB) error {
		// serializes completions per user so the course-complete count sees sibling lessons
		if _, err := e.Progression.lock(tx, userID, at); err != nil {
			return err
		}
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		if err := e.requireUnlocked(tx, userID, l.CourseID); err != nil {
			return err
		}
		lp, first, err := markCompleted(tx, userID, l, at)
		if err != nil {
			return err
		}
		out.Lesson, out.FirstCompletion = lp, first
		if !first {
			return nil
		}

		grant := LessonCompleted{LessonID: l.ID, CourseID: l.CourseID}
		if err := e.grantInTx(tx, userID, amount, grant, at, &out); err != nil {
			return err
		}

		done, err := countCompleted(tx, userID, l.CourseID)
		if err != nil {
			return err
		}
		if int(done) < len(course.Lessons) {
			return nil
		}
		out.CourseCompleted = true
		if e.opts.CourseXP <= 0 {
			return nil
		}
		return e.grantInTx(tx, userID, e.opts.CourseXP, CourseCompleted{CourseID: l.CourseID}, at, &out)
	})
	if err != nil {
		return LessonResult{}, err
	}
	if !out.FirstCompletion {
		return out, nil
	}

	actx, acancel := e.afterCtx(ctx)
	defer acancel()
	e.publish(actx, MessageLesson, userID, out.Lesson, at)
	if out.Progress != nil {
		e.afterXPChange(ctx, userID, prevRank, *out.Progress, at)
	} else {
		e.evaluateAndNotify(actx, userID, at)
	}
	return out, nil
}

func (e *Engine) grantInTx(tx *gorm.DB, userID uint, amount int, p Payload, at time.Time, out *LessonResult) error {
	_, inserted, err := appendEvent(tx, models.XPEvent{
		UserID:    userID,
		Amount:    amount,
		Reason:    p.Reason(),
		SourceRef: p.SourceRef(),
		Metadata:  encodePayload(p),
		CreatedAt: at,
	})
	if err != nil || !inserted {
		return err
	}
	prog, err := e.Progression.applyXP(tx, userID, amount, at)
	if err != nil {
		return err
	}
	out.XPAwarded += amount
	out.Progress = &prog
	return nil
}

func (e *Engine) GetUserProgress(ctx context.Context, userID uint) (Progress, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return Progress{}, err
	}
	return e.Progression.Get(ctx, userID)
}

func (e *Engine) GetStreak(ctx context.Context, userID uint) (models.StreakState, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return models.StreakState{}, err
	}
	return e.Progression.GetStreak(ctx, userID)
}

// HasLoggedIn reports whether a login is recorded for the user on day.
func (e *Engine) HasLoggedIn(ctx context.Context, userID uint, day string) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	var n int64
	err := e.db.WithContext(ctx).Model(&models.DailyLogin{}).
		Where("user_id = ? AND login_date = ?", userID, day).
		Count(&n).Error
	if err != nil {
		return false, storeErr("check login", err)
	}
	return n > 0, nil
}

func (e *Engine) GetBadges(ctx context.Context, userID uint) ([]EarnedBadge, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return nil, err
	}
	return e.Badges.Earned(ctx, userID)
}

func (e *Engine) GetAllBadgeProgress(ctx context.Context, userID uint) ([]BadgeProgress, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return nil, err
	}
	return e.Badges.Progress(ctx, userID)
}

// EvaluateBadges re-runs badge evaluation. It is idempotent and recovers awards skipped by an
// interrupted post-commit step.
func (e *Engine) EvaluateBadges(ctx context.Context, userID uint) ([]models.Badge, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return nil, err
	}
	at := e.opts.Now()
	awarded, err := e.Badges.Evaluate(ctx, userID, at)
	e.Notifier.NotifyBadges(ctx, userID, awarded, at)
	return awarded, err
}

func (e *Engine) GetCourseUnlockState(ctx context.Context, courseID string, userID uint) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return false, err
	}
	return e.Unlocks.IsUnlocked(ctx, userID, courseID)
}

func (e *Engine) ListCourses(ctx context.Context, userID uint) ([]CourseStatus, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return nil, err
	}
	return e.Unlocks.List(ctx, userID)
}

func (e *Engine) GetCourseProgress(ctx context.Context, userID uint, courseID string) (CourseStatus, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return CourseStatus{}, err
	}
	return e.Unlocks.Status(ctx, userID, courseID)
}

func (e *Engine) GetLessonProgress(ctx context.Context, userID uint, lessonID string) (models.LessonProgress, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return models.LessonProgress{}, err
	}
	return e.Unlocks.Lesson(ctx, userID, lessonID)
}

func (e *Engine) GetLeaderboard(ctx context.Context, metric Metric, topN int) ([]LeaderboardEntry, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Leaderboard.Top(ctx, metric, topN)
}

func (e *Engine) GetUserRank(ctx context.Context, metric Metric, userID uint) (int, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Leaderboard.RankOf(ctx, metric, userID)
}

// RecomputeXP replays the user's event log without writing anything.
func (e *Engine) RecomputeXP(ctx context.Context, userID uint) (Progress, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := requireUser(e.db.WithContext(ctx), userID); err != nil {
		return Progress{}, err
	}
	return e.Progression.RecomputeXP(ctx, userID)
}

// RepairResult reports what VerifyAndRepair found.
type RepairResult struct {
	Progress Progress          `json:"progress"`
	Repaired bool              `json:"repaired"`
	Drift    *ConsistencyError `json:"-"`
	Awarded  []models.Badge    `json:"awarded,omitempty"`
}

// VerifyAndRepair compares the stored progress with a replay of the log, overwrites it on
// disagreement, and re-runs badge evaluation so interrupted side effects are recovered.
func (e *Engine) VerifyAndRepair(ctx context.Context, userID uint) (RepairResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	at := e.opts.Now()
	var out RepairResult
	err := e.inTx(ctx, func(tx *gorm.DB) error {
		if _, err := e.Progression.lock(tx, userID, at); err != nil {
			return err
		}
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		if err := e.reconcileCourses(tx, userID, at); err != nil {
			return err
		}
		p, drift, err := e.Progression.repair(tx, userID, at)
		out.Progress, out.Drift, out.Repaired = p, drift, drift != nil
		return err
	})
	if err != nil {
		return RepairResult{}, err
	}
	if out.Drift != nil {
		e.log.Warnw("progress repaired from event log", "user_id", userID, "error", out.Drift.Error())
		e.Leaderboard.Invalidate(ctx)
		e.publish(ctx, MessageProgress, userID, out.Progress, at)
	}
	awarded, err := e.Badges.Evaluate(ctx, userID, at)
	if err != nil {
		e.log.Warnw("badge evaluation after repair failed", "user_id", userID, "error", err)
	}
	e.Notifier.NotifyBadges(ctx, userID, awarded, at)
	out.Awarded = awarded
	return out, nil
}

// reconcileCourses appends the course completion grant for every finished course that lacks
// one. The event key makes this a no-op for courses already granted.
func (e *Engine) reconcileCourses(tx *gorm.DB, userID uint, at time.Time) error {
	if e.opts.CourseXP <= 0 {
		return nil
	}
	counts, err := completedByCourse(tx, userID)
	if err != nil {
		return err
	}
	for _, c := range e.cat.Courses() {
		if !courseStatus(c, counts[c.ID]).IsComplete {
			continue
		}
		var out LessonResult
		if err := e.grantInTx(tx, userID, e.opts.CourseXP, CourseCompleted{CourseID: c.ID}, at, &out); err != nil {
			return err
		}
		if out.XPAwarded > 0 {
			e.log.Warnw("missing course completion grant appended", "user_id", userID, "course_id", c.ID)
		}
	}
	return nil
}

// AuditReport summarizes one AuditAll pass.
type AuditReport struct {
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// AuditAll runs VerifyAndRepair for every user, a few users at a time.
func (e *Engine) AuditAll(ctx context.Context, concurrency int) (AuditReport, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	var ids []uint
	if err := e.db.WithContext(ctx).Model(&models.User{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return AuditReport{}, storeErr("list users", err)
	}

	results := make([]int, len(ids)) // 0 ok, 1 repaired, 2 failed
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := e.VerifyAndRepair(gctx, id)
			switch {
			case err != nil:
				e.log.Warnw("audit failed for user", "user_id", id, "error", err)
				results[i] = 2
			case res.Repaired:
				results[i] = 1
			}
			return nil
		})
	}
	err := g.Wait()

	report := AuditReport{Checked: len(ids)}
	for _, r := range results {
		switch r {
		case 1:
			report.Repaired++
		case 2:
			report.Failed++
		}
	}
	return report, err
}

func (e *Engine) ListNotifications(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Notifier.List(ctx, userID, unreadOnly, limit)
}

func (e *Engine) MarkNotificationRead(ctx context.Context, userID uint, id string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Notifier.MarkRead(ctx, userID, id, e.opts.Now())
}

// WarmLeaderboards refreshes the cached first page of every metric.
func (e *Engine) WarmLeaderboards(ctx context.Context, topN int) error {
	e.Leaderboard.Invalidate(ctx)
	for _, m := range AllMetrics {
		if _, err := e.GetLeaderboard(ctx, m, topN); err != nil {
			return err
		}
	}
	return nil
}

// xpRank is the user's xp rank before a write, 0 when unknown.
func (e *Engine) xpRank(ctx context.Context, userID uint) int {
	if len(e.opts.RankThresholds) == 0 {
		return 0
	}
	r, err := e.Leaderboard.rankOrZero(ctx, MetricXP, userID)
	if err != nil {
		e.log.Debugw("rank before write unavailable", "user_id", userID, "error", err)
		return 0
	}
	return r
}

// afterXPChange is the post-commit pipeline for any XP change. Failures are logged only.
func (e *Engine) afterXPChange(ctx context.Context, userID uint, prevRank int, p Progress, at time.Time) {
	actx, cancel := e.afterCtx(ctx)
	defer cancel()

	e.Leaderboard.Invalidate(actx)
	e.evaluateAndNotify(actx, userID, at)
	e.rankCrossing(actx, userID, prevRank, at)
	e.publish(actx, MessageProgress, userID, p, at)
}

func (e *Engine) evaluateAndNotify(ctx context.Context, userID uint, at time.Time) {
	awarded, err := e.Badges.Evaluate(ctx, userID, at)
	if err != nil {
		e.log.Warnw("badge evaluation failed", "user_id", userID, "error", err)
	}
	e.Notifier.NotifyBadges(ctx, userID, awarded, at)
}

// rankCrossing notifies when the user entered a top-N band they were not in before. Only the
// best band entered is reported.
func (e *Engine) rankCrossing(ctx context.Context, userID uint, prevRank int, at time.Time) {
	if len(e.opts.RankThresholds) == 0 {
		return
	}
	rank, err := e.Leaderboard.rankOrZero(ctx, MetricXP, userID)
	if err != nil || rank == 0 {
		return
	}
	for _, threshold := range e.opts.RankThresholds {
		if rank <= threshold && (prevRank == 0 || prevRank > threshold) {
			e.Notifier.Notify(ctx, userID, models.TriggerRankThreshold, map[string]interface{}{
				"metric":        MetricXP,
				"rank":          rank,
				"previous_rank": prevRank,
				"threshold":     threshold,
			}, at)
			return
		}
	}
}

func (e *Engine) streakMilestones(ctx context.Context, userID uint, st models.StreakState, at time.Time) {
	for _, m := range e.opts.StreakMilestones {
		if st.CurrentStreak == m {
			e.Notifier.Notify(ctx, userID, models.TriggerStreakMilestone, map[string]interface{}{
				"milestone":      m,
				"current_streak": st.CurrentStreak,
				"longest_streak": st.LongestStreak,
			}, at)
		}
	}
}

func (e *Engine) publish(ctx context.Context, typ string, userID uint, payload interface{}, at time.Time) {
	msg := Message{Type: typ, UserID: userID, Payload: payload, At: at}
	if err := e.opts.Publisher.Publish(ctx, msg); err != nil {
		e.log.Warnw("push failed", "type", typ, "user_id", userID, "error", err)
	}
}
