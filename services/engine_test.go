package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/learnquest/models"
	"github.com/cppla/learnquest/testutil"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count(typ string, userID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.Type == typ && m.UserID == userID {
			n++
		}
	}
	return n
}

// badgePushes counts pushed badge_awarded notifications, created or folded.
func (p *recordingPublisher) badgePushes(userID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if note, ok := m.Payload.(models.Notification); ok && m.UserID == userID && note.Trigger == models.TriggerBadgeAwarded {
			n++
		}
	}
	return n
}

type fixture struct {
	db    *gorm.DB
	eng   *Engine
	clock *testutil.Clock
	pub   *recordingPublisher
}

func newFixture(t *testing.T, tweak func(*Options)) *fixture {
	t.Helper()
	db := testutil.DB(t)
	clock := testutil.NewClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	opts := Options{
		XPPerLevel:       1000,
		LessonXP:         100,
		CourseXP:         500,
		DailyLoginXP:     10,
		StreakMilestones: []int{7},
		RankThresholds:   []int{3, 10},
		Now:              clock.Now,
		Publisher:        pub,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return &fixture{
		db:    db,
		eng:   NewEngine(db, testutil.Catalog(t), opts),
		clock: clock,
		pub:   pub,
	}
}

func (f *fixture) user(t *testing.T, name string) uint {
	t.Helper()
	u, _, err := f.eng.EnsureUser(context.Background(), name, "")
	if err != nil {
		t.Fatalf("EnsureUser(%s): %v", name, err)
	}
	f.clock.Advance(time.Second)
	return u.ID
}

func (f *fixture) grant(t *testing.T, userID uint, amount int, ref string) AppendResult {
	t.Helper()
	res, err := f.eng.AppendXPEvent(context.Background(), AppendInput{
		UserID:    userID,
		Amount:    amount,
		Reason:    models.ReasonManualGrant,
		SourceRef: &ref,
		Metadata:  map[string]interface{}{"granted_by": "ops"},
	})
	if err != nil {
		t.Fatalf("AppendXPEvent(%d, %s): %v", amount, ref, err)
	}
	f.clock.Advance(time.Second)
	return res
}

func (f *fixture) countNotifications(t *testing.T, userID uint, trigger models.NotificationTrigger) int64 {
	t.Helper()
	var n int64
	err := f.db.Model(&models.Notification{}).
		Where("user_id = ? AND trigger_type = ?", userID, trigger).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return n
}

// notifiedBadges counts each badge id across the user's badge_awarded notifications.
func (f *fixture) notifiedBadges(t *testing.T, userID uint) map[string]int {
	t.Helper()
	var rows []models.Notification
	err := f.db.Where("user_id = ? AND trigger_type = ?", userID, models.TriggerBadgeAwarded).Find(&rows).Error
	if err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	out := map[string]int{}
	for _, n := range rows {
		var p BadgePayload
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			t.Fatalf("badge payload %s: %v", n.Payload, err)
		}
		for _, b := range p.Badges {
			out[b.BadgeID]++
		}
	}
	return out
}

func badgeIDs(badges []EarnedBadge) map[string]int {
	out := map[string]int{}
	for _, b := range badges {
		out[b.ID]++
	}
	return out
}

func TestScenarioA_XPThresholdBadge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "ursula")

	f.grant(t, u, 100, "g1")
	f.grant(t, u, 250, "g2")
	badges, err := f.eng.GetBadges(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if badgeIDs(badges)["xp-500"] != 0 {
		t.Fatal("xp-500 awarded before the threshold")
	}

	f.grant(t, u, 150, "g3")

	p, err := f.eng.GetUserProgress(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if p.XP != 500 || p.Level != 1 {
		t.Fatalf("progress = %+v, want xp 500 level 1", p)
	}
	badges, err = f.eng.GetBadges(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if got := badgeIDs(badges)["xp-500"]; got != 1 {
		t.Fatalf("xp-500 count = %d, want 1", got)
	}
	if n := f.countNotifications(t, u, models.TriggerBadgeAwarded); n != 1 || f.notifiedBadges(t, u)["xp-500"] != 1 {
		t.Errorf("badge notifications = %d listing %v, want 1 with xp-500", n, f.notifiedBadges(t, u))
	}
	if f.pub.count(MessageProgress, u) != 3 {
		t.Errorf("progress pushes = %d, want 3", f.pub.count(MessageProgress, u))
	}
}

func TestAppendXPEvent_DuplicateReturnsPriorEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "dana")

	first := f.grant(t, u, 120, "refund-7")
	second := f.grant(t, u, 120, "refund-7")

	if first.Duplicate || !second.Duplicate {
		t.Fatalf("duplicate flags = %v, %v; want false, true", first.Duplicate, second.Duplicate)
	}
	if first.Event.ID != second.Event.ID {
		t.Errorf("event ids differ: %d vs %d", first.Event.ID, second.Event.ID)
	}
	if second.Progress.XP != 120 {
		t.Errorf("xp after duplicate = %d, want 120", second.Progress.XP)
	}

	recomputed, err := f.eng.RecomputeXP(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := f.eng.GetUserProgress(ctx, u)
	if recomputed.XP != stored.XP || recomputed.Level != stored.Level {
		t.Errorf("replay %+v disagrees with stored %+v", recomputed, stored)
	}
}

func TestAppendXPEvent_UnkeyedGrantsAreNotDeduplicated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "noref")

	for i := 0; i < 2; i++ {
		_, err := f.eng.AppendXPEvent(ctx, AppendInput{
			UserID: u, Amount: 5, Reason: models.ReasonManualGrant,
			Metadata: map[string]interface{}{"granted_by": "ops"},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	p, _ := f.eng.GetUserProgress(ctx, u)
	if p.XP != 10 {
		t.Errorf("xp = %d, want 10", p.XP)
	}
}

func TestAppendXPEvent_Rejects(t *testing.T) {
	f := newFixture(t, nil)
	u := f.user(t, "val")
	ref := func(s string) *string { return &s }

	tests := []struct {
		name string
		in   AppendInput
		want error
	}{
		{"zero amount", AppendInput{UserID: u, Amount: 0, Reason: models.ReasonManualGrant,
			Metadata: map[string]interface{}{"granted_by": "ops"}}, ErrValidation},
		{"negative amount", AppendInput{UserID: u, Amount: -10, Reason: models.ReasonManualGrant,
			Metadata: map[string]interface{}{"granted_by": "ops"}}, ErrValidation},
		{"unknown reason", AppendInput{UserID: u, Amount: 10, Reason: "bribe"}, ErrValidation},
		{"manual without granter", AppendInput{UserID: u, Amount: 10, Reason: models.ReasonManualGrant}, ErrValidation},
		{"unknown metadata field", AppendInput{UserID: u, Amount: 10, Reason: models.ReasonManualGrant,
			Metadata: map[string]interface{}{"granted_by": "ops", "extra": 1}}, ErrValidation},
		{"unknown lesson", AppendInput{UserID: u, Amount: 10, Reason: models.ReasonLessonCompleted,
			Metadata: map[string]interface{}{"lesson_id": "nope", "course_id": "go-basics"}}, ErrNotFound},
		{"lesson in wrong course", AppendInput{UserID: u, Amount: 10, Reason: models.ReasonLessonCompleted,
			Metadata: map[string]interface{}{"lesson_id": "gb-1", "course_id": "go-advanced"}}, ErrValidation},
		{"source ref contradicts payload", AppendInput{UserID: u, Amount: 10, Reason: models.ReasonLessonCompleted,
			SourceRef: ref("gb-2"), Metadata: map[string]interface{}{"lesson_id": "gb-1", "course_id": "go-basics"}}, ErrValidation},
		{"bad login date", AppendInput{UserID: u, Amount: 10, Reason: models.ReasonDailyLogin,
			Metadata: map[string]interface{}{"date": "03/02/2026"}}, ErrValidation},
		{"missing user", AppendInput{Amount: 10, Reason: models.ReasonManualGrant,
			Metadata: map[string]interface{}{"granted_by": "ops"}}, ErrValidation},
		{"unknown user", AppendInput{UserID: 9999, Amount: 10, Reason: models.ReasonManualGrant,
			Metadata: map[string]interface{}{"granted_by": "ops"}}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.AppendXPEvent(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	p, _ := f.eng.GetUserProgress(context.Background(), u)
	if p.XP != 0 {
		t.Errorf("rejected appends changed xp to %d", p.XP)
	}
}

func TestAppendXPEvent_ConcurrentRetriesCountOnce(t *testing.T) {
	f := newFixture(t, nil)
	u := f.user(t, "racer")

	const n = 8
	var wg sync.WaitGroup
	results := make(chan AppendResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref := "order-42"
			res, err := f.eng.AppendXPEvent(context.Background(), AppendInput{
				UserID: u, Amount: 75, Reason: models.ReasonManualGrant, SourceRef: &ref,
				Metadata: map[string]interface{}{"granted_by": "ops"},
			})
			if err != nil {
				t.Error(err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	ids := map[uint]bool{}
	for res := range results {
		if !res.Duplicate {
			fresh++
		}
		// retries get the stored event and the committed total back
		ids[res.Event.ID] = true
		if res.Progress.XP != 75 {
			t.Errorf("result progress xp = %d, want 75", res.Progress.XP)
		}
	}
	if fresh != 1 || len(ids) != 1 {
		t.Errorf("inserted %d times across %d event ids, want 1 and 1", fresh, len(ids))
	}
	p, _ := f.eng.GetUserProgress(context.Background(), u)
	if p.XP != 75 {
		t.Errorf("xp = %d, want 75", p.XP)
	}
}

func TestScenarioB_StreakResetsAfterGap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "sam")

	for _, day := range []string{"2026-03-02", "2026-03-03"} {
		if _, err := f.eng.RecordLogin(ctx, u, day); err != nil {
			t.Fatal(err)
		}
	}
	st, _ := f.eng.GetStreak(ctx, u)
	if st.CurrentStreak != 2 {
		t.Fatalf("current = %d, want 2", st.CurrentStreak)
	}

	res, err := f.eng.RecordLogin(ctx, u, "2026-03-05")
	if err != nil {
		t.Fatal(err)
	}
	if res.Streak.CurrentStreak != 1 || res.Streak.LongestStreak != 2 {
		t.Fatalf("after gap = %+v, want current 1 longest 2", res.Streak)
	}

	again, err := f.eng.RecordLogin(ctx, u, "2026-03-05")
	if err != nil {
		t.Fatal(err)
	}
	if !again.Duplicate || again.Streak.CurrentStreak != 1 || again.Streak.LongestStreak != 2 ||
		again.Streak.LastLoginDate != "2026-03-05" {
		t.Errorf("second login same day = %+v, want unchanged duplicate", again)
	}

	p, _ := f.eng.GetUserProgress(ctx, u)
	if p.XP != 30 {
		t.Errorf("daily login xp = %d, want 30", p.XP)
	}
}

func TestRecordLogin_MilestoneNotifiesOnce(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.StreakMilestones = []int{2} })
	ctx := context.Background()
	u := f.user(t, "milo")

	for _, day := range []string{"2026-03-01", "2026-03-02", "2026-03-02"} {
		if _, err := f.eng.RecordLogin(ctx, u, day); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.countNotifications(t, u, models.TriggerStreakMilestone); n != 1 {
		t.Errorf("milestone notifications = %d, want 1", n)
	}
}

func TestRecordLogin_UnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.eng.RecordLogin(context.Background(), 404, "2026-03-02"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestScenarioC_UnlockAfterOneLesson(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "cleo")

	open, err := f.eng.GetCourseUnlockState(ctx, "go-basics", u)
	if err != nil || !open {
		t.Fatalf("first course unlocked = %v, %v; want true", open, err)
	}
	open, err = f.eng.GetCourseUnlockState(ctx, "go-advanced", u)
	if err != nil || open {
		t.Fatalf("second course unlocked = %v, %v; want false", open, err)
	}
	if _, err := f.eng.MarkLessonCompleted(ctx, u, "ga-1"); !errors.Is(err, ErrCourseLocked) || !errors.Is(err, ErrValidation) {
		t.Fatalf("completing a locked lesson: err = %v", err)
	}

	if _, err := f.eng.MarkLessonCompleted(ctx, u, "gb-1"); err != nil {
		t.Fatal(err)
	}
	open, err = f.eng.GetCourseUnlockState(ctx, "go-advanced", u)
	if err != nil || !open {
		t.Fatalf("second course after one lesson = %v, %v; want true", open, err)
	}
}

func TestMarkLessonCompleted_SecondCompletionIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "rep")

	if _, err := f.eng.MarkLessonStarted(ctx, u, "gb-1"); err != nil {
		t.Fatal(err)
	}
	first, err := f.eng.MarkLessonCompleted(ctx, u, "gb-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.eng.MarkLessonCompleted(ctx, u, "gb-1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.FirstCompletion || first.XPAwarded != 100 {
		t.Errorf("first = %+v", first)
	}
	if second.FirstCompletion || second.XPAwarded != 0 {
		t.Errorf("second = %+v, want no effects", second)
	}
	if second.Lesson.Status != models.LessonCompleted || second.Lesson.StartedAt == nil {
		t.Errorf("lesson = %+v", second.Lesson)
	}

	n, err := f.eng.Events.Count(ctx, u, models.ReasonLessonCompleted)
	if err != nil || n != 1 {
		t.Errorf("lesson events = %d, %v; want 1", n, err)
	}
	if c := f.notifiedBadges(t, u)["first-lesson"]; c != 1 {
		t.Errorf("first-lesson notifications = %d, want 1", c)
	}

	// starting a completed lesson leaves it completed
	lp, err := f.eng.MarkLessonStarted(ctx, u, "gb-1")
	if err != nil || lp.Status != models.LessonCompleted {
		t.Errorf("restart = %+v, %v", lp, err)
	}
}

func TestMarkLessonCompleted_FinishingCourseGrantsCourseXP(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "grad")

	var last LessonResult
	for _, id := range []string{"gb-1", "gb-2", "gb-3"} {
		res, err := f.eng.MarkLessonCompleted(ctx, u, id)
		if err != nil {
			t.Fatal(err)
		}
		last = res
		f.clock.Advance(time.Minute)
	}
	if !last.CourseCompleted || last.XPAwarded != 600 {
		t.Fatalf("last lesson = %+v, want course completed with 600 xp", last)
	}
	p, _ := f.eng.GetUserProgress(ctx, u)
	if p.XP != 800 {
		t.Errorf("xp = %d, want 800", p.XP)
	}

	courses, err := f.eng.ListCourses(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if !courses[0].IsComplete || courses[0].Completed != 3 || !courses[1].Unlocked || courses[1].IsComplete {
		t.Errorf("courses = %+v", courses)
	}

	progress, err := f.eng.GetAllBadgeProgress(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	for _, bp := range progress {
		if bp.Badge.ID == "course-1" && (!bp.IsEarned || bp.CurrentValue != 1) {
			t.Errorf("course-1 progress = %+v", bp)
		}
		if bp.Badge.ID == "level-2" && (bp.IsEarned || bp.CurrentValue != 1 || bp.Threshold != 2) {
			t.Errorf("level-2 progress = %+v", bp)
		}
	}

	// every badge of the day lands in one notification
	if n := f.countNotifications(t, u, models.TriggerBadgeAwarded); n != 1 {
		t.Errorf("badge notifications today = %d, want 1", n)
	}
	notified := f.notifiedBadges(t, u)
	for _, id := range []string{"first-lesson", "course-1", "xp-500"} {
		if notified[id] != 1 {
			t.Errorf("badge %s listed %d times in %v, want 1", id, notified[id], notified)
		}
	}
	if got := f.pub.badgePushes(u); got != 2 {
		t.Errorf("badge notification pushes = %d, want 2", got)
	}

	// lesson xp override from the catalog
	res, err := f.eng.MarkLessonCompleted(ctx, u, "ga-1")
	if err != nil || res.XPAwarded != 200 {
		t.Errorf("ga-1 = %+v, %v; want 200 xp", res, err)
	}
}

func TestNotifyBadges_FoldsSameDayAndMarksUnread(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "fold")
	b1, _ := f.eng.cat.Badge("first-lesson")
	b2, _ := f.eng.cat.Badge("course-1")

	at := f.clock.Now()
	if !f.eng.Notifier.NotifyBadges(ctx, u, []models.Badge{b1}, at) {
		t.Fatal("first award of the day not stored")
	}
	list, err := f.eng.ListNotifications(ctx, u, false, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %+v, %v", list, err)
	}
	if err := f.eng.MarkNotificationRead(ctx, u, list[0].ID); err != nil {
		t.Fatal(err)
	}

	if f.eng.Notifier.NotifyBadges(ctx, u, []models.Badge{b1}, at.Add(time.Hour)) {
		t.Error("repeating a listed badge changed the notification")
	}
	if !f.eng.Notifier.NotifyBadges(ctx, u, []models.Badge{b2}, at.Add(2*time.Hour)) {
		t.Error("second badge of the day not folded in")
	}
	unread, err := f.eng.ListNotifications(ctx, u, true, 10)
	if err != nil || len(unread) != 1 || unread[0].ID != list[0].ID {
		t.Fatalf("unread = %+v, %v; want the same row unread again", unread, err)
	}
	var p BadgePayload
	if err := json.Unmarshal(unread[0].Payload, &p); err != nil {
		t.Fatal(err)
	}
	if len(p.Badges) != 2 || p.Badges[0].BadgeID != "first-lesson" || p.Badges[1].BadgeID != "course-1" {
		t.Errorf("payload = %+v", p)
	}

	if !f.eng.Notifier.NotifyBadges(ctx, u, []models.Badge{b2}, at.Add(24*time.Hour)) {
		t.Error("next day award not stored")
	}
	if n := f.countNotifications(t, u, models.TriggerBadgeAwarded); n != 2 {
		t.Errorf("badge notifications over two days = %d, want 2", n)
	}
}

// The test database has one connection, so these goroutines exercise the idempotency keys and
// conditional writes under interleaved calls; the row locks themselves only matter on MySQL and
// Postgres, where transactions overlap.
func runConcurrently(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func TestMarkLessonCompleted_TwoTabsSameLesson(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "tabs")

	var mu sync.Mutex
	first, awarded := 0, 0
	runConcurrently(6, func(int) {
		res, err := f.eng.MarkLessonCompleted(ctx, u, "gb-1")
		if err != nil {
			t.Error(err)
			return
		}
		mu.Lock()
		if res.FirstCompletion {
			first++
		}
		awarded += res.XPAwarded
		mu.Unlock()
	})

	if first != 1 || awarded != 100 {
		t.Errorf("first completions = %d, xp awarded = %d; want 1 and 100", first, awarded)
	}
	if n, err := f.eng.Events.Count(ctx, u, models.ReasonLessonCompleted); err != nil || n != 1 {
		t.Errorf("lesson events = %d, %v; want 1", n, err)
	}
	p, _ := f.eng.GetUserProgress(ctx, u)
	if p.XP != 100 {
		t.Errorf("xp = %d, want 100", p.XP)
	}
}

func TestMarkLessonCompleted_ConcurrentSiblingsFinishCourseOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "sib")

	if _, err := f.eng.MarkLessonCompleted(ctx, u, "gb-1"); err != nil {
		t.Fatal(err)
	}
	lessons := []string{"gb-2", "gb-3"}

	var mu sync.Mutex
	finished, awarded := 0, 0
	runConcurrently(8, func(i int) {
		res, err := f.eng.MarkLessonCompleted(ctx, u, lessons[i%len(lessons)])
		if err != nil {
			t.Error(err)
			return
		}
		mu.Lock()
		if res.CourseCompleted {
			finished++
		}
		awarded += res.XPAwarded
		mu.Unlock()
	})

	if finished != 1 || awarded != 700 {
		t.Errorf("course finishes = %d, xp awarded = %d; want 1 and 700", finished, awarded)
	}
	for reason, want := range map[models.XPReason]int64{
		models.ReasonLessonCompleted: 3,
		models.ReasonCourseCompleted: 1,
	} {
		if n, err := f.eng.Events.Count(ctx, u, reason); err != nil || n != want {
			t.Errorf("%s events = %d, %v; want %d", reason, n, err, want)
		}
	}
	p, _ := f.eng.GetUserProgress(ctx, u)
	if p.XP != 800 {
		t.Errorf("xp = %d, want 800", p.XP)
	}
}

func TestRecordLogin_ConcurrentSameDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "dup")

	var mu sync.Mutex
	fresh, awarded := 0, 0
	runConcurrently(8, func(int) {
		res, err := f.eng.RecordLogin(ctx, u, "2026-03-02")
		if err != nil {
			t.Error(err)
			return
		}
		mu.Lock()
		if !res.Duplicate {
			fresh++
		}
		awarded += res.XPAwarded
		mu.Unlock()
	})

	if fresh != 1 || awarded != 10 {
		t.Errorf("fresh logins = %d, xp awarded = %d; want 1 and 10", fresh, awarded)
	}
	st, err := f.eng.GetStreak(ctx, u)
	if err != nil || st.CurrentStreak != 1 || st.LongestStreak != 1 {
		t.Errorf("streak = %+v, %v; want 1/1", st, err)
	}
	if n, err := f.eng.Events.Count(ctx, u, models.ReasonDailyLogin); err != nil || n != 1 {
		t.Errorf("daily login events = %d, %v; want 1", n, err)
	}
	p, _ := f.eng.GetUserProgress(ctx, u)
	if p.XP != 10 {
		t.Errorf("xp = %d, want 10", p.XP)
	}
}

func TestGetLessonProgress_UnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.eng.GetLessonProgress(context.Background(), 4242, "gb-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEvaluateBadges_ConcurrentAwardsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "conc")

	// progress written without the post-commit pipeline, as after a crash
	err := f.db.Model(&models.UserProgress{}).Where("user_id = ?", u).
		UpdateColumns(map[string]interface{}{"xp": 600}).Error
	if err != nil {
		t.Fatal(err)
	}

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	awarded := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.eng.EvaluateBadges(ctx, u)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			for _, b := range got {
				if b.ID == "xp-500" {
					awarded++
				}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	var rows int64
	f.db.Model(&models.UserBadge{}).Where("user_id = ? AND badge_id = ?", u, "xp-500").Count(&rows)
	if rows != 1 || awarded != 1 {
		t.Errorf("rows = %d, awarded = %d; want 1 and 1", rows, awarded)
	}
	if c := f.countNotifications(t, u, models.TriggerBadgeAwarded); c != 1 || f.notifiedBadges(t, u)["xp-500"] != 1 {
		t.Errorf("notifications = %d listing %v, want 1 with xp-500", c, f.notifiedBadges(t, u))
	}
}

func TestScenarioD_TieBreakFavorsEarlierArrival(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.user(t, "bob") // lower id
	a := f.user(t, "alice")

	f.grant(t, a, 500, "a1")
	f.grant(t, b, 500, "b1")

	first, err := f.eng.GetLeaderboard(ctx, MetricXP, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].UserID != a || first[1].UserID != b {
		t.Fatalf("leaderboard = %+v, want alice then bob", first)
	}
	again, _ := f.eng.GetLeaderboard(ctx, MetricXP, 10)
	for i := range first {
		if first[i].UserID != again[i].UserID || first[i].Rank != again[i].Rank {
			t.Fatalf("ordering changed between calls: %+v vs %+v", first, again)
		}
	}

	for _, e := range first {
		r, err := f.eng.GetUserRank(ctx, MetricXP, e.UserID)
		if err != nil || r != e.Rank {
			t.Errorf("rank of %d = %d, %v; want %d", e.UserID, r, err, e.Rank)
		}
	}
}

func TestLeaderboard_EqualTimestampsFallBackToUserID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	x := f.user(t, "x")
	y := f.user(t, "y")
	at := f.clock.Now()
	for _, id := range []uint{y, x} {
		err := f.db.Model(&models.UserProgress{}).Where("user_id = ?", id).
			UpdateColumns(map[string]interface{}{"xp": 300, "updated_at": at}).Error
		if err != nil {
			t.Fatal(err)
		}
	}

	top, err := f.eng.GetLeaderboard(ctx, MetricXP, 5)
	if err != nil {
		t.Fatal(err)
	}
	if top[0].UserID != x || top[1].UserID != y {
		t.Fatalf("leaderboard = %+v, want lower id first", top)
	}
	if r, _ := f.eng.GetUserRank(ctx, MetricXP, y); r != 2 {
		t.Errorf("rank of y = %d, want 2", r)
	}
}

func TestLeaderboard_StreakMetric(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.user(t, "one-day")
	b := f.user(t, "two-days")

	f.eng.RecordLogin(ctx, a, "2026-03-02")
	f.eng.RecordLogin(ctx, b, "2026-03-01")
	f.eng.RecordLogin(ctx, b, "2026-03-02")

	top, err := f.eng.GetLeaderboard(ctx, MetricLongestStreak, 10)
	if err != nil {
		t.Fatal(err)
	}
	if top[0].UserID != b || top[0].MetricValue != 2 {
		t.Errorf("top = %+v, want two-days first with 2", top[0])
	}
}

func TestRankThreshold_NotifiesOncePerDay(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RankThresholds = []int{1} })
	a := f.user(t, "anna")
	b := f.user(t, "ben")

	f.grant(t, a, 500, "a1") // already first, nothing crossed
	f.grant(t, b, 600, "b1") // ben takes first
	f.grant(t, a, 200, "a2") // anna takes it back
	f.grant(t, b, 200, "b2") // ben again, same day

	if n := f.countNotifications(t, a, models.TriggerRankThreshold); n != 1 {
		t.Errorf("anna rank notifications = %d, want 1", n)
	}
	if n := f.countNotifications(t, b, models.TriggerRankThreshold); n != 1 {
		t.Errorf("ben rank notifications = %d, want 1", n)
	}

	f.clock.Advance(24 * time.Hour)
	f.grant(t, a, 200, "a3")
	if n := f.countNotifications(t, a, models.TriggerRankThreshold); n != 2 {
		t.Errorf("anna rank notifications next day = %d, want 2", n)
	}
}

func TestVerifyAndRepair_RestoresFromLog(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "drift")
	f.grant(t, u, 300, "r1")

	err := f.db.Model(&models.UserProgress{}).Where("user_id = ?", u).
		UpdateColumns(map[string]interface{}{"xp": 9999, "level": 10}).Error
	if err != nil {
		t.Fatal(err)
	}

	replayed, err := f.eng.RecomputeXP(ctx, u)
	if err != nil || replayed.XP != 300 {
		t.Fatalf("RecomputeXP = %+v, %v", replayed, err)
	}
	if stored, _ := f.eng.GetUserProgress(ctx, u); stored.XP != 9999 {
		t.Fatalf("RecomputeXP wrote to the store: %+v", stored)
	}

	res, err := f.eng.VerifyAndRepair(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Repaired || res.Progress.XP != 300 || res.Progress.Level != 1 {
		t.Fatalf("repair = %+v", res)
	}
	if res.Drift == nil || res.Drift.StoredXP != 9999 {
		t.Errorf("drift = %+v", res.Drift)
	}

	res, err = f.eng.VerifyAndRepair(ctx, u)
	if err != nil || res.Repaired {
		t.Errorf("second repair = %+v, %v; want clean", res, err)
	}
}

func TestAuditAll_ReportsRepairs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ok := f.user(t, "ok")
	bad := f.user(t, "bad")
	f.grant(t, ok, 50, "o1")
	f.grant(t, bad, 50, "b1")
	f.db.Model(&models.UserProgress{}).Where("user_id = ?", bad).UpdateColumn("xp", 1)

	report, err := f.eng.AuditAll(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 2 || report.Repaired != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestNotifications_MarkRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.user(t, "reader")
	f.grant(t, u, 500, "n1")

	list, err := f.eng.ListNotifications(ctx, u, true, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("unread = %+v, %v", list, err)
	}
	if err := f.eng.MarkNotificationRead(ctx, u, list[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := f.eng.MarkNotificationRead(ctx, u, list[0].ID); err != nil {
		t.Errorf("second mark read: %v", err)
	}
	if err := f.eng.MarkNotificationRead(ctx, u, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
	if unread, _ := f.eng.ListNotifications(ctx, u, true, 10); len(unread) != 0 {
		t.Errorf("unread after mark = %d", len(unread))
	}
}
