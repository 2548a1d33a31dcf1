package services

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/learnquest/config"
)

// Options configures an Engine. Zero values fall back to the defaults below.
type Options struct {
	XPPerLevel       int
	LessonXP         int
	CourseXP         int
	DailyLoginXP     int
	StreakMilestones []int
	// RankThresholds are the xp leaderboard positions (e.g. top 3, top 10) whose crossing notifies.
	RankThresholds []int
	Backfill       BackfillPolicy
	Location       *time.Location
	StoreTimeout   time.Duration
	LeaderboardTTL time.Duration
	Now            func() time.Time
	Logger         *zap.SugaredLogger
	Cache          Cache
	Publisher      Publisher
}

// OptionsFromConfig maps application config onto engine options. Cache, Publisher and Logger
// are wired by the caller.
func OptionsFromConfig(cfg config.AppConfig, loc *time.Location) Options {
	return Options{
		XPPerLevel:       cfg.XPPerLevel,
		LessonXP:         cfg.LessonXP,
		CourseXP:         cfg.CourseXP,
		DailyLoginXP:     cfg.DailyLoginXP,
		StreakMilestones: cfg.StreakMilestones,
		RankThresholds:   cfg.RankThresholds,
		Backfill:         ParseBackfillPolicy(cfg.StreakBackfillPolicy),
		Location:         loc,
		StoreTimeout:     time.Duration(cfg.StoreTimeoutMS) * time.Millisecond,
		LeaderboardTTL:   time.Duration(cfg.LeaderboardCacheSec) * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.XPPerLevel <= 0 {
		o.XPPerLevel = DefaultXPPerLevel
	}
	if o.LessonXP <= 0 {
		o.LessonXP = 100
	}
	if o.CourseXP < 0 {
		o.CourseXP = 0
	}
	if o.DailyLoginXP < 0 {
		o.DailyLoginXP = 0
	}
	if o.Backfill == "" {
		o.Backfill = BackfillReset
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 3 * time.Second
	}
	if o.LeaderboardTTL <= 0 {
		o.LeaderboardTTL = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Publisher == nil {
		o.Publisher = nopPublisher{}
	}
	o.StreakMilestones = sortedPositive(o.StreakMilestones)
	o.RankThresholds = sortedPositive(o.RankThresholds)
	return o
}

func sortedPositive(in []int) []int {
	out := make([]int, 0, len(in))
	for _, v := range in {
		if v > 0 {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
