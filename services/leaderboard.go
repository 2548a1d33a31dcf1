package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Metric is a leaderboard ranking metric.
type Metric string

const (
	MetricXP            Metric = "xp"
	MetricLevel         Metric = "level"
	MetricCurrentStreak Metric = "current_streak"
	MetricLongestStreak Metric = "longest_streak"
)

// AllMetrics lists the supported metrics.
var AllMetrics = []Metric{MetricXP, MetricLevel, MetricCurrentStreak, MetricLongestStreak}

type metricSource struct {
	table  string
	column string
}

var metricSources = map[Metric]metricSource{
	MetricXP:            {table: "user_progresses", column: "xp"},
	MetricLevel:         {table: "user_progresses", column: "level"},
	MetricCurrentStreak: {table: "streak_states", column: "current_streak"},
	MetricLongestStreak: {table: "streak_states", column: "longest_streak"},
}

// ParseMetric validates a metric name. Empty selects xp.
func ParseMetric(s string) (Metric, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return MetricXP, nil
	}
	if _, ok := metricSources[Metric(s)]; !ok {
		return "", validationf("unknown leaderboard metric %q", s)
	}
	return Metric(s), nil
}

// MaxTopN caps a single leaderboard page.
const MaxTopN = 100

// LeaderboardEntry is one ranked user. It is derived on every read and never stored.
type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      uint      `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	MetricValue int       `json:"metric_value"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Cache stores serialized leaderboard pages. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	DeletePrefix(ctx context.Context, prefix string)
}

const leaderboardCachePrefix = "cache:leaderboard:"

// rankQueryTimeout bounds a shared ranking query, which outlives the caller that started it.
const rankQueryTimeout = 10 * time.Second

// Leaderboard ranks users by a metric. Ordering is metric desc, then updated_at asc so the user
// who reached the value first wins, then user_id asc.
type Leaderboard struct {
	db    *gorm.DB
	cache Cache
	ttl   time.Duration
	group singleflight.Group
	// gen counts invalidations; a page is cached only if none happened while it was computed
	gen atomic.Uint64
}

func NewLeaderboard(db *gorm.DB, cache Cache, ttl time.Duration) *Leaderboard {
	return &Leaderboard{db: db, cache: cache, ttl: ttl}
}

func (l *Leaderboard) base(tx *gorm.DB, src metricSource) *gorm.DB {
	return tx.Table(src.table+" AS p").
		Joins("JOIN users u ON u.id = p.user_id AND u.deleted_at IS NULL")
}

// Top returns the first n entries. Pages are served from the cache when one is configured and
// concurrent misses for the same page share one query.
func (l *Leaderboard) Top(ctx context.Context, metric Metric, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	if n > MaxTopN {
		n = MaxTopN
	}
	key := fmt.Sprintf("%s%s:%d", leaderboardCachePrefix, metric, n)
	gen := l.gen.Load()
	if l.cache != nil {
		if b, ok := l.cache.Get(ctx, key); ok {
			var cached []LeaderboardEntry
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
		}
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		// waiters share this query, so one caller's cancellation must not fail the rest
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rankQueryTimeout)
		defer cancel()
		entries, err := l.rank(qctx, metric, n)
		if err != nil {
			return nil, err
		}
		if l.cache != nil && l.gen.Load() == gen {
			if b, err := json.Marshal(entries); err == nil {
				l.cache.Set(qctx, key, b, l.ttl)
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]LeaderboardEntry), nil
}

func (l *Leaderboard) rank(ctx context.Context, metric Metric, n int) ([]LeaderboardEntry, error) {
	src, ok := metricSources[metric]
	if !ok {
		return nil, validationf("unknown leaderboard metric %q", metric)
	}
	var rows []LeaderboardEntry
	err := l.base(l.db.WithContext(ctx), src).
		Select("p.user_id AS user_id, u.username AS username, u.display_name AS display_name, p." + src.column + " AS metric_value, p.updated_at AS updated_at").
		Order("p." + src.column + " DESC").
		Order("p.updated_at ASC").
		Order("p.user_id ASC").
		Limit(n).
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("rank users", err)
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

type rankRow struct {
	MetricValue int
	UpdatedAt   time.Time
}

// RankOf is the user's 1-based position under the same ordering as Top, computed by counting
// the users ahead.
func (l *Leaderboard) RankOf(ctx context.Context, metric Metric, userID uint) (int, error) {
	src, ok := metricSources[metric]
	if !ok {
		return 0, validationf("unknown leaderboard metric %q", metric)
	}
	tx := l.db.WithContext(ctx)

	var self rankRow
	res := l.base(tx, src).
		Select("p."+src.column+" AS metric_value, p.updated_at AS updated_at").
		Where("p.user_id = ?", userID).
		Limit(1).
		Scan(&self)
	if res.Error != nil {
		return 0, storeErr("rank user", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, notFoundf("user %d is not ranked", userID)
	}

	col := "p." + src.column
	var ahead int64
	err := l.base(tx, src).
		Where(col+" > ?", self.MetricValue).
		Or(col+" = ? AND p.updated_at < ?", self.MetricValue, self.UpdatedAt).
		Or(col+" = ? AND p.updated_at = ? AND p.user_id < ?", self.MetricValue, self.UpdatedAt, userID).
		Count(&ahead).Error
	if err != nil {
		return 0, storeErr("count users ahead", err)
	}
	return int(ahead) + 1, nil
}

// rankOrZero is RankOf with unranked users reported as 0.
func (l *Leaderboard) rankOrZero(ctx context.Context, metric Metric, userID uint) (int, error) {
	r, err := l.RankOf(ctx, metric, userID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return r, err
}

// Invalidate drops every cached page and keeps pages computed before it from being cached.
func (l *Leaderboard) Invalidate(ctx context.Context) {
	l.gen.Add(1)
	if l.cache != nil {
		l.cache.DeletePrefix(ctx, leaderboardCachePrefix)
	}
}
