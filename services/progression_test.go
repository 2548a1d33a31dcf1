package services

import (
	"testing"
	"time"

	"github.com/cppla/learnquest/models"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{2500, 3},
		{-20, 1},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.xp, 1000); got != tt.want {
			t.Errorf("LevelFor(%d) = %d, want %d", tt.xp, got, tt.want)
		}
	}
}

func TestLevelFor_Monotonic(t *testing.T) {
	prev := LevelFor(0, 1000)
	for xp := 1; xp <= 20000; xp += 7 {
		lvl := LevelFor(xp, 1000)
		if lvl < prev {
			t.Fatalf("level dropped from %d to %d at xp %d", prev, lvl, xp)
		}
		prev = lvl
	}
}

func TestReplay_SumsAmounts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []models.XPEvent{
		{Amount: 100, CreatedAt: base},
		{Amount: 250, CreatedAt: base.Add(time.Hour)},
		{Amount: 900, CreatedAt: base.Add(2 * time.Hour)},
	}
	p := Replay(7, events, 1000)
	if p.XP != 1250 || p.Level != 2 || p.UserID != 7 {
		t.Errorf("Replay = %+v", p)
	}
	if !p.UpdatedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("UpdatedAt = %v", p.UpdatedAt)
	}
	if again := Replay(7, events, 1000); again != p {
		t.Errorf("Replay is not deterministic: %+v vs %+v", again, p)
	}
}

func TestNextStreak(t *testing.T) {
	state := func(cur, longest int, last string) models.StreakState {
		return models.StreakState{CurrentStreak: cur, LongestStreak: longest, LastLoginDate: last}
	}
	tests := []struct {
		name        string
		prev        models.StreakState
		day         string
		policy      BackfillPolicy
		wantCur     int
		wantLongest int
		wantLast    string
		wantChanged bool
	}{
		{"first login", state(0, 0, ""), "2026-03-01", BackfillReset, 1, 1, "2026-03-01", true},
		{"same day", state(3, 5, "2026-03-01"), "2026-03-01", BackfillReset, 3, 5, "2026-03-01", false},
		{"next day", state(3, 3, "2026-03-01"), "2026-03-02", BackfillReset, 4, 4, "2026-03-02", true},
		{"month boundary", state(1, 1, "2026-02-28"), "2026-03-01", BackfillReset, 2, 2, "2026-03-01", true},
		{"gap keeps longest", state(6, 6, "2026-03-01"), "2026-03-03", BackfillReset, 1, 6, "2026-03-03", true},
		{"backfill resets", state(4, 4, "2026-03-10"), "2026-03-08", BackfillReset, 1, 4, "2026-03-08", true},
		{"backfill ignored", state(4, 4, "2026-03-10"), "2026-03-08", BackfillIgnore, 4, 4, "2026-03-10", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed, err := NextStreak(tt.prev, tt.day, tt.policy)
			if err != nil {
				t.Fatal(err)
			}
			if next.CurrentStreak != tt.wantCur || next.LongestStreak != tt.wantLongest ||
				next.LastLoginDate != tt.wantLast || changed != tt.wantChanged {
				t.Errorf("got %+v changed=%v", next, changed)
			}
			if next.LongestStreak < next.CurrentStreak {
				t.Errorf("longest %d < current %d", next.LongestStreak, next.CurrentStreak)
			}
		})
	}
}

func TestNextStreak_RejectsBadDate(t *testing.T) {
	if _, _, err := NextStreak(models.StreakState{}, "yesterday", BackfillReset); err == nil {
		t.Fatal("expected an error")
	}
}
