package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

// SignInController handles daily sign-in endpoints.
type SignInController struct {
	engine *services.Engine
}

func NewSignInController(engine *services.Engine) *SignInController {
	return &SignInController{engine: engine}
}

// DailySignIn records today's login. A repeated sign-in on the same day succeeds with
// duplicate set and awards nothing.
func (s *SignInController) DailySignIn(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	res, err := s.engine.RecordLogin(ctx.Request.Context(), userID, "")
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"current_streak":  res.Streak.CurrentStreak,
		"longest_streak":  res.Streak.LongestStreak,
		"last_login_date": res.Streak.LastLoginDate,
		"duplicate":       res.Duplicate,
		"xp_awarded":      res.XPAwarded,
		"progress":        res.Progress,
	})
}

// SignInStatus returns the streak and whether the user already signed in today.
func (s *SignInController) SignInStatus(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	st, err := s.engine.GetStreak(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	today := s.engine.Today()
	signed, err := s.engine.HasLoggedIn(ctx.Request.Context(), userID, today)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"current_streak":  st.CurrentStreak,
		"longest_streak":  st.LongestStreak,
		"last_login_date": st.LastLoginDate,
		"today":           today,
		"signed_in_today": signed,
	})
}
