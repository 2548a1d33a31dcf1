package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

type ProgressController struct {
	engine *services.Engine
}

func NewProgressController(engine *services.Engine) *ProgressController {
	return &ProgressController{engine: engine}
}

// Me returns the caller's XP, level, streak and XP rank.
func (p *ProgressController) Me(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	p.respond(ctx, userID)
}

// User returns another user's public progress.
func (p *ProgressController) User(ctx *gin.Context) {
	userID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	p.respond(ctx, userID)
}

func (p *ProgressController) respond(ctx *gin.Context, userID uint) {
	c := ctx.Request.Context()
	prog, err := p.engine.GetUserProgress(c, userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	st, err := p.engine.GetStreak(c, userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	rank, err := p.engine.GetUserRank(c, services.MetricXP, userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"user_id":        prog.UserID,
		"xp":             prog.XP,
		"level":          prog.Level,
		"updated_at":     prog.UpdatedAt,
		"current_streak": st.CurrentStreak,
		"longest_streak": st.LongestStreak,
		"xp_rank":        rank,
	})
}
