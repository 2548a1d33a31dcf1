package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

type LeaderboardController struct {
	engine *services.Engine
}

func NewLeaderboardController(engine *services.Engine) *LeaderboardController {
	return &LeaderboardController{engine: engine}
}

// Top returns the first entries for ?metric= (default xp), ?top= capped at services.MaxTopN.
func (l *LeaderboardController) Top(ctx *gin.Context) {
	metric, ok := parseMetric(ctx)
	if !ok {
		return
	}
	top := queryInt(ctx, "top", 10)
	if top > services.MaxTopN {
		top = services.MaxTopN
	}
	entries, err := l.engine.GetLeaderboard(ctx.Request.Context(), metric, top)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"metric": metric, "items": entries})
}

func (l *LeaderboardController) Me(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	metric, ok := parseMetric(ctx)
	if !ok {
		return
	}
	rank, err := l.engine.GetUserRank(ctx.Request.Context(), metric, userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"metric": metric, "user_id": userID, "rank": rank})
}
