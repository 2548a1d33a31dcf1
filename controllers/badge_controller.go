package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

type BadgeController struct {
	engine *services.Engine
}

func NewBadgeController(engine *services.Engine) *BadgeController {
	return &BadgeController{engine: engine}
}

func (b *BadgeController) Earned(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	badges, err := b.engine.GetBadges(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": badges})
}

// Progress lists every catalog badge with the caller's current value against its threshold.
func (b *BadgeController) Progress(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	items, err := b.engine.GetAllBadgeProgress(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}
