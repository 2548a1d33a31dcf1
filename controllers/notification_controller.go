package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

type NotificationController struct {
	engine *services.Engine
}

func NewNotificationController(engine *services.Engine) *NotificationController {
	return &NotificationController{engine: engine}
}

// List returns the newest notifications, ?unread=true for unread only.
func (n *NotificationController) List(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	items, err := n.engine.ListNotifications(ctx.Request.Context(), userID, queryBool(ctx, "unread"), queryInt(ctx, "limit", 20))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

func (n *NotificationController) MarkRead(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	id := ctx.Param("id")
	if err := n.engine.MarkNotificationRead(ctx.Request.Context(), userID, id); err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"id": id, "read": true})
}
