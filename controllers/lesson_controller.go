package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

type LessonController struct {
	engine *services.Engine
}

func NewLessonController(engine *services.Engine) *LessonController {
	return &LessonController{engine: engine}
}

func (l *LessonController) Start(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	lp, err := l.engine.MarkLessonStarted(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, lp)
}

// Complete marks the lesson completed. Completing it again returns the stored state with
// first_completion false.
func (l *LessonController) Complete(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	res, err := l.engine.MarkLessonCompleted(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

func (l *LessonController) Get(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	lp, err := l.engine.GetLessonProgress(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, lp)
}
