package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

type CourseController struct {
	engine *services.Engine
}

func NewCourseController(engine *services.Engine) *CourseController {
	return &CourseController{engine: engine}
}

// List returns every course in order with the caller's unlock and completion state.
func (c *CourseController) List(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	courses, err := c.engine.ListCourses(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": courses})
}

func (c *CourseController) Unlock(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	courseID := ctx.Param("id")
	unlocked, err := c.engine.GetCourseUnlockState(ctx.Request.Context(), courseID, userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"course_id": courseID, "unlocked": unlocked})
}

func (c *CourseController) Progress(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	st, err := c.engine.GetCourseProgress(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, st)
}
