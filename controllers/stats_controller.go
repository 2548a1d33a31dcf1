package controllers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/learnquest/models"
	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

// StatsController provides platform-wide counts.
type StatsController struct {
	db     *gorm.DB
	engine *services.Engine
}

func NewStatsController(db *gorm.DB, engine *services.Engine) *StatsController {
	return &StatsController{db: db, engine: engine}
}

// GetStats returns aggregate statistics. A failed count reports 0 instead of failing the endpoint.
func (s *StatsController) GetStats(ctx *gin.Context) {
	db := s.db.WithContext(ctx.Request.Context())
	today := s.engine.Today()

	var users, events, badges, lessons, activeToday int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		users = 0
	}
	if err := db.Model(&models.XPEvent{}).Count(&events).Error; err != nil {
		events = 0
	}
	if err := db.Model(&models.UserBadge{}).Count(&badges).Error; err != nil {
		badges = 0
	}
	if err := db.Model(&models.LessonProgress{}).Where("status = ?", models.LessonCompleted).Count(&lessons).Error; err != nil {
		lessons = 0
	}
	if err := db.Model(&models.DailyLogin{}).Where("login_date = ?", today).Count(&activeToday).Error; err != nil {
		activeToday = 0
	}

	utils.Success(ctx, gin.H{
		"user_count":         users,
		"xp_event_count":     events,
		"badges_awarded":     badges,
		"lessons_completed":  lessons,
		"daily_active_count": activeToday,
		"day":                today,
	})
}
