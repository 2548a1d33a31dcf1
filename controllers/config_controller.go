package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/catalog"
	"github.com/cppla/learnquest/config"
	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

// ConfigController serves the public progression rules and content catalog to clients.
type ConfigController struct {
	cfg config.AppConfig
	cat catalog.Catalog
}

func NewConfigController(cfg config.AppConfig, cat catalog.Catalog) *ConfigController {
	return &ConfigController{cfg: cfg, cat: cat}
}

// GetRules returns XP rewards, level size, milestones and leaderboard metrics.
func (c *ConfigController) GetRules(ctx *gin.Context) {
	utils.Success(ctx, gin.H{
		"xp_per_level":        c.cfg.XPPerLevel,
		"lesson_xp":           c.cfg.LessonXP,
		"course_xp":           c.cfg.CourseXP,
		"daily_login_xp":      c.cfg.DailyLoginXP,
		"streak_milestones":   c.cfg.StreakMilestones,
		"rank_thresholds":     c.cfg.RankThresholds,
		"timezone":            c.cfg.Timezone,
		"leaderboard_metrics": services.AllMetrics,
	})
}

// GetCatalog returns courses with their lessons, and badge definitions.
func (c *ConfigController) GetCatalog(ctx *gin.Context) {
	utils.Success(ctx, gin.H{
		"courses": c.cat.Courses(),
		"badges":  c.cat.Badges(),
	})
}
