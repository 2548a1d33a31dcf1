package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/learnquest/config"
	"github.com/cppla/learnquest/controllers"
	"github.com/cppla/learnquest/middleware"
	"github.com/cppla/learnquest/realtime"
	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Config config.AppConfig
	DB     *gorm.DB
	Engine *services.Engine
	Hub    *realtime.Hub
	// LoginMarker dedupes login pings; nil disables the login-ping middleware.
	LoginMarker middleware.Marker
	// AccessLog receives one line per request; nil keeps only panic recovery.
	AccessLog *zap.Logger
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if d.AccessLog != nil {
		r.Use(utils.Ginzap(d.AccessLog, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(d.AccessLog, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx.Request.Context())
		}
		if err != nil {
			utils.Unavailable(ctx, "database unavailable", 5)
			return
		}
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	signController := controllers.NewSignInController(d.Engine)
	progressController := controllers.NewProgressController(d.Engine)
	lessonController := controllers.NewLessonController(d.Engine)
	courseController := controllers.NewCourseController(d.Engine)
	badgeController := controllers.NewBadgeController(d.Engine)
	leaderboardController := controllers.NewLeaderboardController(d.Engine)
	notificationController := controllers.NewNotificationController(d.Engine)
	userController := controllers.NewUserController(d.DB, d.Engine)
	statsController := controllers.NewStatsController(d.DB, d.Engine)
	configController := controllers.NewConfigController(cfg, d.Engine.Catalog())

	api := r.Group("/api/v1")

	// Public endpoints
	public := api.Group("")
	public.Use(middleware.RateLimit(cfg.RateLimitPerMinute))
	public.GET("/stats", statsController.GetStats)
	public.GET("/config/rules", configController.GetRules)
	public.GET("/config/catalog", configController.GetCatalog)
	public.GET("/leaderboard", leaderboardController.Top)
	public.GET("/users/:id/progress", progressController.User)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimit(cfg.RateLimitPerMinute))
	if d.LoginMarker != nil {
		protected.Use(middleware.LoginPing(d.Engine, d.LoginMarker, utils.Sugar))
	}
	protected.POST("/signin/daily", signController.DailySignIn)
	protected.GET("/signin/status", signController.SignInStatus)
	protected.GET("/lessons/:id", lessonController.Get)
	protected.POST("/lessons/:id/start", lessonController.Start)
	protected.POST("/lessons/:id/complete", lessonController.Complete)
	protected.GET("/me/progress", progressController.Me)
	protected.GET("/me/badges", badgeController.Earned)
	protected.GET("/me/badges/progress", badgeController.Progress)
	protected.GET("/courses", courseController.List)
	protected.GET("/courses/:id/unlock", courseController.Unlock)
	protected.GET("/courses/:id/progress", courseController.Progress)
	protected.GET("/leaderboard/me", leaderboardController.Me)
	protected.GET("/me/notifications", notificationController.List)
	protected.POST("/me/notifications/:id/read", notificationController.MarkRead)
	if d.Hub != nil {
		wsController := controllers.NewWSController(d.Hub, cfg.AllowedOrigins)
		api.GET("/ws", middleware.WebsocketAuthRequired(), middleware.RateLimit(cfg.RateLimitPerMinute), wsController.Serve)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(), middleware.AdminRequired(cfg.AdminUsernames))
	admin.GET("/users", userController.ListUsers)
	admin.POST("/users", userController.CreateUser)
	admin.POST("/xp-events", userController.AppendXP)
	admin.GET("/users/:id/recompute", userController.Recompute)
	admin.POST("/users/:id/repair", userController.Repair)
	admin.POST("/users/:id/badges/evaluate", userController.EvaluateBadges)
	admin.POST("/audit", userController.Audit)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, utils.CodeNotFound, "route not found")
	})

	return r
}
