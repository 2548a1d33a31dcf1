package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/learnquest/middleware"
	"github.com/cppla/learnquest/models"
	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

// UserController holds the operator endpoints: provisioning learners, manual grants and repairs.
// Learner identity itself is owned by the external auth service.
type UserController struct {
	db     *gorm.DB
	engine *services.Engine
}

func NewUserController(db *gorm.DB, engine *services.Engine) *UserController {
	return &UserController{db: db, engine: engine}
}

type createUserRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"display_name"`
}

// CreateUser provisions a learner (idempotent on username) and returns a token for it.
func (u *UserController) CreateUser(ctx *gin.Context) {
	var req createUserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, utils.CodeBadRequest+30, "invalid request payload")
		return
	}
	user, created, err := u.engine.EnsureUser(ctx.Request.Context(),
		strings.TrimSpace(req.Username), utils.CleanText(req.DisplayName, 128))
	if err != nil {
		respondError(ctx, err)
		return
	}
	token, err := utils.GenerateToken(user.ID, user.Username, 0)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, utils.CodeInternal+1, "failed to issue token")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.Respond(ctx, status, utils.CodeOK, "success", gin.H{
		"user":    publicUser(user),
		"created": created,
		"token":   token,
	})
}

// ListUsers returns paginated users.
func (u *UserController) ListUsers(ctx *gin.Context) {
	page := queryInt(ctx, "page", 1)
	pageSize := queryInt(ctx, "page_size", 10)
	if pageSize > 100 {
		pageSize = 100
	}

	var total int64
	if err := u.db.WithContext(ctx.Request.Context()).Model(&models.User{}).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, utils.CodeInternal, "failed to count users")
		return
	}
	var users []models.User
	if err := u.db.WithContext(ctx.Request.Context()).
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, utils.CodeInternal+2, "failed to retrieve users")
		return
	}

	items := make([]gin.H, 0, len(users))
	for _, user := range users {
		items = append(items, publicUser(user))
	}
	utils.Success(ctx, gin.H{
		"items": items,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	})
}

// AppendXP appends an XP event on behalf of an operator. Manual grants default granted_by to
// the calling admin.
func (u *UserController) AppendXP(ctx *gin.Context) {
	var in services.AppendInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		utils.Error(ctx, http.StatusBadRequest, utils.CodeBadRequest+31, "invalid request payload")
		return
	}
	if in.Reason == models.ReasonManualGrant {
		if in.Metadata == nil {
			in.Metadata = map[string]interface{}{}
		}
		if _, ok := in.Metadata["granted_by"]; !ok {
			in.Metadata["granted_by"] = ctx.GetString(middleware.ContextUsernameKey)
		}
	}
	res, err := u.engine.AppendXPEvent(ctx.Request.Context(), in)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// Repair verifies the user's stored progress against the event log and repairs drift.
func (u *UserController) Repair(ctx *gin.Context) {
	userID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	res, err := u.engine.VerifyAndRepair(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	body := gin.H{"progress": res.Progress, "repaired": res.Repaired, "awarded": res.Awarded}
	if res.Drift != nil {
		body["stored_xp"] = res.Drift.StoredXP
		body["recomputed_xp"] = res.Drift.RecomputedXP
	}
	utils.Success(ctx, body)
}

// Recompute replays the event log without writing.
func (u *UserController) Recompute(ctx *gin.Context) {
	userID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	p, err := u.engine.RecomputeXP(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, p)
}

func (u *UserController) EvaluateBadges(ctx *gin.Context) {
	userID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	awarded, err := u.engine.EvaluateBadges(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"awarded": awarded})
}

// Audit runs a consistency audit over every user.
func (u *UserController) Audit(ctx *gin.Context) {
	report, err := u.engine.AuditAll(ctx.Request.Context(), queryInt(ctx, "concurrency", 4))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, report)
}

func publicUser(user models.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"avatar_url":   user.AvatarURL,
		"created_at":   user.CreatedAt,
	}
}
