package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/utils"
	"go.uber.org/zap"
)

// AuthHandler 认证处理器
// 装置只有一个维护账号，凭据来自配置文件。
type AuthHandler struct {
	security   config.SecurityConfig
	jwtManager *utils.JWTManager
	log        *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(security config.SecurityConfig, jwtManager *utils.JWTManager, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		security:   security,
		jwtManager: jwtManager,
		log:        log,
	}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 维护账号登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_REQUEST",
			"message": "请求参数错误",
			"details": err.Error(),
		})
		return
	}

	if req.Username != h.security.Admin.Username {
		h.log.Warn("登录失败：用户名不存在", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "INVALID_CREDENTIALS",
			"message": "用户名或密码错误",
		})
		return
	}

	ok, err := utils.VerifyPassword(req.Password, h.security.Admin.PasswordHash)
	if err != nil || !ok {
		h.log.Warn("登录失败：密码错误", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "INVALID_CREDENTIALS",
			"message": "用户名或密码错误",
		})
		return
	}

	token, err := h.jwtManager.GenerateToken(req.Username, "admin")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "生成令牌失败",
		})
		return
	}

	h.log.Info("维护账号登录成功", zap.String("username", req.Username))

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.jwtManager.TokenExpiry() / time.Second),
	})
}
