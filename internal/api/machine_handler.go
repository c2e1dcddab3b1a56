package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/vhs-coffeeman/internal/dispenser"
	"github.com/wfunc/vhs-coffeeman/internal/middleware"
	"github.com/wfunc/vhs-coffeeman/internal/recipe"
	"go.uber.org/zap"
)

// MachineHandler 机器状态与维护操作处理器
type MachineHandler struct {
	ctrl  *dispenser.Controller
	store *recipe.Store
	log   *zap.Logger
}

// NewMachineHandler 创建机器处理器
func NewMachineHandler(ctrl *dispenser.Controller, store *recipe.Store, log *zap.Logger) *MachineHandler {
	return &MachineHandler{
		ctrl:  ctrl,
		store: store,
		log:   log,
	}
}

// GetStatus 获取机器当前状态
func (h *MachineHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.GetStatus())
}

// TapeInfo 磁带条目
type TapeInfo struct {
	Tag   string `json:"tag"`
	Drink string `json:"drink"`
}

// ListTapes 列出所有已注册磁带
func (h *MachineHandler) ListTapes(c *gin.Context) {
	tags := h.store.Tags()
	tapes := make([]TapeInfo, 0, len(tags))
	for _, tag := range tags {
		drink, _ := h.store.DrinkFor(tag)
		tapes = append(tapes, TapeInfo{Tag: tag, Drink: drink})
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  tapes,
		"total": len(tapes),
	})
}

// ReloadRecipes 重新加载配方文件
func (h *MachineHandler) ReloadRecipes(c *gin.Context) {
	if err := h.store.Reload(); err != nil {
		h.log.Error("配方重新加载失败", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "RELOAD_FAILED",
			"message": "配方文件校验失败，沿用旧配方",
			"details": err.Error(),
		})
		return
	}

	username, _ := middleware.GetUsername(c)
	h.log.Info("配方已重新加载",
		zap.String("operator", username),
		zap.Int("tapes", len(h.store.Tags())),
	)

	c.JSON(http.StatusOK, gin.H{
		"message": "配方已重新加载",
		"tapes":   len(h.store.Tags()),
	})
}

// RegisterTapeRequest 磁带注册请求
type RegisterTapeRequest struct {
	Tag       string `json:"tag" binding:"required"`
	Drink     string `json:"drink" binding:"required"`
	Overwrite bool   `json:"overwrite"`
}

// RegisterTape 注册磁带（标签绑定饮品）
func (h *MachineHandler) RegisterTape(c *gin.Context) {
	var req RegisterTapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_REQUEST",
			"message": "请求参数错误",
			"details": err.Error(),
		})
		return
	}

	if err := h.store.Register(req.Tag, req.Drink, req.Overwrite); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "REGISTER_FAILED",
			"message": "磁带注册失败",
			"details": err.Error(),
		})
		return
	}

	username, _ := middleware.GetUsername(c)
	h.log.Info("磁带已注册",
		zap.String("operator", username),
		zap.String("tag", req.Tag),
		zap.String("drink", req.Drink),
	)

	c.JSON(http.StatusOK, gin.H{
		"message": "磁带已注册",
		"tag":     req.Tag,
		"drink":   req.Drink,
	})
}

// EmergencyStop 紧急停止
func (h *MachineHandler) EmergencyStop(c *gin.Context) {
	username, _ := middleware.GetUsername(c)
	if username == "" {
		username = "unknown"
	}

	h.ctrl.EmergencyStop(username)

	c.JSON(http.StatusOK, gin.H{
		"message": "已紧急停止",
		"state":   string(h.ctrl.State()),
	})
}

// Reset 操作员强制复位
func (h *MachineHandler) Reset(c *gin.Context) {
	username, _ := middleware.GetUsername(c)
	if username == "" {
		username = "unknown"
	}

	h.ctrl.Reset(username)

	c.JSON(http.StatusOK, gin.H{
		"message": "机器已复位",
		"state":   string(h.ctrl.State()),
	})
}
