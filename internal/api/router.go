package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/dispenser"
	"github.com/wfunc/vhs-coffeeman/internal/middleware"
	"github.com/wfunc/vhs-coffeeman/internal/recipe"
	"github.com/wfunc/vhs-coffeeman/internal/repository"
	"github.com/wfunc/vhs-coffeeman/internal/utils"
	"github.com/wfunc/vhs-coffeeman/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 路由依赖
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Controller *dispenser.Controller
	Store      *recipe.Store
	Hub        *websocket.Hub
	Pours      *repository.PourRepository
	Events     *repository.EventRepository
	Log        *zap.Logger
}

// Router API路由器
type Router struct {
	engine *gin.Engine
	deps   Deps

	authHandler    *AuthHandler
	machineHandler *MachineHandler
	recordHandler  *RecordHandler
	authMiddleware *middleware.AuthMiddleware

	log *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps Deps) *Router {
	switch deps.Config.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(deps.Config.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	jwtManager := utils.NewJWTManager(
		deps.Config.Security.JWT.Secret,
		time.Duration(deps.Config.Security.JWT.ExpireHours)*time.Hour,
	)

	router := &Router{
		engine:         engine,
		deps:           deps,
		authHandler:    NewAuthHandler(deps.Config.Security, jwtManager, deps.Log),
		machineHandler: NewMachineHandler(deps.Controller, deps.Store, deps.Log),
		recordHandler:  NewRecordHandler(deps.Pours, deps.Events),
		authMiddleware: middleware.NewAuthMiddleware(jwtManager),
		log:            deps.Log,
	}

	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// Prometheus指标
	if r.deps.Config.Monitor.Enabled {
		path := r.deps.Config.Monitor.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 登录（不需要认证）
		v1.POST("/login", r.authHandler.Login)

		// 机器状态（展示终端轮询用，不需要认证）
		v1.GET("/status", r.machineHandler.GetStatus)
		v1.GET("/tapes", r.machineHandler.ListTapes)

		// 出酒记录与事件
		v1.GET("/pours", r.recordHandler.ListPours)
		v1.GET("/pours/:job_id", r.recordHandler.GetPour)
		v1.GET("/pours/:job_id/events", r.recordHandler.ListJobEvents)
		v1.GET("/events", r.recordHandler.ListEvents)
		v1.GET("/stats", r.recordHandler.GetStats)

		// 维护操作（需要认证）
		admin := v1.Group("")
		admin.Use(r.authMiddleware.RequireAuth())
		{
			admin.POST("/recipes/reload", r.machineHandler.ReloadRecipes)
			admin.POST("/tapes", r.machineHandler.RegisterTape)
			admin.POST("/reset", r.machineHandler.Reset)
			admin.POST("/emergency-stop", r.machineHandler.EmergencyStop)
		}
	}

	// WebSocket状态推送
	wsPath := r.deps.Config.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.engine.GET(wsPath, func(c *gin.Context) {
		websocket.ServeWS(r.deps.Hub, c.Writer, c.Request)
	})

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	if r.deps.DB != nil {
		sqlDB, err := r.deps.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(500, gin.H{
				"status":  "unhealthy",
				"message": "数据库连接失败",
			})
			return
		}
	}

	c.JSON(200, gin.H{
		"status":  "healthy",
		"state":   string(r.deps.Controller.State()),
		"message": "服务运行正常",
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
