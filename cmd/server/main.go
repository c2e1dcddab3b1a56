package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/wfunc/vhs-coffeeman/internal/api"
	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/database"
	"github.com/wfunc/vhs-coffeeman/internal/dispenser"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/hardware"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"github.com/wfunc/vhs-coffeeman/internal/models"
	"github.com/wfunc/vhs-coffeeman/internal/recipe"
	"github.com/wfunc/vhs-coffeeman/internal/repository"
	"github.com/wfunc/vhs-coffeeman/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	hw      *hardware.Manager
	store   *recipe.Store
	ctrl    *dispenser.Controller
	hub     *websocket.Hub
	httpSrv *http.Server

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	printStartInfo(cfg)

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// broadcastRecorder 历史记录入库的同时向WebSocket监控端推送事件
type broadcastRecorder struct {
	inner dispenser.Recorder
	hub   *websocket.Hub
}

func (r *broadcastRecorder) RecordPour(record *models.PourRecord) {
	r.inner.RecordPour(record)
}

func (r *broadcastRecorder) RecordEvent(event *models.MachineEvent) {
	r.inner.RecordEvent(event)
	r.hub.BroadcastEvent(event)
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动出酒机控制服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
		zap.Bool("mock_hardware", s.cfg.Hardware.MockMode),
	)

	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)),
		zap.String("grbl_port", s.cfg.Serial.GRBL.Port),
		zap.String("rfid_port", s.cfg.Serial.RFID.Port),
	)

	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	// 数据库
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnection, "初始化数据库连接失败")
	}
	if err := database.AutoMigrate(database.GetDB()); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnection, "数据库迁移失败")
	}

	// 配方库
	store, err := recipe.NewStore(recipe.Options{
		Dir:             s.cfg.Recipes.Dir,
		TapesFile:       s.cfg.Recipes.TapesFile,
		IngredientsFile: s.cfg.Recipes.IngredientsFile,
		RecipesFile:     s.cfg.Recipes.RecipesFile,
		PumpCount:       len(s.cfg.Hardware.PumpPins),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrRecipeLoad, "加载配方失败")
	}
	s.store = store
	s.logger.Info("配方加载完成",
		zap.Int("tapes", len(store.Tags())),
		zap.Int("drinks", len(store.Drinks())),
	)

	// 硬件
	hw, err := hardware.NewManager(s.cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrSerialOpen, "初始化硬件失败")
	}
	s.hw = hw

	// WebSocket Hub
	s.hub = websocket.NewHub(s.logger)

	// 出酒控制器：历史记录入库，事件同时推给监控端
	recorder := &broadcastRecorder{
		inner: repository.NewRecorder(database.GetDB()),
		hub:   s.hub,
	}
	s.ctrl = dispenser.NewController(s.cfg.Dispenser, hw, store, recorder)

	s.hub.SetStatusProvider(func() interface{} {
		return s.ctrl.GetStatus()
	})
	s.ctrl.Subscribe(s.hub.BroadcastStatusToken)

	s.logger.Info("所有组件初始化完成")
	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	// WebSocket Hub
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	// 出酒控制循环
	if err := s.ctrl.Start(s.ctx); err != nil {
		return err
	}

	// HTTP服务器
	router := api.NewRouter(api.Deps{
		Config:     s.cfg,
		DB:         database.GetDB(),
		Controller: s.ctrl,
		Store:      s.store,
		Hub:        s.hub,
		Pours:      repository.NewPourRepository(database.GetDB()),
		Events:     repository.NewEventRepository(database.GetDB()),
		Log:        s.logger,
	})

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务器异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("所有服务启动完成")
	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))

	close(s.shutdownCh)
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止HTTP服务器
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP服务器关闭超时", zap.Error(err))
		}
	}

	// 停止出酒控制循环（会关停所有泵和电机）
	if s.ctrl != nil {
		s.ctrl.Stop()
	}

	// 停止WebSocket Hub
	if s.hub != nil {
		s.hub.Stop()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	return s.closeComponents()
}

// closeComponents 关闭组件
func (s *Server) closeComponents() error {
	s.logger.Info("关闭组件...")

	// 关闭硬件（串口、GPIO、视频进程）
	if s.hw != nil {
		if err := s.hw.Close(); err != nil {
			s.logger.Error("关闭硬件失败", zap.Error(err))
		}
	}

	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	s.logger.Info("所有组件已关闭")
	return nil
}

// reloadConfig 重新加载配置
// 串口和GPIO在运行中不能换设备，这里只应用日志级别等软配置。
func (s *Server) reloadConfig(newCfg *config.Config) {
	s.cfg = newCfg
	s.logger.Info("配置重新加载完成")
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("出酒机控制服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("出酒机控制服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  coffeeman-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  VHS_COFFEEMAN_HARDWARE_MOCK_MODE   使用模拟硬件 (true/false)")
	fmt.Println("  VHS_COFFEEMAN_SERVER_PORT          HTTP端口")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  coffeeman-server -config=/path/to/config.yaml")
	fmt.Println("  coffeeman-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	banner := `
╔═══════════════════════════════════════════════════════════════╗
║                                                               ║
║    _   _ _   _ ____     ____       __  __                     ║
║   | | | | | | / ___|   / ___|___  / _|/ _| ___  ___           ║
║   | | | | |_| \___ \  | |   / _ \| |_| |_ / _ \/ _ \          ║
║   | |_| |  _  |___) | | |__| (_) |  _|  _|  __/  __/          ║
║    \___/|_| |_|____/   \____\___/|_| |_|  \___|\___|          ║
║                                                               ║
║                   录像带出酒机控制服务器                      ║
║                                                               ║
╚═══════════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
