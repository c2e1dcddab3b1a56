package dispenser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/hardware"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"github.com/wfunc/vhs-coffeeman/internal/metrics"
	"github.com/wfunc/vhs-coffeeman/internal/models"
	"github.com/wfunc/vhs-coffeeman/internal/recipe"
	"go.uber.org/zap"
)

// 状态通道文本令牌
const (
	TokenReady    = "READY"
	TokenComplete = "COMPLETE"
)

// Recorder 持久化接口：出酒历史与事件日志
// 记录失败不影响出酒流程，实现方自行处理错误。
type Recorder interface {
	RecordPour(record *models.PourRecord)
	RecordEvent(event *models.MachineEvent)
}

// pourResult 出酒协程的执行结果
type pourResult struct {
	err error
}

// Controller 出酒控制器
// 单一逻辑控制线程：固定周期的轮询循环检查读卡器、杯传感器和
// 在途任务进度。出酒本身在独立协程中执行，通过上下文取消实现
// 杯子移走时的即时中止。
type Controller struct {
	cfg      config.DispenserConfig
	hw       *hardware.Manager
	store    *recipe.Store
	sm       *StateMachine
	recorder Recorder
	log      *zap.Logger

	mu        sync.Mutex
	job       *Job
	jobCancel context.CancelFunc
	pourDone  chan pourResult
	waitSince time.Time // 进入等杯状态的时间
	errorAt   time.Time // 进入错误状态的时间
	lastError string

	statusMu  sync.RWMutex
	token     string
	listeners []func(token string)

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewController 创建出酒控制器
// recorder可为nil，此时不持久化历史。
func NewController(cfg config.DispenserConfig, hw *hardware.Manager, store *recipe.Store, recorder Recorder) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}

	c := &Controller{
		cfg:      cfg,
		hw:       hw,
		store:    store,
		recorder: recorder,
		log:      logger.WithModule("dispenser"),
		token:    TokenReady,
	}

	c.sm = NewStateMachine(c.log)
	c.initTransitions()
	c.sm.OnStateChange(c.onStateChange)

	return c
}

// initTransitions 注册所有状态转换规则
func (c *Controller) initTransitions() {
	// 待机 -> 配方已解析（标签解析成功，任务已创建）
	c.sm.AddTransition(Transition{
		From:  StateIdle,
		Event: EventTagResolved,
		To:    StateRecipeLoaded,
	})

	// 配方已解析 -> 出酒中（杯子已在位，跳过等杯）
	c.sm.AddTransition(Transition{
		From:   StateRecipeLoaded,
		Event:  EventCupPresent,
		To:     StatePouring,
		Action: c.beginPour,
	})

	// 配方已解析 -> 等待放杯
	c.sm.AddTransition(Transition{
		From:  StateRecipeLoaded,
		Event: EventCupAbsent,
		To:    StateWaitingForCup,
		Action: func(ctx context.Context) error {
			c.mu.Lock()
			c.waitSince = time.Now()
			c.mu.Unlock()
			return nil
		},
	})

	// 等待放杯 -> 出酒中
	c.sm.AddTransition(Transition{
		From:   StateWaitingForCup,
		Event:  EventCupPlaced,
		To:     StatePouring,
		Action: c.beginPour,
	})

	// 等待放杯 -> 待机（超时）
	c.sm.AddTransition(Transition{
		From:  StateWaitingForCup,
		Event: EventCupWaitExpire,
		To:    StateIdle,
		Action: func(ctx context.Context) error {
			c.finishJob(models.PourStatusCupTimeout, "等待放杯超时")
			return nil
		},
	})

	// 出酒中 -> 出酒完成
	c.sm.AddTransition(Transition{
		From:  StatePouring,
		Event: EventPourComplete,
		To:    StatePouringComplete,
	})

	// 出酒中 -> 错误（杯子被移走，安全中断）
	c.sm.AddTransition(Transition{
		From:  StatePouring,
		Event: EventCupRemoved,
		To:    StateError,
		Action: func(ctx context.Context) error {
			c.abortPour("杯子被移走", true)
			return nil
		},
	})

	// 硬件故障在任何带任务的状态下都进入错误
	for _, from := range []State{StateRecipeLoaded, StateWaitingForCup, StatePouring} {
		c.sm.AddTransition(Transition{
			From:  from,
			Event: EventHardwareError,
			To:    StateError,
			Action: func(ctx context.Context) error {
				c.abortPour(c.getLastError(), false)
				return nil
			},
		})
	}

	// 出酒完成 -> 待取酒（弹带、停视频只触发一次）
	c.sm.AddTransition(Transition{
		From:  StatePouringComplete,
		Event: EventEjected,
		To:    StateDrinkReady,
		Action: func(ctx context.Context) error {
			if err := c.hw.TriggerEject(); err != nil {
				c.log.Error("弹带触发失败", zap.Error(err))
			}
			c.hw.StopVideo()
			return nil
		},
	})

	// 待取酒 -> 待机（取走杯子视为确认）
	c.sm.AddTransition(Transition{
		From:  StateDrinkReady,
		Event: EventAcknowledged,
		To:    StateIdle,
		Action: func(ctx context.Context) error {
			c.clearJob()
			return nil
		},
	})

	// 错误 -> 待机（冷却后自动复位）
	c.sm.AddTransition(Transition{
		From:  StateError,
		Event: EventReset,
		To:    StateIdle,
		Action: func(ctx context.Context) error {
			c.mu.Lock()
			c.lastError = ""
			c.mu.Unlock()
			return nil
		},
	})
}

// Start 启动轮询循环
func (c *Controller) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return errors.New(errors.ErrInternalError, "控制器已在运行")
	}

	c.running = true
	c.stop = make(chan struct{})

	c.wg.Add(1)
	go c.run(ctx)

	c.emitStatus(TokenReady)
	c.hw.SetStatusIndicator(hardware.LEDReady)
	c.log.Info("出酒控制器已启动", zap.Duration("tick_interval", c.cfg.TickInterval))

	return nil
}

// Stop 停止轮询循环并复位
func (c *Controller) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.runMu.Unlock()

	// 先取消在途任务，避免等待长时间的移动
	c.mu.Lock()
	if c.jobCancel != nil {
		c.jobCancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.Reset("shutdown")
	c.log.Info("出酒控制器已停止")
}

// run 轮询主循环
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick 单次轮询：读标签、查杯子、推进任务
func (c *Controller) tick(ctx context.Context) {
	state := c.sm.GetState()

	// 标签只在待机时生效，任务进行中读到的标签直接丢弃
	tag, err := c.hw.ReadTag()
	if err != nil {
		c.log.Error("读取标签失败", zap.Error(err))
	} else if tag != "" {
		if state == StateIdle {
			c.handleTag(ctx, tag)
			state = c.sm.GetState()
		} else {
			c.log.Debug("忽略标签：当前有任务在进行",
				zap.String("tag", tag),
				zap.String("state", string(state)),
			)
		}
	}

	switch state {
	case StateRecipeLoaded:
		c.checkCupForStart(ctx, EventCupPresent, EventCupAbsent)

	case StateWaitingForCup:
		c.tickWaitingForCup(ctx)

	case StatePouring:
		c.tickPouring(ctx)

	case StatePouringComplete:
		c.sm.Trigger(ctx, EventEjected)

	case StateDrinkReady:
		// 取走杯子即完成整个流程
		present, err := c.hw.ReadCupPresent()
		if err == nil && !present {
			c.sm.Trigger(ctx, EventAcknowledged)
		}

	case StateError:
		c.mu.Lock()
		errorAt := c.errorAt
		c.mu.Unlock()
		if c.cfg.ErrorCooldown > 0 && time.Since(errorAt) >= c.cfg.ErrorCooldown {
			c.sm.Trigger(ctx, EventReset)
		}
	}
}

// handleTag 处理待机状态下读到的标签
// 解析失败只上报，不改变状态。
func (c *Controller) handleTag(ctx context.Context, tag string) {
	rcp, err := c.store.Resolve(tag)
	if err != nil {
		if errors.Is(err, errors.ErrUnknownTag) {
			metrics.UnknownTagsTotal.Inc()
			c.log.Warn("未注册的标签", zap.String("tag", tag))
			c.recordEvent(models.EventCategoryRecipe, "UNKNOWN_TAG", tag, err.Error(), nil)
		} else {
			c.log.Error("配方解析失败", zap.String("tag", tag), zap.Error(err))
			c.recordEvent(models.EventCategoryRecipe, "RECIPE_ERROR", tag, err.Error(), nil)
		}
		return
	}

	c.mu.Lock()
	c.job = NewJob(rcp)
	c.mu.Unlock()

	logger.LogPourEvent("job_created", tag, map[string]interface{}{
		"drink": rcp.Name,
		"steps": len(rcp.Steps),
	})

	c.sm.Trigger(ctx, EventTagResolved)
}

// checkCupForStart 配方加载后的放杯检查
func (c *Controller) checkCupForStart(ctx context.Context, presentEvent, absentEvent string) {
	present, err := c.hw.ReadCupPresent()
	if err != nil {
		c.setLastError(err.Error())
		c.sm.Trigger(ctx, EventHardwareError)
		return
	}
	if present {
		c.sm.Trigger(ctx, presentEvent)
	} else {
		c.sm.Trigger(ctx, absentEvent)
	}
}

// tickWaitingForCup 等杯状态：杯子放入开始出酒，超时回待机
func (c *Controller) tickWaitingForCup(ctx context.Context) {
	present, err := c.hw.ReadCupPresent()
	if err != nil {
		c.setLastError(err.Error())
		c.sm.Trigger(ctx, EventHardwareError)
		return
	}
	if present {
		c.sm.Trigger(ctx, EventCupPlaced)
		return
	}

	c.mu.Lock()
	waitSince := c.waitSince
	c.mu.Unlock()
	if c.cfg.CupWaitTimeout > 0 && time.Since(waitSince) >= c.cfg.CupWaitTimeout {
		c.log.Warn("等待放杯超时")
		c.sm.Trigger(ctx, EventCupWaitExpire)
	}
}

// tickPouring 出酒状态：先收任务结果，任务未结束时检查杯子
// 杯子移走触发的中止是全系统最关键的安全保证。
func (c *Controller) tickPouring(ctx context.Context) {
	c.mu.Lock()
	done := c.pourDone
	c.mu.Unlock()

	select {
	case result := <-done:
		if result.err == nil {
			c.finishJob(models.PourStatusCompleted, "")
			c.sm.Trigger(ctx, EventPourComplete)
			return
		}
		if errors.IsSafety(result.err) {
			c.sm.Trigger(ctx, EventCupRemoved)
			return
		}
		c.setLastError(result.err.Error())
		c.sm.Trigger(ctx, EventHardwareError)
		return
	default:
	}

	// 任务进行中，持续检查杯子
	present, err := c.hw.ReadCupPresent()
	if err != nil {
		c.setLastError(err.Error())
		c.sm.Trigger(ctx, EventHardwareError)
		return
	}
	if !present {
		c.sm.Trigger(ctx, EventCupRemoved)
	}
}

// beginPour 开始出酒：启动出酒协程，触发播放（每个任务只触发一次）
func (c *Controller) beginPour(ctx context.Context) error {
	c.mu.Lock()
	job := c.job
	if job == nil {
		c.mu.Unlock()
		return errors.New(errors.ErrInternalError, "没有待执行的任务")
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	c.jobCancel = cancel
	c.pourDone = make(chan pourResult, 1)
	done := c.pourDone
	c.mu.Unlock()

	if err := c.hw.TriggerPlay(); err != nil {
		c.log.Error("播放触发失败", zap.Error(err))
	}
	c.hw.PlayVideo(job.Tag)

	c.wg.Add(1)
	go c.pourWorker(jobCtx, job, done)

	logger.LogPourEvent("pour_started", job.Tag, map[string]interface{}{
		"job_id": job.ID,
		"drink":  job.Recipe.Name,
	})

	return nil
}

// pourWorker 出酒协程：严格按配方顺序逐步执行
// 每步开始前检查杯子，步骤内部由硬件管理器对上下文取消做即时响应。
func (c *Controller) pourWorker(ctx context.Context, job *Job, done chan<- pourResult) {
	defer c.wg.Done()

	for i, step := range job.Recipe.Steps {
		if ctx.Err() != nil {
			done <- pourResult{err: errors.New(errors.ErrSafetyAbort, "任务已中止")}
			return
		}

		present, err := c.hw.ReadCupPresent()
		if err != nil {
			done <- pourResult{err: errors.Wrap(err, errors.ErrSensorRead, "杯传感器读取失败")}
			return
		}
		if !present {
			done <- pourResult{err: errors.New(errors.ErrSafetyAbort, "杯子被移走")}
			return
		}

		job.SetStepIndex(i)
		c.emitStatus(fmt.Sprintf("POURING:%d", i))

		start := time.Now()
		if err := c.hw.DispenseStep(ctx, step.Pump, step.Amount); err != nil {
			if errors.Is(err, errors.ErrOperationAborted) || ctx.Err() != nil {
				done <- pourResult{err: errors.New(errors.ErrSafetyAbort, "出酒中被中止")}
				return
			}
			done <- pourResult{err: err}
			return
		}
		metrics.DispenseStepSeconds.Observe(time.Since(start).Seconds())
	}

	done <- pourResult{}
}

// abortPour 中止当前任务：取消出酒协程、停电机、关所有泵
// safety区分安全中断与硬件故障，分开记录和统计。
func (c *Controller) abortPour(reason string, safety bool) {
	c.mu.Lock()
	if c.jobCancel != nil {
		c.jobCancel()
		c.jobCancel = nil
	}
	job := c.job
	c.errorAt = time.Now()
	if reason != "" {
		c.lastError = reason
	}
	c.mu.Unlock()

	c.hw.EmergencyStop()
	c.hw.StopVideo()

	tag := ""
	stepIndex := -1
	if job != nil {
		tag = job.Tag
		stepIndex = job.StepIndex()
	}

	if safety {
		metrics.SafetyAbortsTotal.Inc()
		metrics.PoursTotal.WithLabelValues(string(models.PourStatusSafetyAbort)).Inc()
		logger.LogSafetyEvent(reason, tag, stepIndex)
		c.recordEvent(models.EventCategorySafety, "SAFETY_ABORT", tag, reason, models.EventDetails{
			"step_index": stepIndex,
		})
		c.recordPourResult(job, models.PourStatusSafetyAbort, reason)
	} else {
		metrics.HardwareErrorsTotal.Inc()
		metrics.PoursTotal.WithLabelValues(string(models.PourStatusHardwareError)).Inc()
		c.recordEvent(models.EventCategoryHardware, "HARDWARE_ERROR", tag, reason, models.EventDetails{
			"step_index": stepIndex,
		})
		c.recordPourResult(job, models.PourStatusHardwareError, reason)
	}

	c.mu.Lock()
	c.job = nil
	c.pourDone = nil
	c.mu.Unlock()
}

// finishJob 以指定结果结束当前任务（非错误路径）
func (c *Controller) finishJob(status models.PourStatus, errMsg string) {
	c.mu.Lock()
	job := c.job
	c.mu.Unlock()

	metrics.PoursTotal.WithLabelValues(string(status)).Inc()
	c.recordPourResult(job, status, errMsg)

	if status != models.PourStatusCompleted {
		c.mu.Lock()
		c.job = nil
		c.jobCancel = nil
		c.pourDone = nil
		c.mu.Unlock()
	}
}

// clearJob 任务正常收尾后清理
func (c *Controller) clearJob() {
	c.mu.Lock()
	c.job = nil
	c.jobCancel = nil
	c.pourDone = nil
	c.mu.Unlock()
}

// recordPourResult 写出酒历史记录
func (c *Controller) recordPourResult(job *Job, status models.PourStatus, errMsg string) {
	if c.recorder == nil || job == nil {
		return
	}

	completed := job.StepIndex() + 1
	if status != models.PourStatusCompleted && job.StepIndex() >= 0 {
		// 中止时当前步骤未完成
		completed = job.StepIndex()
	}
	if completed < 0 {
		completed = 0
	}

	now := time.Now()
	c.recorder.RecordPour(&models.PourRecord{
		JobID:          job.ID,
		Tag:            job.Tag,
		Drink:          job.Recipe.Name,
		Status:         status,
		StepsTotal:     job.StepsTotal(),
		StepsCompleted: completed,
		TotalAmountOz:  job.Recipe.TotalAmount(),
		ErrorMsg:       errMsg,
		StartedAt:      job.StartedAt,
		FinishedAt:     &now,
		DurationMs:     now.Sub(job.StartedAt).Milliseconds(),
	})
}

// recordEvent 写事件日志
func (c *Controller) recordEvent(category models.EventCategory, eventType, tag, message string, details models.EventDetails) {
	if c.recorder == nil {
		return
	}

	jobID := ""
	c.mu.Lock()
	if c.job != nil {
		jobID = c.job.ID
	}
	c.mu.Unlock()

	c.recorder.RecordEvent(&models.MachineEvent{
		Category: category,
		Type:     eventType,
		JobID:    jobID,
		Tag:      tag,
		Message:  message,
		Details:  details,
	})
}

// onStateChange 状态变更回调：指标、指示灯、状态令牌
func (c *Controller) onStateChange(from, to State, event string) {
	metrics.SetMachineState(string(to))

	jobID := ""
	c.mu.Lock()
	if c.job != nil {
		jobID = c.job.ID
	}
	c.mu.Unlock()
	logger.LogStateTransition(jobID, string(from), string(to), event)

	switch to {
	case StateIdle:
		c.hw.SetStatusIndicator(hardware.LEDReady)
		c.emitStatus(TokenReady)
	case StatePouring:
		c.hw.SetStatusIndicator(hardware.LEDPouring)
	case StatePouringComplete:
		c.hw.SetStatusIndicator(hardware.LEDComplete)
		// 每轮出酒只发一次COMPLETE，进入drink_ready时令牌不变
		c.emitStatus(TokenComplete)
	case StateDrinkReady:
		c.hw.SetStatusIndicator(hardware.LEDComplete)
	case StateError:
		c.hw.SetStatusIndicator(hardware.LEDError)
		c.emitStatus(fmt.Sprintf("ERROR:%s", c.getLastError()))
	}
}

// emitStatus 更新状态令牌并通知订阅者
func (c *Controller) emitStatus(token string) {
	c.statusMu.Lock()
	c.token = token
	listeners := make([]func(string), len(c.listeners))
	copy(listeners, c.listeners)
	c.statusMu.Unlock()

	for _, fn := range listeners {
		fn(token)
	}
}

// Subscribe 订阅状态令牌变化（WebSocket推送使用）
func (c *Controller) Subscribe(fn func(token string)) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// StatusToken 当前状态令牌
func (c *Controller) StatusToken() string {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.token
}

// JobStatus 在途任务快照
type JobStatus struct {
	ID         string    `json:"id"`
	Tag        string    `json:"tag"`
	Drink      string    `json:"drink"`
	StepIndex  int       `json:"step_index"`
	StepsTotal int       `json:"steps_total"`
	StartedAt  time.Time `json:"started_at"`
}

// Status 控制器状态快照
type Status struct {
	State     State      `json:"state"`
	Token     string     `json:"token"`
	Job       *JobStatus `json:"job,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// GetStatus 获取状态快照（API使用）
func (c *Controller) GetStatus() Status {
	status := Status{
		State:     c.sm.GetState(),
		Token:     c.StatusToken(),
		UpdatedAt: c.sm.LastUpdate(),
	}

	c.mu.Lock()
	status.LastError = c.lastError
	if c.job != nil {
		status.Job = &JobStatus{
			ID:         c.job.ID,
			Tag:        c.job.Tag,
			Drink:      c.job.Recipe.Name,
			StepIndex:  c.job.StepIndex(),
			StepsTotal: c.job.StepsTotal(),
			StartedAt:  c.job.StartedAt,
		}
	}
	c.mu.Unlock()

	return status
}

// State 当前机器状态
func (c *Controller) State() State {
	return c.sm.GetState()
}

// Reset 操作员复位：从任何状态强制回到待机
// 先关停所有泵和电机，再复位状态机。
func (c *Controller) Reset(operator string) {
	c.mu.Lock()
	if c.jobCancel != nil {
		c.jobCancel()
		c.jobCancel = nil
	}
	hadJob := c.job != nil
	c.job = nil
	c.pourDone = nil
	c.lastError = ""
	c.mu.Unlock()

	c.hw.EmergencyStop()
	c.hw.StopVideo()
	c.sm.Reset()

	c.recordEvent(models.EventCategoryOperator, "OPERATOR_RESET", "", operator, models.EventDetails{
		"had_job": hadJob,
	})
	c.log.Warn("操作员复位", zap.String("operator", operator), zap.Bool("had_job", hadJob))
}

// EmergencyStop 操作员紧急停止：立即关停所有泵和电机并进入错误状态
func (c *Controller) EmergencyStop(operator string) {
	c.mu.Lock()
	if c.jobCancel != nil {
		c.jobCancel()
		c.jobCancel = nil
	}
	hadJob := c.job != nil
	c.job = nil
	c.pourDone = nil
	c.lastError = "紧急停止"
	c.errorAt = time.Now()
	c.mu.Unlock()

	c.hw.EmergencyStop()
	c.hw.StopVideo()
	c.sm.ForceError(EventEmergencyStop)

	c.recordEvent(models.EventCategoryOperator, "EMERGENCY_STOP", "", operator, models.EventDetails{
		"had_job": hadJob,
	})
	c.log.Warn("紧急停止", zap.String("operator", operator), zap.Bool("had_job", hadJob))
}

func (c *Controller) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

func (c *Controller) getLastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}
