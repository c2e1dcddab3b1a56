package dispenser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 机器状态枚举
// 全系统只有一份权威状态，由状态机持有，转换是唯一的修改入口。
type State string

const (
	StateIdle            State = "idle"             // 待机
	StateRecipeLoaded    State = "recipe_loaded"    // 配方已解析
	StateWaitingForCup   State = "waiting_for_cup"  // 等待放杯
	StatePouring         State = "pouring"          // 出酒中
	StatePouringComplete State = "pouring_complete" // 出酒完成
	StateDrinkReady      State = "drink_ready"      // 待取酒
	StateError           State = "error"            // 错误
)

// 状态机事件
const (
	EventTagResolved   = "tag_resolved"    // 标签解析成功
	EventCupPresent    = "cup_present"     // 放杯检查通过
	EventCupAbsent     = "cup_absent"      // 放杯检查未通过
	EventCupPlaced     = "cup_placed"      // 等待中杯子放入
	EventCupWaitExpire = "cup_wait_expire" // 等杯超时
	EventPourComplete  = "pour_complete"   // 所有步骤完成
	EventCupRemoved    = "cup_removed"     // 出酒中杯子被移走
	EventHardwareError = "hardware_error"  // 硬件故障
	EventEjected       = "ejected"         // 弹带完成
	EventAcknowledged  = "acknowledged"    // 取酒确认
	EventReset         = "reset"           // 复位
	EventEmergencyStop = "emergency_stop"  // 紧急停止
)

// Transition 状态转换定义
type Transition struct {
	From   State
	Event  string
	To     State
	Action func(ctx context.Context) error
}

// StateMachine 出酒状态机
type StateMachine struct {
	mu          sync.RWMutex
	current     State
	transitions map[string][]Transition
	logger      *zap.Logger
	lastUpdate  time.Time

	// 回调函数
	onStateChange func(from, to State, event string)
}

// NewStateMachine 创建状态机，初始状态为待机
func NewStateMachine(logger *zap.Logger) *StateMachine {
	return &StateMachine{
		current:     StateIdle,
		transitions: make(map[string][]Transition),
		logger:      logger,
		lastUpdate:  time.Now(),
	}
}

// AddTransition 注册状态转换规则
func (sm *StateMachine) AddTransition(transition Transition) {
	key := sm.transitionKey(transition.From, transition.Event)
	sm.transitions[key] = append(sm.transitions[key], transition)
}

func (sm *StateMachine) transitionKey(state State, event string) string {
	return fmt.Sprintf("%s:%s", state, event)
}

// Trigger 触发事件执行状态转换
// 转换动作失败时保持原状态。
func (sm *StateMachine) Trigger(ctx context.Context, event string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := sm.transitionKey(sm.current, event)
	transitions, exists := sm.transitions[key]
	if !exists || len(transitions) == 0 {
		return fmt.Errorf("无效的状态转换: 状态=%s, 事件=%s", sm.current, event)
	}

	transition := transitions[0]
	oldState := sm.current

	if transition.Action != nil {
		if err := transition.Action(ctx); err != nil {
			return fmt.Errorf("状态转换失败: %w", err)
		}
	}

	sm.current = transition.To
	sm.lastUpdate = time.Now()

	if sm.onStateChange != nil {
		sm.onStateChange(oldState, sm.current, event)
	}

	sm.logger.Info("状态转换",
		zap.String("from", string(oldState)),
		zap.String("to", string(sm.current)),
		zap.String("event", event),
	)

	return nil
}

// GetState 获取当前状态
func (sm *StateMachine) GetState() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// LastUpdate 最近一次转换时间
func (sm *StateMachine) LastUpdate() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastUpdate
}

// OnStateChange 设置状态变更回调
func (sm *StateMachine) OnStateChange(fn func(from, to State, event string)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStateChange = fn
}

// CanTransition 检查当前状态是否可以触发指定事件
func (sm *StateMachine) CanTransition(event string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	key := sm.transitionKey(sm.current, event)
	transitions, exists := sm.transitions[key]
	return exists && len(transitions) > 0
}

// GetValidEvents 获取当前状态下所有可触发的事件
func (sm *StateMachine) GetValidEvents() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var events []string
	prefix := string(sm.current) + ":"
	for key := range sm.transitions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			events = append(events, key[len(prefix):])
		}
	}
	return events
}

// ForceError 强制进入错误状态（紧急停止，不执行转换动作）
func (sm *StateMachine) ForceError(event string) {
	sm.mu.Lock()
	oldState := sm.current
	sm.current = StateError
	sm.lastUpdate = time.Now()
	callback := sm.onStateChange
	sm.mu.Unlock()

	if callback != nil && oldState != StateError {
		callback(oldState, StateError, event)
	}

	sm.logger.Warn("状态机已强制进入错误状态",
		zap.String("from", string(oldState)),
		zap.String("event", event),
	)
}

// Reset 强制回到待机状态（紧急复位，不执行转换动作）
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	oldState := sm.current
	sm.current = StateIdle
	sm.lastUpdate = time.Now()
	callback := sm.onStateChange
	sm.mu.Unlock()

	if callback != nil && oldState != StateIdle {
		callback(oldState, StateIdle, EventReset)
	}

	sm.logger.Warn("状态机已复位",
		zap.String("from", string(oldState)),
	)
}
