package hardware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/errors"
)

// 模拟硬件实现，用于无硬件环境的开发和测试。
// 所有模拟器都是并发安全的，并记录调用历史供断言。

// MockTagReader 模拟RFID读卡器
type MockTagReader struct {
	mu    sync.Mutex
	queue []string
}

// NewMockTagReader 创建模拟读卡器
func NewMockTagReader() *MockTagReader {
	return &MockTagReader{}
}

// InjectTag 注入一个待读取的标签
func (m *MockTagReader) InjectTag(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, tag)
}

// Poll 弹出队列中最早注入的标签
func (m *MockTagReader) Poll() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return "", nil
	}
	tag := m.queue[0]
	m.queue = m.queue[1:]
	return tag, nil
}

// Close 实现TagReader接口
func (m *MockTagReader) Close() error {
	return nil
}

// MockProximitySensor 模拟杯子传感器
type MockProximitySensor struct {
	mu      sync.Mutex
	present bool
	err     error
}

// NewMockProximitySensor 创建模拟传感器
func NewMockProximitySensor() *MockProximitySensor {
	return &MockProximitySensor{}
}

// SetCupPresent 设置杯子在位状态
func (m *MockProximitySensor) SetCupPresent(present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present = present
}

// SetError 注入读取错误
func (m *MockProximitySensor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// CupPresent 返回预设状态
func (m *MockProximitySensor) CupPresent() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.present, nil
}

// Close 实现ProximitySensor接口
func (m *MockProximitySensor) Close() error {
	return nil
}

// MockMove 一次模拟移动记录
type MockMove struct {
	Distance float64
	Aborted  bool
}

// MockMotionLink 模拟运动控制器
type MockMotionLink struct {
	mu        sync.Mutex
	connected bool
	moves     []MockMove
	moveDelay time.Duration
	moveErr   error
	stops     int
	resets    int
}

// NewMockMotionLink 创建模拟运动控制器
func NewMockMotionLink() *MockMotionLink {
	return &MockMotionLink{}
}

// SetMoveDelay 设置每次移动的模拟耗时
func (m *MockMotionLink) SetMoveDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveDelay = d
}

// SetMoveError 注入移动失败
func (m *MockMotionLink) SetMoveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveErr = err
}

// Connect 实现MotionLink接口
func (m *MockMotionLink) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// IsConnected 实现MotionLink接口
func (m *MockMotionLink) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Move 模拟移动，支持上下文取消
func (m *MockMotionLink) Move(ctx context.Context, distance float64) error {
	m.mu.Lock()
	delay := m.moveDelay
	err := m.moveErr
	m.mu.Unlock()

	if err != nil {
		return err
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.moves = append(m.moves, MockMove{Distance: distance, Aborted: true})
			m.mu.Unlock()
			return errors.Wrap(ctx.Err(), errors.ErrOperationAborted, "移动被中止")
		case <-time.After(delay):
		}
	} else if ctx.Err() != nil {
		m.mu.Lock()
		m.moves = append(m.moves, MockMove{Distance: distance, Aborted: true})
		m.mu.Unlock()
		return errors.Wrap(ctx.Err(), errors.ErrOperationAborted, "移动被中止")
	}

	m.mu.Lock()
	m.moves = append(m.moves, MockMove{Distance: distance})
	m.mu.Unlock()
	return nil
}

// EmergencyStop 记录紧急停止次数
func (m *MockMotionLink) EmergencyStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

// ResetPosition 记录归零次数
func (m *MockMotionLink) ResetPosition() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	return nil
}

// Close 实现MotionLink接口
func (m *MockMotionLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// Moves 返回所有移动记录
func (m *MockMotionLink) Moves() []MockMove {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMove, len(m.moves))
	copy(out, m.moves)
	return out
}

// EmergencyStops 返回紧急停止次数
func (m *MockMotionLink) EmergencyStops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// MockPumpBank 模拟泵驱动组
// 与真实实现一样强制同一时刻只有一个泵通电。
type MockPumpBank struct {
	mu     sync.Mutex
	count  int
	active int
	events []string // "enable:N" / "disable:N" / "disable_all"
}

// NewMockPumpBank 创建模拟泵驱动组
func NewMockPumpBank(count int) *MockPumpBank {
	return &MockPumpBank{count: count, active: -1}
}

// Enable 实现PumpBank接口
func (m *MockPumpBank) Enable(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= m.count {
		return errors.Newf(errors.ErrPumpOutOfRange, "泵索引 %d 超出范围 [0, %d)", index, m.count)
	}
	if m.active >= 0 && m.active != index {
		return errors.Newf(errors.ErrDeviceBusy, "泵 %d 正在通电", m.active)
	}
	m.active = index
	m.events = append(m.events, "enable:"+strconv.Itoa(index))
	return nil
}

// Disable 实现PumpBank接口
func (m *MockPumpBank) Disable(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= m.count {
		return errors.Newf(errors.ErrPumpOutOfRange, "泵索引 %d 超出范围 [0, %d)", index, m.count)
	}
	if m.active == index {
		m.active = -1
	}
	m.events = append(m.events, "disable:"+strconv.Itoa(index))
	return nil
}

// DisableAll 实现PumpBank接口
func (m *MockPumpBank) DisableAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = -1
	m.events = append(m.events, "disable_all")
	return nil
}

// Count 实现PumpBank接口
func (m *MockPumpBank) Count() int {
	return m.count
}

// Active 实现PumpBank接口
func (m *MockPumpBank) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close 实现PumpBank接口
func (m *MockPumpBank) Close() error {
	return m.DisableAll()
}

// Events 返回泵操作历史
func (m *MockPumpBank) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

// MockPropController 模拟录像机控制
type MockPropController struct {
	mu     sync.Mutex
	plays  int
	ejects int
}

// NewMockPropController 创建模拟录像机控制
func NewMockPropController() *MockPropController {
	return &MockPropController{}
}

// TriggerPlay 记录播放触发
func (m *MockPropController) TriggerPlay() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays++
	return nil
}

// TriggerEject 记录弹带触发
func (m *MockPropController) TriggerEject() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ejects++
	return nil
}

// Close 实现PropController接口
func (m *MockPropController) Close() error {
	return nil
}

// Plays 返回播放触发次数
func (m *MockPropController) Plays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plays
}

// Ejects 返回弹带触发次数
func (m *MockPropController) Ejects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ejects
}

// MockMediaPlayer 模拟视频播放器
type MockMediaPlayer struct {
	mu     sync.Mutex
	played []string
	stops  int
}

// NewMockMediaPlayer 创建模拟视频播放器
func NewMockMediaPlayer() *MockMediaPlayer {
	return &MockMediaPlayer{}
}

// Play 记录播放的标签
func (m *MockMediaPlayer) Play(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, tag)
}

// Stop 记录停止次数
func (m *MockMediaPlayer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

// Played 返回已播放的标签列表
func (m *MockMediaPlayer) Played() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.played))
	copy(out, m.played)
	return out
}

// MockStatusIndicator 模拟状态指示灯
type MockStatusIndicator struct {
	mu      sync.Mutex
	current LEDPattern
	history []LEDPattern
}

// NewMockStatusIndicator 创建模拟指示灯
func NewMockStatusIndicator() *MockStatusIndicator {
	return &MockStatusIndicator{}
}

// SetPattern 记录模式变化
func (m *MockStatusIndicator) SetPattern(pattern LEDPattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = pattern
	m.history = append(m.history, pattern)
}

// Off 熄灭
func (m *MockStatusIndicator) Off() {
	m.SetPattern(LEDOff)
}

// Current 返回当前模式
func (m *MockStatusIndicator) Current() LEDPattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
