package hardware

import (
	"context"
	"time"
)

// TagReader RFID标签读取器接口
// Poll为非阻塞轮询，没有新标签时返回空字符串。
type TagReader interface {
	Poll() (string, error)
	Close() error
}

// ProximitySensor 杯子检测传感器接口
type ProximitySensor interface {
	// CupPresent 点时刻判断杯子是否存在
	CupPresent() (bool, error)
	Close() error
}

// MotionLink 运动控制器链路接口（GRBL协议）
// Move阻塞直到控制器确认完成、超时或上下文取消。
type MotionLink interface {
	Connect() error
	IsConnected() bool
	Move(ctx context.Context, distance float64) error
	EmergencyStop() error
	ResetPosition() error
	Close() error
}

// PumpBank 泵驱动组接口
// 协议约定任一时刻最多只有一个泵通电，由调用方保证互斥。
type PumpBank interface {
	Enable(index int) error
	Disable(index int) error
	DisableAll() error
	Count() int
	// Active 返回当前通电的泵索引，无泵通电时返回-1
	Active() int
	Close() error
}

// PropController VCR道具控制接口（播放/弹带按键）
// 两个操作都是幂等的瞬时按键动作。
type PropController interface {
	TriggerPlay() error
	TriggerEject() error
	Close() error
}

// MediaPlayer 视频播放器接口
// 所有操作尽力而为，失败只记录日志，不影响出酒流程。
type MediaPlayer interface {
	Play(tag string)
	Stop()
}

// StatusIndicator 状态指示灯接口
// 所有操作尽力而为，永不返回错误。
type StatusIndicator interface {
	SetPattern(pattern LEDPattern)
	Off()
}

// LEDPattern 指示灯模式
type LEDPattern int

const (
	LEDOff      LEDPattern = iota // 熄灭
	LEDReady                      // 常亮，待机
	LEDPouring                    // 闪烁，出酒中
	LEDComplete                   // 慢闪，出酒完成
	LEDError                      // 快闪，错误
)

func (p LEDPattern) String() string {
	switch p {
	case LEDOff:
		return "off"
	case LEDReady:
		return "ready"
	case LEDPouring:
		return "pouring"
	case LEDComplete:
		return "complete"
	case LEDError:
		return "error"
	default:
		return "unknown"
	}
}

// PumpDirection 泵运转方向（维护操作使用）
type PumpDirection int

const (
	PumpForward  PumpDirection = 1  // 正转，出液
	PumpBackward PumpDirection = -1 // 反转，回抽
)

// ButtonTiming 瞬时按键时序
type ButtonTiming struct {
	Press   time.Duration // 按下保持时间
	Release time.Duration // 释放后等待时间
}
