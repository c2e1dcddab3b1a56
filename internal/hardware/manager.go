package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"go.uber.org/zap"
)

// Devices 硬件管理器依赖的设备集合
// 每个能力一个接口，生产环境用真实适配器，测试用模拟器注入。
type Devices struct {
	TagReader TagReader
	CupSensor ProximitySensor
	Motion    MotionLink
	Pumps     PumpBank
	Props     PropController
	Media     MediaPlayer
	Indicator StatusIndicator
}

// Manager 硬件管理器
// 对外暴露每个物理动作一个操作，内部负责泵使能与移动的配对、
// 校准换算以及出酒互斥。
type Manager struct {
	devices Devices
	mmPerOz float64
	log     *zap.Logger

	// 出酒互斥：同一时刻最多一条在途的出酒指令
	dispenseMu sync.Mutex

	stats ManagerStats
}

// ManagerStats 硬件操作统计
type ManagerStats struct {
	mu             sync.Mutex
	DispenseCount  int64
	DispenseErrors int64
	EmergencyStops int64
	LastDispenseAt time.Time
}

// NewManager 按配置创建硬件管理器
// MockMode下全部使用模拟设备，否则初始化真实硬件适配器。
func NewManager(cfg *config.Config) (*Manager, error) {
	var devices Devices

	if cfg.Hardware.MockMode {
		devices = MockDevices(len(cfg.Hardware.PumpPins))
	} else {
		var err error
		devices, err = openDevices(cfg)
		if err != nil {
			return nil, err
		}
	}

	return NewManagerWithDevices(cfg.Hardware, devices), nil
}

// NewManagerWithDevices 使用注入的设备创建硬件管理器
func NewManagerWithDevices(cfg config.HardwareConfig, devices Devices) *Manager {
	mmPerOz := cfg.MMPerOz
	if mmPerOz <= 0 {
		mmPerOz = 100.0
	}

	return &Manager{
		devices: devices,
		mmPerOz: mmPerOz,
		log:     logger.WithModule("hardware"),
	}
}

// MockDevices 构造一套完整的模拟设备
func MockDevices(pumpCount int) Devices {
	if pumpCount <= 0 {
		pumpCount = 10
	}
	motion := NewMockMotionLink()
	motion.Connect()
	return Devices{
		TagReader: NewMockTagReader(),
		CupSensor: NewMockProximitySensor(),
		Motion:    motion,
		Pumps:     NewMockPumpBank(pumpCount),
		Props:     NewMockPropController(),
		Media:     NewMockMediaPlayer(),
		Indicator: NewMockStatusIndicator(),
	}
}

// openDevices 初始化真实硬件适配器
func openDevices(cfg *config.Config) (Devices, error) {
	var devices Devices

	grbl := NewGRBL(cfg.Serial.GRBL)
	if err := grbl.Connect(); err != nil {
		return devices, err
	}

	tagReader, err := NewSerialTagReader(cfg.Serial.RFID)
	if err != nil {
		grbl.Close()
		return devices, err
	}

	cupSensor, err := NewIIOProximitySensor(cfg.Hardware.Cup)
	if err != nil {
		grbl.Close()
		tagReader.Close()
		return devices, err
	}

	pumps, err := NewGPIOPumpBank(cfg.Hardware.PumpPins)
	if err != nil {
		grbl.Close()
		tagReader.Close()
		cupSensor.Close()
		return devices, err
	}

	props, err := NewGPIOVCRController(cfg.Hardware.VCR)
	if err != nil {
		grbl.Close()
		tagReader.Close()
		cupSensor.Close()
		pumps.Close()
		return devices, err
	}

	devices = Devices{
		TagReader: tagReader,
		CupSensor: cupSensor,
		Motion:    grbl,
		Pumps:     pumps,
		Props:     props,
		Media:     NewSubprocessMediaPlayer(cfg.Media),
		Indicator: NewGPIOStatusIndicator(cfg.Hardware.LED),
	}

	return devices, nil
}

// DispenseStep 执行一个出酒步骤：通电、按校准比例移动、断电
// 使能与断电在所有退出路径上配对，保证不会有泵滞留在通电状态。
// 上下文取消时立即中止移动并返回中止错误。
func (m *Manager) DispenseStep(ctx context.Context, pump int, amountOz float64) error {
	m.dispenseMu.Lock()
	defer m.dispenseMu.Unlock()

	if pump < 0 || pump >= m.devices.Pumps.Count() {
		return errors.Newf(errors.ErrPumpOutOfRange, "泵索引 %d 超出范围 [0, %d)", pump, m.devices.Pumps.Count())
	}
	if amountOz <= 0 {
		return errors.Newf(errors.ErrAmountInvalid, "用量 %.2f 必须为正", amountOz)
	}

	distance := amountOz * m.mmPerOz

	start := time.Now()
	m.log.Info("开始出酒步骤",
		zap.Int("pump", pump),
		zap.Float64("amount_oz", amountOz),
		zap.Float64("distance_mm", distance),
	)

	if err := m.devices.Pumps.Enable(pump); err != nil {
		m.recordDispense(false)
		return err
	}
	defer func() {
		if err := m.devices.Pumps.Disable(pump); err != nil {
			m.log.Error("泵断电失败", zap.Int("pump", pump), zap.Error(err))
		}
	}()

	if err := m.devices.Motion.Move(ctx, distance); err != nil {
		m.recordDispense(false)
		return err
	}

	m.recordDispense(true)
	m.log.Info("出酒步骤完成",
		zap.Int("pump", pump),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

// ManualPump 维护操作：按指定方向手动运转某个泵
func (m *Manager) ManualPump(ctx context.Context, pump int, direction PumpDirection, amountOz float64) error {
	m.dispenseMu.Lock()
	defer m.dispenseMu.Unlock()

	if pump < 0 || pump >= m.devices.Pumps.Count() {
		return errors.Newf(errors.ErrPumpOutOfRange, "泵索引 %d 超出范围 [0, %d)", pump, m.devices.Pumps.Count())
	}
	if amountOz <= 0 {
		return errors.Newf(errors.ErrAmountInvalid, "用量 %.2f 必须为正", amountOz)
	}

	distance := amountOz * m.mmPerOz * float64(direction)

	if err := m.devices.Pumps.Enable(pump); err != nil {
		return err
	}
	defer m.devices.Pumps.Disable(pump)

	return m.devices.Motion.Move(ctx, distance)
}

// PrimeAll 依次正转所有泵灌注管路
func (m *Manager) PrimeAll(ctx context.Context, amountOz float64) error {
	for i := 0; i < m.devices.Pumps.Count(); i++ {
		if err := m.ManualPump(ctx, i, PumpForward, amountOz); err != nil {
			return errors.Wrapf(err, errors.ErrHardwareGeneral, "泵 %d 灌注失败", i)
		}
	}
	m.log.Info("所有泵灌注完成", zap.Float64("amount_oz", amountOz))
	return nil
}

// CleanAll 依次反转所有泵回抽清洗
func (m *Manager) CleanAll(ctx context.Context, amountOz float64) error {
	for i := 0; i < m.devices.Pumps.Count(); i++ {
		if err := m.ManualPump(ctx, i, PumpBackward, amountOz); err != nil {
			return errors.Wrapf(err, errors.ErrHardwareGeneral, "泵 %d 清洗失败", i)
		}
	}
	m.log.Info("所有泵清洗完成", zap.Float64("amount_oz", amountOz))
	return nil
}

// ReadTag 非阻塞轮询RFID标签
func (m *Manager) ReadTag() (string, error) {
	return m.devices.TagReader.Poll()
}

// ReadCupPresent 点时刻检查杯子是否在位
func (m *Manager) ReadCupPresent() (bool, error) {
	return m.devices.CupSensor.CupPresent()
}

// TriggerPlay 触发录像机播放按键
func (m *Manager) TriggerPlay() error {
	return m.devices.Props.TriggerPlay()
}

// TriggerEject 触发录像机弹带按键
func (m *Manager) TriggerEject() error {
	return m.devices.Props.TriggerEject()
}

// PlayVideo 播放标签对应的视频（尽力而为）
func (m *Manager) PlayVideo(tag string) {
	m.devices.Media.Play(tag)
}

// StopVideo 停止视频播放（尽力而为）
func (m *Manager) StopVideo() {
	m.devices.Media.Stop()
}

// SetStatusIndicator 设置状态指示灯（尽力而为，永不失败）
func (m *Manager) SetStatusIndicator(pattern LEDPattern) {
	m.devices.Indicator.SetPattern(pattern)
}

// EmergencyStop 紧急停止：停电机、关所有泵
// 在任何状态下都可调用，尽量完成所有关停动作。
func (m *Manager) EmergencyStop() {
	m.stats.mu.Lock()
	m.stats.EmergencyStops++
	m.stats.mu.Unlock()

	if err := m.devices.Motion.EmergencyStop(); err != nil {
		m.log.Error("电机紧急停止失败", zap.Error(err))
	}
	if err := m.devices.Pumps.DisableAll(); err != nil {
		m.log.Error("关闭所有泵失败", zap.Error(err))
	}

	m.log.Warn("已执行紧急停止")
}

// ActivePump 返回当前通电的泵索引
func (m *Manager) ActivePump() int {
	return m.devices.Pumps.Active()
}

// PumpCount 返回泵数量
func (m *Manager) PumpCount() int {
	return m.devices.Pumps.Count()
}

// Stats 返回硬件操作统计快照
func (m *Manager) Stats() (dispenses, dispenseErrors, emergencyStops int64) {
	m.stats.mu.Lock()
	defer m.stats.mu.Unlock()
	return m.stats.DispenseCount, m.stats.DispenseErrors, m.stats.EmergencyStops
}

// Devices 返回底层设备集合（维护工具和测试使用）
func (m *Manager) Devices() Devices {
	return m.devices
}

func (m *Manager) recordDispense(success bool) {
	m.stats.mu.Lock()
	defer m.stats.mu.Unlock()
	m.stats.DispenseCount++
	if !success {
		m.stats.DispenseErrors++
	}
	m.stats.LastDispenseAt = time.Now()
}

// Close 关闭所有硬件设备
func (m *Manager) Close() error {
	m.devices.Pumps.DisableAll()
	m.devices.Media.Stop()
	m.devices.Indicator.Off()

	var lastErr error
	if err := m.devices.TagReader.Close(); err != nil {
		lastErr = err
	}
	if err := m.devices.CupSensor.Close(); err != nil {
		lastErr = err
	}
	if err := m.devices.Motion.Close(); err != nil {
		lastErr = err
	}
	if err := m.devices.Pumps.Close(); err != nil {
		lastErr = err
	}
	if err := m.devices.Props.Close(); err != nil {
		lastErr = err
	}

	m.log.Info("硬件管理器已关闭")
	return lastErr
}
