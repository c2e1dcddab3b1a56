package hardware

import (
	"sync"

	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"go.uber.org/zap"
)

// GPIOPumpBank 基于GPIO使能线的泵驱动组
// 每个泵一条使能线，低电平关闭。协议约定同一时刻最多一个泵通电，
// Enable在已有泵通电时直接拒绝。
type GPIOPumpBank struct {
	mu     sync.Mutex
	lines  []*GPIOLine
	active int // 当前通电泵索引，-1表示无
	log    *zap.Logger
}

// NewGPIOPumpBank 按BCM引脚列表导出所有泵使能线
func NewGPIOPumpBank(pins []int) (*GPIOPumpBank, error) {
	if len(pins) == 0 {
		return nil, errors.New(errors.ErrInvalidParam, "泵引脚列表为空")
	}

	bank := &GPIOPumpBank{
		active: -1,
		log:    logger.WithModule("hardware"),
	}

	for _, pin := range pins {
		line, err := ExportGPIO(pin, "out")
		if err != nil {
			// 初始化失败时释放已导出的引脚
			bank.Close()
			return nil, err
		}
		if err := line.SetValue(false); err != nil {
			bank.Close()
			return nil, err
		}
		bank.lines = append(bank.lines, line)
	}

	bank.log.Info("泵驱动组初始化完成", zap.Int("count", len(pins)), zap.Ints("pins", pins))

	return bank, nil
}

// Enable 给指定泵通电
func (b *GPIOPumpBank) Enable(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= len(b.lines) {
		return errors.Newf(errors.ErrPumpOutOfRange, "泵索引 %d 超出范围 [0, %d)", index, len(b.lines))
	}
	if b.active >= 0 && b.active != index {
		return errors.Newf(errors.ErrDeviceBusy, "泵 %d 正在通电，拒绝启用泵 %d", b.active, index)
	}

	if err := b.lines[index].SetValue(true); err != nil {
		return err
	}
	b.active = index

	b.log.Debug("泵已通电", zap.Int("pump", index))
	return nil
}

// Disable 给指定泵断电
func (b *GPIOPumpBank) Disable(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= len(b.lines) {
		return errors.Newf(errors.ErrPumpOutOfRange, "泵索引 %d 超出范围 [0, %d)", index, len(b.lines))
	}

	if err := b.lines[index].SetValue(false); err != nil {
		return err
	}
	if b.active == index {
		b.active = -1
	}

	b.log.Debug("泵已断电", zap.Int("pump", index))
	return nil
}

// DisableAll 强制关闭所有泵
// 即使某条线写入失败也继续关闭其余的线，返回最后一个错误。
func (b *GPIOPumpBank) DisableAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastErr error
	for i, line := range b.lines {
		if err := line.SetValue(false); err != nil {
			b.log.Error("关闭泵失败", zap.Int("pump", i), zap.Error(err))
			lastErr = err
		}
	}
	b.active = -1

	return lastErr
}

// Count 返回泵数量
func (b *GPIOPumpBank) Count() int {
	return len(b.lines)
}

// Active 返回当前通电的泵索引
func (b *GPIOPumpBank) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Close 关闭所有泵并释放GPIO
func (b *GPIOPumpBank) Close() error {
	b.DisableAll()
	for _, line := range b.lines {
		line.Unexport()
	}
	return nil
}
