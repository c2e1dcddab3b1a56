package hardware

import (
	"sync"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"go.uber.org/zap"
)

// GPIOVCRController 录像机道具按键控制
// 播放和弹带各由一个继电器引脚驱动，按下保持一段时间后释放。
type GPIOVCRController struct {
	playLine  *GPIOLine
	ejectLine *GPIOLine
	timing    ButtonTiming
	mu        sync.Mutex // 同一时刻只按一个键
	log       *zap.Logger
}

// NewGPIOVCRController 导出播放和弹带按键引脚
func NewGPIOVCRController(cfg config.VCRConfig) (*GPIOVCRController, error) {
	playLine, err := ExportGPIO(cfg.PlayPin, "out")
	if err != nil {
		return nil, err
	}
	ejectLine, err := ExportGPIO(cfg.EjectPin, "out")
	if err != nil {
		playLine.Unexport()
		return nil, err
	}

	playLine.SetValue(false)
	ejectLine.SetValue(false)

	return &GPIOVCRController{
		playLine:  playLine,
		ejectLine: ejectLine,
		timing: ButtonTiming{
			Press:   cfg.PressTime,
			Release: cfg.ReleaseTime,
		},
		log: logger.WithModule("hardware"),
	}, nil
}

// TriggerPlay 按下播放键
func (c *GPIOVCRController) TriggerPlay() error {
	c.log.Info("触发录像机播放")
	return c.pressButton(c.playLine)
}

// TriggerEject 按下弹带键
func (c *GPIOVCRController) TriggerEject() error {
	c.log.Info("触发录像机弹带")
	return c.pressButton(c.ejectLine)
}

// pressButton 瞬时按键：拉高、保持、拉低、等待
// 出错时保证引脚回到低电平。
func (c *GPIOVCRController) pressButton(line *GPIOLine) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := line.SetValue(true); err != nil {
		line.SetValue(false)
		return err
	}
	time.Sleep(c.timing.Press)

	if err := line.SetValue(false); err != nil {
		return err
	}
	time.Sleep(c.timing.Release)

	return nil
}

// Close 释放按键引脚
func (c *GPIOVCRController) Close() error {
	c.playLine.SetValue(false)
	c.ejectLine.SetValue(false)
	c.playLine.Unexport()
	c.ejectLine.Unexport()
	return nil
}
