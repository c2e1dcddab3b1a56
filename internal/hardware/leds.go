package hardware

import (
	"sync"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"go.uber.org/zap"
)

// GPIOStatusIndicator GPIO状态指示灯
// 不同模式用不同的闪烁节奏表达，后台协程负责驱动。
// 所有操作尽力而为，失败只记录日志。
type GPIOStatusIndicator struct {
	lines []*GPIOLine
	log   *zap.Logger

	mu      sync.Mutex
	pattern LEDPattern
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewGPIOStatusIndicator 导出指示灯引脚并启动驱动协程
func NewGPIOStatusIndicator(cfg config.LEDConfig) *GPIOStatusIndicator {
	ind := &GPIOStatusIndicator{
		log:  logger.WithModule("hardware"),
		stop: make(chan struct{}),
	}

	for _, pin := range cfg.Pins {
		line, err := ExportGPIO(pin, "out")
		if err != nil {
			ind.log.Warn("指示灯引脚初始化失败", zap.Int("pin", pin), zap.Error(err))
			continue
		}
		line.SetValue(false)
		ind.lines = append(ind.lines, line)
	}

	ind.wg.Add(1)
	go ind.driveLoop()

	return ind
}

// SetPattern 设置指示灯模式
func (i *GPIOStatusIndicator) SetPattern(pattern LEDPattern) {
	i.mu.Lock()
	changed := i.pattern != pattern
	i.pattern = pattern
	i.mu.Unlock()

	if changed {
		i.log.Debug("指示灯模式切换", zap.String("pattern", pattern.String()))
	}
}

// Off 熄灭指示灯
func (i *GPIOStatusIndicator) Off() {
	i.SetPattern(LEDOff)
}

// driveLoop 按当前模式驱动指示灯
func (i *GPIOStatusIndicator) driveLoop() {
	defer i.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var phase int
	for {
		select {
		case <-i.stop:
			i.setAll(false)
			return
		case <-ticker.C:
			phase++
			i.mu.Lock()
			pattern := i.pattern
			i.mu.Unlock()

			switch pattern {
			case LEDOff:
				i.setAll(false)
			case LEDReady:
				i.setAll(true)
			case LEDPouring:
				// 500ms节奏闪烁
				i.setAll(phase%10 < 5)
			case LEDComplete:
				// 1s节奏慢闪
				i.setAll(phase%20 < 10)
			case LEDError:
				// 200ms节奏快闪
				i.setAll(phase%4 < 2)
			}
		}
	}
}

func (i *GPIOStatusIndicator) setAll(on bool) {
	for _, line := range i.lines {
		if err := line.SetValue(on); err != nil {
			i.log.Debug("指示灯写入失败", zap.Int("pin", line.Pin()), zap.Error(err))
		}
	}
}

// Close 停止驱动并释放引脚
func (i *GPIOStatusIndicator) Close() error {
	close(i.stop)
	i.wg.Wait()
	for _, line := range i.lines {
		line.Unexport()
	}
	return nil
}
