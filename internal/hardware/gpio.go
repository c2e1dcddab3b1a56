package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/errors"
)

const gpioRoot = "/sys/class/gpio"

// GPIOLine sysfs GPIO引脚封装
// 通过/sys/class/gpio导出并控制单个BCM引脚。
type GPIOLine struct {
	pin  int
	path string
}

// ExportGPIO 导出引脚并设置方向
// direction为"out"或"in"，重复导出不视为错误。
func ExportGPIO(pin int, direction string) (*GPIOLine, error) {
	path := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		exportPath := filepath.Join(gpioRoot, "export")
		if err := os.WriteFile(exportPath, []byte(strconv.Itoa(pin)), 0644); err != nil {
			return nil, errors.Wrapf(err, errors.ErrGpioAccess, "导出GPIO %d 失败", pin)
		}
		// 内核创建sysfs节点需要一点时间
		time.Sleep(100 * time.Millisecond)
	}

	line := &GPIOLine{pin: pin, path: path}

	if err := line.SetDirection(direction); err != nil {
		return nil, err
	}

	return line, nil
}

// SetDirection 设置引脚方向
func (g *GPIOLine) SetDirection(direction string) error {
	if direction != "in" && direction != "out" {
		return errors.Newf(errors.ErrInvalidParam, "无效的GPIO方向 %q", direction)
	}
	path := filepath.Join(g.path, "direction")
	if err := os.WriteFile(path, []byte(direction), 0644); err != nil {
		return errors.Wrapf(err, errors.ErrGpioAccess, "设置GPIO %d 方向失败", g.pin)
	}
	return nil
}

// SetValue 设置输出电平
func (g *GPIOLine) SetValue(high bool) error {
	value := "0"
	if high {
		value = "1"
	}
	path := filepath.Join(g.path, "value")
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return errors.Wrapf(err, errors.ErrGpioAccess, "写入GPIO %d 失败", g.pin)
	}
	return nil
}

// Value 读取当前电平
func (g *GPIOLine) Value() (bool, error) {
	path := filepath.Join(g.path, "value")
	data, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrGpioAccess, "读取GPIO %d 失败", g.pin)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// Pin 返回BCM引脚号
func (g *GPIOLine) Pin() int {
	return g.pin
}

// Unexport 释放引脚
func (g *GPIOLine) Unexport() error {
	unexportPath := filepath.Join(gpioRoot, "unexport")
	if err := os.WriteFile(unexportPath, []byte(strconv.Itoa(g.pin)), 0644); err != nil {
		return errors.Wrapf(err, errors.ErrGpioAccess, "释放GPIO %d 失败", g.pin)
	}
	return nil
}
