package hardware

import (
	"os"
	"strconv"
	"strings"

	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"go.uber.org/zap"
)

// IIOProximitySensor 基于Linux IIO子系统的接近传感器
// 读取sysfs原始值，高于阈值判定杯子在位（VCNL4010等）。
type IIOProximitySensor struct {
	devicePath string
	threshold  int
	log        *zap.Logger
}

// NewIIOProximitySensor 创建接近传感器
func NewIIOProximitySensor(cfg config.CupConfig) (*IIOProximitySensor, error) {
	if _, err := os.Stat(cfg.DevicePath); err != nil {
		return nil, errors.Wrapf(err, errors.ErrSensorRead, "接近传感器 %s 不可用", cfg.DevicePath)
	}

	return &IIOProximitySensor{
		devicePath: cfg.DevicePath,
		threshold:  cfg.Threshold,
		log:        logger.WithModule("hardware"),
	}, nil
}

// CupPresent 读取原始接近值并与阈值比较
func (s *IIOProximitySensor) CupPresent() (bool, error) {
	data, err := os.ReadFile(s.devicePath)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrSensorRead, "读取接近传感器失败")
	}

	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrSensorRead, "接近传感器原始值无效: %q", string(data))
	}

	return raw > s.threshold, nil
}

// Close 释放资源（sysfs读取无需清理）
func (s *IIOProximitySensor) Close() error {
	return nil
}
