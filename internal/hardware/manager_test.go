package hardware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
)

func newMockManager(pumpCount int) (*Manager, Devices) {
	devices := MockDevices(pumpCount)
	m := NewManagerWithDevices(config.HardwareConfig{MMPerOz: 100.0}, devices)
	return m, devices
}

// TestDispenseStep 出酒步骤按校准比例移动且使能/断电配对
func TestDispenseStep(t *testing.T) {
	m, devices := newMockManager(10)

	err := m.DispenseStep(context.Background(), 3, 1.5)
	require.NoError(t, err)

	// 1.5盎司 * 100mm/oz = 150mm
	motion := devices.Motion.(*MockMotionLink)
	moves := motion.Moves()
	require.Len(t, moves, 1)
	assert.Equal(t, 150.0, moves[0].Distance)

	pumps := devices.Pumps.(*MockPumpBank)
	assert.Equal(t, []string{"enable:3", "disable:3"}, pumps.Events())
	assert.Equal(t, -1, pumps.Active())
}

// TestDispenseStepPumpDisabledOnFailure 移动失败时泵仍然断电
func TestDispenseStepPumpDisabledOnFailure(t *testing.T) {
	m, devices := newMockManager(10)

	motion := devices.Motion.(*MockMotionLink)
	motion.SetMoveError(errors.New(errors.ErrGrblFault, "模拟故障"))

	err := m.DispenseStep(context.Background(), 2, 1.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGrblFault))

	pumps := devices.Pumps.(*MockPumpBank)
	assert.Equal(t, []string{"enable:2", "disable:2"}, pumps.Events())
	assert.Equal(t, -1, pumps.Active())
}

// TestDispenseStepCancel 上下文取消时移动中止且泵断电
func TestDispenseStepCancel(t *testing.T) {
	m, devices := newMockManager(10)

	motion := devices.Motion.(*MockMotionLink)
	motion.SetMoveDelay(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := m.DispenseStep(ctx, 0, 2.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOperationAborted))

	pumps := devices.Pumps.(*MockPumpBank)
	assert.Equal(t, -1, pumps.Active())
}

// TestDispenseStepValidation 非法参数被拒绝
func TestDispenseStepValidation(t *testing.T) {
	m, _ := newMockManager(10)

	err := m.DispenseStep(context.Background(), 12, 1.0)
	assert.True(t, errors.Is(err, errors.ErrPumpOutOfRange))

	err = m.DispenseStep(context.Background(), -1, 1.0)
	assert.True(t, errors.Is(err, errors.ErrPumpOutOfRange))

	err = m.DispenseStep(context.Background(), 0, 0)
	assert.True(t, errors.Is(err, errors.ErrAmountInvalid))
}

// TestManualPumpBackward 反转时位移为负
func TestManualPumpBackward(t *testing.T) {
	m, devices := newMockManager(10)

	err := m.ManualPump(context.Background(), 1, PumpBackward, 1.0)
	require.NoError(t, err)

	motion := devices.Motion.(*MockMotionLink)
	moves := motion.Moves()
	require.Len(t, moves, 1)
	assert.Equal(t, -100.0, moves[0].Distance)
}

// TestPrimeAll 灌注依次正转每个泵
func TestPrimeAll(t *testing.T) {
	m, devices := newMockManager(4)

	err := m.PrimeAll(context.Background(), 0.5)
	require.NoError(t, err)

	motion := devices.Motion.(*MockMotionLink)
	moves := motion.Moves()
	require.Len(t, moves, 4)
	for _, move := range moves {
		assert.Equal(t, 50.0, move.Distance)
	}

	pumps := devices.Pumps.(*MockPumpBank)
	assert.Equal(t, []string{
		"enable:0", "disable:0",
		"enable:1", "disable:1",
		"enable:2", "disable:2",
		"enable:3", "disable:3",
	}, pumps.Events())
}

// TestCleanAll 清洗依次反转每个泵
func TestCleanAll(t *testing.T) {
	m, devices := newMockManager(2)

	err := m.CleanAll(context.Background(), 1.0)
	require.NoError(t, err)

	motion := devices.Motion.(*MockMotionLink)
	moves := motion.Moves()
	require.Len(t, moves, 2)
	for _, move := range moves {
		assert.Equal(t, -100.0, move.Distance)
	}
}

// TestEmergencyStop 紧急停止关闭所有泵并停电机
func TestEmergencyStop(t *testing.T) {
	m, devices := newMockManager(10)

	pumps := devices.Pumps.(*MockPumpBank)
	require.NoError(t, pumps.Enable(5))

	m.EmergencyStop()

	assert.Equal(t, -1, pumps.Active())
	motion := devices.Motion.(*MockMotionLink)
	assert.Equal(t, 1, motion.EmergencyStops())
}

// TestReadTag 标签轮询每个标签只返回一次
func TestReadTag(t *testing.T) {
	m, devices := newMockManager(10)

	reader := devices.TagReader.(*MockTagReader)
	reader.InjectTag("1101166614")

	tag, err := m.ReadTag()
	require.NoError(t, err)
	assert.Equal(t, "1101166614", tag)

	tag, err = m.ReadTag()
	require.NoError(t, err)
	assert.Empty(t, tag)
}

// TestStats 统计记录出酒次数和失败次数
func TestStats(t *testing.T) {
	m, devices := newMockManager(10)

	require.NoError(t, m.DispenseStep(context.Background(), 0, 1.0))

	motion := devices.Motion.(*MockMotionLink)
	motion.SetMoveError(errors.New(errors.ErrGrblTimeout))
	m.DispenseStep(context.Background(), 1, 1.0)

	dispenses, dispenseErrors, _ := m.Stats()
	assert.Equal(t, int64(2), dispenses)
	assert.Equal(t, int64(1), dispenseErrors)
}
