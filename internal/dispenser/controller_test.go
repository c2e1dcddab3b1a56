package dispenser

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/hardware"
	"github.com/wfunc/vhs-coffeeman/internal/models"
	"github.com/wfunc/vhs-coffeeman/internal/recipe"
)

func newGrblFault() error {
	return errors.New(errors.ErrGrblFault, "模拟故障")
}

// mockRecorder 捕获历史记录供断言
type mockRecorder struct {
	mu     sync.Mutex
	pours  []*models.PourRecord
	events []*models.MachineEvent
}

func (r *mockRecorder) RecordPour(record *models.PourRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pours = append(r.pours, record)
}

func (r *mockRecorder) RecordEvent(event *models.MachineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *mockRecorder) pourRecords() []*models.PourRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.PourRecord, len(r.pours))
	copy(out, r.pours)
	return out
}

func (r *mockRecorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// writeRecipeFixtures 写入测试配方文件
func writeRecipeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	write := func(name string, v interface{}) {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}

	write("tapes.json", map[string]string{
		"1101166614": "midnight_caramel",
	})
	write("ingredients.json", map[string]int{
		"coffee":        0,
		"milk":          1,
		"sugar_syrup":   2,
		"vanilla_syrup": 3,
		"caramel_syrup": 4,
	})
	write("recipes.json", map[string][]map[string]interface{}{
		"midnight_caramel": {
			{"ingredient": "coffee", "amount": 1.5},
			{"ingredient": "vanilla_syrup", "amount": 1.1},
			{"ingredient": "caramel_syrup", "amount": 1.6},
			{"ingredient": "sugar_syrup", "amount": 2.0},
			{"ingredient": "milk", "amount": 1.0},
		},
	})

	return dir
}

type testRig struct {
	ctrl     *Controller
	devices  hardware.Devices
	reader   *hardware.MockTagReader
	cup      *hardware.MockProximitySensor
	motion   *hardware.MockMotionLink
	pumps    *hardware.MockPumpBank
	props    *hardware.MockPropController
	recorder *mockRecorder
}

func newTestRig(t *testing.T, cfg config.DispenserConfig) *testRig {
	t.Helper()

	devices := hardware.MockDevices(10)
	hw := hardware.NewManagerWithDevices(config.HardwareConfig{MMPerOz: 100.0}, devices)

	store, err := recipe.NewStore(recipe.Options{Dir: writeRecipeFixtures(t), PumpCount: 10})
	require.NoError(t, err)

	recorder := &mockRecorder{}
	ctrl := NewController(cfg, hw, store, recorder)

	return &testRig{
		ctrl:     ctrl,
		devices:  devices,
		reader:   devices.TagReader.(*hardware.MockTagReader),
		cup:      devices.CupSensor.(*hardware.MockProximitySensor),
		motion:   devices.Motion.(*hardware.MockMotionLink),
		pumps:    devices.Pumps.(*hardware.MockPumpBank),
		props:    devices.Props.(*hardware.MockPropController),
		recorder: recorder,
	}
}

// tickUntil 反复执行轮询直到条件满足
func (r *testRig) tickUntil(t *testing.T, cond func() bool) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.ctrl.tick(ctx)
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("等待条件超时，当前状态=%s", r.ctrl.State())
}

// TestHappyPath 有效标签+杯子在位：完整流程到待取酒
// 精确执行5个有序出酒步骤，播放和弹带各触发一次。
func TestHappyPath(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("1101166614")

	rig.ctrl.tick(ctx)
	assert.Equal(t, StatePouring, rig.ctrl.State())

	rig.tickUntil(t, func() bool { return rig.ctrl.State() == StateDrinkReady })

	// 5个步骤按配方顺序执行，位移按100mm/oz校准
	moves := rig.motion.Moves()
	require.Len(t, moves, 5)
	expected := []float64{150.0, 110.0, 160.0, 200.0, 100.0}
	for i, exp := range expected {
		assert.Equal(t, exp, moves[i].Distance, "步骤 %d 位移错误", i)
		assert.False(t, moves[i].Aborted)
	}

	// 泵按顺序通电断电，互斥无嵌套
	assert.Equal(t, []string{
		"enable:0", "disable:0",
		"enable:3", "disable:3",
		"enable:4", "disable:4",
		"enable:2", "disable:2",
		"enable:1", "disable:1",
	}, rig.pumps.Events())

	// 播放和弹带各恰好一次
	assert.Equal(t, 1, rig.props.Plays())
	assert.Equal(t, 1, rig.props.Ejects())

	// 取走杯子回到待机
	rig.cup.SetCupPresent(false)
	rig.ctrl.tick(ctx)
	assert.Equal(t, StateIdle, rig.ctrl.State())
	assert.Equal(t, TokenReady, rig.ctrl.StatusToken())

	// 出酒历史记录为完成状态
	pours := rig.recorder.pourRecords()
	require.Len(t, pours, 1)
	assert.Equal(t, models.PourStatusCompleted, pours[0].Status)
	assert.Equal(t, 5, pours[0].StepsCompleted)
	assert.InDelta(t, 7.2, pours[0].TotalAmountOz, 0.001)
}

// TestUnknownTag 未注册标签保持待机，不出酒
func TestUnknownTag(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("999999999")

	rig.ctrl.tick(ctx)

	assert.Equal(t, StateIdle, rig.ctrl.State())
	assert.Empty(t, rig.motion.Moves())
	assert.Contains(t, rig.recorder.eventTypes(), "UNKNOWN_TAG")
}

// TestWaitingForCup 杯子不在位时等待，放入后开始出酒
func TestWaitingForCup(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	rig.cup.SetCupPresent(false)
	rig.reader.InjectTag("1101166614")

	rig.ctrl.tick(ctx)
	assert.Equal(t, StateWaitingForCup, rig.ctrl.State())
	assert.Empty(t, rig.motion.Moves())

	rig.cup.SetCupPresent(true)
	rig.ctrl.tick(ctx)
	assert.Equal(t, StatePouring, rig.ctrl.State())

	rig.tickUntil(t, func() bool { return rig.ctrl.State() == StateDrinkReady })
	assert.Len(t, rig.motion.Moves(), 5)
}

// TestCupWaitTimeout 等杯超时回到待机并记录
func TestCupWaitTimeout(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{
		TickInterval:   5 * time.Millisecond,
		CupWaitTimeout: 30 * time.Millisecond,
	})
	ctx := context.Background()

	rig.cup.SetCupPresent(false)
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)
	require.Equal(t, StateWaitingForCup, rig.ctrl.State())

	rig.tickUntil(t, func() bool { return rig.ctrl.State() == StateIdle })

	pours := rig.recorder.pourRecords()
	require.Len(t, pours, 1)
	assert.Equal(t, models.PourStatusCupTimeout, pours[0].Status)
	assert.Empty(t, rig.motion.Moves())
}

// TestCupRemovedDuringPour 出酒中移走杯子立即中止进入错误
// 检测到移走后不再执行任何出酒步骤，所有泵断电。
func TestCupRemovedDuringPour(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	// 让每次移动耗时足够长，保证能在步骤进行中移走杯子
	rig.motion.SetMoveDelay(300 * time.Millisecond)

	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)
	require.Equal(t, StatePouring, rig.ctrl.State())

	// 第一步进行中移走杯子
	time.Sleep(20 * time.Millisecond)
	rig.cup.SetCupPresent(false)
	rig.ctrl.tick(ctx)

	assert.Equal(t, StateError, rig.ctrl.State())

	// 没有任何步骤完整执行
	for _, move := range rig.motion.Moves() {
		assert.True(t, move.Aborted, "中止后不应有完成的移动")
	}
	assert.GreaterOrEqual(t, rig.motion.EmergencyStops(), 1)

	// 泵最终全部断电
	require.Eventually(t, func() bool { return rig.pumps.Active() == -1 },
		time.Second, 5*time.Millisecond)

	// 安全中断单独归类记录
	pours := rig.recorder.pourRecords()
	require.Len(t, pours, 1)
	assert.Equal(t, models.PourStatusSafetyAbort, pours[0].Status)
	assert.Contains(t, rig.recorder.eventTypes(), "SAFETY_ABORT")

	// 弹带不触发
	assert.Equal(t, 0, rig.props.Ejects())
}

// TestHardwareErrorDuringPour 硬件故障中止任务并归类为硬件错误
func TestHardwareErrorDuringPour(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	rig.motion.SetMoveError(newGrblFault())

	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)

	rig.tickUntil(t, func() bool { return rig.ctrl.State() == StateError })

	pours := rig.recorder.pourRecords()
	require.Len(t, pours, 1)
	assert.Equal(t, models.PourStatusHardwareError, pours[0].Status)
	assert.Contains(t, rig.recorder.eventTypes(), "HARDWARE_ERROR")
}

// TestTagIgnoredWhileBusy 任务进行中读到的新标签被丢弃
func TestTagIgnoredWhileBusy(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	rig.motion.SetMoveDelay(200 * time.Millisecond)
	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)
	require.Equal(t, StatePouring, rig.ctrl.State())

	firstJob := rig.ctrl.GetStatus().Job
	require.NotNil(t, firstJob)

	// 出酒中再次注入标签
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)

	assert.Equal(t, StatePouring, rig.ctrl.State())
	current := rig.ctrl.GetStatus().Job
	require.NotNil(t, current)
	assert.Equal(t, firstJob.ID, current.ID)
}

// TestErrorCooldownReset 错误状态冷却后自动复位
func TestErrorCooldownReset(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{
		TickInterval:  5 * time.Millisecond,
		ErrorCooldown: 30 * time.Millisecond,
	})
	ctx := context.Background()

	rig.motion.SetMoveError(newGrblFault())
	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)
	rig.tickUntil(t, func() bool { return rig.ctrl.State() == StateError })

	rig.tickUntil(t, func() bool { return rig.ctrl.State() == StateIdle })
	assert.Equal(t, TokenReady, rig.ctrl.StatusToken())
}

// TestOperatorReset 任何状态下复位回到待机并关停硬件
func TestOperatorReset(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	rig.motion.SetMoveDelay(200 * time.Millisecond)
	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)
	require.Equal(t, StatePouring, rig.ctrl.State())

	rig.ctrl.Reset("admin")

	assert.Equal(t, StateIdle, rig.ctrl.State())
	assert.GreaterOrEqual(t, rig.motion.EmergencyStops(), 1)
	assert.Equal(t, -1, rig.pumps.Active())
	assert.Contains(t, rig.recorder.eventTypes(), "OPERATOR_RESET")
}

// TestEmergencyStop 紧急停止从任何状态进入错误状态
func TestEmergencyStop(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	rig.motion.SetMoveDelay(200 * time.Millisecond)
	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)
	require.Equal(t, StatePouring, rig.ctrl.State())

	rig.ctrl.EmergencyStop("admin")

	assert.Equal(t, StateError, rig.ctrl.State())
	assert.GreaterOrEqual(t, rig.motion.EmergencyStops(), 1)
	assert.Equal(t, -1, rig.pumps.Active())
	assert.Contains(t, rig.ctrl.StatusToken(), "ERROR:")
	assert.Contains(t, rig.recorder.eventTypes(), "EMERGENCY_STOP")

	// 复位回到待机
	rig.ctrl.Reset("admin")
	assert.Equal(t, StateIdle, rig.ctrl.State())
}

// TestStatusTokens 状态令牌按流程变化
func TestStatusTokens(t *testing.T) {
	rig := newTestRig(t, config.DispenserConfig{TickInterval: 5 * time.Millisecond})
	ctx := context.Background()

	var tokens []string
	var mu sync.Mutex
	rig.ctrl.Subscribe(func(token string) {
		mu.Lock()
		tokens = append(tokens, token)
		mu.Unlock()
	})

	rig.cup.SetCupPresent(true)
	rig.reader.InjectTag("1101166614")
	rig.ctrl.tick(ctx)
	rig.tickUntil(t, func() bool { return rig.ctrl.State() == StateDrinkReady })

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, tokens, "POURING:0")
	assert.Contains(t, tokens, "POURING:4")
	assert.Contains(t, tokens, TokenComplete)

	// pouring_complete和drink_ready之间只发一次COMPLETE
	completes := 0
	for _, token := range tokens {
		if token == TokenComplete {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
}
