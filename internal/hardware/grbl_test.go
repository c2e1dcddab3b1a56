package hardware

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
)

// fakePort 模拟GRBL串口：对每条换行结尾的命令自动应答ok，
// 对?状态查询按running标志应答Run或Idle报告
type fakePort struct {
	mu       sync.Mutex
	written  []string
	pending  []byte
	holdMove bool   // 不应答G1命令，模拟移动进行中
	running  bool   // 状态查询应答Run，直到release
	moveResp string // G1命令的自定义应答
	closed   bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.written = append(f.written, string(p))

	s := string(p)
	if s == "?" {
		if f.running {
			f.pending = append(f.pending, []byte("<Run|MPos:75.000,0.000,0.000|FS:500,0>\r\n")...)
		} else {
			f.pending = append(f.pending, []byte("<Idle|MPos:0.000,0.000,0.000|FS:0,0>\r\n")...)
		}
		return len(p), nil
	}
	if !strings.HasSuffix(s, "\n") {
		// 紧急停止等裸字节，不产生应答
		return len(p), nil
	}

	cmd := strings.TrimSpace(s)
	if strings.HasPrefix(cmd, "G1 ") {
		if f.holdMove {
			return len(p), nil
		}
		if f.moveResp != "" {
			f.pending = append(f.pending, []byte(f.moveResp)...)
			return len(p), nil
		}
	}
	f.pending = append(f.pending, []byte("ok\r\n")...)
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	time.Sleep(2 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// release 运动结束，后续状态查询应答Idle
func (f *fakePort) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

// statusQueries 统计写入的?状态查询次数
func (f *fakePort) statusQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, w := range f.written {
		if w == "?" {
			n++
		}
	}
	return n
}

// commands 返回所有换行结尾的命令（去掉裸字节写入）
func (f *fakePort) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var cmds []string
	for _, w := range f.written {
		if strings.HasSuffix(w, "\n") {
			cmds = append(cmds, strings.TrimSpace(w))
		}
	}
	return cmds
}

// wroteEmergencyStop 是否写入过紧急停止字节
func (f *fakePort) wroteEmergencyStop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range f.written {
		if strings.Contains(w, string(rune(grblEmergencyStop))) {
			return true
		}
	}
	return false
}

func grblTestConfig() config.GRBLConfig {
	return config.GRBLConfig{
		Port:        "/dev/null",
		BaudRate:    115200,
		ReadTimeout: 50 * time.Millisecond,
		MoveTimeout: time.Second,
		FeedRate:    500,
		InitDelay:   0,
	}
}

// TestGRBLMove 正常移动发送完整命令序列并归零
func TestGRBLMove(t *testing.T) {
	port := &fakePort{}
	g := newGRBLWithPort(grblTestConfig(), port)
	require.NoError(t, g.Connect())

	err := g.Move(context.Background(), 150.0)
	require.NoError(t, err)

	cmds := port.commands()
	// 连接时归零一次
	assert.Equal(t, "G92 X0 Y0 Z0", cmds[0])
	// 移动前设置绝对坐标、毫米单位、进给速度
	assert.Contains(t, cmds, "G90")
	assert.Contains(t, cmds, "G21")
	assert.Contains(t, cmds, "F500")
	assert.Contains(t, cmds, "G1 X150.000")
	// 移动后再次归零
	assert.Equal(t, "G92 X0 Y0 Z0", cmds[len(cmds)-1])
}

// TestGRBLMoveWaitsForMotion ok只是进入规划缓冲区，Move要等状态回到Idle才返回
func TestGRBLMoveWaitsForMotion(t *testing.T) {
	port := &fakePort{running: true}
	g := newGRBLWithPort(grblTestConfig(), port)
	require.NoError(t, g.Connect())

	released := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		port.release()
		close(released)
	}()

	start := time.Now()
	err := g.Move(context.Background(), 150.0)
	require.NoError(t, err)

	<-released
	// 运动进行中不得提前返回
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.GreaterOrEqual(t, port.statusQueries(), 2)
}

// TestGRBLMoveMotionTimeout 状态一直是Run时按移动超时报错
func TestGRBLMoveMotionTimeout(t *testing.T) {
	port := &fakePort{running: true}
	cfg := grblTestConfig()
	cfg.MoveTimeout = 200 * time.Millisecond
	g := newGRBLWithPort(cfg, port)
	require.NoError(t, g.Connect())

	err := g.Move(context.Background(), 100.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGrblTimeout))
}

// TestGRBLMoveCancel 上下文取消时发送紧急停止并返回中止错误
func TestGRBLMoveCancel(t *testing.T) {
	port := &fakePort{holdMove: true}
	g := newGRBLWithPort(grblTestConfig(), port)
	require.NoError(t, g.Connect())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := g.Move(ctx, 100.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOperationAborted))
	assert.True(t, port.wroteEmergencyStop())
}

// TestGRBLMoveTimeout 控制器不应答时返回超时错误
func TestGRBLMoveTimeout(t *testing.T) {
	port := &fakePort{holdMove: true}
	cfg := grblTestConfig()
	cfg.MoveTimeout = 100 * time.Millisecond
	g := newGRBLWithPort(cfg, port)
	require.NoError(t, g.Connect())

	err := g.Move(context.Background(), 100.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGrblTimeout))
}

// TestGRBLMoveFault 控制器返回error时报告硬件故障
func TestGRBLMoveFault(t *testing.T) {
	port := &fakePort{moveResp: "error:9\r\n"}
	g := newGRBLWithPort(grblTestConfig(), port)
	require.NoError(t, g.Connect())

	err := g.Move(context.Background(), 100.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGrblFault))
}

// TestGRBLMoveNotConnected 未连接时拒绝移动
func TestGRBLMoveNotConnected(t *testing.T) {
	g := newGRBLWithPort(grblTestConfig(), &fakePort{})

	err := g.Move(context.Background(), 100.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSerialOpen))
}

// TestGRBLEmergencyStopDuringMove 紧急停止不排队等命令互斥，移动进行中立即生效
func TestGRBLEmergencyStopDuringMove(t *testing.T) {
	port := &fakePort{holdMove: true}
	cfg := grblTestConfig()
	cfg.MoveTimeout = 300 * time.Millisecond
	g := newGRBLWithPort(cfg, port)
	require.NoError(t, g.Connect())

	moveDone := make(chan error, 1)
	go func() {
		moveDone <- g.Move(context.Background(), 100.0)
	}()

	time.Sleep(50 * time.Millisecond)
	stopDone := make(chan error, 1)
	go func() {
		stopDone <- g.EmergencyStop()
	}()

	select {
	case err := <-stopDone:
		require.NoError(t, err)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("紧急停止被移动阻塞")
	}
	assert.True(t, port.wroteEmergencyStop())
	<-moveDone
}

// TestGRBLEmergencyStopAfterClose 关闭后紧急停止返回错误而不是崩溃
func TestGRBLEmergencyStopAfterClose(t *testing.T) {
	port := &fakePort{}
	g := newGRBLWithPort(grblTestConfig(), port)
	require.NoError(t, g.Connect())
	require.NoError(t, g.Close())

	err := g.EmergencyStop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSerialOpen))
}

// TestGRBLClose 关闭后端口标记为已关闭
func TestGRBLClose(t *testing.T) {
	port := &fakePort{}
	g := newGRBLWithPort(grblTestConfig(), port)
	require.NoError(t, g.Connect())
	require.NoError(t, g.Close())

	assert.True(t, port.closed)
	assert.False(t, g.IsConnected())
}
