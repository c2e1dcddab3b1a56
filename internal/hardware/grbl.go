package hardware

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"go.uber.org/zap"
)

// grblEmergencyStop GRBL即时停止字节（Ctrl+X）
const grblEmergencyStop = 0x18

// grblStatusPollInterval 实时状态查询间隔
const grblStatusPollInterval = 50 * time.Millisecond

// GRBL 运动控制器串口链路
// 独占访问单条串口链路，同一时刻只允许一条命令在途。
type GRBL struct {
	cfg config.GRBLConfig
	log *zap.Logger

	mu        sync.Mutex // 命令互斥，保证串口独占
	portMu    sync.Mutex // 只保护port指针，紧急停止读取时不等命令互斥
	port      io.ReadWriteCloser
	connected bool

	// 测试注入用，生产环境打开真实串口
	openPort func() (io.ReadWriteCloser, error)
}

// NewGRBL 创建GRBL链路
func NewGRBL(cfg config.GRBLConfig) *GRBL {
	g := &GRBL{
		cfg: cfg,
		log: logger.WithModule("serial"),
	}
	g.openPort = func() (io.ReadWriteCloser, error) {
		readTimeout := cfg.ReadTimeout
		if readTimeout <= 0 {
			readTimeout = 200 * time.Millisecond
		}
		return serial.OpenPort(&serial.Config{
			Name:        cfg.Port,
			Baud:        cfg.BaudRate,
			ReadTimeout: readTimeout,
		})
	}
	return g
}

// newGRBLWithPort 使用注入端口创建链路（测试用）
func newGRBLWithPort(cfg config.GRBLConfig, port io.ReadWriteCloser) *GRBL {
	g := NewGRBL(cfg)
	g.openPort = func() (io.ReadWriteCloser, error) {
		return port, nil
	}
	return g
}

// Connect 打开串口并初始化控制器
func (g *GRBL) Connect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connected {
		return nil
	}

	port, err := g.openPort()
	if err != nil {
		return errors.Wrapf(err, errors.ErrSerialOpen, "打开 %s 失败", g.cfg.Port)
	}

	g.setPort(port)
	g.connected = true

	// 等待GRBL上电初始化，然后丢弃启动横幅
	if g.cfg.InitDelay > 0 {
		time.Sleep(g.cfg.InitDelay)
	}
	g.drain()

	if err := g.resetPositionLocked(); err != nil {
		g.log.Warn("GRBL位置归零失败", zap.Error(err))
	}

	g.log.Info("GRBL控制器已连接",
		zap.String("port", g.cfg.Port),
		zap.Int("baud_rate", g.cfg.BaudRate),
	)

	return nil
}

// IsConnected 返回连接状态
func (g *GRBL) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Move 按绝对位移执行一次移动，阻塞直到运动真正结束
// 每次移动前将当前位置归零，因此distance就是本次的实际位移。
// GRBL对G1的ok只表示命令进入规划缓冲区，所以确认后还要轮询
// 实时状态直到回到Idle。上下文取消时立即发送紧急停止并返回中止错误。
func (g *GRBL) Move(ctx context.Context, distance float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return errors.New(errors.ErrSerialOpen, "GRBL未连接")
	}

	// 绝对坐标、毫米单位、进给速度
	setup := []string{
		"G90",
		"G21",
		fmt.Sprintf("F%d", g.cfg.FeedRate),
	}
	for _, cmd := range setup {
		if _, err := g.commandLocked(cmd, g.ackTimeout()); err != nil {
			return err
		}
	}

	moveCmd := fmt.Sprintf("G1 X%.3f", distance)
	if err := g.writeLocked(moveCmd); err != nil {
		return err
	}

	type ackResult struct {
		resp string
		err  error
	}
	stop := make(chan struct{})
	done := make(chan ackResult, 1)
	go func() {
		deadline := time.Now().Add(g.moveTimeout())
		resp, err := g.readAck(time.Until(deadline), stop)
		if err == nil {
			err = g.waitIdle(deadline, stop)
		}
		done <- ackResult{resp, err}
	}()

	select {
	case <-ctx.Done():
		close(stop)
		// 立即停止电机，不经过命令队列
		g.port.Write([]byte{grblEmergencyStop})
		<-done
		g.writeLocked("G92 X0 Y0 Z0")
		g.drain()
		logger.LogGrblCommand(moveCmd, "aborted", false)
		return errors.Wrap(ctx.Err(), errors.ErrOperationAborted, "移动被中止")
	case r := <-done:
		logger.LogGrblCommand(moveCmd, r.resp, r.err == nil)
		if r.err != nil {
			return r.err
		}
	}

	// 移动完成后归零，保证下一次移动位移独立
	return g.resetPositionLocked()
}

// EmergencyStop 立即停止电机
// 不经过命令互斥，可在移动进行中调用。端口指针先在portMu下
// 快照，避免与Close竞争后对空指针写入。
func (g *GRBL) EmergencyStop() error {
	g.portMu.Lock()
	port := g.port
	g.portMu.Unlock()

	if port == nil {
		return errors.New(errors.ErrSerialOpen, "GRBL未连接")
	}
	if _, err := port.Write([]byte{grblEmergencyStop}); err != nil {
		return errors.Wrap(err, errors.ErrSerialWrite, "发送紧急停止失败")
	}
	g.log.Warn("已向GRBL发送紧急停止")
	return nil
}

// ResetPosition 将当前位置归零
func (g *GRBL) ResetPosition() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return errors.New(errors.ErrSerialOpen, "GRBL未连接")
	}
	return g.resetPositionLocked()
}

// Close 关闭串口
func (g *GRBL) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return nil
	}

	g.connected = false
	err := g.port.Close()
	g.setPort(nil)
	g.log.Info("GRBL控制器已断开")
	return err
}

// setPort 更新端口指针，调用方必须持有mu
func (g *GRBL) setPort(p io.ReadWriteCloser) {
	g.portMu.Lock()
	g.port = p
	g.portMu.Unlock()
}

func (g *GRBL) resetPositionLocked() error {
	_, err := g.commandLocked("G92 X0 Y0 Z0", g.ackTimeout())
	return err
}

// commandLocked 发送命令并等待ok/error确认，调用方必须持有mu
func (g *GRBL) commandLocked(cmd string, timeout time.Duration) (string, error) {
	if err := g.writeLocked(cmd); err != nil {
		return "", err
	}
	resp, err := g.readAck(timeout, nil)
	logger.LogGrblCommand(cmd, resp, err == nil)
	return resp, err
}

func (g *GRBL) writeLocked(cmd string) error {
	if _, err := g.port.Write([]byte(cmd + "\n")); err != nil {
		return errors.Wrapf(err, errors.ErrSerialWrite, "发送 %q 失败", cmd)
	}
	return nil
}

// readAck 逐行读取直到出现ok或error
// 串口读取带短超时，循环中检查stop通道，保证可被外部打断。
func (g *GRBL) readAck(timeout time.Duration, stop <-chan struct{}) (string, error) {
	deadline := time.Now().Add(timeout)
	var pending []byte
	var lines []string

	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		select {
		case <-stop:
			return strings.Join(lines, "\n"), errors.New(errors.ErrOperationAborted)
		default:
		}

		n, err := g.port.Read(buf)
		if err != nil && err != io.EOF {
			return strings.Join(lines, "\n"), errors.Wrap(err, errors.ErrSerialRead, "读取GRBL响应失败")
		}
		if n == 0 {
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			idx := strings.IndexByte(string(pending), '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimSpace(string(pending[:idx]))
			pending = pending[idx+1:]
			if line == "" {
				continue
			}
			lines = append(lines, line)

			if strings.Contains(line, "error") {
				return strings.Join(lines, "\n"), errors.Newf(errors.ErrGrblFault, "GRBL返回错误: %s", line)
			}
			if strings.Contains(line, "ok") {
				return strings.Join(lines, "\n"), nil
			}
		}
	}

	return strings.Join(lines, "\n"), errors.Newf(errors.ErrGrblTimeout, "等待GRBL确认超时（%s）", timeout)
}

// waitIdle 轮询实时状态直到控制器回到Idle
// 用?查询实时状态，不占用命令队列。状态报告形如<Idle|MPos:...>，
// 运动中为<Run|...>，报警为<Alarm|...>。
func (g *GRBL) waitIdle(deadline time.Time, stop <-chan struct{}) error {
	var pending []byte
	buf := make([]byte, 256)

	for time.Now().Before(deadline) {
		select {
		case <-stop:
			return errors.New(errors.ErrOperationAborted)
		default:
		}

		if _, err := g.port.Write([]byte{'?'}); err != nil {
			return errors.Wrap(err, errors.ErrSerialWrite, "发送状态查询失败")
		}

		n, err := g.port.Read(buf)
		if err != nil && err != io.EOF {
			return errors.Wrap(err, errors.ErrSerialRead, "读取GRBL状态失败")
		}
		pending = append(pending, buf[:n]...)

		for {
			start := strings.IndexByte(string(pending), '<')
			if start < 0 {
				pending = pending[:0]
				break
			}
			end := strings.IndexByte(string(pending[start:]), '>')
			if end < 0 {
				pending = pending[start:]
				break
			}
			report := string(pending[start : start+end+1])
			pending = pending[start+end+1:]

			if strings.HasPrefix(report, "<Idle") {
				return nil
			}
			if strings.HasPrefix(report, "<Alarm") {
				return errors.Newf(errors.ErrGrblFault, "GRBL报警: %s", report)
			}
		}

		time.Sleep(grblStatusPollInterval)
	}

	return errors.Newf(errors.ErrGrblTimeout, "等待运动结束超时（%s）", g.moveTimeout())
}

// drain 丢弃串口缓冲区中的所有残留数据
func (g *GRBL) drain() {
	buf := make([]byte, 256)
	for i := 0; i < 5; i++ {
		n, err := g.port.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}

func (g *GRBL) ackTimeout() time.Duration {
	if g.cfg.ReadTimeout > 0 {
		// 普通命令给读取超时留出余量
		return g.cfg.ReadTimeout * 10
	}
	return 2 * time.Second
}

func (g *GRBL) moveTimeout() time.Duration {
	if g.cfg.MoveTimeout > 0 {
		return g.cfg.MoveTimeout
	}
	return 30 * time.Second
}
