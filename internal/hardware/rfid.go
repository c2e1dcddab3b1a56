package hardware

import (
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

// SerialTagReader 串口RFID读卡器
// 读卡器按行上报标签（格式"TAG:<id>"或裸ID），后台协程持续读取，
// Poll非阻塞返回最近一次读到且尚未消费的标签。
type SerialTagReader struct {
	cfg config.RFIDConfig
	log *zap.Logger

	port io.ReadWriteCloser

	mu     sync.Mutex
	latest string

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSerialTagReader 打开RFID串口并启动读取协程
func NewSerialTagReader(cfg config.RFIDConfig) (*SerialTagReader, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 200 * time.Millisecond
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialOpen, "打开RFID串口 %s 失败", cfg.Port)
	}

	return newSerialTagReaderWithPort(cfg, port), nil
}

// newSerialTagReaderWithPort 使用注入端口创建读卡器（测试用）
func newSerialTagReaderWithPort(cfg config.RFIDConfig, port io.ReadWriteCloser) *SerialTagReader {
	r := &SerialTagReader{
		cfg:  cfg,
		log:  logger.WithModule("serial"),
		port: port,
		stop: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.readLoop()

	return r
}

// readLoop 持续读取串口，按行解析标签
func (r *SerialTagReader) readLoop() {
	defer r.wg.Done()

	var pending []byte
	buf := make([]byte, 128)

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		n, err := r.port.Read(buf)
		if err != nil && err != io.EOF {
			r.log.Error("RFID串口读取失败", zap.Error(err))
			return
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

			tag := strings.TrimPrefix(line, "TAG:")
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}

			r.mu.Lock()
			r.latest = tag
			r.mu.Unlock()

			r.log.Debug("读到RFID标签", zap.String("tag", tag))
		}
	}
}

// Poll 非阻塞返回最近读到的标签，没有新标签时返回空字符串
// 每个标签只返回一次，返回后清除。
func (r *SerialTagReader) Poll() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := r.latest
	r.latest = ""
	return tag, nil
}

// Close 停止读取并关闭串口
func (r *SerialTagReader) Close() error {
	close(r.stop)
	err := r.port.Close()
	r.wg.Wait()
	return err
}
