package hardware

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"go.uber.org/zap"
)

// videoExtensions 按优先级尝试的视频扩展名
var videoExtensions = []string{".mp4", ".avi", ".mkv", ".mov"}

// SubprocessMediaPlayer 子进程视频播放器
// 每个标签对应媒体目录下的同名视频，找不到时回退到default.*。
// 所有操作尽力而为：播放失败只记录日志，绝不影响出酒。
type SubprocessMediaPlayer struct {
	cfg config.MediaConfig
	log *zap.Logger

	mu      sync.Mutex
	current *exec.Cmd
}

// NewSubprocessMediaPlayer 创建视频播放器
func NewSubprocessMediaPlayer(cfg config.MediaConfig) *SubprocessMediaPlayer {
	return &SubprocessMediaPlayer{
		cfg: cfg,
		log: logger.WithModule("media"),
	}
}

// Play 播放标签对应的视频
func (p *SubprocessMediaPlayer) Play(tag string) {
	if !p.cfg.Enabled {
		return
	}

	path := p.findMedia(tag)
	if path == "" {
		p.log.Warn("未找到可播放的视频文件", zap.String("tag", tag))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	args := append(append([]string{}, p.cfg.PlayerArgs...), path)
	cmd := exec.Command(p.cfg.Player, args...)

	if err := cmd.Start(); err != nil {
		p.log.Error("启动视频播放器失败",
			zap.String("player", p.cfg.Player),
			zap.String("file", path),
			zap.Error(err),
		)
		return
	}

	p.current = cmd
	p.log.Info("开始播放视频", zap.String("tag", tag), zap.String("file", path))

	// 回收子进程，避免僵尸
	go func() {
		cmd.Wait()
		p.mu.Lock()
		if p.current == cmd {
			p.current = nil
		}
		p.mu.Unlock()
	}()
}

// Stop 停止当前播放
func (p *SubprocessMediaPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *SubprocessMediaPlayer) stopLocked() {
	if p.current == nil || p.current.Process == nil {
		return
	}
	if err := p.current.Process.Kill(); err != nil {
		p.log.Warn("停止视频播放器失败", zap.Error(err))
	}
	p.current = nil
}

// findMedia 查找标签对应的视频文件，回退到默认视频
func (p *SubprocessMediaPlayer) findMedia(tag string) string {
	for _, name := range []string{tag, "default"} {
		for _, ext := range videoExtensions {
			path := filepath.Join(p.cfg.Dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
