package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"market-dashboard-go/infrastructure/logger"
)

// Watcher 基于 fsnotify 监听配置文件，写入后经过 Debounce 静默期再重新加载。
// 监听所在目录而不是文件本身，编辑器以 rename 方式保存时也能收到事件。
type Watcher struct {
	Path     string
	Debounce time.Duration
	Logger   *logger.Logger
}

// loadConfig is extracted for testing/mocking.
var loadConfig = LoadWithEnvOverrides

// Start 阻塞直到 ctx 取消；onUpdate 只收到通过校验的配置。
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	load := loadConfig
	if w.Debounce <= 0 {
		w.Debounce = 500 * time.Millisecond
	}
	log := w.Logger
	if log == nil {
		log = logger.NewNop()
	}
	target, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(w.Debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		case <-timer.C:
			cfg, err := load(target)
			if err != nil {
				log.LogError(err, map[string]interface{}{"component": "config", "path": target})
				continue
			}
			log.Info("config reloaded", zap.String("path", target))
			if onUpdate != nil {
				onUpdate(cfg)
			}
		}
	}
}
