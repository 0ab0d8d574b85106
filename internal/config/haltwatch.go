package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"gridbot/internal/logger"
)

const haltSuffix = ".halt"

// WatchHaltFlags watches dir for <SYMBOL>.halt marker files and invokes
// onChange(symbol, halted) on create/remove. Existing markers fire once at
// startup so halts survive a restart. Blocks until ctx cancels.
func WatchHaltFlags(ctx context.Context, dir string, onChange func(symbol string, halted bool)) error {
	dir = strings.TrimSpace(dir)
	if dir == "" || onChange == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if sym := haltSymbol(entry.Name()); sym != "" && !entry.IsDir() {
			logger.Warnf("[halt] 启动时发现停牌标记 %s", entry.Name())
			onChange(sym, true)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			sym := haltSymbol(filepath.Base(event.Name))
			if sym == "" {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
				logger.Warnf("[halt] %s 停牌标记出现，暂停该交易对", sym)
				onChange(sym, true)
			case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
				logger.Warnf("[halt] %s 停牌标记移除，恢复该交易对", sym)
				onChange(sym, false)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("[halt] 监听异常: %v", werr)
		}
	}
}

func haltSymbol(name string) string {
	if !strings.HasSuffix(name, haltSuffix) {
		return ""
	}
	return strings.ToUpper(strings.TrimSuffix(name, haltSuffix))
}
