package scheduler

import (
	"context"
	"time"

	"gridbot/internal/logger"
)

// Loop runs task every interval until ctx cancels. The task runs to
// completion before the next tick is considered, so at most one invocation
// per loop is in flight.
type Loop struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewLoop(name string, interval time.Duration) *Loop {
	return &Loop{Name: name, Interval: interval, nowFn: time.Now}
}

func (l *Loop) Start(ctx context.Context, task func(context.Context)) {
	if l == nil || task == nil {
		return
	}
	if l.Interval <= 0 {
		logger.Warnf("Loop %s: invalid interval=%s, exit", l.Name, l.Interval)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Infof("Loop %s: started interval=%s run_immediately=%v", l.Name, l.Interval, l.RunImmediately)
	if l.RunImmediately {
		task(ctx)
	}
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Loop %s: ctx done, exit", l.Name)
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}
