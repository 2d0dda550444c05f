package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gewe-hub/metrics"
)

// ShouldPurge 每小时检查一次，只在指定小时且当天未执行过时清理
func ShouldPurge(lastRun Day, now time.Time, hour int) bool {
	return now.Hour() == hour && lastRun != DayOf(now)
}

type (
	Purger struct {
		store         *Store
		retentionDays int
		hour          int
		spec          string
		now           func() time.Time
		log           *slog.Logger

		mu      sync.Mutex
		lastRun Day
	}

	PurgerOption = func(*Purger)
)

// WithSchedule cron表达式，默认每小时
func WithSchedule(spec string) PurgerOption {
	return func(p *Purger) {
		p.spec = spec
	}
}

// WithPurgeHour 执行清理的小时，默认凌晨3点
func WithPurgeHour(hour int) PurgerOption {
	return func(p *Purger) {
		p.hour = hour
	}
}

func WithPurgeClock(now func() time.Time) PurgerOption {
	return func(p *Purger) {
		p.now = now
	}
}

func NewPurger(store *Store, retentionDays int, options ...PurgerOption) *Purger {
	p := &Purger{
		store:         store,
		retentionDays: retentionDays,
		hour:          3,
		spec:          "@hourly",
		now:           time.Now,
		log:           store.log,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Tick 一次定时检查，返回是否执行了清理
func (p *Purger) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if !ShouldPurge(p.lastRun, now, p.hour) {
		return false
	}
	removed := p.store.PurgeOlderThan(p.retentionDays)
	p.lastRun = DayOf(now)
	metrics.PurgedEvents.Add(float64(removed))
	metrics.StoredEvents.Set(float64(p.store.Len()))
	p.log.Info("定时清理事件", "removed", removed, "retentionDays", p.retentionDays)
	return true
}

// Run 启动定时任务直到ctx结束，返回前等待正在执行的任务完成
func (p *Purger) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(p.spec, func() { p.Tick() }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", p.spec, err)
	}
	c.Start()
	p.log.Info("事件清理任务已启动", "spec", p.spec, "hour", p.hour)
	<-ctx.Done()
	<-c.Stop().Done()
	p.log.Info("事件清理任务已停止")
	return nil
}
