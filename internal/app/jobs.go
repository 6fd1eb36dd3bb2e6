package app

import (
	"context"
	"os"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"
)

// Gauge names sampled by the jobs
const (
	GaugeSystemCpu     = "system_cpuuse"
	GaugeSystemMem     = "system_memuse"
	GaugeProcessCpu    = "radbill_cpuuse"
	GaugeProcessMem    = "radbill_memuse"
	GaugeTicketsToday  = "billing_tickets_today"
	oprLogRetention    = 365 * 24 * time.Hour
	staleSweepInterval = "@every 5m"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, err := time.LoadLocation(a.appConfig.System.Location)
	if err != nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@every 1m", a.SchedStatsTask)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc(staleSweepInterval, a.SchedStaleSweepTask)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", a.SchedClearOprLogTask)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedStaleSweepTask closes online sessions without an update within the
// staleness window
func (a *Application) SchedStaleSweepTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	hours := a.appConfig.Radiusd.StaleHours
	if hours <= 0 {
		hours = 4
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	closed, err := a.radius.SweepStale(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		zap.L().Error("stale session sweep failed", zap.String("namespace", "radius"), zap.Error(err))
		return
	}
	if closed > 0 {
		zap.L().Info("stale sessions closed", zap.String("namespace", "radius"), zap.Int("count", closed))
	}
}

// SchedStatsTask persists the counters and samples the session gauges
func (a *Application) SchedStatsTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	metrics.Flush()
	if lat := metrics.DrainLatency(); lat.Count > 0 {
		zap.L().Info("radius auth latency",
			zap.String("namespace", "radius"),
			zap.Int("count", lat.Count),
			zap.Float64("mean_us", lat.Mean),
			zap.Float64("p95_us", lat.P95),
			zap.Float64("max_us", lat.Max))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if online, err := a.store.Sessions().Count(ctx); err == nil {
		metrics.SetGauge(metrics.RadiusOnline, online)
	}
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if count, err := a.store.Tickets().CountSince(ctx, midnight); err == nil {
		metrics.SetGauge(GaugeTicketsToday, count)
	}
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	if cpuuse, err := cpu.Percent(0, false); err == nil && len(cpuuse) > 0 {
		metrics.SetGauge(GaugeSystemCpu, int64(cpuuse[0]*100))
	}
	if meminfo, err := mem.VirtualMemory(); err == nil {
		metrics.SetGauge(GaugeSystemMem, int64(meminfo.Used/1024/1024))
	}
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if cpuuse, err := p.CPUPercent(); err == nil {
		metrics.SetGauge(GaugeProcessCpu, int64(cpuuse*100))
	}
	if meminfo, err := p.MemoryInfo(); err == nil {
		metrics.SetGauge(GaugeProcessMem, int64(meminfo.RSS/1024/1024))
	}
}

// SchedClearOprLogTask drops audit records older than a year
func (a *Application) SchedClearOprLogTask() {
	a.gormDB.Where("opt_time < ?", time.Now().Add(-oprLogRetention)).Delete(&domain.SysOprLog{})
}
