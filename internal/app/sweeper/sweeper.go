package sweeper

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"usdtpool.com/internal/core/service"
	"usdtpool.com/pkg/logger"
	"usdtpool.com/pkg/safe"
)

// Config 后台归集循环参数
type Config struct {
	ScanInterval    time.Duration // 扫描间隔
	RecoverInterval time.Duration // 悬挂任务清理间隔
	LockKey         string        // master 选举锁
	LockTTL         time.Duration
	AutoExecute     bool // true: 扫完直接执行；false: 只产出候选，等管理端手动触发
}

func (c *Config) withDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 5 * time.Minute
	}
	if c.RecoverInterval <= 0 {
		c.RecoverInterval = time.Minute
	}
	if c.LockKey == "" {
		c.LockKey = "sweeper:master:lock"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
}

// Engine 归集调度引擎：核心服务本身无状态无定时器，时间全在这一层
type Engine struct {
	cfg          *Config
	rdb          *redis.Client
	consolidator *service.Consolidator
}

func New(cfg *Config, rdb *redis.Client, consolidator *service.Consolidator) *Engine {
	cfg.withDefaults()
	return &Engine{cfg: cfg, rdb: rdb, consolidator: consolidator}
}

func (e *Engine) Start(ctx context.Context) {
	logger.Info(ctx, "🚀 归集引擎启动",
		zap.Duration("scan_interval", e.cfg.ScanInterval),
		zap.Bool("auto_execute", e.cfg.AutoExecute))

	safe.Go(func() {
		e.sweepLoop(ctx)
	})
	safe.Go(func() {
		e.recoverLoop(ctx)
	})

	<-ctx.Done()
	logger.Info(ctx, "🛑 归集引擎正在停止...")
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

// sweepOnce 抢 master 锁，抢到的实例负责这一轮扫描 (多实例只跑一份)
func (e *Engine) sweepOnce(ctx context.Context) {
	lock := service.NewDistLock(e.rdb, e.cfg.LockKey, e.cfg.LockTTL)
	locked, err := lock.TryLock(ctx)
	if err != nil {
		logger.Error(ctx, "抢 master 锁出错", zap.Error(err))
		return
	}
	if !locked {
		// 别的实例是 master，这轮歇着
		return
	}
	defer func() { _, _ = lock.Unlock(ctx) }()

	// 批次可能比锁 TTL 跑得久，后台按 TTL/3 续期
	// 续不上说明锁已丢 (redis 抖动或被人抢)，这轮剩下的活交给新 master
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	safe.Go(func() {
		ticker := time.NewTicker(e.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				ok, err := lock.Renew(renewCtx)
				if err != nil {
					logger.Error(renewCtx, "master 锁续期出错", zap.Error(err))
					continue
				}
				if !ok {
					logger.Warn(renewCtx, "master 锁已丢失，停止续期")
					return
				}
			}
		}
	})

	report, err := e.consolidator.ScanAndStore(ctx)
	if err != nil {
		logger.Error(ctx, "归集扫描失败", zap.Error(err))
		return
	}
	logger.Info(ctx, "归集扫描完成",
		zap.Int("candidates", len(report.Tasks)),
		zap.Int("skipped_networks", len(report.Skipped)))

	if !e.cfg.AutoExecute || len(report.Tasks) == 0 {
		return
	}

	taskIDs := make([]string, 0, len(report.Tasks))
	for _, t := range report.Tasks {
		taskIDs = append(taskIDs, t.TaskID)
	}
	res, err := e.consolidator.Execute(ctx, taskIDs)
	if err != nil {
		logger.Error(ctx, "归集批次执行失败", zap.Error(err))
		return
	}
	logger.Info(ctx, "🔥 自动归集批次完成",
		zap.Int("executed", res.ExecutedCount),
		zap.Int("failed", res.FailedCount))
}

func (e *Engine) recoverLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RecoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := e.consolidator.RecoverStale(ctx)
			if err != nil {
				logger.Error(ctx, "清理悬挂任务失败", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Warn(ctx, "清理悬挂的 EXECUTING 任务", zap.Int64("count", count))
			}
		}
	}
}
