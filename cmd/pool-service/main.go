package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"usdtpool.com/internal/api"
	"usdtpool.com/internal/api/handler"
	"usdtpool.com/internal/app/sweeper"
	"usdtpool.com/internal/config"
	"usdtpool.com/internal/core/service"
	"usdtpool.com/internal/domain"
	"usdtpool.com/internal/infra/chain"
	"usdtpool.com/internal/infra/keygen"
	"usdtpool.com/internal/infra/persistence"
	pkgconfig "usdtpool.com/pkg/config"
	"usdtpool.com/pkg/logger"
	"usdtpool.com/pkg/orm"
	"usdtpool.com/pkg/safe"
	"usdtpool.com/pkg/xredis"
)

const serviceName = "pool"

func main() {
	boot := new(config.Config)
	v, err := pkgconfig.Load(serviceName, boot)
	if err != nil {
		panic("load config failed: " + err.Error())
	}

	logger.Init("pool-service", boot.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := config.NewStore(boot)
	if err != nil {
		logger.Fatal(ctx, "配置非法", zap.Error(err))
	}

	// 热更新：解析到一份全新快照再整体换入，旧快照只读
	// 评分权重和归集阈值靠这个在线调
	pkgconfig.Watch(v, func(v *viper.Viper) {
		fresh := new(config.Config)
		if err := v.Unmarshal(fresh); err != nil {
			logger.Error(context.Background(), "配置热更新反序列化失败，沿用旧配置", zap.Error(err))
			return
		}
		store.Swap(fresh)
		logger.Info(context.Background(), "配置热更新生效")
	})

	cfg := store.Current()

	// ---------- 基础设施 ----------
	db := orm.NewMySQL(cfg.MysqlConfig())
	if err := db.AutoMigrate(&domain.Wallet{}, &domain.ConsolidationTask{}); err != nil {
		logger.Fatal(ctx, "数据库迁移失败", zap.Error(err))
	}
	rdb := xredis.NewRedis(cfg.RedisConfig())

	gen, err := keygen.New(cfg.Keystore.Secret)
	if err != nil {
		logger.Fatal(ctx, "密钥库初始化失败", zap.Error(err))
	}

	// ---------- 组装 ----------
	repo := persistence.New(db)
	scorer := service.NewScorerSource(store.Scoring)
	allocator := service.NewAllocator(repo, scorer, store.Networks)
	walletSvc := service.NewWalletService(repo, gen, rdb)
	consolidator := service.NewConsolidator(repo, repo, chain.NewGateway(cfg.Chain),
		store.Networks, cfg.ConsolidationConfig())

	engine := sweeper.New(&sweeper.Config{
		ScanInterval:    cfg.Sweeper.ScanInterval,
		RecoverInterval: cfg.Sweeper.RecoverInterval,
		LockTTL:         cfg.Sweeper.LockTTL,
		AutoExecute:     cfg.Sweeper.AutoExecute,
	}, rdb, consolidator)
	safe.Go(func() {
		engine.Start(ctx)
	})

	router := api.NewRouter(ctx, api.Deps{
		Wallet:        handler.NewWallet(walletSvc, allocator),
		Consolidation: handler.NewConsolidation(consolidator),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Http.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	safe.Go(func() {
		logger.Info(ctx, "🚀 HTTP 服务启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP 服务异常退出", zap.Error(err))
		}
	})

	<-ctx.Done()
	logger.Info(context.Background(), "🛑 收到退出信号，开始优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP 关闭超时", zap.Error(err))
	}
	logger.Info(context.Background(), "服务已退出")
}
