package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/logger"
	"usdtpool.com/pkg/metrics"
	"usdtpool.com/pkg/xerr"
)

// AllocationRequest 一次分配请求，不落库 (只进审计日志)
type AllocationRequest struct {
	Network  domain.Network
	OrderID  int64
	UserID   *int64
	Strategy Strategy
}

// Allocator 钱包分配器
// 正确性完全压在仓储层的 CAS 上：没有进程内全局锁，多实例水平扩展安全
type Allocator struct {
	repo     domain.WalletRepo
	scorer   *Scorer
	networks func() domain.NetworkTable // 取当前网络配置 (支持热更新)
}

func NewAllocator(repo domain.WalletRepo, scorer *Scorer, networks func() domain.NetworkTable) *Allocator {
	return &Allocator{repo: repo, scorer: scorer, networks: networks}
}

// Allocate 选出评分最高的 AVAILABLE 钱包并 CAS 占用
// CAS 输了就顺位拿下一个候选，全部抢完还没拿到按 NoWalletAvailable 处理
// 重试次数以候选数为上界，永远不会无限转
func (a *Allocator) Allocate(ctx context.Context, req *AllocationRequest) (*domain.Wallet, error) {
	if !req.Network.Valid() {
		return nil, xerr.New(xerr.RequestParamsError, "invalid network")
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyBalanced
	}

	wallets, err := a.repo.FindAvailable(ctx, req.Network)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		metrics.AllocTotal.WithLabelValues(string(req.Network), string(strategy), "empty").Inc()
		return nil, xerr.NewErrCode(xerr.NoWalletAvailable)
	}

	// 成本子分只看网络级费用，网络没配置时给 0.5 的中性费用值
	// (零值 FeeScore 会把成本子分打满，白白抬分)
	netCfg, err := a.networks().Get(req.Network)
	if err != nil {
		netCfg = domain.NetworkConfig{Network: req.Network, FeeScore: 0.5}
	}
	candidates := a.scorer.Rank(wallets, strategy, netCfg, time.Now())

	now := time.Now()
	extra := &domain.TransitionExtra{
		OrderID:     &req.OrderID,
		UserID:      req.UserID,
		AllocatedAt: &now,
	}

	for i := range candidates {
		w, err := a.repo.TransitionStatus(ctx, candidates[i].Wallet.ID,
			domain.WalletStatusAvailable, domain.WalletStatusOccupied, extra)
		if err == nil {
			metrics.AllocTotal.WithLabelValues(string(req.Network), string(strategy), "ok").Inc()
			logger.Info(ctx, "✅ 钱包分配成功",
				zap.Int64("wallet_id", w.ID),
				zap.Int64("order_id", req.OrderID),
				zap.String("network", string(req.Network)),
				zap.String("strategy", string(strategy)),
				zap.Float64("score", candidates[i].Score))
			return w, nil
		}
		if xerr.Is(err, xerr.Conflict) {
			// 别的分配请求抢先占了这个钱包，顺位下一个
			metrics.AllocCASRetry.WithLabelValues(string(req.Network)).Inc()
			continue
		}
		return nil, err
	}

	// 候选耗尽：每一个都被并发请求抢走了
	metrics.AllocTotal.WithLabelValues(string(req.Network), string(strategy), "conflict").Inc()
	logger.Warn(ctx, "候选耗尽，池子被抢空",
		zap.String("network", string(req.Network)),
		zap.Int("candidates", len(candidates)))
	return nil, xerr.NewErrCode(xerr.NoWalletAvailable)
}

// Release 释放钱包，归属必须匹配
func (a *Allocator) Release(ctx context.Context, walletID, orderID int64) error {
	w, err := a.repo.ReleaseOwned(ctx, walletID, orderID)
	if err != nil {
		switch xerr.CodeOf(err) {
		case xerr.OwnershipMismatch:
			metrics.ReleaseTotal.WithLabelValues("unknown", "ownership_mismatch").Inc()
			logger.Warn(ctx, "❌ 非归属订单尝试释放钱包",
				zap.Int64("wallet_id", walletID),
				zap.Int64("order_id", orderID))
		case xerr.RecordNotFound:
			metrics.ReleaseTotal.WithLabelValues("unknown", "not_found").Inc()
		}
		return err
	}

	metrics.ReleaseTotal.WithLabelValues(string(w.Network), "ok").Inc()
	logger.Info(ctx, "钱包已释放",
		zap.Int64("wallet_id", walletID),
		zap.Int64("order_id", orderID))
	return nil
}
