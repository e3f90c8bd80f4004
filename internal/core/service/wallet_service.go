package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"usdtpool.com/internal/domain"
	"usdtpool.com/internal/infra/keygen"
	"usdtpool.com/pkg/logger"
	"usdtpool.com/pkg/metrics"
	"usdtpool.com/pkg/xerr"
)

const (
	statsCacheKey = "pool:stats"
	statsCacheTTL = 30 * time.Second
	maxBatchGen   = 200
)

// WalletService 钱包池管理：生成、导入、状态覆盖、统计
type WalletService struct {
	repo domain.WalletRepo
	gen  *keygen.Generator
	rdb  *redis.Client
	sf   singleflight.Group
}

func NewWalletService(repo domain.WalletRepo, gen *keygen.Generator, rdb *redis.Client) *WalletService {
	return &WalletService{repo: repo, gen: gen, rdb: rdb}
}

// Generate 批量生成钱包，入池即 AVAILABLE
// 新生成的密钥没有历史，风险等级给 LOW
func (s *WalletService) Generate(ctx context.Context, network domain.Network, count int, namePrefix string) (int, error) {
	if !network.Valid() {
		return 0, xerr.New(xerr.RequestParamsError, "invalid network")
	}
	if count <= 0 || count > maxBatchGen {
		return 0, xerr.New(xerr.RequestParamsError,
			fmt.Sprintf("count must be in [1,%d]", maxBatchGen))
	}

	wallets := make([]*domain.Wallet, 0, count)
	for i := 0; i < count; i++ {
		g, err := s.gen.Generate(network)
		if err != nil {
			return 0, err
		}
		wallets = append(wallets, &domain.Wallet{
			Network:             network,
			Address:             g.Address,
			Name:                fmt.Sprintf("%s-%d", namePrefix, i+1),
			EncryptedPrivateKey: g.EncryptedPrivateKey,
			Status:              domain.WalletStatusAvailable,
			Risk:                domain.RiskLow,
		})
	}

	success, err := s.repo.CreateBatch(ctx, wallets)
	if err != nil {
		return 0, err
	}
	s.invalidateStats(ctx)

	logger.Info(ctx, "✅ 批量生成钱包",
		zap.String("network", string(network)),
		zap.Int("requested", count),
		zap.Int("success", success))
	return success, nil
}

// Import 导入外部私钥，地址由服务端派生
// 外部密钥来历不明，风险等级给 MEDIUM，等外部风控重新评定
func (s *WalletService) Import(ctx context.Context, network domain.Network, privateKeyHex, name string) (*domain.Wallet, error) {
	if !network.Valid() {
		return nil, xerr.New(xerr.RequestParamsError, "invalid network")
	}

	g, err := s.gen.Import(network, privateKeyHex)
	if err != nil {
		return nil, err
	}

	w := &domain.Wallet{
		Network:             network,
		Address:             g.Address,
		Name:                name,
		EncryptedPrivateKey: g.EncryptedPrivateKey,
		Status:              domain.WalletStatusAvailable,
		Risk:                domain.RiskMedium,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)

	logger.Info(ctx, "✅ 导入钱包",
		zap.String("network", string(network)),
		zap.String("address", g.Address))
	return w, nil
}

// SetStatus 管理员状态覆盖 (维护/停用/重新启用)
func (s *WalletService) SetStatus(ctx context.Context, id int64, status domain.WalletStatus) (*domain.Wallet, error) {
	if !status.Valid() || status == domain.WalletStatusOccupied {
		// OCCUPIED 只能由分配器经 CAS 进入，管理端不许直接设
		return nil, xerr.New(xerr.RequestParamsError, "invalid target status")
	}

	w, err := s.repo.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)

	logger.Warn(ctx, "管理员覆盖钱包状态",
		zap.Int64("wallet_id", id),
		zap.String("status", string(status)))
	return w, nil
}

// ForceRelease 强制释放 OCCUPIED 钱包 (订单异常时的管理操作)
func (s *WalletService) ForceRelease(ctx context.Context, id int64) (*domain.Wallet, error) {
	w, err := s.repo.TransitionStatus(ctx, id,
		domain.WalletStatusOccupied, domain.WalletStatusAvailable, nil)
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)

	logger.Warn(ctx, "管理员强制释放钱包", zap.Int64("wallet_id", id))
	return w, nil
}

// List 管理后台分页列表
func (s *WalletService) List(ctx context.Context, q domain.ListQuery) ([]domain.Wallet, int64, error) {
	return s.repo.List(ctx, q)
}

// UserWallets 指定用户当前占用的钱包
func (s *WalletService) UserWallets(ctx context.Context, userID int64) ([]domain.Wallet, error) {
	return s.repo.FindByUser(ctx, userID)
}

// Stats 池子统计，redis 缓存 + singleflight 防击穿 (管理后台轮询很勤)
func (s *WalletService) Stats(ctx context.Context) (*domain.PoolStats, error) {
	if s.rdb != nil {
		if b, err := s.rdb.Get(ctx, statsCacheKey).Bytes(); err == nil {
			var cached domain.PoolStats
			if err := json.Unmarshal(b, &cached); err == nil {
				return &cached, nil
			}
			// 缓存脏了就删掉，避免持续命中错误
			_ = s.rdb.Del(ctx, statsCacheKey).Err()
		}
	}

	v, err, _ := s.sf.Do(statsCacheKey, func() (interface{}, error) {
		stats, err := s.repo.Stats(ctx)
		if err != nil {
			return nil, err
		}

		s.exportGauges(stats)

		if s.rdb != nil {
			if b, err := json.Marshal(stats); err == nil {
				// 加随机抖动，防止缓存同时过期
				_ = s.rdb.Set(ctx, statsCacheKey, b, withJitter(statsCacheTTL, 5*time.Second)).Err()
			}
		}
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.PoolStats), nil
}

// exportGauges 把聚合结果同步到 prometheus gauge
func (s *WalletService) exportGauges(stats *domain.PoolStats) {
	for network, count := range stats.ByNetwork {
		metrics.PoolWallets.WithLabelValues(string(network), "ALL").Set(float64(count))
	}
	for status, count := range stats.ByStatus {
		metrics.PoolWallets.WithLabelValues("ALL", string(status)).Set(float64(count))
	}
}

func (s *WalletService) invalidateStats(ctx context.Context) {
	if s.rdb != nil {
		_ = s.rdb.Del(ctx, statsCacheKey).Err()
	}
}

func withJitter(ttl, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}
