package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	"usdtpool.com/pkg/xerr"
)

// NetworkConfig 单个网络的归集参数，启动时从配置加载，调用时显式传入
// (不做隐藏单例，方便测试拿假阈值跑)
type NetworkConfig struct {
	Network                Network
	ConsolidationThreshold decimal.Decimal // 归集阈值 (净额，扣完手续费后)
	MasterWalletAddress    string          // 主钱包地址
	FeeEstimate            decimal.Decimal // 手续费预留
	FeeScore               float64         // 网络费用归一化值 [0,1]，成本子分用
}

// NetworkTable 全部网络配置
type NetworkTable map[Network]NetworkConfig

// Get 取网络配置，缺主钱包或阈值直接报 InvalidNetworkConfig
func (t NetworkTable) Get(n Network) (NetworkConfig, error) {
	cfg, ok := t[n]
	if !ok {
		return NetworkConfig{}, xerr.New(xerr.InvalidNetworkConfig,
			fmt.Sprintf("network %s not configured", n))
	}
	if cfg.MasterWalletAddress == "" {
		return NetworkConfig{}, xerr.New(xerr.InvalidNetworkConfig,
			fmt.Sprintf("network %s missing master wallet", n))
	}
	if cfg.ConsolidationThreshold.LessThanOrEqual(decimal.Zero) {
		return NetworkConfig{}, xerr.New(xerr.InvalidNetworkConfig,
			fmt.Sprintf("network %s missing consolidation threshold", n))
	}
	return cfg, nil
}
