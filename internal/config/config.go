package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"usdtpool.com/internal/core/service"
	"usdtpool.com/internal/domain"
	"usdtpool.com/internal/infra/chain"
	"usdtpool.com/pkg/orm"
	"usdtpool.com/pkg/xredis"
)

// Config 服务总配置，对应 etc/pool.yaml
type Config struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`

	Http struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"http"`

	Mysql struct {
		DSN         string `mapstructure:"dsn"`
		MaxIdle     int    `mapstructure:"max_idle"`
		MaxOpen     int    `mapstructure:"max_open"`
		MaxLifetime int    `mapstructure:"max_lifetime"`
	} `mapstructure:"mysql"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Keystore struct {
		Secret string `mapstructure:"secret"` // 32 字节 hex，AES-GCM 密封私钥用
	} `mapstructure:"keystore"`

	Chain chain.Config `mapstructure:"chain"`

	Networks []NetworkItem `mapstructure:"networks"`

	Scoring ScoringItem `mapstructure:"scoring"`

	Consolidation struct {
		BatchSize   int           `mapstructure:"batch_size"`
		Concurrency int           `mapstructure:"concurrency"`
		TaskTimeout time.Duration `mapstructure:"task_timeout"`
		StaleAfter  time.Duration `mapstructure:"stale_after"`
	} `mapstructure:"consolidation"`

	Sweeper struct {
		ScanInterval    time.Duration `mapstructure:"scan_interval"`
		RecoverInterval time.Duration `mapstructure:"recover_interval"`
		LockTTL         time.Duration `mapstructure:"lock_ttl"`
		AutoExecute     bool          `mapstructure:"auto_execute"`
	} `mapstructure:"sweeper"`
}

// NetworkItem 单网络归集参数 (金额用字符串承载，避免 yaml float 精度坑)
type NetworkItem struct {
	Network                string  `mapstructure:"network"`
	ConsolidationThreshold string  `mapstructure:"consolidation_threshold"`
	MasterWalletAddress    string  `mapstructure:"master_wallet_address"`
	FeeEstimate            string  `mapstructure:"fee_estimate"`
	FeeScore               float64 `mapstructure:"fee_score"`
}

// ScoringItem 评分参数覆盖，缺省用内置权重表
type ScoringItem struct {
	Weights           map[string]service.Weights `mapstructure:"weights"`
	PerWalletLimit    int64                      `mapstructure:"per_wallet_limit"`
	Epsilon           float64                    `mapstructure:"epsilon"`
	IdleSaturation    time.Duration              `mapstructure:"idle_saturation"`
	LatencySaturation int64                      `mapstructure:"latency_saturation"`
}

// MysqlConfig 转成 orm 层配置
func (c *Config) MysqlConfig() *orm.Config {
	return &orm.Config{
		DSN:         c.Mysql.DSN,
		MaxIdle:     c.Mysql.MaxIdle,
		MaxOpen:     c.Mysql.MaxOpen,
		MaxLifetime: c.Mysql.MaxLifetime,
	}
}

// RedisConfig 转成 redis 层配置
func (c *Config) RedisConfig() *xredis.Config {
	return &xredis.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// NetworkTable 把配置项解析成领域网络表
// 单项配错只影响该网络 (Get 时报 InvalidNetworkConfig)，这里只拦字段级格式错误
func (c *Config) NetworkTable() (domain.NetworkTable, error) {
	table := make(domain.NetworkTable, len(c.Networks))
	for _, item := range c.Networks {
		network := domain.Network(item.Network)
		if !network.Valid() {
			return nil, fmt.Errorf("unknown network %q in config", item.Network)
		}

		threshold, err := decimal.NewFromString(item.ConsolidationThreshold)
		if err != nil {
			return nil, fmt.Errorf("network %s: bad consolidation_threshold %q", item.Network, item.ConsolidationThreshold)
		}
		fee := decimal.Zero
		if item.FeeEstimate != "" {
			fee, err = decimal.NewFromString(item.FeeEstimate)
			if err != nil {
				return nil, fmt.Errorf("network %s: bad fee_estimate %q", item.Network, item.FeeEstimate)
			}
		}

		table[network] = domain.NetworkConfig{
			Network:                network,
			ConsolidationThreshold: threshold,
			MasterWalletAddress:    item.MasterWalletAddress,
			FeeEstimate:            fee,
			FeeScore:               item.FeeScore,
		}
	}
	return table, nil
}

// ScoringConfig 内置缺省 + 配置覆盖，权重和不为 1 拒绝启动
func (c *Config) ScoringConfig() (*service.ScoringConfig, error) {
	cfg := service.DefaultScoringConfig()

	for name, weights := range c.Scoring.Weights {
		strategy, ok := service.ParseStrategy(name)
		if !ok {
			return nil, fmt.Errorf("unknown scoring strategy %q in config", name)
		}
		cfg.Weights[strategy] = weights
	}
	if c.Scoring.PerWalletLimit > 0 {
		cfg.PerWalletLimit = c.Scoring.PerWalletLimit
	}
	if c.Scoring.Epsilon > 0 {
		cfg.Epsilon = c.Scoring.Epsilon
	}
	if c.Scoring.IdleSaturation > 0 {
		cfg.IdleSaturation = c.Scoring.IdleSaturation
	}
	if c.Scoring.LatencySaturation > 0 {
		cfg.LatencySaturation = c.Scoring.LatencySaturation
	}

	if !cfg.Validate() {
		return nil, fmt.Errorf("scoring weights must sum to 1.0 per strategy")
	}
	return cfg, nil
}

// ConsolidationConfig 转成归集执行参数
func (c *Config) ConsolidationConfig() service.ConsolidationConfig {
	return service.ConsolidationConfig{
		BatchSize:   c.Consolidation.BatchSize,
		Concurrency: c.Consolidation.Concurrency,
		TaskTimeout: c.Consolidation.TaskTimeout,
		StaleAfter:  c.Consolidation.StaleAfter,
	}
}
