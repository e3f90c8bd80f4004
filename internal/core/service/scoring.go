package service

import (
	"math"
	"sort"
	"time"

	"usdtpool.com/internal/domain"
)

// Strategy 分配策略，封闭枚举 + 固定权重结构
// (不用自由字典，避免配错权重)
type Strategy string

const (
	StrategyBalanced         Strategy = "BALANCED"
	StrategyRiskMinimizing   Strategy = "RISK_MINIMIZING"
	StrategyPerformance      Strategy = "PERFORMANCE"
	StrategyCostOptimized    Strategy = "COST_OPTIMIZED"
	StrategyHighAvailability Strategy = "HIGH_AVAILABILITY"
)

// ParseStrategy 空串回退 BALANCED，非法值返回 false
func ParseStrategy(s string) (Strategy, bool) {
	if s == "" {
		return StrategyBalanced, true
	}
	switch Strategy(s) {
	case StrategyBalanced, StrategyRiskMinimizing, StrategyPerformance,
		StrategyCostOptimized, StrategyHighAvailability:
		return Strategy(s), true
	}
	return "", false
}

// Weights 五个子分的权重，和必须为 1.0
type Weights struct {
	Risk         float64 `mapstructure:"risk"`
	Performance  float64 `mapstructure:"performance"`
	Availability float64 `mapstructure:"availability"`
	Load         float64 `mapstructure:"load"`
	Cost         float64 `mapstructure:"cost"`
}

func (w Weights) sum() float64 {
	return w.Risk + w.Performance + w.Availability + w.Load + w.Cost
}

// ScoringConfig 评分参数，全部可配
type ScoringConfig struct {
	Weights     map[Strategy]Weights
	RiskPenalty map[domain.RiskLevel]float64

	PerWalletLimit int64   // 单钱包本期用量上限 (负载子分分母)
	Epsilon        float64 // 分数差小于它按并列处理

	IdleSaturation    time.Duration // 空闲满这么久，空闲度子分拿满分
	LatencySaturation int64         // 平均延迟到这个毫秒数，延迟项归零
}

// DefaultScoringConfig 缺省权重表 (管理端可在配置里覆盖)
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Weights: map[Strategy]Weights{
			StrategyBalanced:         {Risk: 0.25, Performance: 0.25, Availability: 0.25, Load: 0.15, Cost: 0.10},
			StrategyRiskMinimizing:   {Risk: 0.50, Performance: 0.15, Availability: 0.15, Load: 0.10, Cost: 0.10},
			StrategyPerformance:      {Risk: 0.15, Performance: 0.40, Availability: 0.20, Load: 0.15, Cost: 0.10},
			StrategyCostOptimized:    {Risk: 0.10, Performance: 0.15, Availability: 0.15, Load: 0.25, Cost: 0.35},
			StrategyHighAvailability: {Risk: 0.15, Performance: 0.20, Availability: 0.45, Load: 0.15, Cost: 0.05},
		},
		RiskPenalty: map[domain.RiskLevel]float64{
			domain.RiskLow:    0,
			domain.RiskMedium: 0.4,
			domain.RiskHigh:   0.8,
		},
		PerWalletLimit:    100,
		Epsilon:           1e-6,
		IdleSaturation:    24 * time.Hour,
		LatencySaturation: 5000,
	}
}

// Validate 权重和不为 1 直接拒绝加载
func (c *ScoringConfig) Validate() bool {
	for _, w := range c.Weights {
		if math.Abs(w.sum()-1.0) > 1e-6 {
			return false
		}
	}
	return c.PerWalletLimit > 0
}

// Scorer 评分引擎：纯函数，只看钱包快照和网络配置
// 参数从 source 取，每次打分拿当前快照，配置热更新即时生效
type Scorer struct {
	source func() *ScoringConfig
}

// NewScorer 固定参数的评分引擎，nil 用内置缺省
func NewScorer(cfg *ScoringConfig) *Scorer {
	if cfg == nil {
		cfg = DefaultScoringConfig()
	}
	return NewScorerSource(func() *ScoringConfig { return cfg })
}

// NewScorerSource 评分参数跟着配置热更新走
func NewScorerSource(source func() *ScoringConfig) *Scorer {
	return &Scorer{source: source}
}

// Score 综合适配度，落在 [0,1]
func (s *Scorer) Score(w *domain.Wallet, strategy Strategy, netCfg domain.NetworkConfig, now time.Time) float64 {
	return score(s.source(), w, strategy, netCfg, now)
}

func score(cfg *ScoringConfig, w *domain.Wallet, strategy Strategy, netCfg domain.NetworkConfig, now time.Time) float64 {
	weights, ok := cfg.Weights[strategy]
	if !ok {
		weights = cfg.Weights[StrategyBalanced]
	}

	total := weights.Risk*riskScore(cfg, w) +
		weights.Performance*performanceScore(cfg, w) +
		weights.Availability*availabilityScore(cfg, w, now) +
		weights.Load*loadScore(cfg, w) +
		weights.Cost*costScore(netCfg)

	return clamp01(total)
}

// riskScore = 1 - 风险惩罚
func riskScore(cfg *ScoringConfig, w *domain.Wallet) float64 {
	return clamp01(1 - cfg.RiskPenalty[w.Risk])
}

// performanceScore 成功率为主，平均延迟做折减
// 没有样本 (外部指标还没同步过来) 给中性分 0.5，别饿死新钱包
func performanceScore(cfg *ScoringConfig, w *domain.Wallet) float64 {
	if w.SuccessRate < 0 {
		return 0.5
	}
	latency := 1.0
	if w.AvgLatencyMs >= 0 && cfg.LatencySaturation > 0 {
		latency = 1 - math.Min(1, float64(w.AvgLatencyMs)/float64(cfg.LatencySaturation))
	}
	return clamp01(0.7*clamp01(w.SuccessRate) + 0.3*latency)
}

// availabilityScore 空闲越久分越高 (损耗均衡)，从没分配过的拿满分
func availabilityScore(cfg *ScoringConfig, w *domain.Wallet, now time.Time) float64 {
	if w.LastAllocatedAt == nil {
		return 1
	}
	idle := now.Sub(*w.LastAllocatedAt)
	if idle <= 0 {
		return 0
	}
	return math.Min(1, float64(idle)/float64(cfg.IdleSaturation))
}

// loadScore = 1 - min(1, 本期用量/上限)
func loadScore(cfg *ScoringConfig, w *domain.Wallet) float64 {
	return 1 - math.Min(1, float64(w.CurrentPeriodUsage)/float64(cfg.PerWalletLimit))
}

// costScore = 1 - 网络费用归一化值，整个请求里是常量
func costScore(netCfg domain.NetworkConfig) float64 {
	return clamp01(1 - netCfg.FeeScore)
}

// Candidate 排好序的候选
type Candidate struct {
	Wallet domain.Wallet
	Score  float64
}

// Rank 打分并降序排序，整批用同一份参数快照
// 先严格按 (分数, 计数器, id) 排出确定全序，再把 epsilon 并列区段
// 单独按 (transaction_count, id) 重排 — 近似相等不传递，不能直接进比较器
func (s *Scorer) Rank(ws []domain.Wallet, strategy Strategy, netCfg domain.NetworkConfig, now time.Time) []Candidate {
	cfg := s.source()

	candidates := make([]Candidate, 0, len(ws))
	for i := range ws {
		candidates = append(candidates, Candidate{
			Wallet: ws[i],
			Score:  score(cfg, &ws[i], strategy, netCfg, now),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Wallet.TransactionCount != b.Wallet.TransactionCount {
			return a.Wallet.TransactionCount < b.Wallet.TransactionCount
		}
		return a.Wallet.ID < b.Wallet.ID
	})

	// 并列区段：从区段首元素起，分差在 epsilon 内的连续一段
	for start := 0; start < len(candidates); {
		end := start + 1
		for end < len(candidates) && candidates[start].Score-candidates[end].Score <= cfg.Epsilon {
			end++
		}
		if end-start > 1 {
			seg := candidates[start:end]
			sort.Slice(seg, func(i, j int) bool {
				if seg[i].Wallet.TransactionCount != seg[j].Wallet.TransactionCount {
					return seg[i].Wallet.TransactionCount < seg[j].Wallet.TransactionCount
				}
				return seg[i].Wallet.ID < seg[j].Wallet.ID
			})
		}
		start = end
	}
	return candidates
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
