package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Network 链类型 (USDT 的三种承载网络)
type Network string

const (
	NetworkTRC20 Network = "TRC20" // 波场
	NetworkERC20 Network = "ERC20" // 以太坊
	NetworkBEP20 Network = "BEP20" // 币安智能链
)

// AllNetworks 固定顺序，扫描和统计按这个顺序遍历
var AllNetworks = []Network{NetworkTRC20, NetworkERC20, NetworkBEP20}

func (n Network) Valid() bool {
	switch n {
	case NetworkTRC20, NetworkERC20, NetworkBEP20:
		return true
	}
	return false
}

// WalletStatus 钱包生命周期状态
type WalletStatus string

const (
	WalletStatusAvailable   WalletStatus = "AVAILABLE"   // 可分配
	WalletStatusOccupied    WalletStatus = "OCCUPIED"    // 已被订单占用
	WalletStatusMaintenance WalletStatus = "MAINTENANCE" // 维护中 (管理员手动)
	WalletStatusDisabled    WalletStatus = "DISABLED"    // 停用，需显式重新启用
)

func (s WalletStatus) Valid() bool {
	switch s {
	case WalletStatusAvailable, WalletStatusOccupied, WalletStatusMaintenance, WalletStatusDisabled:
		return true
	}
	return false
}

// RiskLevel 风险等级，导入/生成时评定，外部风控可以重新计算
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Wallet 池化钱包实体
type Wallet struct {
	ID      int64   `gorm:"primaryKey"`
	Network Network `gorm:"size:10;not null;uniqueIndex:idx_net_addr;index:idx_net_status,priority:1"`
	Address string  `gorm:"size:64;not null;uniqueIndex:idx_net_addr"`
	Name    string  `gorm:"size:64"`

	// 私钥密文，明文只存在于签名边界之外的外部服务
	EncryptedPrivateKey string `gorm:"type:text" json:"-"`

	Balance decimal.Decimal `gorm:"type:decimal(36,18);default:0"`
	Status  WalletStatus    `gorm:"size:16;not null;index:idx_net_status,priority:2"`
	Risk    RiskLevel       `gorm:"column:risk_level;size:8;not null"`

	// 使用计数器，只增不减 (并发下必须用加法更新，不能覆盖)
	TransactionCount   int64           `gorm:"default:0"`
	TotalReceived      decimal.Decimal `gorm:"type:decimal(36,18);default:0"`
	CurrentPeriodUsage int64           `gorm:"default:0"`

	// 外部同步的滚动性能指标，-1 表示还没有样本
	SuccessRate  float64 `gorm:"default:-1"`
	AvgLatencyMs int64   `gorm:"default:-1"`

	// 不变式：CurrentOrderID != nil <=> Status == OCCUPIED
	CurrentOrderID *int64     `gorm:"index"`
	UserID         *int64     `gorm:"index"`
	AllocatedAt    *time.Time
	// 上一次被分配的时间，用于空闲度打分 (释放后保留)
	LastAllocatedAt *time.Time
	LastSyncAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckConsistency 校验订单归属不变式，违反直接报错，绝不静默修复
func (w *Wallet) CheckConsistency() bool {
	occupied := w.Status == WalletStatusOccupied
	hasOrder := w.CurrentOrderID != nil
	return occupied == hasOrder
}

// TransitionExtra OCCUPY 时携带的分配信息，RELEASE 时全部清空
type TransitionExtra struct {
	OrderID     *int64
	UserID      *int64
	AllocatedAt *time.Time
}

// ListQuery 管理后台分页查询条件
type ListQuery struct {
	Network Network
	Status  WalletStatus
	Page    int
	Limit   int
}

// PoolStats 按状态/网络/风险聚合的池子统计
type PoolStats struct {
	Total        int64                  `json:"total"`
	ByStatus     map[WalletStatus]int64 `json:"by_status"`
	ByNetwork    map[Network]int64      `json:"by_network"`
	ByRisk       map[RiskLevel]int64    `json:"by_risk"`
	TotalBalance decimal.Decimal        `json:"total_balance"`
	Utilization  float64                `json:"utilization"` // occupied / (occupied + available)
}

// WalletRepo 钱包仓储接口
type WalletRepo interface {
	Create(ctx context.Context, w *Wallet) error
	CreateBatch(ctx context.Context, ws []*Wallet) (int, error)
	GetByID(ctx context.Context, id int64) (*Wallet, error)

	// FindAvailable 按网络取全部 AVAILABLE 钱包，顺序无关 (评分引擎重排)
	FindAvailable(ctx context.Context, network Network) ([]Wallet, error)
	// FindFunded 归集扫描用：非 MAINTENANCE/DISABLED 且余额 > 0
	FindFunded(ctx context.Context, network Network) ([]Wallet, error)
	FindByUser(ctx context.Context, userID int64) ([]Wallet, error)
	List(ctx context.Context, q ListQuery) ([]Wallet, int64, error)

	// TransitionStatus 核心 CAS：当前状态 != from 时返回 Conflict，一行都不更新
	TransitionStatus(ctx context.Context, id int64, from, to WalletStatus, extra *TransitionExtra) (*Wallet, error)
	// ReleaseOwned CAS OCCUPIED -> AVAILABLE，WHERE 里带上 current_order_id
	// 归属不匹配返回 OwnershipMismatch，钱包保持原样
	ReleaseOwned(ctx context.Context, id int64, orderID int64) (*Wallet, error)
	// SetStatus 管理员强制覆盖，任意状态 -> MAINTENANCE/DISABLED/AVAILABLE
	SetStatus(ctx context.Context, id int64, to WalletStatus) (*Wallet, error)

	// UpdateBalance 幂等更新余额：synced_at 比库里旧则 no-op (last-sync-wins)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, syncedAt time.Time) error
	UpdateMetrics(ctx context.Context, id int64, successRate float64, avgLatencyMs int64) error
	// RecordUsage 计数器累加，并发安全 (加法，不是覆盖)
	RecordUsage(ctx context.Context, id int64, txDelta int64, receivedDelta decimal.Decimal) error

	Stats(ctx context.Context) (*PoolStats, error)
}
