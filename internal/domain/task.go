package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus 归集任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusExecuting TaskStatus = "EXECUTING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// ConsolidationTask 归集任务：把一个钱包的余额扫进主钱包
// 扫描器创建，执行器负责终态流转
type ConsolidationTask struct {
	ID             int64   `gorm:"primaryKey"`
	TaskID         string  `gorm:"size:40;uniqueIndex"` // 对外的任务号 (uuid)
	SourceWalletID int64   `gorm:"index;not null"`
	Network        Network `gorm:"size:10;not null;index"`
	FromAddress    string  `gorm:"size:64;not null"`
	ToAddress      string  `gorm:"size:64;not null"` // 主钱包地址

	// 实际归集金额 = 余额 - 手续费预留
	Amount      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	FeeEstimate decimal.Decimal `gorm:"type:decimal(36,18);not null"`

	Status   TaskStatus `gorm:"size:16;not null;index"`
	TxHash   string     `gorm:"size:80"`
	ErrorMsg string     `gorm:"size:255"`

	ExecutedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TaskRepo 归集任务仓储接口
type TaskRepo interface {
	// ReplacePending 每次扫描重算候选：删掉该网络的旧 PENDING，插入新批次
	// 扫描无隐藏记忆，PENDING 永远反映最近一次扫描的结果
	ReplacePending(ctx context.Context, network Network, tasks []*ConsolidationTask) error
	GetByTaskIDs(ctx context.Context, taskIDs []string) ([]ConsolidationTask, error)
	ListPending(ctx context.Context, network Network) ([]ConsolidationTask, error)

	// ClaimExecuting CAS PENDING -> EXECUTING，两个执行器不会抢到同一个任务
	ClaimExecuting(ctx context.Context, id int64) error
	// Finish CAS EXECUTING -> COMPLETED/FAILED
	Finish(ctx context.Context, id int64, status TaskStatus, txHash, errMsg string) error
	// FailStaleExecuting 崩溃恢复：把超时没到终态的 EXECUTING 标记 FAILED
	FailStaleExecuting(ctx context.Context, olderThan time.Duration) (int64, error)
}
