package persistence

import (
	"context"

	"gorm.io/gorm"
	"usdtpool.com/internal/domain"
)

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// 确保 Repo 实现了所有接口
var (
	_ domain.WalletRepo = (*Repo)(nil)
	_ domain.TaskRepo   = (*Repo)(nil)
)

type ctxKey string

const txKey ctxKey = "tx_db"

// Transaction 实现事务，把 tx 注入到 context 里往下传
func (r *Repo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey, tx)
		return fn(txCtx)
	})
}

// conn 如果 context 里有事务对象，就用事务对象
func (r *Repo) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
