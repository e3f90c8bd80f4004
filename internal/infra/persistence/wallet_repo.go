package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/orm"
	"usdtpool.com/pkg/xerr"
)

// Create 单个入库 (导入钱包用)
func (r *Repo) Create(ctx context.Context, w *domain.Wallet) error {
	if err := r.conn(ctx).WithContext(ctx).Create(w).Error; err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("create wallet failed: %v", err))
	}
	return nil
}

// CreateBatch 批量入库 (批量生成用)，逐条插入统计成功数
// 只有地址撞唯一索引才跳过，其他数据库错误直接报出去，
// 不然库挂了会被当成"部分成功"糊过去
func (r *Repo) CreateBatch(ctx context.Context, ws []*domain.Wallet) (int, error) {
	success := 0
	for _, w := range ws {
		if err := r.conn(ctx).WithContext(ctx).Create(w).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return success, xerr.New(xerr.DbError, fmt.Sprintf("batch create wallets failed: %v", err))
		}
		success++
	}
	if success == 0 && len(ws) > 0 {
		return 0, xerr.New(xerr.DbError, "batch create wallets failed: all rows rejected")
	}
	return success, nil
}

func (r *Repo) GetByID(ctx context.Context, id int64) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.conn(ctx).WithContext(ctx).First(&w, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.NewErrCode(xerr.RecordNotFound)
		}
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("get wallet failed: %v", err))
	}
	return &w, nil
}

// FindAvailable 取全部 AVAILABLE，顺序交给评分引擎
func (r *Repo) FindAvailable(ctx context.Context, network domain.Network) ([]domain.Wallet, error) {
	var ws []domain.Wallet
	err := r.conn(ctx).WithContext(ctx).
		Where("network = ? AND status = ?", network, domain.WalletStatusAvailable).
		Find(&ws).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("find available failed: %v", err))
	}
	return ws, nil
}

// FindFunded 归集扫描候选：OCCUPIED 或有钱的 AVAILABLE，排除维护/停用
func (r *Repo) FindFunded(ctx context.Context, network domain.Network) ([]domain.Wallet, error) {
	var ws []domain.Wallet
	err := r.conn(ctx).WithContext(ctx).
		Where("network = ? AND status IN ? AND balance > 0",
			network,
			[]domain.WalletStatus{domain.WalletStatusAvailable, domain.WalletStatusOccupied}).
		Find(&ws).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("find funded failed: %v", err))
	}
	return ws, nil
}

func (r *Repo) FindByUser(ctx context.Context, userID int64) ([]domain.Wallet, error) {
	var ws []domain.Wallet
	err := r.conn(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&ws).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("find by user failed: %v", err))
	}
	return ws, nil
}

// List 管理后台分页列表
func (r *Repo) List(ctx context.Context, q domain.ListQuery) ([]domain.Wallet, int64, error) {
	db := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{})
	if q.Network != "" {
		db = db.Where("network = ?", q.Network)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, xerr.New(xerr.DbError, fmt.Sprintf("count wallets failed: %v", err))
	}

	var ws []domain.Wallet
	err := orm.ApplyPagination(db, q.Page, q.Limit).
		Order("id ASC").
		Find(&ws).Error
	if err != nil {
		return nil, 0, xerr.New(xerr.DbError, fmt.Sprintf("list wallets failed: %v", err))
	}
	return ws, total, nil
}

// TransitionStatus 核心 CAS：单行条件更新，靠 RowsAffected 判断有没有抢到
// WHERE status = from 保证并发下同一个钱包最多被一个分配请求拿走
func (r *Repo) TransitionStatus(ctx context.Context, id int64, from, to domain.WalletStatus, extra *domain.TransitionExtra) (*domain.Wallet, error) {
	updates := map[string]interface{}{
		"status": to,
	}

	switch {
	case to == domain.WalletStatusOccupied:
		if extra == nil || extra.OrderID == nil {
			return nil, xerr.New(xerr.RequestParamsError, "occupy requires order id")
		}
		updates["current_order_id"] = *extra.OrderID
		updates["user_id"] = extra.UserID
		at := time.Now()
		if extra.AllocatedAt != nil {
			at = *extra.AllocatedAt
		}
		updates["allocated_at"] = at
		updates["last_allocated_at"] = at
		// 本期负载计数跟着分配走，负载子分靠它
		updates["current_period_usage"] = gorm.Expr("current_period_usage + 1")
	case from == domain.WalletStatusOccupied:
		// 离开 OCCUPIED 必须清空归属字段，否则破坏不变式
		updates["current_order_id"] = nil
		updates["user_id"] = nil
		updates["allocated_at"] = nil
	}

	res := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("transition status failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		// 一行没更新：别人抢先改了状态 (或者钱包不存在)
		return nil, xerr.NewErrCode(xerr.Conflict)
	}

	w, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !w.CheckConsistency() {
		return nil, xerr.New(xerr.InconsistentWallet,
			fmt.Sprintf("wallet %d: status=%s current_order_id=%v", w.ID, w.Status, w.CurrentOrderID))
	}
	return w, nil
}

// ReleaseOwned 带归属校验的释放：WHERE 里除了状态还要匹配 current_order_id
// 读后写会有窗口 (钱包可能被释放又分给别的订单)，所以归属判断必须进 SQL
func (r *Repo) ReleaseOwned(ctx context.Context, id int64, orderID int64) (*domain.Wallet, error) {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ? AND status = ? AND current_order_id = ?",
			id, domain.WalletStatusOccupied, orderID).
		Updates(map[string]interface{}{
			"status":           domain.WalletStatusAvailable,
			"current_order_id": nil,
			"user_id":          nil,
			"allocated_at":     nil,
		})
	if res.Error != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("release wallet failed: %v", res.Error))
	}
	if res.RowsAffected > 0 {
		return r.GetByID(ctx, id)
	}

	// 没更新到，区分三种失败原因
	w, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err // RecordNotFound 或 DbError
	}
	if w.Status == domain.WalletStatusOccupied && (w.CurrentOrderID == nil || *w.CurrentOrderID != orderID) {
		return nil, xerr.New(xerr.OwnershipMismatch,
			fmt.Sprintf("wallet %d owned by another order", id))
	}
	return nil, xerr.NewErrCode(xerr.Conflict)
}

// SetStatus 管理员强制覆盖，不做前置状态校验
// 目标状态不是 OCCUPIED 时顺手清掉归属字段，保住不变式
func (r *Repo) SetStatus(ctx context.Context, id int64, to domain.WalletStatus) (*domain.Wallet, error) {
	updates := map[string]interface{}{"status": to}
	if to != domain.WalletStatusOccupied {
		updates["current_order_id"] = nil
		updates["user_id"] = nil
		updates["allocated_at"] = nil
	}

	res := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("set status failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		return nil, xerr.NewErrCode(xerr.RecordNotFound)
	}
	return r.GetByID(ctx, id)
}

// UpdateBalance 幂等余额更新：带着更旧 synced_at 的调用是 no-op
// 外部同步任务乱序重放也不会把新余额冲掉 (last-sync-wins 看时间戳不看调用顺序)
func (r *Repo) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, syncedAt time.Time) error {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ? AND (last_sync_at IS NULL OR last_sync_at <= ?)", id, syncedAt).
		Updates(map[string]interface{}{
			"balance":      balance,
			"last_sync_at": syncedAt,
		})
	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("update balance failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		// 可能是过期同步 (no-op)，也可能钱包不存在，后者要报出去
		var count int64
		if err := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
			Where("id = ?", id).Count(&count).Error; err != nil {
			return xerr.New(xerr.DbError, fmt.Sprintf("check wallet failed: %v", err))
		}
		if count == 0 {
			return xerr.NewErrCode(xerr.RecordNotFound)
		}
	}
	return nil
}

// UpdateMetrics 外部风控/监控同步滚动性能指标
func (r *Repo) UpdateMetrics(ctx context.Context, id int64, successRate float64, avgLatencyMs int64) error {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"success_rate":   successRate,
			"avg_latency_ms": avgLatencyMs,
		})
	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("update metrics failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		return xerr.NewErrCode(xerr.RecordNotFound)
	}
	return nil
}

// RecordUsage 计数器累加 (gorm.Expr 加法，并发增量不丢)
func (r *Repo) RecordUsage(ctx context.Context, id int64, txDelta int64, receivedDelta decimal.Decimal) error {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"transaction_count":    gorm.Expr("transaction_count + ?", txDelta),
			"total_received":       gorm.Expr("total_received + ?", receivedDelta),
			"current_period_usage": gorm.Expr("current_period_usage + ?", txDelta),
		})
	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("record usage failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		return xerr.NewErrCode(xerr.RecordNotFound)
	}
	return nil
}

// Stats 管理后台总览聚合
func (r *Repo) Stats(ctx context.Context) (*domain.PoolStats, error) {
	db := r.conn(ctx).WithContext(ctx)

	stats := &domain.PoolStats{
		ByStatus:     make(map[domain.WalletStatus]int64),
		ByNetwork:    make(map[domain.Network]int64),
		ByRisk:       make(map[domain.RiskLevel]int64),
		TotalBalance: decimal.Zero,
	}

	type group struct {
		Key   string
		Count int64
	}

	var byStatus []group
	if err := db.Model(&domain.Wallet{}).
		Select("status AS `key`, COUNT(*) AS count").
		Group("status").Scan(&byStatus).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("stats by status failed: %v", err))
	}
	for _, g := range byStatus {
		stats.ByStatus[domain.WalletStatus(g.Key)] = g.Count
		stats.Total += g.Count
	}

	var byNetwork []group
	if err := db.Model(&domain.Wallet{}).
		Select("network AS `key`, COUNT(*) AS count").
		Group("network").Scan(&byNetwork).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("stats by network failed: %v", err))
	}
	for _, g := range byNetwork {
		stats.ByNetwork[domain.Network(g.Key)] = g.Count
	}

	var byRisk []group
	if err := db.Model(&domain.Wallet{}).
		Select("risk_level AS `key`, COUNT(*) AS count").
		Group("risk_level").Scan(&byRisk).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("stats by risk failed: %v", err))
	}
	for _, g := range byRisk {
		stats.ByRisk[domain.RiskLevel(g.Key)] = g.Count
	}

	var totalBalance decimal.NullDecimal
	if err := db.Model(&domain.Wallet{}).
		Select("SUM(balance)").Scan(&totalBalance).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("stats balance failed: %v", err))
	}
	if totalBalance.Valid {
		stats.TotalBalance = totalBalance.Decimal
	}

	occupied := stats.ByStatus[domain.WalletStatusOccupied]
	available := stats.ByStatus[domain.WalletStatusAvailable]
	if occupied+available > 0 {
		stats.Utilization = float64(occupied) / float64(occupied+available)
	}
	return stats, nil
}
