package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/xerr"
)

// ReplacePending 扫描结果落库：同一事务里先清掉该网络的旧 PENDING 再插新批次
// PENDING 永远只反映最近一次扫描，没有跨次记忆
func (r *Repo) ReplacePending(ctx context.Context, network domain.Network, tasks []*domain.ConsolidationTask) error {
	err := r.conn(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("network = ? AND status = ?", network, domain.TaskStatusPending).
			Delete(&domain.ConsolidationTask{}).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		return tx.Create(&tasks).Error
	})
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("replace pending tasks failed: %v", err))
	}
	return nil
}

func (r *Repo) GetByTaskIDs(ctx context.Context, taskIDs []string) ([]domain.ConsolidationTask, error) {
	var tasks []domain.ConsolidationTask
	err := r.conn(ctx).WithContext(ctx).
		Where("task_id IN ?", taskIDs).
		Find(&tasks).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("get tasks failed: %v", err))
	}
	return tasks, nil
}

func (r *Repo) ListPending(ctx context.Context, network domain.Network) ([]domain.ConsolidationTask, error) {
	db := r.conn(ctx).WithContext(ctx).
		Where("status = ?", domain.TaskStatusPending)
	if network != "" {
		db = db.Where("network = ?", network)
	}

	var tasks []domain.ConsolidationTask
	if err := db.Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("list pending tasks failed: %v", err))
	}
	return tasks, nil
}

// ClaimExecuting CAS PENDING -> EXECUTING，抢不到说明别的执行器拿走了
func (r *Repo) ClaimExecuting(ctx context.Context, id int64) error {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.ConsolidationTask{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":      domain.TaskStatusExecuting,
			"executed_at": time.Now(),
		})
	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("claim task failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		return xerr.NewErrCode(xerr.Conflict)
	}
	return nil
}

// Finish CAS EXECUTING -> 终态，只有持有任务的执行器能落终态
func (r *Repo) Finish(ctx context.Context, id int64, status domain.TaskStatus, txHash, errMsg string) error {
	if status != domain.TaskStatusCompleted && status != domain.TaskStatusFailed {
		return xerr.New(xerr.RequestParamsError, "finish requires a terminal status")
	}

	res := r.conn(ctx).WithContext(ctx).Model(&domain.ConsolidationTask{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusExecuting).
		Updates(map[string]interface{}{
			"status":    status,
			"tx_hash":   txHash,
			"error_msg": errMsg,
		})
	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("finish task failed: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		return xerr.NewErrCode(xerr.Conflict)
	}
	return nil
}

// FailStaleExecuting 崩溃恢复：执行器挂掉会留下悬空的 EXECUTING
// 超过时限的统一标记 FAILED，下次扫描按当前余额重算，不会重复扣钱
func (r *Repo) FailStaleExecuting(ctx context.Context, olderThan time.Duration) (int64, error) {
	deadline := time.Now().Add(-olderThan)
	res := r.conn(ctx).WithContext(ctx).Model(&domain.ConsolidationTask{}).
		Where("status = ? AND executed_at < ?", domain.TaskStatusExecuting, deadline).
		Updates(map[string]interface{}{
			"status":    domain.TaskStatusFailed,
			"error_msg": "executor timeout: task stuck in EXECUTING",
		})
	if res.Error != nil {
		return 0, xerr.New(xerr.DbError, fmt.Sprintf("fail stale tasks failed: %v", res.Error))
	}
	return res.RowsAffected, nil
}
