package domain

import "context"

// ChainTransfer 链上转账适配器
// 签名和广播在外部签名服务里完成，核心只关心成败和 txHash
// 实现方必须在 ctx 超时内返回，超时视为本次任务失败
type ChainTransfer interface {
	SendConsolidation(ctx context.Context, task *ConsolidationTask) (txHash string, err error)
}
