package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/logger"
	"usdtpool.com/pkg/metrics"
	"usdtpool.com/pkg/xerr"
)

// ConsolidationConfig 归集执行参数
type ConsolidationConfig struct {
	BatchSize   int           // 单次最多执行多少个任务，控制爆炸半径
	Concurrency int           // 批内并发度，慢转账不能把别的任务堵在后面
	TaskTimeout time.Duration // 单任务硬超时，超时标 FAILED 不留悬挂
	StaleAfter  time.Duration // EXECUTING 超过这个时长按崩溃处理
}

func (c *ConsolidationConfig) withDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 60 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
}

// NetworkSkip 配置缺失的网络：跳过并上报，不让一个网络拖垮整次扫描
type NetworkSkip struct {
	Network domain.Network `json:"network"`
	Reason  string         `json:"reason"`
}

// ScanReport 一次扫描的产出
type ScanReport struct {
	Tasks   []*domain.ConsolidationTask `json:"tasks"`
	Skipped []NetworkSkip               `json:"skipped,omitempty"`
}

// Scanner 归集扫描器：纯读 + 推导，不改任何钱包状态
// 每次调用都从当前库存重算，调用之间没有隐藏记忆
type Scanner struct {
	repo domain.WalletRepo
}

func NewScanner(repo domain.WalletRepo) *Scanner {
	return &Scanner{repo: repo}
}

// Scan 逐网络找出 余额 - 手续费预留 >= 阈值 的钱包，生成候选任务
func (s *Scanner) Scan(ctx context.Context, table domain.NetworkTable) (*ScanReport, error) {
	report := &ScanReport{}

	for _, network := range domain.AllNetworks {
		cfg, err := table.Get(network)
		if err != nil {
			report.Skipped = append(report.Skipped, NetworkSkip{Network: network, Reason: err.Error()})
			logger.Warn(ctx, "网络配置缺失，跳过扫描",
				zap.String("network", string(network)),
				zap.Error(err))
			continue
		}

		wallets, err := s.repo.FindFunded(ctx, network)
		if err != nil {
			return nil, err
		}

		for i := range wallets {
			w := &wallets[i]
			amount := w.Balance.Sub(cfg.FeeEstimate)
			if amount.LessThan(cfg.ConsolidationThreshold) {
				continue
			}
			report.Tasks = append(report.Tasks, &domain.ConsolidationTask{
				TaskID:         uuid.NewString(),
				SourceWalletID: w.ID,
				Network:        network,
				FromAddress:    w.Address,
				ToAddress:      cfg.MasterWalletAddress,
				Amount:         amount,
				FeeEstimate:    cfg.FeeEstimate,
				Status:         domain.TaskStatusPending,
			})
		}
	}
	return report, nil
}

// NetworkStatistics 单网络归集就绪度
type NetworkStatistics struct {
	Network         domain.Network  `json:"network"`
	Configured      bool            `json:"configured"`
	Reason          string          `json:"reason,omitempty"`
	FundedWallets   int             `json:"funded_wallets"`
	EligibleWallets int             `json:"eligible_wallets"`
	EligibleAmount  decimal.Decimal `json:"eligible_amount"`
	Threshold       decimal.Decimal `json:"threshold"`
	FeeEstimate     decimal.Decimal `json:"fee_estimate"`
}

// Statistics 管理后台的归集就绪度聚合，纯推导
func (s *Scanner) Statistics(ctx context.Context, table domain.NetworkTable) ([]NetworkStatistics, error) {
	out := make([]NetworkStatistics, 0, len(domain.AllNetworks))

	for _, network := range domain.AllNetworks {
		stat := NetworkStatistics{Network: network, EligibleAmount: decimal.Zero}

		cfg, err := table.Get(network)
		if err != nil {
			stat.Reason = err.Error()
			out = append(out, stat)
			continue
		}
		stat.Configured = true
		stat.Threshold = cfg.ConsolidationThreshold
		stat.FeeEstimate = cfg.FeeEstimate

		wallets, err := s.repo.FindFunded(ctx, network)
		if err != nil {
			return nil, err
		}
		stat.FundedWallets = len(wallets)
		for i := range wallets {
			amount := wallets[i].Balance.Sub(cfg.FeeEstimate)
			if amount.GreaterThanOrEqual(cfg.ConsolidationThreshold) {
				stat.EligibleWallets++
				stat.EligibleAmount = stat.EligibleAmount.Add(amount)
			}
		}
		out = append(out, stat)
	}
	return out, nil
}

// TaskResult 单任务执行结果
type TaskResult struct {
	TaskID   string            `json:"task_id"`
	WalletID int64             `json:"wallet_id"`
	Network  domain.Network    `json:"network"`
	Amount   decimal.Decimal   `json:"amount"`
	Status   domain.TaskStatus `json:"status"`
	TxHash   string            `json:"tx_hash,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ExecuteResult 批次聚合结果
type ExecuteResult struct {
	ExecutedCount int          `json:"executed_count"`
	FailedCount   int          `json:"failed_count"`
	Details       []TaskResult `json:"details"`
}

// Consolidator 归集服务：扫描落库 + 批量执行
type Consolidator struct {
	walletRepo domain.WalletRepo
	taskRepo   domain.TaskRepo
	transfer   domain.ChainTransfer
	scanner    *Scanner
	networks   func() domain.NetworkTable
	breaker    *gobreaker.CircuitBreaker[string]
	cfg        ConsolidationConfig
}

func NewConsolidator(walletRepo domain.WalletRepo, taskRepo domain.TaskRepo,
	transfer domain.ChainTransfer, networks func() domain.NetworkTable,
	cfg ConsolidationConfig) *Consolidator {

	cfg.withDefaults()

	// 链上转账是唯一的长延迟外部调用，熔断保护别把故障节点打穿
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "chain-transfer",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Consolidator{
		walletRepo: walletRepo,
		taskRepo:   taskRepo,
		transfer:   transfer,
		scanner:    NewScanner(walletRepo),
		networks:   networks,
		breaker:    breaker,
		cfg:        cfg,
	}
}

// ScanAndStore 扫描并把候选落库：配置正常的网络 PENDING 整批替换
func (c *Consolidator) ScanAndStore(ctx context.Context) (*ScanReport, error) {
	table := c.networks()
	report, err := c.scanner.Scan(ctx, table)
	if err != nil {
		return nil, err
	}

	skipped := make(map[domain.Network]bool, len(report.Skipped))
	for _, s := range report.Skipped {
		skipped[s.Network] = true
	}

	byNetwork := make(map[domain.Network][]*domain.ConsolidationTask)
	for _, t := range report.Tasks {
		byNetwork[t.Network] = append(byNetwork[t.Network], t)
	}
	for _, network := range domain.AllNetworks {
		if skipped[network] {
			continue // 配置缺的网络保持原样，别误删人家的 PENDING
		}
		if err := c.taskRepo.ReplacePending(ctx, network, byNetwork[network]); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// Statistics 归集就绪度
func (c *Consolidator) Statistics(ctx context.Context) ([]NetworkStatistics, error) {
	return c.scanner.Statistics(ctx, c.networks())
}

// Execute 执行一批归集任务
// 批大小有上限；批内并发；任务相互独立，单个失败不影响其它任务
func (c *Consolidator) Execute(ctx context.Context, taskIDs []string) (*ExecuteResult, error) {
	if len(taskIDs) == 0 {
		return nil, xerr.New(xerr.RequestParamsError, "task_ids is empty")
	}

	tasks, err := c.taskRepo.GetByTaskIDs(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, xerr.NewErrCode(xerr.RecordNotFound)
	}
	if len(tasks) > c.cfg.BatchSize {
		tasks = tasks[:c.cfg.BatchSize]
	}

	results := make([]TaskResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i := range tasks {
		i := i
		g.Go(func() error {
			results[i] = c.executeOne(gctx, tasks[i])
			return nil // 单任务失败写进结果，不让 errgroup 取消整批
		})
	}
	_ = g.Wait()

	agg := &ExecuteResult{Details: results}
	for i := range results {
		if results[i].Status == domain.TaskStatusCompleted {
			agg.ExecutedCount++
		} else {
			agg.FailedCount++
		}
	}

	logger.Info(ctx, "归集批次完成",
		zap.Int("executed", agg.ExecutedCount),
		zap.Int("failed", agg.FailedCount))
	return agg, nil
}

func (c *Consolidator) executeOne(ctx context.Context, task domain.ConsolidationTask) TaskResult {
	res := TaskResult{
		TaskID:   task.TaskID,
		WalletID: task.SourceWalletID,
		Network:  task.Network,
		Amount:   task.Amount,
		Status:   domain.TaskStatusFailed,
	}

	// CAS 抢任务，抢不到说明别的执行器已经拿走或已终态
	if err := c.taskRepo.ClaimExecuting(ctx, task.ID); err != nil {
		res.Error = "task is not pending"
		metrics.ConsolidationTasks.WithLabelValues(string(task.Network), "skipped").Inc()
		return res
	}

	fail := func(msg string) TaskResult {
		_ = c.taskRepo.Finish(ctx, task.ID, domain.TaskStatusFailed, "", msg)
		res.Error = msg
		metrics.ConsolidationTasks.WithLabelValues(string(task.Network), "failed").Inc()
		return res
	}

	// 扫描和执行之间钱包可能被动过，转账前必须重新验资格
	w, err := c.walletRepo.GetByID(ctx, task.SourceWalletID)
	if err != nil {
		return fail("source wallet not found")
	}
	if w.Status == domain.WalletStatusMaintenance || w.Status == domain.WalletStatusDisabled {
		return fail("source wallet is under maintenance or disabled")
	}
	if w.Balance.LessThan(task.Amount.Add(task.FeeEstimate)) {
		return fail("source wallet drained since scan")
	}

	// 单任务硬超时，超时就是失败，不留 EXECUTING 悬挂
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	txHash, err := c.breaker.Execute(func() (string, error) {
		return c.transfer.SendConsolidation(tctx, &task)
	})
	if err != nil {
		metrics.TransferDuration.WithLabelValues(string(task.Network), "failed").
			Observe(time.Since(start).Seconds())
		logger.Error(ctx, "❌ 归集转账失败",
			zap.String("task_id", task.TaskID),
			zap.Int64("wallet_id", task.SourceWalletID),
			zap.Error(err))
		// 余额保持原值：没确认完成绝不动账
		return fail(err.Error())
	}
	metrics.TransferDuration.WithLabelValues(string(task.Network), "ok").
		Observe(time.Since(start).Seconds())

	if err := c.taskRepo.Finish(ctx, task.ID, domain.TaskStatusCompleted, txHash, ""); err != nil {
		// 转账已上链但终态没写进去，保守起见按失败上报，等人工核对
		res.Error = err.Error()
		res.TxHash = txHash
		return res
	}

	// 只有确认完成后才更新余额：余额 = 原余额 - 归集金额 (手续费预留留在原地址)
	post := w.Balance.Sub(task.Amount)
	if post.IsNegative() {
		post = decimal.Zero
	}
	_ = c.walletRepo.UpdateBalance(ctx, w.ID, post, time.Now())
	_ = c.walletRepo.RecordUsage(ctx, w.ID, 1, decimal.Zero)

	amountF, _ := task.Amount.Float64()
	metrics.ConsolidationTasks.WithLabelValues(string(task.Network), "completed").Inc()
	metrics.ConsolidationAmount.WithLabelValues(string(task.Network)).Add(amountF)

	logger.Info(ctx, "✅ 归集完成",
		zap.String("task_id", task.TaskID),
		zap.Int64("wallet_id", task.SourceWalletID),
		zap.String("amount", task.Amount.String()),
		zap.String("tx_hash", txHash))

	res.Status = domain.TaskStatusCompleted
	res.TxHash = txHash
	res.Error = ""
	return res
}

// ConsolidateUser 用户自助归集：重扫后只执行该用户名下钱包的任务
func (c *Consolidator) ConsolidateUser(ctx context.Context, userID int64) (*ExecuteResult, error) {
	wallets, err := c.walletRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, xerr.NewErrCode(xerr.RecordNotFound)
	}
	owned := make(map[int64]bool, len(wallets))
	for i := range wallets {
		owned[wallets[i].ID] = true
	}

	report, err := c.ScanAndStore(ctx)
	if err != nil {
		return nil, err
	}

	var taskIDs []string
	for _, t := range report.Tasks {
		if owned[t.SourceWalletID] {
			taskIDs = append(taskIDs, t.TaskID)
		}
	}
	if len(taskIDs) == 0 {
		return &ExecuteResult{Details: []TaskResult{}}, nil
	}
	return c.Execute(ctx, taskIDs)
}

// RecoverStale 崩溃恢复入口，后台循环定期调
func (c *Consolidator) RecoverStale(ctx context.Context) (int64, error) {
	return c.taskRepo.FailStaleExecuting(ctx, c.cfg.StaleAfter)
}
