package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"usdtpool.com/internal/domain"
	"usdtpool.com/internal/infra/persistence"
)

// fakeTransfer 可编程的链上转账桩：按来源地址决定成功或失败
type fakeTransfer struct {
	mu       sync.Mutex
	failFrom map[string]bool
	calls    int
}

func (f *fakeTransfer) SendConsolidation(_ context.Context, task *domain.ConsolidationTask) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFrom[task.FromAddress] {
		return "", errors.New("broadcast rejected by node")
	}
	return "0xtx-" + task.TaskID, nil
}

func newConsolidator(repo *persistence.Repo, transfer domain.ChainTransfer, cfg ConsolidationConfig) *Consolidator {
	return NewConsolidator(repo, repo, transfer, testNetworkTable, cfg)
}

func TestScanner_阈值判定(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	// TRC20: 阈值 20，手续费预留 1
	seedWallet(t, repo, domain.NetworkTRC20, "TEligible", "50") // 50-1=49 >= 20 ✅
	seedWallet(t, repo, domain.NetworkTRC20, "TBorder", "21")   // 21-1=20 >= 20 ✅ 边界
	seedWallet(t, repo, domain.NetworkTRC20, "TBelow", "20")    // 20-1=19 < 20 ❌
	seedWallet(t, repo, domain.NetworkTRC20, "TEmpty", "0")     // 没钱不进候选

	maint := seedWallet(t, repo, domain.NetworkTRC20, "TMaint", "500")
	_, err := repo.SetStatus(ctx, maint.ID, domain.WalletStatusMaintenance)
	require.NoError(t, err)

	report, err := NewScanner(repo).Scan(ctx, testNetworkTable())
	require.NoError(t, err)

	byFrom := map[string]*domain.ConsolidationTask{}
	for _, task := range report.Tasks {
		byFrom[task.FromAddress] = task
	}
	require.Len(t, byFrom, 2)

	// 归集金额 = 余额 - 手续费预留
	assert.True(t, byFrom["TEligible"].Amount.Equal(decimal.RequireFromString("49")),
		"got %s", byFrom["TEligible"].Amount)
	assert.True(t, byFrom["TBorder"].Amount.Equal(decimal.RequireFromString("20")))
	assert.Equal(t, "TMaster", byFrom["TEligible"].ToAddress)
	assert.Equal(t, domain.TaskStatusPending, byFrom["TEligible"].Status)

	// BEP20 没配置：跳过并上报，不报错
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, domain.NetworkBEP20, report.Skipped[0].Network)
}

func TestScanner_占用中的钱包也参与归集(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	w := seedWallet(t, repo, domain.NetworkTRC20, "TOccupied", "100")
	orderID := int64(1)
	_, err := repo.TransitionStatus(ctx, w.ID, domain.WalletStatusAvailable, domain.WalletStatusOccupied,
		&domain.TransitionExtra{OrderID: &orderID})
	require.NoError(t, err)

	report, err := NewScanner(repo).Scan(ctx, testNetworkTable())
	require.NoError(t, err)
	require.Len(t, report.Tasks, 1)
	assert.Equal(t, w.ID, report.Tasks[0].SourceWalletID)
}

func TestScanner_Statistics(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	seedWallet(t, repo, domain.NetworkTRC20, "TS1", "50")
	seedWallet(t, repo, domain.NetworkTRC20, "TS2", "5")

	stats, err := NewScanner(repo).Statistics(ctx, testNetworkTable())
	require.NoError(t, err)
	require.Len(t, stats, 3)

	byNet := map[domain.Network]NetworkStatistics{}
	for _, s := range stats {
		byNet[s.Network] = s
	}
	trc := byNet[domain.NetworkTRC20]
	assert.True(t, trc.Configured)
	assert.Equal(t, 2, trc.FundedWallets)
	assert.Equal(t, 1, trc.EligibleWallets)
	assert.True(t, trc.EligibleAmount.Equal(decimal.RequireFromString("49")))

	assert.False(t, byNet[domain.NetworkBEP20].Configured)
	assert.NotEmpty(t, byNet[domain.NetworkBEP20].Reason)
}

func TestScanAndStore_每次扫描整批替换(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	cons := newConsolidator(repo, &fakeTransfer{}, ConsolidationConfig{})

	w := seedWallet(t, repo, domain.NetworkTRC20, "TReplace", "50")

	report1, err := cons.ScanAndStore(ctx)
	require.NoError(t, err)
	require.Len(t, report1.Tasks, 1)

	// 钱包被清空后重扫，旧候选必须消失
	require.NoError(t, repo.UpdateBalance(ctx, w.ID, decimal.Zero, time.Now()))
	report2, err := cons.ScanAndStore(ctx)
	require.NoError(t, err)
	assert.Empty(t, report2.Tasks)

	pending, err := repo.ListPending(ctx, domain.NetworkTRC20)
	require.NoError(t, err)
	assert.Empty(t, pending, "PENDING 必须只反映最近一次扫描")
}

func TestExecute_成功归集只在完成后动账(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	cons := newConsolidator(repo, &fakeTransfer{}, ConsolidationConfig{})

	w := seedWallet(t, repo, domain.NetworkTRC20, "TExec", "50")

	report, err := cons.ScanAndStore(ctx)
	require.NoError(t, err)
	require.Len(t, report.Tasks, 1)

	res, err := cons.Execute(ctx, []string{report.Tasks[0].TaskID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExecutedCount)
	assert.Equal(t, 0, res.FailedCount)
	require.Len(t, res.Details, 1)
	assert.Equal(t, domain.TaskStatusCompleted, res.Details[0].Status)
	assert.NotEmpty(t, res.Details[0].TxHash)

	// 余额 = 50 - 49 = 1，手续费预留留在原地址
	got, err := repo.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("1")), "got %s", got.Balance)
	assert.Equal(t, int64(1), got.TransactionCount)

	tasks, err := repo.GetByTaskIDs(ctx, []string{report.Tasks[0].TaskID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskStatusCompleted, tasks[0].Status)
	assert.NotEmpty(t, tasks[0].TxHash)
}

func TestExecute_部分失败互不影响(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	transfer := &fakeTransfer{failFrom: map[string]bool{"TBad": true}}
	cons := newConsolidator(repo, transfer, ConsolidationConfig{})

	good := seedWallet(t, repo, domain.NetworkTRC20, "TGood", "50")
	bad := seedWallet(t, repo, domain.NetworkTRC20, "TBad", "60")

	report, err := cons.ScanAndStore(ctx)
	require.NoError(t, err)
	require.Len(t, report.Tasks, 2)

	taskIDs := []string{report.Tasks[0].TaskID, report.Tasks[1].TaskID}
	res, err := cons.Execute(ctx, taskIDs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExecutedCount)
	assert.Equal(t, 1, res.FailedCount)

	// 失败钱包的余额一分不动
	gotBad, err := repo.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.True(t, gotBad.Balance.Equal(decimal.RequireFromString("60")), "got %s", gotBad.Balance)

	gotGood, err := repo.GetByID(ctx, good.ID)
	require.NoError(t, err)
	assert.True(t, gotGood.Balance.Equal(decimal.RequireFromString("1")))

	// 失败任务带错误信息
	for _, d := range res.Details {
		if d.WalletID == bad.ID {
			assert.Equal(t, domain.TaskStatusFailed, d.Status)
			assert.NotEmpty(t, d.Error)
		}
	}
}

func TestExecute_执行前重新验资格(t *testing.T) {
	t.Run("钱包被转入维护", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		cons := newConsolidator(repo, &fakeTransfer{}, ConsolidationConfig{})

		w := seedWallet(t, repo, domain.NetworkTRC20, "TNowMaint", "50")
		report, err := cons.ScanAndStore(ctx)
		require.NoError(t, err)
		require.Len(t, report.Tasks, 1)

		// 扫描和执行之间管理员把钱包转入维护
		_, err = repo.SetStatus(ctx, w.ID, domain.WalletStatusMaintenance)
		require.NoError(t, err)

		res, err := cons.Execute(ctx, []string{report.Tasks[0].TaskID})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExecutedCount)
		assert.Equal(t, 1, res.FailedCount)
	})

	t.Run("余额被同步下调", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		transfer := &fakeTransfer{}
		cons := newConsolidator(repo, transfer, ConsolidationConfig{})

		w := seedWallet(t, repo, domain.NetworkTRC20, "TDrained", "50")
		report, err := cons.ScanAndStore(ctx)
		require.NoError(t, err)
		require.Len(t, report.Tasks, 1)

		// 余额同步把钱包刷成 10，不够覆盖 49 + 1
		require.NoError(t, repo.UpdateBalance(ctx, w.ID, decimal.RequireFromString("10"), time.Now()))

		res, err := cons.Execute(ctx, []string{report.Tasks[0].TaskID})
		require.NoError(t, err)
		assert.Equal(t, 1, res.FailedCount)
		assert.Zero(t, transfer.calls, "资格不够不能发起链上调用")

		got, err := repo.GetByID(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.RequireFromString("10")))
	})
}

func TestExecute_任务不可重复执行(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	transfer := &fakeTransfer{}
	cons := newConsolidator(repo, transfer, ConsolidationConfig{})

	seedWallet(t, repo, domain.NetworkTRC20, "TOnce", "50")
	report, err := cons.ScanAndStore(ctx)
	require.NoError(t, err)
	taskIDs := []string{report.Tasks[0].TaskID}

	res1, err := cons.Execute(ctx, taskIDs)
	require.NoError(t, err)
	assert.Equal(t, 1, res1.ExecutedCount)

	// 同一批任务再执行一次：已是终态，抢占失败按 failed 上报，不会重复转账
	res2, err := cons.Execute(ctx, taskIDs)
	require.NoError(t, err)
	assert.Equal(t, 0, res2.ExecutedCount)
	assert.Equal(t, 1, res2.FailedCount)
	assert.Equal(t, 1, transfer.calls)
}

func TestExecute_批大小截断(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	cons := newConsolidator(repo, &fakeTransfer{}, ConsolidationConfig{BatchSize: 2})

	seedWallet(t, repo, domain.NetworkTRC20, "TB1", "50")
	seedWallet(t, repo, domain.NetworkTRC20, "TB2", "50")
	seedWallet(t, repo, domain.NetworkTRC20, "TB3", "50")

	report, err := cons.ScanAndStore(ctx)
	require.NoError(t, err)
	require.Len(t, report.Tasks, 3)

	var taskIDs []string
	for _, task := range report.Tasks {
		taskIDs = append(taskIDs, task.TaskID)
	}
	res, err := cons.Execute(ctx, taskIDs)
	require.NoError(t, err)
	assert.Len(t, res.Details, 2, "超出批大小的任务留到下一批")
}

func TestConsolidateUser_只归集名下钱包(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	cons := newConsolidator(repo, &fakeTransfer{}, ConsolidationConfig{})

	mine := seedWallet(t, repo, domain.NetworkTRC20, "TMine", "50")
	other := seedWallet(t, repo, domain.NetworkTRC20, "TOther", "50")

	orderID, userID := int64(1), int64(7)
	_, err := repo.TransitionStatus(ctx, mine.ID, domain.WalletStatusAvailable, domain.WalletStatusOccupied,
		&domain.TransitionExtra{OrderID: &orderID, UserID: &userID})
	require.NoError(t, err)

	res, err := cons.ConsolidateUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, res.Details, 1)
	assert.Equal(t, mine.ID, res.Details[0].WalletID)
	assert.Equal(t, 1, res.ExecutedCount)

	// 别人的钱包一分没动
	gotOther, err := repo.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, gotOther.Balance.Equal(decimal.RequireFromString("50")))
}
