package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/xerr"
)

func seedWallet(t *testing.T, repo *Repo, network domain.Network, addr string, status domain.WalletStatus, balance string) *domain.Wallet {
	t.Helper()
	w := &domain.Wallet{
		Network: network,
		Address: addr,
		Name:    "test-" + addr,
		Status:  status,
		Risk:    domain.RiskLow,
		Balance: decimal.RequireFromString(balance),
	}
	require.NoError(t, repo.Create(context.Background(), w))
	return w
}

func TestTransitionStatus_占用成功并写入归属字段(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	w := seedWallet(t, repo, domain.NetworkTRC20, "TAddr1", domain.WalletStatusAvailable, "0")

	orderID := int64(1001)
	userID := int64(7)
	now := time.Now()
	got, err := repo.TransitionStatus(ctx, w.ID,
		domain.WalletStatusAvailable, domain.WalletStatusOccupied,
		&domain.TransitionExtra{OrderID: &orderID, UserID: &userID, AllocatedAt: &now})

	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusOccupied, got.Status)
	require.NotNil(t, got.CurrentOrderID)
	assert.Equal(t, orderID, *got.CurrentOrderID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, userID, *got.UserID)
	assert.NotNil(t, got.AllocatedAt)
	assert.NotNil(t, got.LastAllocatedAt)
	// 占用同时累加本期负载
	assert.Equal(t, int64(1), got.CurrentPeriodUsage)
	assert.True(t, got.CheckConsistency())
}

func TestTransitionStatus_CAS冲突(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	w := seedWallet(t, repo, domain.NetworkTRC20, "TAddr2", domain.WalletStatusAvailable, "0")

	orderID := int64(1)
	extra := &domain.TransitionExtra{OrderID: &orderID}
	_, err := repo.TransitionStatus(ctx, w.ID, domain.WalletStatusAvailable, domain.WalletStatusOccupied, extra)
	require.NoError(t, err)

	// 第二次从 AVAILABLE 起跳必然失败：状态已经不是 AVAILABLE 了
	_, err = repo.TransitionStatus(ctx, w.ID, domain.WalletStatusAvailable, domain.WalletStatusOccupied, extra)
	assert.True(t, xerr.Is(err, xerr.Conflict))

	// 钱包没有被第二次请求污染
	got, err := repo.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, orderID, *got.CurrentOrderID)
	assert.Equal(t, int64(1), got.CurrentPeriodUsage)
}

func TestTransitionStatus_占用必须带订单号(t *testing.T) {
	repo := newTestRepo(t)
	w := seedWallet(t, repo, domain.NetworkTRC20, "TAddr3", domain.WalletStatusAvailable, "0")

	_, err := repo.TransitionStatus(context.Background(), w.ID,
		domain.WalletStatusAvailable, domain.WalletStatusOccupied, nil)
	assert.True(t, xerr.Is(err, xerr.RequestParamsError))
}

func TestTransitionStatus_释放时清空归属字段(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	w := seedWallet(t, repo, domain.NetworkERC20, "0xAddr4", domain.WalletStatusAvailable, "0")

	orderID := int64(2)
	_, err := repo.TransitionStatus(ctx, w.ID, domain.WalletStatusAvailable, domain.WalletStatusOccupied,
		&domain.TransitionExtra{OrderID: &orderID})
	require.NoError(t, err)

	got, err := repo.TransitionStatus(ctx, w.ID, domain.WalletStatusOccupied, domain.WalletStatusAvailable, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusAvailable, got.Status)
	assert.Nil(t, got.CurrentOrderID)
	assert.Nil(t, got.UserID)
	assert.Nil(t, got.AllocatedAt)
	// 空闲度打分要用，释放后保留
	assert.NotNil(t, got.LastAllocatedAt)
	assert.True(t, got.CheckConsistency())
}

func TestReleaseOwned(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	w := seedWallet(t, repo, domain.NetworkTRC20, "TAddr5", domain.WalletStatusAvailable, "0")

	orderID := int64(5)
	_, err := repo.TransitionStatus(ctx, w.ID, domain.WalletStatusAvailable, domain.WalletStatusOccupied,
		&domain.TransitionExtra{OrderID: &orderID})
	require.NoError(t, err)

	t.Run("归属不匹配拒绝释放", func(t *testing.T) {
		_, err := repo.ReleaseOwned(ctx, w.ID, 7)
		assert.True(t, xerr.Is(err, xerr.OwnershipMismatch))

		// 钱包保持原样
		got, err := repo.GetByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WalletStatusOccupied, got.Status)
		assert.Equal(t, orderID, *got.CurrentOrderID)
	})

	t.Run("归属匹配释放成功", func(t *testing.T) {
		got, err := repo.ReleaseOwned(ctx, w.ID, 5)
		require.NoError(t, err)
		assert.Equal(t, domain.WalletStatusAvailable, got.Status)
		assert.Nil(t, got.CurrentOrderID)
	})

	t.Run("非占用状态释放报冲突", func(t *testing.T) {
		_, err := repo.ReleaseOwned(ctx, w.ID, 5)
		assert.True(t, xerr.Is(err, xerr.Conflict))
	})

	t.Run("钱包不存在", func(t *testing.T) {
		_, err := repo.ReleaseOwned(ctx, 99999, 5)
		assert.True(t, xerr.Is(err, xerr.RecordNotFound))
	})
}

func TestSetStatus_强制覆盖清空归属(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	w := seedWallet(t, repo, domain.NetworkBEP20, "0xAddr6", domain.WalletStatusAvailable, "0")

	orderID := int64(9)
	_, err := repo.TransitionStatus(ctx, w.ID, domain.WalletStatusAvailable, domain.WalletStatusOccupied,
		&domain.TransitionExtra{OrderID: &orderID})
	require.NoError(t, err)

	got, err := repo.SetStatus(ctx, w.ID, domain.WalletStatusMaintenance)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusMaintenance, got.Status)
	assert.Nil(t, got.CurrentOrderID)
	assert.True(t, got.CheckConsistency())
}

func TestUpdateBalance_LastSyncWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	w := seedWallet(t, repo, domain.NetworkTRC20, "TAddr7", domain.WalletStatusAvailable, "0")

	t1 := time.Now().Add(-time.Hour)
	t2 := time.Now()

	require.NoError(t, repo.UpdateBalance(ctx, w.ID, decimal.RequireFromString("100"), t2))

	// 更旧的同步是 no-op，不报错也不覆盖
	require.NoError(t, repo.UpdateBalance(ctx, w.ID, decimal.RequireFromString("50"), t1))

	got, err := repo.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("100")),
		"stale sync must not overwrite: got %s", got.Balance)

	// 钱包不存在要报出去，不能静默当成过期同步
	err = repo.UpdateBalance(ctx, 99999, decimal.RequireFromString("1"), t2)
	assert.True(t, xerr.Is(err, xerr.RecordNotFound))
}

func TestRecordUsage_计数器累加(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	w := seedWallet(t, repo, domain.NetworkTRC20, "TAddr8", domain.WalletStatusAvailable, "0")

	require.NoError(t, repo.RecordUsage(ctx, w.ID, 1, decimal.RequireFromString("10")))
	require.NoError(t, repo.RecordUsage(ctx, w.ID, 2, decimal.RequireFromString("5.5")))

	got, err := repo.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TransactionCount)
	assert.True(t, got.TotalReceived.Equal(decimal.RequireFromString("15.5")))
	assert.Equal(t, int64(3), got.CurrentPeriodUsage)
}

func TestCreateBatch_重复地址跳过(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ws := []*domain.Wallet{
		{Network: domain.NetworkTRC20, Address: "TDup", Status: domain.WalletStatusAvailable, Risk: domain.RiskLow},
		{Network: domain.NetworkTRC20, Address: "TDup", Status: domain.WalletStatusAvailable, Risk: domain.RiskLow},
		{Network: domain.NetworkTRC20, Address: "TNew", Status: domain.WalletStatusAvailable, Risk: domain.RiskLow},
	}
	success, err := repo.CreateBatch(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, 2, success)
}

func TestCreateBatch_数据库故障不能当成跳过(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// 把底层连接关掉模拟库不可用：必须报错，不能静默报"部分成功"
	sqlDB, err := repo.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	success, err := repo.CreateBatch(ctx, []*domain.Wallet{
		{Network: domain.NetworkTRC20, Address: "TDown", Status: domain.WalletStatusAvailable, Risk: domain.RiskLow},
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.DbError))
	assert.Equal(t, 0, success)
}

func TestStats_聚合与利用率(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedWallet(t, repo, domain.NetworkTRC20, "T1", domain.WalletStatusAvailable, "10")
	seedWallet(t, repo, domain.NetworkTRC20, "T2", domain.WalletStatusAvailable, "20")
	seedWallet(t, repo, domain.NetworkERC20, "0xE1", domain.WalletStatusMaintenance, "5")

	w := seedWallet(t, repo, domain.NetworkTRC20, "T3", domain.WalletStatusAvailable, "0")
	orderID := int64(1)
	_, err := repo.TransitionStatus(ctx, w.ID, domain.WalletStatusAvailable, domain.WalletStatusOccupied,
		&domain.TransitionExtra{OrderID: &orderID})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.ByStatus[domain.WalletStatusAvailable])
	assert.Equal(t, int64(1), stats.ByStatus[domain.WalletStatusOccupied])
	assert.Equal(t, int64(3), stats.ByNetwork[domain.NetworkTRC20])
	assert.True(t, stats.TotalBalance.Equal(decimal.RequireFromString("35")))
	// occupied / (occupied + available) = 1/3，维护中的不进分母
	assert.InDelta(t, 1.0/3.0, stats.Utilization, 1e-9)
}

func TestFindFunded_排除维护停用(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedWallet(t, repo, domain.NetworkTRC20, "TF1", domain.WalletStatusAvailable, "30")
	seedWallet(t, repo, domain.NetworkTRC20, "TF2", domain.WalletStatusMaintenance, "30")
	seedWallet(t, repo, domain.NetworkTRC20, "TF3", domain.WalletStatusDisabled, "30")
	seedWallet(t, repo, domain.NetworkTRC20, "TF4", domain.WalletStatusAvailable, "0")

	ws, err := repo.FindFunded(ctx, domain.NetworkTRC20)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, "TF1", ws[0].Address)
}
