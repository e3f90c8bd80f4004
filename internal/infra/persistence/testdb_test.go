package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
	"usdtpool.com/internal/domain"
)

// newTestRepo 内存 sqlite，单连接避免 :memory: 连接池各开各库
func newTestRepo(t *testing.T) *Repo {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         glogger.Default.LogMode(glogger.Silent),
		TranslateError: true, // 和生产的 MySQL 初始化保持一致，唯一索引冲突才翻译得出来
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&domain.Wallet{}, &domain.ConsolidationTask{}))
	return New(db)
}
