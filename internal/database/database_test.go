package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/vhs-coffeeman/internal/config"
)

// TestSQLiteDSNDefaults 补上忙等超时和外键参数，并建好库文件目录
func TestSQLiteDSNDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "coffeeman.db")

	dsn := sqliteDSN(path)
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_foreign_keys=on")

	info, err := os.Stat(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestSQLiteDSNKeepsExistingParams 配置里写好的参数不被覆盖
func TestSQLiteDSNKeepsExistingParams(t *testing.T) {
	dsn := sqliteDSN(":memory:?_busy_timeout=100&_foreign_keys=off")
	assert.Equal(t, ":memory:?_busy_timeout=100&_foreign_keys=off", dsn)
}

// TestInitSQLiteSingleWriter SQLite连接池收成单连接
func TestInitSQLiteSingleWriter(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
		// 服务端驱动才用的连接池参数，SQLite下应被忽略
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
	}
	require.NoError(t, Init(cfg))
	defer Close()

	assert.True(t, IsConnected())

	sqlDB, err := GetDB().DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

// TestInitUnknownDriver 未知驱动直接拒绝
func TestInitUnknownDriver(t *testing.T) {
	err := Init(&config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
}
