package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/shelfwatch/backend/internal/infrastructure/config"
)

// Dialect SQL 方言
type Dialect string

// 支持的方言
const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// sqlitePragmas 每个连接启用的 SQLite 参数
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

// OpenDB 打开数据库连接
func OpenDB(cfg *config.StoreConfig) (*sql.DB, error) {
	switch Dialect(cfg.Driver) {
	case DialectSQLite:
		return openSQLite(cfg.DSN)
	case DialectMySQL:
		return openMySQL(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// openSQLite 打开 SQLite 数据库，dsn 为文件路径
func openSQLite(dsn string) (*sql.DB, error) {
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		// 确保目录存在
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + sqlitePragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite 单写者，串行化所有连接上的写事务
	db.SetMaxOpenConns(1)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// openMySQL 打开 MySQL 兼容数据库
func openMySQL(dsn string) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if mc.Timeout == 0 {
		mc.Timeout = 5 * time.Second
	}
	mc.MultiStatements = false

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ProvideDialect 根据配置返回方言
func ProvideDialect(cfg *config.StoreConfig) Dialect {
	return Dialect(cfg.Driver)
}

// ProvideDB 打开数据库并初始化表结构
// 无法连接时为启动期致命错误
func ProvideDB(cfg *config.StoreConfig, dialect Dialect) (*sql.DB, func(), error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(db, dialect); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

// upsertSQL 生成按主键插入或更新的语句
func upsertSQL(d Dialect, table string, cols, keys []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	var sets []string
	for _, c := range cols {
		if isKey[c] {
			continue
		}
		if d == DialectMySQL {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
	if d == DialectMySQL {
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return insert + fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
}

// toMillis 时间转换为毫秒时间戳，零值为 0
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMillis 毫秒时间戳转换为时间，0 为零值
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
