package storage

import (
	"database/sql"
	"fmt"
)

// sqliteSchema SQLite 表结构
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS source_files (
		path TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		mod_time INTEGER NOT NULL DEFAULT 0,
		first_seen_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_record_id TEXT NOT NULL DEFAULT '',
		last_done_fingerprint TEXT NOT NULL DEFAULT '',
		row_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS processing_records (
		id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		state TEXT NOT NULL,
		failure_kind TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		rows_parsed INTEGER NOT NULL DEFAULT 0,
		rows_written INTEGER NOT NULL DEFAULT 0,
		skipped_rows INTEGER NOT NULL DEFAULT 0,
		duplicate_rows INTEGER NOT NULL DEFAULT 0,
		skip_details TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		UNIQUE (source_path, fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_state ON processing_records(state)`,
	`CREATE INDEX IF NOT EXISTS idx_records_path_created ON processing_records(source_path, created_at)`,
	`CREATE TABLE IF NOT EXISTS insight_jobs (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		next_retry_at INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		failure_kind TEXT NOT NULL DEFAULT '',
		result_handle TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		payload TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_due ON insight_jobs(status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_record ON insight_jobs(record_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS dataset_rows (
		source_path TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		business_key TEXT NOT NULL,
		line INTEGER NOT NULL,
		values_json TEXT NOT NULL,
		extra BLOB,
		committed_at INTEGER NOT NULL,
		PRIMARY KEY (source_path, fingerprint, business_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rows_key ON dataset_rows(business_key, committed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_rows_line ON dataset_rows(source_path, fingerprint, line)`,
}

// mysqlSchema MySQL 表结构（索引内联，MySQL 不支持 CREATE INDEX IF NOT EXISTS）
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS source_files (
		path VARCHAR(400) NOT NULL PRIMARY KEY,
		fingerprint CHAR(64) NOT NULL DEFAULT '',
		size BIGINT NOT NULL DEFAULT 0,
		mod_time BIGINT NOT NULL DEFAULT 0,
		first_seen_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		last_record_id VARCHAR(36) NOT NULL DEFAULT '',
		last_done_fingerprint CHAR(64) NOT NULL DEFAULT '',
		row_count INT NOT NULL DEFAULT 0
	) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS processing_records (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		source_path VARCHAR(400) NOT NULL,
		fingerprint CHAR(64) NOT NULL,
		state VARCHAR(16) NOT NULL,
		failure_kind VARCHAR(32) NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		rows_parsed INT NOT NULL DEFAULT 0,
		rows_written INT NOT NULL DEFAULT 0,
		skipped_rows INT NOT NULL DEFAULT 0,
		duplicate_rows INT NOT NULL DEFAULT 0,
		skip_details MEDIUMTEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL DEFAULT 0,
		UNIQUE KEY uk_records_path_fp (source_path, fingerprint),
		KEY idx_records_state (state),
		KEY idx_records_path_created (source_path, created_at)
	) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS insight_jobs (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		record_id VARCHAR(36) NOT NULL,
		source_path VARCHAR(400) NOT NULL,
		fingerprint CHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		max_attempts INT NOT NULL,
		next_retry_at BIGINT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL,
		failure_kind VARCHAR(32) NOT NULL DEFAULT '',
		result_handle VARCHAR(64) NOT NULL DEFAULT '',
		summary TEXT NOT NULL,
		payload MEDIUMTEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL DEFAULT 0,
		KEY idx_jobs_status_due (status, next_retry_at),
		KEY idx_jobs_record (record_id, created_at)
	) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS dataset_rows (
		source_path VARCHAR(400) NOT NULL,
		fingerprint CHAR(64) NOT NULL,
		business_key VARCHAR(255) NOT NULL,
		line INT NOT NULL,
		values_json MEDIUMTEXT NOT NULL,
		extra BLOB,
		committed_at BIGINT NOT NULL,
		PRIMARY KEY (source_path, fingerprint, business_key),
		KEY idx_rows_key (business_key, committed_at),
		KEY idx_rows_line (source_path, fingerprint, line)
	) CHARACTER SET utf8mb4`,
}

// Migrate 初始化表结构
func Migrate(db *sql.DB, dialect Dialect) error {
	stmts := sqliteSchema
	if dialect == DialectMySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}
