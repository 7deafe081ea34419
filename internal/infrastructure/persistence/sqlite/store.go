// Package sqlite 提供向量存储与 BM25 倒排索引的 SQLite 实现。
// 三张表（vectors / bm25_postings / doc_stats）之间没有外键约束，
// 同步不变量由每条更新路径内的事务保证。
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，无 CGO

	"go.opentelemetry.io/otel"

	"novel-rag-api/internal/config"
)

var tracer = otel.Tracer("sqlite")

const schema = `
CREATE TABLE IF NOT EXISTS vectors (
    chunk_id        TEXT PRIMARY KEY,
    chapter         INTEGER NOT NULL,
    scene_index     INTEGER NOT NULL,
    content         TEXT NOT NULL,
    embedding       BLOB,
    parent_chunk_id TEXT,
    chunk_type      TEXT NOT NULL DEFAULT 'scene',
    source_file     TEXT,
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bm25_postings (
    term     TEXT NOT NULL,
    chunk_id TEXT NOT NULL,
    tf       REAL NOT NULL,
    PRIMARY KEY (term, chunk_id)
);

CREATE TABLE IF NOT EXISTS doc_stats (
    chunk_id   TEXT PRIMARY KEY,
    doc_length INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vectors_chapter ON vectors(chapter);
CREATE INDEX IF NOT EXISTS idx_postings_term ON bm25_postings(term);
`

// Store 基于单个 SQLite 文件的切片存储。
// 每次操作独立打开/关闭句柄，避免长连接在高并发下泄漏。
type Store struct {
	path        string
	busyTimeout time.Duration

	k1 float64
	b  float64
}

// Option 配置 Store 的可选参数
type Option func(*Store)

// WithBM25Params 覆盖 BM25 的 k1/b 参数
func WithBM25Params(k1, b float64) Option {
	return func(s *Store) {
		if k1 > 0 {
			s.k1 = k1
		}
		if b > 0 {
			s.b = b
		}
	}
}

// NewStore 创建存储并初始化表结构
func NewStore(cfg *config.SQLiteConfig, opts ...Option) (*Store, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		path:        cfg.Path,
		busyTimeout: cfg.BusyTimeout,
		k1:          1.5,
		b:           0.75,
	}
	if s.busyTimeout <= 0 {
		s.busyTimeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.withDB(context.Background(), func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
	}
	return s, nil
}

// withDB 在一次操作的生命周期内持有数据库句柄，任何退出路径都保证释放
func (s *Store) withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite db: %w", err)
	}
	defer db.Close()

	// modernc.org/sqlite 会忽略部分 DSN 参数，busy_timeout 必须用 PRAGMA 设置
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	return fn(db)
}

// withTx 在单个事务中执行 fn
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withDB(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// HealthCheck 检查存储可用性
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.withDB(ctx, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
}

// IndexStats 索引统计
type IndexStats struct {
	Vectors    int `json:"vectors"`
	Terms      int `json:"terms"`
	MaxChapter int `json:"max_chapter"`
}

// Stats 返回索引统计信息
func (s *Store) Stats(ctx context.Context) (*IndexStats, error) {
	ctx, span := tracer.Start(ctx, "sqlite.Stats")
	defer span.End()

	stats := &IndexStats{}
	err := s.withDB(ctx, func(db *sql.DB) error {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&stats.Vectors); err != nil {
			return err
		}
		if err := db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT term) FROM bm25_postings").Scan(&stats.Terms); err != nil {
			return err
		}
		return db.QueryRowContext(ctx, "SELECT COALESCE(MAX(chapter), 0) FROM vectors").Scan(&stats.MaxChapter)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read index stats: %w", err)
	}
	return stats, nil
}
