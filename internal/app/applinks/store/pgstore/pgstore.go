package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"applinks.local/internal/app/applinks/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	firstLaunchKey = "first_launch_completed"
	dbTimeout      = 3 * time.Second

	// 所有 Add 共用一把事务级 advisory lock，保证插入与裁剪串行，size 不会短暂超过容量
	processedLockKey int64 = 0x61707073
)

// ProcessedStore 表 applinks_processed_visits 见 migrations/001_applinks_state.sql。
type ProcessedStore struct {
	db       *pgxpool.Pool
	capacity int
}

func NewProcessedStore(db *pgxpool.Pool, capacity int) *ProcessedStore {
	if capacity <= 0 {
		capacity = store.DefaultCapacity
	}
	return &ProcessedStore{db: db, capacity: capacity}
}

func (s *ProcessedStore) Contains(ctx context.Context, id string) (bool, error) {
	dbctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var exists bool
	err := s.db.QueryRow(dbctx, `SELECT EXISTS(SELECT 1 FROM applinks_processed_visits WHERE visit_id=$1)`, id).Scan(&exists)
	return exists, err
}

// Add 在一个事务里插入并裁剪到容量。
func (s *ProcessedStore) Add(ctx context.Context, id string) (bool, error) {
	dbctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.db.Begin(dbctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(dbctx) //提交成功后 rollback 无效，可忽略

	if _, err := tx.Exec(dbctx, `SELECT pg_advisory_xact_lock($1)`, processedLockKey); err != nil {
		return false, err
	}

	var seq int64
	err = tx.QueryRow(dbctx,
		`INSERT INTO applinks_processed_visits (visit_id) VALUES ($1) ON CONFLICT (visit_id) DO NOTHING RETURNING seq`,
		id,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		// 已存在，不改变顺序
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pgstore insert %s: %w", id, err)
	}

	if _, err := tx.Exec(dbctx, `
DELETE FROM applinks_processed_visits
WHERE seq IN (
  SELECT seq FROM applinks_processed_visits ORDER BY seq DESC OFFSET $1
)`, s.capacity); err != nil {
		return false, fmt.Errorf("pgstore trim: %w", err)
	}

	if err := tx.Commit(dbctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ProcessedStore) Len(ctx context.Context) (int, error) {
	dbctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var n int
	err := s.db.QueryRow(dbctx, `SELECT COUNT(*) FROM applinks_processed_visits`).Scan(&n)
	return n, err
}

func (s *ProcessedStore) List(ctx context.Context) ([]string, error) {
	dbctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.db.Query(dbctx, `SELECT visit_id FROM applinks_processed_visits ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type Preferences struct {
	db *pgxpool.Pool
}

func NewPreferences(db *pgxpool.Pool) *Preferences {
	return &Preferences{db: db}
}

func (p *Preferences) FirstLaunchCompleted(ctx context.Context) (bool, error) {
	dbctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var v string
	err := p.db.QueryRow(dbctx, `SELECT value FROM applinks_preferences WHERE key=$1`, firstLaunchKey).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (p *Preferences) MarkFirstLaunchCompleted(ctx context.Context) error {
	dbctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := p.db.Exec(dbctx, `
INSERT INTO applinks_preferences (key, value, updated_at) VALUES ($1, 'true', NOW())
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`, firstLaunchKey)
	return err
}

var (
	_ store.ProcessedStore = (*ProcessedStore)(nil)
	_ store.Lister         = (*ProcessedStore)(nil)
	_ store.Preferences    = (*Preferences)(nil)
)
