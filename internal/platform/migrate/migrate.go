// Package migrate 按文件名顺序执行 migrations 目录下的 .sql，已执行的记录在 schema_migrations。
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockKey 多个实例同时启动时只有一个在迁移，其余等锁。
const lockKey int64 = 0x61707073 // "apps"

type Options struct {
	// Dir 为空时依次尝试 ./migrations 和可执行文件旁的 migrations。
	Dir string
	// FS 非空时优先于 Dir，例如 embed.FS。
	FS fs.FS
}

type Result struct {
	Dir          string
	AppliedFiles []string
	SkippedFiles []string
}

func Up(ctx context.Context, db *pgxpool.Pool, opts Options) (*Result, error) {
	fsys, dir, err := source(opts)
	if err != nil {
		return nil, err
	}
	names, err := listSQLFiles(fsys)
	if err != nil {
		return nil, err
	}

	conn, err := db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey)
	}()

	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`); err != nil {
		return nil, err
	}

	applied, err := appliedVersions(ctx, conn.Conn())
	if err != nil {
		return nil, err
	}

	res := &Result{Dir: dir}
	for _, name := range names {
		if applied[name] {
			res.SkippedFiles = append(res.SkippedFiles, name)
			continue
		}
		if err := applyFile(ctx, conn.Conn(), fsys, name); err != nil {
			return res, err
		}
		slog.Info("migration applied", "file", name)
		res.AppliedFiles = append(res.AppliedFiles, name)
	}
	return res, nil
}

func listSQLFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func appliedVersions(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(versions))
	for _, v := range versions {
		out[v] = true
	}
	return out, nil
}

// applyFile 整个文件在一个事务里执行，和版本记录一起提交。
func applyFile(ctx context.Context, conn *pgx.Conn, fsys fs.FS, name string) error {
	sqlBytes, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		return nil
	})
}

func source(opts Options) (fs.FS, string, error) {
	if opts.FS != nil {
		return opts.FS, "<fs>", nil
	}
	dir, err := resolveMigrationsDir(opts.Dir)
	if err != nil {
		return nil, "", err
	}
	return os.DirFS(dir), dir, nil
}

func resolveMigrationsDir(opt string) (string, error) {
	if strings.TrimSpace(opt) != "" {
		return filepath.Clean(strings.TrimSpace(opt)), nil
	}
	if dir, err := filepath.Abs("migrations"); err == nil {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir, nil
		}
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve migrations dir: %w", err)
	}
	dir := filepath.Join(filepath.Dir(exe), "migrations")
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return "", fmt.Errorf("migrations dir not found (tried %s)", dir)
	}
	return dir, nil
}
