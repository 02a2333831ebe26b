package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	migrationsGlob = "sql/migrations/*.sql"
	// migrationLockKey: ключ pg_advisory_xact_lock, шаги разных процессов не пересекаются.
	migrationLockKey  = int64(20260301)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	// 0003_orphans.up.sql -> версия, имя, направление.
	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%d_%s", m.Version, m.Name)
}

func (m migration) script(direction migrationDirection) string {
	if direction == migrationDown {
		return m.DownSQL
	}
	return m.UpSQL
}

// MigrateUp применяет up-миграции; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

// MigrationStatus возвращает текущую версию схемы и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errNotInitialized
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		applied int
	)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &applied); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}
	return version, applied, nil
}

// migrate выполняет шаги по одному, каждый в своей транзакции под advisory-локом.
// Применённые версии перечитываются внутри транзакции, поэтому параллельный
// запуск не применит миграцию дважды.
func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for done := 0; steps <= 0 || done < steps; done++ {
		moved, err := s.step(ctx, all, direction)
		if err != nil {
			return err
		}
		if !moved {
			break
		}
	}
	return nil
}

func (s *Store) step(ctx context.Context, all []migration, direction migrationDirection) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, fmt.Errorf("acquire migration lock: %w", err)
	}
	applied, err := appliedVersions(ctx, tx)
	if err != nil {
		return false, err
	}

	plan := planMigrations(all, applied, direction, 1)
	if len(plan) == 0 {
		return false, tx.Commit()
	}
	next := plan[0]

	if _, err := tx.ExecContext(ctx, next.script(direction)); err != nil {
		return false, fmt.Errorf("execute %s migration %s: %w", direction, next.label(), err)
	}
	if direction == migrationUp {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, next.Version, next.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, next.Version)
	}
	if err != nil {
		return false, fmt.Errorf("record %s migration %s: %w", direction, next.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit %s migration %s: %w", direction, next.label(), err)
	}
	return true, nil
}

// planMigrations выбирает шаги: для up по возрастанию неприменённые,
// для down по убыванию применённые.
func planMigrations(all []migration, applied map[int64]bool, direction migrationDirection, steps int) []migration {
	var plan []migration
	for i := range all {
		m := all[i]
		if direction == migrationDown {
			m = all[len(all)-1-i]
		}
		if applied[m.Version] == (direction == migrationDown) {
			plan = append(plan, m)
		}
	}
	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan
}

func appliedVersions(ctx context.Context, tx *sql.Tx) (map[int64]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func parseMigrationName(base string) (int64, string, migrationDirection, error) {
	parts := migrationFilePattern.FindStringSubmatch(base)
	if parts == nil {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}
	return version, parts[2], migrationDirection(parts[3]), nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration, len(files)/2)
	for _, file := range files {
		base := path.Base(file)
		version, name, direction, err := parseMigrationName(base)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m := byVersion[version]
		switch {
		case m == nil:
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		case m.Name != name:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
