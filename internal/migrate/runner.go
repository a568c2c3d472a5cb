package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	historyTable = "schema_migrations"
	seedTable    = "schema_seeds"
)

// ErrChecksumMismatch reports that an already-applied migration file was
// edited after the fact. Applied migrations are immutable.
var ErrChecksumMismatch = errors.New("migrate: applied migration was modified")

// Runner applies SQL migrations and seed files from a filesystem, which may
// be a directory tree or an embedded fs.FS.
type Runner struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	history    string
	seedsTable string
}

type Option func(*Runner)

// WithHistoryTable overrides the bookkeeping table for applied migrations.
func WithHistoryTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.history = name
		}
	}
}

// WithSeedTable overrides the bookkeeping table for applied seeds.
func WithSeedTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.seedsTable = name
		}
	}
}

func NewRunner(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Runner {
	r := &Runner{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		history:    historyTable,
		seedsTable: seedTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDirRunner builds a Runner over on-disk migration and seed directories.
func NewDirRunner(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Runner {
	var migrations, seeds fs.FS
	if migrationsDir != "" {
		migrations = os.DirFS(migrationsDir)
	}
	if seedsDir != "" {
		seeds = os.DirFS(seedsDir)
	}
	return NewRunner(db, migrations, seeds, opts...)
}

// Applied is one row of migration history.
type Applied struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Up applies all pending migrations in lexical order. Files already recorded
// in the history table are verified against their stored checksum and
// skipped.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	done, err := r.applied(ctx, r.history)
	if err != nil {
		return err
	}
	files, err := listSQL(r.migrations, ".up.sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		body, err := fs.ReadFile(r.migrations, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		sum := checksum(body)
		if prev, ok := done[name]; ok {
			if prev != sum {
				return fmt.Errorf("%w: %s", ErrChecksumMismatch, name)
			}
			continue
		}
		if err := r.execFile(ctx, name, body); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if err := r.record(ctx, r.history, name, sum); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	history, err := r.Status(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("migrate: nothing to roll back")
	}
	last := history[len(history)-1].Name
	downName := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	body, err := fs.ReadFile(r.migrations, downName)
	if err != nil {
		return fmt.Errorf("missing down migration for %s: %w", last, err)
	}
	if err := r.execFile(ctx, downName, body); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, r.history), last)
	return err
}

// Seed applies seed files once each. Seeds never roll back.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	done, err := r.applied(ctx, r.seedsTable)
	if err != nil {
		return err
	}
	files, err := listSQL(r.seeds, ".sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		if _, ok := done[name]; ok {
			continue
		}
		body, err := fs.ReadFile(r.seeds, name)
		if err != nil {
			return fmt.Errorf("read seed %s: %w", name, err)
		}
		if err := r.execFile(ctx, name, body); err != nil {
			return fmt.Errorf("apply seed %s: %w", name, err)
		}
		if err := r.record(ctx, r.seedsTable, name, checksum(body)); err != nil {
			return err
		}
	}
	return nil
}

// Status returns applied migrations in application order.
func (r *Runner) Status(ctx context.Context) ([]Applied, error) {
	if err := r.ensureTables(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`select name, checksum, applied_at from %s order by applied_at asc, name asc`, r.history))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Runner) ensureTables(ctx context.Context) error {
	for _, table := range []string{r.history, r.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				checksum text not null,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// execFile runs every statement of one file inside a single transaction.
func (r *Runner) execFile(ctx context.Context, name string, body []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, table, name, sum string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, checksum, applied_at) values ($1, $2, $3)`, table),
		name, sum, time.Now().UTC())
	return err
}

func (r *Runner) applied(ctx context.Context, table string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`select name, checksum from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		out[name] = sum
	}
	return out, rows.Err()
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// listSQL returns files under fsys with the given suffix, sorted by name.
// Version prefixes (0001_, 0002_, ...) make lexical order the apply order.
func listSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path.Base(p), suffix) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted strings. Good
// enough for schema DDL; functions with embedded semicolons belong in their
// own file anyway.
func splitStatements(sql string) []string {
	var stmts []string
	var cur strings.Builder
	inString := false
	for _, r := range sql {
		cur.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, cur.String())
				cur.Reset()
			}
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		stmts = append(stmts, cur.String())
	}
	return stmts
}
