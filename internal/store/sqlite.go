package store

import (
	"context"
	"database/sql"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbFileName = "mybrain.sqlite"

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: statements are serialized in-process and PRAGMA
	// data_version only moves when another process commits.
	db.SetMaxOpenConns(1)

	// WAL enables one writer + many readers across processes; busy_timeout
	// avoids "database is locked" when another process holds the write lock.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT NOT NULL,
			id TEXT NOT NULL,
			created_at_unixms INTEGER NOT NULL,
			json TEXT NOT NULL,
			updated_at_unixms INTEGER NOT NULL,
			PRIMARY KEY(path, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(path, created_at_unixms);`,
		`INSERT OR IGNORE INTO meta(k, v) VALUES('schema_version', '1');`,
	}
	for _, st := range stmts {
		if _, err := db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// dataVersion changes whenever another connection commits to the database.
func dataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, `PRAGMA data_version;`).Scan(&v)
	return v, err
}

func sqlitePath(dir string) string {
	return filepath.Join(dir, dbFileName)
}
