package sqlpoll

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool adapts *pgxpool.Pool to Queryer. pgx.Rows already exposes the
// same method set as Rows but, being a distinct named interface, needs
// this thin wrapper to satisfy Queryer by declared type.
type PgxPool struct {
	Pool *pgxpool.Pool
}

func (p PgxPool) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := p.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SQLPool adapts a *sql.DB (or *sql.Conn-backed pool, e.g. mattn/go-sqlite3
// for tests) to Queryer.
type SQLPool struct {
	DB *sql.DB
}

func (p SQLPool) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRowsAdapter{rows}, nil
}

// sqlRowsAdapter drops *sql.Rows.Close's error return to match Rows.
type sqlRowsAdapter struct {
	rows *sql.Rows
}

func (a sqlRowsAdapter) Next() bool            { return a.rows.Next() }
func (a sqlRowsAdapter) Scan(dest ...any) error { return a.rows.Scan(dest...) }
func (a sqlRowsAdapter) Err() error             { return a.rows.Err() }
func (a sqlRowsAdapter) Close()                 { _ = a.rows.Close() }
