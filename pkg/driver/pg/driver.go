// Package pg provides a session.Driver backed by a single PostgreSQL
// connection via pgx. Transaction control is issued as explicit statements
// rather than through pgx's Tx helpers, so the session core owns the
// lifecycle and every round trip maps one-to-one onto a server operation.
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Driver is one physical PostgreSQL connection.
type Driver struct {
	conn *pgx.Conn
}

// Connect opens a new connection. The caller typically wraps this in a
// pool.Factory:
//
//	factory := func(ctx context.Context) (session.Driver, error) {
//	    return pg.Connect(ctx, dsn)
//	}
func Connect(ctx context.Context, dsn string) (*Driver, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Driver{conn: conn}, nil
}

// Begin implements session.Driver.
func (d *Driver) Begin(ctx context.Context) error {
	_, err := d.conn.Exec(ctx, "BEGIN")
	return err
}

// Commit implements session.Driver.
func (d *Driver) Commit(ctx context.Context) error {
	_, err := d.conn.Exec(ctx, "COMMIT")
	return err
}

// Rollback implements session.Driver.
func (d *Driver) Rollback(ctx context.Context) error {
	_, err := d.conn.Exec(ctx, "ROLLBACK")
	return err
}

// SavepointCreate implements session.Driver. Savepoint names are generated
// by the session core, never caller input.
func (d *Driver) SavepointCreate(ctx context.Context, name string) error {
	_, err := d.conn.Exec(ctx, "SAVEPOINT "+name)
	return err
}

// SavepointRelease implements session.Driver.
func (d *Driver) SavepointRelease(ctx context.Context, name string) error {
	_, err := d.conn.Exec(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// SavepointRollback implements session.Driver.
func (d *Driver) SavepointRollback(ctx context.Context, name string) error {
	_, err := d.conn.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

// Exec implements session.Driver.
func (d *Driver) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := d.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query implements session.Driver.
func (d *Driver) Query(ctx context.Context, sql string, args ...any) ([][]any, error) {
	rows, err := d.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

// Close implements session.Driver. Safe to call more than once.
func (d *Driver) Close(ctx context.Context) error {
	if d.conn.IsClosed() {
		return nil
	}
	return d.conn.Close(ctx)
}
