package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	litemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/vulpemcov/covclaimd/db/migrations"
)

type sqlitePool struct {
	db *sql.DB
}

func openSQLite(ctx context.Context, dataSourceName string) (Pool, error) {
	sqlDB, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc.org/sqlite does not support concurrent writers on a single
	// connection pool the way pgx does; serialize access to one conn.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := runSQLiteMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &sqlitePool{db: sqlDB}, nil
}

func runSQLiteMigrations(sqlDB *sql.DB) error {
	sub, err := fs.Sub(migrations.SQLite, "sqlite")
	if err != nil {
		return err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	target, err := litemigrate.WithInstance(sqlDB, &litemigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (p *sqlitePool) Close() error { return p.db.Close() }

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (p *sqlitePool) UpsertBlockHeight(ctx context.Context, height uint64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO parameters (name, value) VALUES ('block_height', ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%d", height))
	return err
}

func (p *sqlitePool) GetBlockHeight(ctx context.Context) (uint64, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM parameters WHERE name = 'block_height'`,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	var height uint64
	if _, err := fmt.Sscanf(value, "%d", &height); err != nil {
		return 0, fmt.Errorf("parse block_height: %w", err)
	}
	return height, nil
}

func (p *sqlitePool) InsertCovenant(ctx context.Context, c Covenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pending_covenants
			(output_script, status, internal_key, preimage, swap_tree, address,
			 blinding_key, tx_id, tx_time, swap_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.OutputScript, int(c.Status), c.InternalKey, c.Preimage, c.SwapTree, c.Address,
		nullBytes(c.BlindingKey), nullBytes(c.TxID), nullTime(c.TxTime), c.SwapID)
	if isSQLiteUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *sqlitePool) SetCovenantTransaction(ctx context.Context, outputScript, txID []byte, txTime time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE pending_covenants SET status = ?, tx_id = ?, tx_time = ?
		WHERE output_script = ?
	`, int(TransactionFound), txID, txTime, outputScript)
	return checkRowsAffected(res, err)
}

func (p *sqlitePool) SetCovenantClaimed(ctx context.Context, outputScript []byte) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE pending_covenants SET status = ? WHERE output_script = ?
	`, int(Claimed), outputScript)
	return checkRowsAffected(res, err)
}

func (p *sqlitePool) GetCovenantsToClaim(ctx context.Context, cutoff time.Time) ([]Covenant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT output_script, status, internal_key, preimage, swap_tree, address,
		       blinding_key, tx_id, tx_time, created_at, swap_id
		FROM pending_covenants
		WHERE status = ? AND tx_time <= ?
	`, int(TransactionFound), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCovenants(rows)
}

func (p *sqlitePool) GetPendingCovenantForOutput(ctx context.Context, outputScript []byte) (*Covenant, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT output_script, status, internal_key, preimage, swap_tree, address,
		       blinding_key, tx_id, tx_time, created_at, swap_id
		FROM pending_covenants
		WHERE output_script = ? AND status = ?
	`, outputScript, int(Pending))
	c, err := scanCovenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}
