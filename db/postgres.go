package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vulpemcov/covclaimd/db/migrations"
)

const pgUniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode
}

type postgresPool struct {
	db *sql.DB
}

func openPostgres(ctx context.Context, databaseURL string) (Pool, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runPostgresMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &postgresPool{db: sqlDB}, nil
}

func runPostgresMigrations(sqlDB *sql.DB) error {
	sub, err := fs.Sub(migrations.Postgres, "postgres")
	if err != nil {
		return err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	target, err := pgmigrate.WithInstance(sqlDB, &pgmigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (p *postgresPool) Close() error { return p.db.Close() }

func (p *postgresPool) UpsertBlockHeight(ctx context.Context, height uint64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO parameters (name, value) VALUES ('block_height', $1)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
	`, fmt.Sprintf("%d", height))
	return err
}

func (p *postgresPool) GetBlockHeight(ctx context.Context) (uint64, error) {
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

func (p *postgresPool) InsertCovenant(ctx context.Context, c Covenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pending_covenants
			(output_script, status, internal_key, preimage, swap_tree, address,
			 blinding_key, tx_id, tx_time, swap_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.OutputScript, int(c.Status), c.InternalKey, c.Preimage, c.SwapTree, c.Address,
		nullBytes(c.BlindingKey), nullBytes(c.TxID), nullTime(c.TxTime), c.SwapID)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *postgresPool) SetCovenantTransaction(ctx context.Context, outputScript, txID []byte, txTime time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE pending_covenants SET status = $1, tx_id = $2, tx_time = $3
		WHERE output_script = $4
	`, int(TransactionFound), txID, txTime, outputScript)
	return checkRowsAffected(res, err)
}

func (p *postgresPool) SetCovenantClaimed(ctx context.Context, outputScript []byte) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE pending_covenants SET status = $1 WHERE output_script = $2
	`, int(Claimed), outputScript)
	return checkRowsAffected(res, err)
}

func (p *postgresPool) GetCovenantsToClaim(ctx context.Context, cutoff time.Time) ([]Covenant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT output_script, status, internal_key, preimage, swap_tree, address,
		       blinding_key, tx_id, tx_time, created_at, swap_id
		FROM pending_covenants
		WHERE status = $1 AND tx_time <= $2
	`, int(TransactionFound), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCovenants(rows)
}

func (p *postgresPool) GetPendingCovenantForOutput(ctx context.Context, outputScript []byte) (*Covenant, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT output_script, status, internal_key, preimage, swap_tree, address,
		       blinding_key, tx_id, tx_time, created_at, swap_id
		FROM pending_covenants
		WHERE output_script = $1 AND status = $2
	`, outputScript, int(Pending))
	c, err := scanCovenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}
