// Package db implements the two-table persistence layer behind the
// Claimer and Constructor: parameters (a key/value store used for
// block_height) and pending_covenants. Backend is selected by URL
// scheme, grounded on original_source/src/db/helpers.rs and spec.md §4.5.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btclog"
)

// log is the package-wide logger, set by the daemon's startup via
// UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by db.
func UseLogger(logger btclog.Logger) { log = logger }

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = fmt.Errorf("db: not found")

// ErrAlreadyExists is returned by InsertCovenant when output_script
// collides with an existing row (the unique violation spec.md §4.5
// requires to surface to the caller).
var ErrAlreadyExists = fmt.Errorf("db: covenant already exists")

// Pool is the persistence interface the Claimer and Constructor depend
// on. Postgres and SQLite implementations share these exact semantics.
type Pool interface {
	// UpsertBlockHeight stores the highest block index processed so far.
	UpsertBlockHeight(ctx context.Context, height uint64) error
	// GetBlockHeight reads the stored block_height parameter. Returns
	// ErrNotFound on cold start (no parameter row yet).
	GetBlockHeight(ctx context.Context) (uint64, error)

	// InsertCovenant inserts a new Pending row. Returns ErrAlreadyExists
	// on a duplicate output_script.
	InsertCovenant(ctx context.Context, c Covenant) error
	// SetCovenantTransaction advances a row to TransactionFound,
	// recording the lockup tx id and observation time.
	SetCovenantTransaction(ctx context.Context, outputScript []byte, txID []byte, txTime time.Time) error
	// SetCovenantClaimed advances a row to Claimed.
	SetCovenantClaimed(ctx context.Context, outputScript []byte) error
	// GetCovenantsToClaim returns TransactionFound rows whose tx_time is
	// at or before cutoff, ready for the periodic broadcaster to sweep.
	GetCovenantsToClaim(ctx context.Context, cutoff time.Time) ([]Covenant, error)
	// GetPendingCovenantForOutput returns the single Pending row with the
	// given output_script, or ErrNotFound if none matches.
	GetPendingCovenantForOutput(ctx context.Context, outputScript []byte) (*Covenant, error)

	Close() error
}

// Open selects and opens a backend by URL scheme: a "postgresql://" (or
// "postgres://") prefix selects Postgres, anything else is treated as a
// SQLite DSN/file path. Migrations are applied before returning.
func Open(ctx context.Context, databaseURL string) (Pool, error) {
	if strings.HasPrefix(databaseURL, "postgresql://") || strings.HasPrefix(databaseURL, "postgres://") {
		log.Infof("opening postgres pool")
		return openPostgres(ctx, databaseURL)
	}
	log.Infof("opening sqlite pool")
	return openSQLite(ctx, databaseURL)
}
