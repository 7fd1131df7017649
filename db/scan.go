package db

import (
	"database/sql"
	"time"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCovenant(row rowScanner) (*Covenant, error) {
	var c Covenant
	var status int
	var blindingKey, txID []byte
	var txTime sql.NullTime

	err := row.Scan(&c.OutputScript, &status, &c.InternalKey, &c.Preimage, &c.SwapTree,
		&c.Address, &blindingKey, &txID, &txTime, &c.CreatedAt, &c.SwapID)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.BlindingKey = blindingKey
	c.TxID = txID
	if txTime.Valid {
		t := txTime.Time
		c.TxTime = &t
	}
	return &c, nil
}

func scanCovenants(rows *sql.Rows) ([]Covenant, error) {
	var out []Covenant
	for rows.Next() {
		c, err := scanCovenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
