package wireformat

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// DecodeBytes decodes a single consensus-serialized transaction from raw
// bytes, as returned by getrawtransaction/tx/{id}/raw.
func DecodeBytes(raw []byte) (*Tx, error) {
	return Decode(bytes.NewReader(raw))
}

// DecodeBlockTransactions decodes the transaction vector that follows a
// block header: a varint transaction count followed by that many
// consensus-serialized transactions. It assumes a legacy (non-dynafed)
// block layout, matching the regtest/testing Elements chains this daemon
// targets; dynafed's variable-length header is out of scope (see
// DESIGN.md).
func DecodeBlockTransactions(data []byte) (int, []*Tx, error) {
	r := bytes.NewReader(data)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("read tx count: %w", err)
	}
	txs := make([]*Tx, 0, count)
	for i := uint64(0); i < count; i++ {
		tx, err := Decode(r)
		if err != nil {
			return 0, nil, fmt.Errorf("decode tx %d/%d: %w", i, count, err)
		}
		txs = append(txs, tx)
	}
	return len(data) - r.Len(), txs, nil
}
