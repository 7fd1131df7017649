// Package chain defines the ChainBackend abstraction the Claimer and
// Constructor run against, uniform across a node-RPC+ZMQ backend
// (elementsrpc) and an Esplora HTTP-polling backend (esplora).
package chain

import (
	"context"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/vulpemcov/covclaimd/wireformat"
)

// Block is a fully consensus-decoded Elements block: the subset the
// Claimer needs, a height and its ordered transactions.
type Block struct {
	Hash         chainhash.Hash
	Height       uint64
	Transactions []*wireformat.Tx
}

// NetworkInfo is the liveness probe result from the backend's node.
type NetworkInfo struct {
	Subversion string
}

// BroadcastError wraps a failed broadcast attempt. IsAlreadyIncluded is
// the idempotency signal the Constructor relies on: a transaction whose
// inputs were already spent (by this instance or a concurrent one) is
// treated as claimed, not as an error.
type BroadcastError struct {
	Message string
}

func (e *BroadcastError) Error() string { return e.Message }

var alreadyIncludedMessages = []string{
	"Transaction already in block chain",
	"bad-txns-inputs-missingorspent",
	"insufficient fee, rejecting replacement",
}

// IsAlreadyIncluded reports whether this broadcast failure indicates the
// spend already happened on-chain (or is already in the mempool ahead of
// a conflicting replacement), rather than a genuine construction error.
func (e *BroadcastError) IsAlreadyIncluded() bool {
	for _, m := range alreadyIncludedMessages {
		if strings.Contains(e.Message, m) {
			return true
		}
	}
	return false
}

// Backend is the uniform chain access surface the core depends on.
// tx_stream/block_stream are channels the backend owns. The backends do
// not close them, neither when ctx is done nor on Close, so consumers
// stop on their own context. A backend without a mempool push mechanism
// (Esplora) still returns a live, simply unused, tx channel.
type Backend interface {
	NetworkInfo(ctx context.Context) (NetworkInfo, error)
	BlockCount(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) (chainhash.Hash, error)
	Block(ctx context.Context, hash chainhash.Hash) (*Block, error)
	Transaction(ctx context.Context, txid chainhash.Hash) (*wireformat.Tx, error)
	// Broadcast submits a raw transaction and returns its txid, or a
	// *BroadcastError on rejection.
	Broadcast(ctx context.Context, rawTx []byte) (chainhash.Hash, error)

	// TxStream returns the channel of observed mempool transactions.
	TxStream() <-chan *wireformat.Tx
	// BlockStream returns the channel of observed confirmed blocks.
	BlockStream() <-chan *Block

	Close() error
}
