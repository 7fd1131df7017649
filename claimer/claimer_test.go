package claimer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/vulpemcov/covclaimd/chain"
	"github.com/vulpemcov/covclaimd/constructor"
	"github.com/vulpemcov/covclaimd/db"
	"github.com/vulpemcov/covclaimd/notify"
	"github.com/vulpemcov/covclaimd/swaptree"
	"github.com/vulpemcov/covclaimd/wireformat"
)

// fakeBackend is a minimal chain.Backend stand-in: no RPC, no ZMQ, just
// the channels and in-memory blocks the test wires up directly.
type fakeBackend struct {
	blocks    map[uint64]*chain.Block
	hashes    map[uint64]chainhash.Hash
	tip       uint64
	txCh      chan *wireformat.Tx
	blockCh   chan *chain.Block
	broadcast func(raw []byte) (chainhash.Hash, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		blocks:  make(map[uint64]*chain.Block),
		hashes:  make(map[uint64]chainhash.Hash),
		txCh:    make(chan *wireformat.Tx, 8),
		blockCh: make(chan *chain.Block, 8),
	}
}

func (f *fakeBackend) NetworkInfo(context.Context) (chain.NetworkInfo, error) {
	return chain.NetworkInfo{}, nil
}
func (f *fakeBackend) BlockCount(context.Context) (uint64, error) { return f.tip, nil }
func (f *fakeBackend) BlockHash(_ context.Context, height uint64) (chainhash.Hash, error) {
	return f.hashes[height], nil
}
func (f *fakeBackend) Block(_ context.Context, hash chainhash.Hash) (*chain.Block, error) {
	for h, blk := range f.blocks {
		if f.hashes[h] == hash {
			return blk, nil
		}
	}
	return nil, fmt.Errorf("fakeBackend: no block for hash %s", hash)
}
func (f *fakeBackend) Transaction(context.Context, chainhash.Hash) (*wireformat.Tx, error) {
	return nil, nil
}
func (f *fakeBackend) Broadcast(_ context.Context, raw []byte) (chainhash.Hash, error) {
	if f.broadcast != nil {
		return f.broadcast(raw)
	}
	return chainhash.Hash{1}, nil
}
func (f *fakeBackend) TxStream() <-chan *wireformat.Tx   { return f.txCh }
func (f *fakeBackend) BlockStream() <-chan *chain.Block { return f.blockCh }
func (f *fakeBackend) Close() error                     { return nil }

func newTestClaimer(t *testing.T, backend *fakeBackend, sweepInterval time.Duration) (*Claimer, db.Pool) {
	t.Helper()
	pool, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	ctor := constructor.New(pool, backend, notify.Noop(), swaptree.ElementsRegtest)
	return New(pool, backend, ctor, 0, sweepInterval), pool
}

func simpleOutputTx(script []byte) *wireformat.Tx {
	return &wireformat.Tx{
		Version: wireformat.TxVersion,
		TxOut: []*wireformat.TxOut{{
			Asset:    wireformat.NewExplicitAsset(chainhash.Hash{9}),
			Value:    wireformat.NewExplicitValue(1000),
			Nonce:    wireformat.NewNullNonce(),
			PkScript: script,
		}},
	}
}

func TestHandleTxDeferredRecordsTransactionFound(t *testing.T) {
	backend := newFakeBackend()
	c, pool := newTestClaimer(t, backend, time.Hour)

	script := []byte{0x51, 0x20}
	require.NoError(t, pool.InsertCovenant(context.Background(), db.Covenant{
		OutputScript: script,
		Status:       db.Pending,
		SwapID:       "swap-1",
	}))

	c.handleTx(context.Background(), simpleOutputTx(script))

	covenant, err := pool.GetPendingCovenantForOutput(context.Background(), script)
	require.Error(t, err)
	require.Nil(t, covenant)

	claimable, err := pool.GetCovenantsToClaim(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	require.Equal(t, db.TransactionFound, claimable[0].Status)
}

func TestRescanColdStartPersistsTipWithoutWalkingBlocks(t *testing.T) {
	backend := newFakeBackend()
	backend.tip = 42
	c, pool := newTestClaimer(t, backend, time.Hour)

	height, err := c.rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), height)

	stored, err := pool.GetBlockHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), stored)
}

func TestRescanWalksMissedBlocks(t *testing.T) {
	backend := newFakeBackend()
	script := []byte{0x51, 0x20}

	backend.hashes[1] = chainhash.Hash{1}
	backend.blocks[1] = &chain.Block{Height: 1, Transactions: []*wireformat.Tx{simpleOutputTx(script)}}
	backend.tip = 1

	c, pool := newTestClaimer(t, backend, time.Hour)
	require.NoError(t, pool.UpsertBlockHeight(context.Background(), 0))
	require.NoError(t, pool.InsertCovenant(context.Background(), db.Covenant{
		OutputScript: script,
		Status:       db.Pending,
		SwapID:       "swap-2",
	}))

	height, err := c.rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)

	claimable, err := pool.GetCovenantsToClaim(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, claimable, 1)
}
