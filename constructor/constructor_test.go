package constructor

import (
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/vulpemcov/covclaimd/chain"
	"github.com/vulpemcov/covclaimd/confidential"
	"github.com/vulpemcov/covclaimd/db"
	"github.com/vulpemcov/covclaimd/swaptree"
	"github.com/vulpemcov/covclaimd/wireformat"
)

// fakeBackend is a minimal chain.Backend stand-in: just a capturable
// broadcast, mirroring claimer's fakeBackend for the same purpose.
type fakeBackend struct {
	broadcast func(raw []byte) (chainhash.Hash, error)
}

func (f *fakeBackend) NetworkInfo(context.Context) (chain.NetworkInfo, error) {
	return chain.NetworkInfo{}, nil
}
func (f *fakeBackend) BlockCount(context.Context) (uint64, error) { return 0, nil }
func (f *fakeBackend) BlockHash(context.Context, uint64) (chainhash.Hash, error) {
	return chainhash.Hash{}, nil
}
func (f *fakeBackend) Block(context.Context, chainhash.Hash) (*chain.Block, error) {
	return nil, fmt.Errorf("fakeBackend: no blocks")
}
func (f *fakeBackend) Transaction(context.Context, chainhash.Hash) (*wireformat.Tx, error) {
	return nil, fmt.Errorf("fakeBackend: no transactions")
}
func (f *fakeBackend) Broadcast(_ context.Context, raw []byte) (chainhash.Hash, error) {
	if f.broadcast != nil {
		return f.broadcast(raw)
	}
	return chainhash.Hash{1}, nil
}
func (f *fakeBackend) TxStream() <-chan *wireformat.Tx { return nil }
func (f *fakeBackend) BlockStream() <-chan *chain.Block { return nil }
func (f *fakeBackend) Close() error { return nil }

// fakePublisher records every PublishClaim call.
type fakePublisher struct {
	swapID    string
	claimTxID chainhash.Hash
	calls     int
}

func (f *fakePublisher) PublishClaim(swapID string, claimTxID chainhash.Hash) {
	f.swapID = swapID
	f.claimTxID = claimTxID
	f.calls++
}
func (f *fakePublisher) Close() error { return nil }

// buildCovenantClaimLeaf reproduces the server's covenant-claim leaf
// template (see swaptree/tree_test.go): three data pushes at instruction
// indices 3, 6 and 13, preceded by a non-counted OP_1NEGATE.
func buildCovenantClaimLeaf(t *testing.T, preimageHash, expectedOutput []byte, expectedAmount int64) []byte {
	t.Helper()
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_1NEGATE)
	b.AddOp(txscript.OP_DUP)
	b.AddOp(txscript.OP_DUP)
	b.AddOp(txscript.OP_DUP)
	b.AddData(preimageHash)
	b.AddOp(txscript.OP_DUP)
	b.AddOp(txscript.OP_DUP)
	b.AddData(expectedOutput)
	for i := 0; i < 6; i++ {
		b.AddOp(txscript.OP_DUP)
	}
	b.AddInt64(expectedAmount)
	b.AddOp(txscript.OP_CHECKSIG)
	script, err := b.Script()
	require.NoError(t, err)
	return script
}

func mustScript(t *testing.T, ops ...byte) []byte {
	t.Helper()
	b := txscript.NewScriptBuilder()
	for _, op := range ops {
		b.AddOp(op)
	}
	script, err := b.Script()
	require.NoError(t, err)
	return script
}

// testFixture bundles everything a BroadcastClaim test needs: a swap tree
// whose covenant-claim leaf commits to destinationScript/expectedAmount,
// its internal key, and the registered Covenant row built from it.
type testFixture struct {
	tree              *swaptree.Tree
	internalKey       []byte
	preimage          []byte
	destinationScript []byte
	expectedAmount    int64
	covenantOutput    []byte
	swapTreeJSON      string
}

func newTestFixture(t *testing.T, expectedAmount int64) *testFixture {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	internalKey := schnorr.SerializePubKey(priv.PubKey())

	preimage := []byte("the-claim-preimage-used-in-test")
	preimageHash := btcutil.Hash160(preimage)
	destinationScript := mustScript(t, txscript.OP_1, txscript.OP_16)

	covenantClaimScript := buildCovenantClaimLeaf(t, preimageHash, destinationScript, expectedAmount)
	claimScript := mustScript(t, txscript.OP_CHECKSIG)
	refundScript := mustScript(t, txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_DROP, txscript.OP_CHECKSIG)

	tree := &swaptree.Tree{
		ClaimLeaf:         swaptree.Leaf{Script: claimScript},
		RefundLeaf:        swaptree.Leaf{Script: refundScript},
		CovenantClaimLeaf: swaptree.Leaf{Script: covenantClaimScript},
	}

	covenantOutput, err := tree.ScriptPubKey(internalKey)
	require.NoError(t, err)

	swapTreeJSON := fmt.Sprintf(
		`{"claim_leaf":{"output":"%x"},"refund_leaf":{"output":"%x"},"covenant_claim_leaf":{"output":"%x"}}`,
		claimScript, refundScript, covenantClaimScript,
	)

	return &testFixture{
		tree:              tree,
		internalKey:       internalKey,
		preimage:          preimage,
		destinationScript: destinationScript,
		expectedAmount:    expectedAmount,
		covenantOutput:    covenantOutput,
		swapTreeJSON:      swapTreeJSON,
	}
}

func (f *testFixture) covenant(blindingKey []byte) db.Covenant {
	return db.Covenant{
		OutputScript: f.covenantOutput,
		Status:       db.Pending,
		InternalKey:  f.internalKey,
		Preimage:     f.preimage,
		SwapTree:     f.swapTreeJSON,
		Address:      f.destinationScript,
		BlindingKey:  blindingKey,
		SwapID:       "swap-under-test",
	}
}

func newTestConstructor(t *testing.T, backend *fakeBackend, publisher *fakePublisher) (*Constructor, db.Pool) {
	t.Helper()
	pool, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return New(pool, backend, publisher, swaptree.ElementsRegtest), pool
}

// TestBroadcastClaimExplicitPrevoutBalancesFee drives BroadcastClaim over
// an explicit (non-confidential) lockup output and checks the fee-balance
// invariant: input value equals destination value plus the fee output's
// value, the transaction spends the located prevout with the covenant's
// witness, the row leaves Pending, and the publisher is notified.
func TestBroadcastClaimExplicitPrevoutBalancesFee(t *testing.T) {
	const expectedAmount = int64(100_000)
	const feeValue = int64(500)
	const prevoutValue = expectedAmount + feeValue

	fixture := newTestFixture(t, expectedAmount)
	utxoAsset := chainhash.Hash{0x11, 0x22, 0x33}

	lockupTx := &wireformat.Tx{
		Version: wireformat.TxVersion,
		TxOut: []*wireformat.TxOut{{
			Asset:    wireformat.NewExplicitAsset(utxoAsset),
			Value:    wireformat.NewExplicitValue(prevoutValue),
			Nonce:    wireformat.NewNullNonce(),
			PkScript: fixture.covenantOutput,
		}},
	}

	var broadcastRaw []byte
	backend := &fakeBackend{broadcast: func(raw []byte) (chainhash.Hash, error) {
		broadcastRaw = raw
		return chainhash.Hash{0xAA}, nil
	}}
	publisher := &fakePublisher{}
	ctor, pool := newTestConstructor(t, backend, publisher)

	covenant := fixture.covenant(nil)
	require.NoError(t, pool.InsertCovenant(context.Background(), covenant))

	tx, err := ctor.BroadcastClaim(context.Background(), covenant, lockupTx)
	require.NoError(t, err)
	require.NotEmpty(t, broadcastRaw)

	require.Len(t, tx.TxIn, 1)
	lockupTxid := lockupTx.Txid()
	require.Equal(t, lockupTxid, tx.TxIn[0].PreviousOutPoint.Hash)
	require.Equal(t, uint32(0), tx.TxIn[0].PreviousOutPoint.Index)

	require.Len(t, tx.TxOut, 2, "explicit prevout: destination + fee, no blinded op_return")
	destination, fee := tx.TxOut[0], tx.TxOut[1]

	destAmount, ok := destination.Value.ExplicitValue()
	require.True(t, ok)
	require.Equal(t, expectedAmount, destAmount)
	require.Equal(t, fixture.destinationScript, destination.PkScript)

	feeAmount, ok := fee.Value.ExplicitValue()
	require.True(t, ok)
	require.Nil(t, fee.PkScript)

	// Fee-balance invariant: sum(inputs) - sum(non-fee outputs) == fee.
	require.Equal(t, prevoutValue-destAmount, feeAmount)
	require.Equal(t, feeValue, feeAmount)

	controlBlock, err := fixture.tree.ControlBlock(fixture.internalKey)
	require.NoError(t, err)
	require.Len(t, tx.InWitness, 1)
	require.Equal(t, [][]byte{fixture.preimage, fixture.tree.CovenantClaimLeaf.Script, controlBlock},
		tx.InWitness[0].ScriptWitness)

	require.Equal(t, 1, publisher.calls)
	require.Equal(t, "swap-under-test", publisher.swapID)
	require.Equal(t, chainhash.Hash{0xAA}, publisher.claimTxID)

	_, err = pool.GetPendingCovenantForOutput(context.Background(), fixture.covenantOutput)
	require.Error(t, err, "row must have left Pending once claimed")
}

// TestBroadcastClaimConfidentialPrevoutRoundTrips drives BroadcastClaim
// over a confidential (blinded) lockup output: the constructor must
// recover the real value/asset via the registered blinding key, balance
// the three-output transaction (destination, blinded op_return, fee), and
// the blinded op_return must unblind back to value 1 and the same asset
// as the prevout.
func TestBroadcastClaimConfidentialPrevoutRoundTrips(t *testing.T) {
	const expectedAmount = int64(100_000)
	const feeValue = int64(500)
	const prevoutValue = expectedAmount + feeValue + 1 // +1 absorbed by the blinded op_return

	fixture := newTestFixture(t, expectedAmount)
	utxoAsset := chainhash.Hash{0x44, 0x55, 0x66}

	abf, err := confidential.NewRandomScalar()
	require.NoError(t, err)
	vbf, err := confidential.NewRandomScalar()
	require.NoError(t, err)
	blindingKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	assetGen := confidential.AssetGenerator(utxoAsset, abf)
	noncePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	valueCommitment, nonceCommitment, rangeProof, err := confidential.BlindValue(
		prevoutValue, vbf, assetGen, noncePriv.PubKey(), blindingKey, fixture.covenantOutput,
		confidential.RangeProofMessage{Asset: utxoAsset, Bf: abf},
	)
	require.NoError(t, err)

	assetCommitment, surjectionProof, err := confidential.BlindAsset(
		utxoAsset, abf, []confidential.Secrets{{Asset: utxoAsset, AssetBlindingFactor: abf}},
	)
	require.NoError(t, err)

	lockupTx := &wireformat.Tx{
		Version: wireformat.TxVersion,
		TxOut: []*wireformat.TxOut{{
			Asset:           assetCommitment,
			Value:           valueCommitment,
			Nonce:           nonceCommitment,
			PkScript:        fixture.covenantOutput,
			SurjectionProof: surjectionProof,
			RangeProof:      rangeProof,
		}},
	}

	backend := &fakeBackend{}
	publisher := &fakePublisher{}
	ctor, pool := newTestConstructor(t, backend, publisher)

	covenant := fixture.covenant(blindingKey.Serialize())
	require.NoError(t, pool.InsertCovenant(context.Background(), covenant))

	tx, err := ctor.BroadcastClaim(context.Background(), covenant, lockupTx)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 3, "confidential prevout: destination + blinded op_return + fee")

	destination, opReturn, fee := tx.TxOut[0], tx.TxOut[1], tx.TxOut[2]

	destAmount, ok := destination.Value.ExplicitValue()
	require.True(t, ok)
	require.Equal(t, expectedAmount, destAmount)

	feeAmount, ok := fee.Value.ExplicitValue()
	require.True(t, ok)
	require.Equal(t, feeValue, feeAmount)

	require.True(t, opReturn.Value.IsConfidential())
	require.True(t, opReturn.Asset.IsConfidential())
	require.Equal(t, []byte{0x6a}, opReturn.PkScript)

	// The blinded OP_RETURN must unblind back to exactly 1 satoshi of the
	// prevout's own asset, using the key derived from the prevout's value
	// blinding factor (the same party that could unblind the lockup can
	// reopen this balancing output).
	opReturnKey := rangeproofSecretForOpReturn(vbf)
	secrets, err := confidential.Unblind(opReturn.RangeProof, opReturn.PkScript, opReturnKey)
	require.NoError(t, err)
	require.Equal(t, int64(1), secrets.Value)
	require.Equal(t, utxoAsset, secrets.Asset)

	// Fee-balance invariant across all three outputs: destination + 1 (the
	// op_return) + fee must equal the original (unblinded) prevout value.
	require.Equal(t, prevoutValue, destAmount+1+feeAmount)
}
