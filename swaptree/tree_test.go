package swaptree

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// buildCovenantClaimLeaf reproduces the server's covenant-claim leaf
// template: a HASH160(preimage)-equal check, an output/amount introspection
// check, with filler opcodes positioning the three data pushes at
// instruction indices 3, 6 and 13, and a leading OP_1NEGATE that must not
// count toward that index.
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

func testInternalKey(t *testing.T) []byte {
	t.Helper()
	key := bytes.Repeat([]byte{0x11}, 32)
	priv, _ := btcec.PrivKeyFromBytes(key)
	return priv.PubKey().SerializeCompressed()[1:]
}

func TestCovenantDetails(t *testing.T) {
	preimageHash, err := hex.DecodeString("af8b5215948249f6e10adddc531ffe5d4428b917")
	require.NoError(t, err)
	expectedOutput, err := hex.DecodeString("aff4f5af812e3db39024f2000db7e23091dc0603")
	require.NoError(t, err)
	const expectedAmount = int64(100_000)

	leaf := buildCovenantClaimLeaf(t, preimageHash, expectedOutput, expectedAmount)
	tree := &Tree{CovenantClaimLeaf: Leaf{Script: leaf}}

	details, err := tree.CovenantDetails()
	require.NoError(t, err)
	require.Equal(t, expectedAmount, details.ExpectedAmount)
	require.Equal(t, expectedOutput, details.ExpectedOutput)
	require.Equal(t, preimageHash, details.PreimageHash)
}

func TestCovenantDetailsMissingPushesErrors(t *testing.T) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_DUP)
	b.AddOp(txscript.OP_CHECKSIG)
	script, err := b.Script()
	require.NoError(t, err)

	tree := &Tree{CovenantClaimLeaf: Leaf{Script: script}}
	_, err = tree.CovenantDetails()
	require.Error(t, err)
}

func TestAddressAndControlBlockAreDeterministic(t *testing.T) {
	internalKey := testInternalKey(t)

	tree := &Tree{
		ClaimLeaf:         Leaf{Script: mustScript(t, txscript.OP_CHECKSIG)},
		RefundLeaf:        Leaf{Script: mustScript(t, txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_DROP, txscript.OP_CHECKSIG)},
		CovenantClaimLeaf: Leaf{Script: mustScript(t, txscript.OP_DUP, txscript.OP_CHECKSIG)},
	}

	addr1, err := tree.Address(internalKey, ElementsRegtest)
	require.NoError(t, err)
	addr2, err := tree.Address(internalKey, ElementsRegtest)
	require.NoError(t, err)
	require.Equal(t, addr1, addr2)
	require.True(t, strings.HasPrefix(addr1, ElementsRegtest.Bech32HRP+"1"))

	cb1, err := tree.ControlBlock(internalKey)
	require.NoError(t, err)
	cb2, err := tree.ControlBlock(internalKey)
	require.NoError(t, err)
	require.Equal(t, cb1, cb2)
	require.Len(t, cb1, 65)
	require.Equal(t, byte(LeafVersion)&0xfe, cb1[0]&0xfe)

	spk, err := tree.ScriptPubKey(internalKey)
	require.NoError(t, err)
	require.Len(t, spk, 34)
	require.Equal(t, byte(txscript.OP_1), spk[0])
	require.Equal(t, byte(0x20), spk[1])
}

func TestAddressDiffersAcrossNetworks(t *testing.T) {
	internalKey := testInternalKey(t)
	tree := &Tree{
		ClaimLeaf:         Leaf{Script: mustScript(t, txscript.OP_CHECKSIG)},
		RefundLeaf:        Leaf{Script: mustScript(t, txscript.OP_CHECKSIG)},
		CovenantClaimLeaf: Leaf{Script: mustScript(t, txscript.OP_CHECKSIG)},
	}

	regtestAddr, err := tree.Address(internalKey, ElementsRegtest)
	require.NoError(t, err)
	liquidAddr, err := tree.Address(internalKey, LiquidMainnet)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(regtestAddr, "ert1"))
	require.True(t, strings.HasPrefix(liquidAddr, "ex1"))
	require.NotEqual(t, regtestAddr, liquidAddr)
}

func TestFindOutput(t *testing.T) {
	target := []byte{0x51, 0x20, 0x01, 0x02}
	outputs := [][]byte{{0x00}, target, {0x51}}

	idx, ok := FindOutput(outputs, target)
	require.True(t, ok)
	require.Equal(t, 1, idx)

	_, ok = FindOutput(outputs, []byte{0xff})
	require.False(t, ok)
}

// TestSwapTreeMatchesKnownVectors checks the tree's address, scriptPubKey,
// control block and covenant details against the fixed scenario-3/4 vectors
// (internal key, leaf scripts, expected address/scriptPubKey/control block),
// the same ones _examples/original_source/src/claimer/tree.rs encodes. This
// pins the BIP341 tagged-hash combination (leaf ordering, sibling sort,
// parity bit) against byte-exact ground truth rather than self-consistency
// alone.
func TestSwapTreeMatchesKnownVectors(t *testing.T) {
	internalKey, err := hex.DecodeString(
		"816963af90d4b882ccbcaacc920ba8e4fdd35c083a052a08d5c1732272ffccd8")
	require.NoError(t, err)

	claimScript, err := hex.DecodeString(
		"82012088a914af8b5215948249f6e10adddc531ffe5d4428b9178820812910149e0e712096" +
			"24487851f80a0cb97652efb0a836205628bc1b0e8e3aa7ac")
	require.NoError(t, err)
	refundScript, err := hex.DecodeString(
		"201ec7adf6f1c40ad340533027d15952c0c5b7aa0dd6c4b38d838e62d32d4d0259ad020b06b1")
	require.NoError(t, err)
	covenantClaimScript, err := hex.DecodeString(
		"82012088a914af8b5215948249f6e10adddc531ffe5d4428b9178800d1008814aff4f5af81" +
			"2e3db39024f2000db7e23091dc06038800ce51882025b251070e29ca19043cf33ccd7324e2" +
			"ddab03ecc4ae0b5e77c4fc0e5cf6c95a8800cf7508a08601000000000087")
	require.NoError(t, err)

	tree := &Tree{
		ClaimLeaf:         Leaf{Script: claimScript},
		RefundLeaf:        Leaf{Script: refundScript},
		CovenantClaimLeaf: Leaf{Script: covenantClaimScript},
	}

	address, err := tree.Address(internalKey, ElementsRegtest)
	require.NoError(t, err)
	require.Equal(t, "ert1pephte6qwvmhs74wp9aup4fs0syk6ed233sqtved7grk6qucedj0qksw749", address)

	spk, err := tree.ScriptPubKey(internalKey)
	require.NoError(t, err)
	require.Equal(t, "5120c86ebce80e66ef0f55c12f781aa60f812dacb5518c00b665be40eda073196c9e",
		hex.EncodeToString(spk))

	cb, err := tree.ControlBlock(internalKey)
	require.NoError(t, err)
	require.Equal(t,
		"c4816963af90d4b882ccbcaacc920ba8e4fdd35c083a052a08d5c1732272ffccd8"+
			"d6350677678c01dd2e3e90f67a0728a81e263d08b36623747ad9c811faf2fc42",
		hex.EncodeToString(cb))

	details, err := tree.CovenantDetails()
	require.NoError(t, err)
	require.Equal(t, int64(100_000), details.ExpectedAmount)
	require.Equal(t, "aff4f5af812e3db39024f2000db7e23091dc0603", hex.EncodeToString(details.ExpectedOutput))
	require.Equal(t, "af8b5215948249f6e10adddc531ffe5d4428b917", hex.EncodeToString(details.PreimageHash))
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
