// Package swaptree parses the three-leaf tapscript tree a covenant swap is
// locked to (claim leaf, refund leaf, covenant-claim leaf) and derives the
// taproot output key, address and control block the claimer needs to spend
// the covenant-claim path.
package swaptree

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

// LeafVersion is the Elements tapscript leaf version. Bitcoin taproot uses
// 0xc0; Elements reserves 0xc4 for its own tapscript leaves.
const LeafVersion = txscript.TapscriptLeafVersion(0xc4)

// OpPushnumNeg1 is OP_1NEGATE (0x4f), the single opcode the covenant-claim
// leaf's instruction walk must skip without advancing its push-index
// counter; see CovenantDetails below.
const OpPushnumNeg1 = 0x4f

// Leaf is one leaf of the three-leaf tree, carrying its raw script.
type Leaf struct {
	Script []byte
}

// Tree holds the three leaves that make up a covenant swap's tapscript
// tree: two depth-2 leaves (claim, refund) sharing a branch, and a depth-1
// covenant-claim leaf that is the only path this daemon ever signs for.
type Tree struct {
	ClaimLeaf         Leaf
	RefundLeaf        Leaf
	CovenantClaimLeaf Leaf
}

// FromHex builds a Tree from the three hex-encoded leaf scripts as they
// appear in the pending_covenants.swap_tree JSON column and the intake
// request, decoding each one to raw script bytes.
func FromHex(claimHex, refundHex, covenantClaimHex string) (*Tree, error) {
	claim, err := hex.DecodeString(claimHex)
	if err != nil {
		return nil, fmt.Errorf("decode claim leaf: %w", err)
	}
	refund, err := hex.DecodeString(refundHex)
	if err != nil {
		return nil, fmt.Errorf("decode refund leaf: %w", err)
	}
	covenantClaim, err := hex.DecodeString(covenantClaimHex)
	if err != nil {
		return nil, fmt.Errorf("decode covenant claim leaf: %w", err)
	}
	return &Tree{
		ClaimLeaf:         Leaf{Script: claim},
		RefundLeaf:        Leaf{Script: refund},
		CovenantClaimLeaf: Leaf{Script: covenantClaim},
	}, nil
}

// CovenantDetails is the set of values the covenant-claim leaf script
// commits to: the amount and output script the lockup must pay, and the
// HASH160 of the claim preimage the claimer must reveal.
type CovenantDetails struct {
	ExpectedAmount int64
	ExpectedOutput []byte
	PreimageHash   []byte
}

// CovenantDetails walks the covenant-claim leaf's script instructions and
// extracts the amount/output/preimage-hash it commits to.
//
// The covenant-claim leaf is built by the swap server as a fixed template
// with three data pushes interleaved among opcodes: the preimage hash push
// is the 4th instruction (index 3), the output script push is the 7th
// (index 6) and the amount push is the 14th (index 13), each counted by
// instruction position rather than byte offset. OP_1NEGATE is the one
// opcode in the template that does not advance this position counter,
// because the reference encoder emits it as a zero-cost marker opcode
// rather than as a counted instruction.
func (t *Tree) CovenantDetails() (*CovenantDetails, error) {
	tok := txscript.MakeScriptTokenizer(0, t.CovenantClaimLeaf.Script)

	var (
		pos            int
		preimageHash   []byte
		expectedOutput []byte
		expectedAmount int64
		haveAmount     bool
	)

	for tok.Next() {
		data := tok.Data()
		op := tok.Opcode()

		if data != nil {
			switch pos {
			case 3:
				preimageHash = append([]byte(nil), data...)
			case 6:
				expectedOutput = append([]byte(nil), data...)
			case 13:
				amt, err := scriptNumToInt64(data)
				if err != nil {
					return nil, fmt.Errorf("decode expected amount: %w", err)
				}
				expectedAmount = amt
				haveAmount = true
			}
			pos++
			continue
		}

		if op == OpPushnumNeg1 {
			continue
		}
		pos++
	}
	if err := tok.Err(); err != nil {
		return nil, fmt.Errorf("tokenize covenant claim leaf: %w", err)
	}
	if preimageHash == nil || expectedOutput == nil || !haveAmount {
		return nil, fmt.Errorf("covenant claim leaf script missing expected pushes")
	}

	return &CovenantDetails{
		ExpectedAmount: expectedAmount,
		ExpectedOutput: expectedOutput,
		PreimageHash:   preimageHash,
	}, nil
}

// scriptNumToInt64 decodes a minimally-encoded little-endian script number
// push (as produced by ScriptBuilder.AddInt64) into an int64.
func scriptNumToInt64(b []byte) (int64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("script number push too large: %d bytes", len(b))
	}
	var result int64
	for i, v := range b {
		result |= int64(v) << uint(8*i)
	}
	if len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		result &= ^(int64(0x80) << uint(8*(len(b)-1)))
		result = -result
	}
	return result, nil
}

// tapLeafHash returns the BIP341 TapLeaf tagged hash for a leaf script
// under the Elements leaf version.
func tapLeafHash(script []byte) [32]byte {
	leaf := txscript.NewTapLeaf(LeafVersion, script)
	return leaf.TapHash()
}

// tapBranchHash combines two child hashes into their parent TapBranch
// tagged hash per BIP341, sorting the children lexicographically first.
// txscript exposes no public branch-combination helper (its own taproot
// sweep tooling hand-rolls the equivalent internally), so this is written
// directly from the BIP341 text.
func tapBranchHash(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	tag := sha256.Sum256([]byte("TapBranch"))
	h := sha256.New()
	h.Write(tag[:])
	h.Write(tag[:])
	h.Write(a[:])
	h.Write(b[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// merkleRoot builds the tree's taproot merkle root: the claim and refund
// leaves sit at depth 2 sharing a branch, the covenant-claim leaf sits at
// depth 1 alone, combined with that branch to form the root.
func (t *Tree) merkleRoot() (root [32]byte, claimRefundBranch [32]byte) {
	claimHash := tapLeafHash(t.ClaimLeaf.Script)
	refundHash := tapLeafHash(t.RefundLeaf.Script)
	claimRefundBranch = tapBranchHash(claimHash, refundHash)

	covenantClaimHash := tapLeafHash(t.CovenantClaimLeaf.Script)
	root = tapBranchHash(covenantClaimHash, claimRefundBranch)
	return root, claimRefundBranch
}

// OutputKey computes the x-only taproot output key for this tree under the
// given x-only internal key.
func (t *Tree) OutputKey(internalKey []byte) (*btcec.PublicKey, error) {
	pk, err := schnorr.ParsePubKey(internalKey)
	if err != nil {
		return nil, fmt.Errorf("parse internal key: %w", err)
	}
	root, _ := t.merkleRoot()
	outputKey := txscript.ComputeTaprootOutputKey(pk, root[:])
	return outputKey, nil
}

// ScriptPubKey returns the v1 segwit (taproot) scriptPubKey: OP_1 <32-byte
// x-only output key>.
func (t *Tree) ScriptPubKey(internalKey []byte) ([]byte, error) {
	outputKey, err := t.OutputKey(internalKey)
	if err != nil {
		return nil, err
	}
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1)
	builder.AddData(schnorr.SerializePubKey(outputKey))
	return builder.Script()
}

// ControlBlock returns the BIP341 control block needed to spend the
// covenant-claim leaf: leaf-version/parity byte, the internal key, and the
// single inclusion-proof node (the claim/refund branch hash).
func (t *Tree) ControlBlock(internalKey []byte) ([]byte, error) {
	pk, err := schnorr.ParsePubKey(internalKey)
	if err != nil {
		return nil, fmt.Errorf("parse internal key: %w", err)
	}
	root, claimRefundBranch := t.merkleRoot()
	outputKey := txscript.ComputeTaprootOutputKey(pk, root[:])

	leafVersionByte := byte(LeafVersion)
	if outputKey.SerializeCompressed()[0] == 0x03 {
		leafVersionByte |= 0x01
	}

	cb := make([]byte, 0, 1+32+32)
	cb = append(cb, leafVersionByte)
	cb = append(cb, schnorr.SerializePubKey(pk)...)
	cb = append(cb, claimRefundBranch[:]...)
	return cb, nil
}

// FindOutput linearly scans a lockup transaction's output scriptPubKeys for
// one matching this tree's address under internalKey, returning its index.
func FindOutput(outputs [][]byte, scriptPubKey []byte) (int, bool) {
	for i, out := range outputs {
		if bytes.Equal(out, scriptPubKey) {
			return i, true
		}
	}
	return -1, false
}
