package wireformat

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestExplicitValueRoundTrip(t *testing.T) {
	c := NewExplicitValue(100_000)
	v, ok := c.ExplicitValue()
	require.True(t, ok)
	require.Equal(t, int64(100_000), v)
	require.True(t, c.IsExplicit())
	require.False(t, c.IsConfidential())
}

func TestExplicitAssetRoundTrip(t *testing.T) {
	var id chainhash.Hash
	copy(id[:], bytes.Repeat([]byte{0xab}, 32))
	c := NewExplicitAsset(id)
	got, ok := c.ExplicitAsset()
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestConfidentialCommitmentIsConfidential(t *testing.T) {
	var x [32]byte
	c := NewConfidentialCommitment(0x0a, x)
	require.True(t, c.IsConfidential())
	require.False(t, c.IsExplicit())
	require.False(t, c.IsNull())
}

func TestTxEncodeDecodeRoundTripExplicit(t *testing.T) {
	var txid chainhash.Hash
	copy(txid[:], bytes.Repeat([]byte{0x11}, 32))

	var assetID chainhash.Hash
	copy(assetID[:], bytes.Repeat([]byte{0x22}, 32))

	tx := &Tx{
		Version: TxVersion,
		TxIn: []*TxIn{{
			PreviousOutPoint: Outpoint{Hash: txid, Index: 1},
			SignatureScript:  nil,
			Sequence:         ClaimSequence,
		}},
		TxOut: []*TxOut{{
			Asset:    NewExplicitAsset(assetID),
			Value:    NewExplicitValue(9_900),
			Nonce:    NewNullNonce(),
			PkScript: []byte{0x51, 0x20},
		}},
		LockTime: 0,
	}

	raw, err := tx.Serialize()
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	require.Equal(t, tx.Version, decoded.Version)
	require.Len(t, decoded.TxIn, 1)
	require.Equal(t, tx.TxIn[0].PreviousOutPoint.Hash, decoded.TxIn[0].PreviousOutPoint.Hash)
	require.Equal(t, tx.TxIn[0].PreviousOutPoint.Index, decoded.TxIn[0].PreviousOutPoint.Index)
	require.False(t, decoded.TxIn[0].PreviousOutPoint.IsPegin)
	require.False(t, decoded.TxIn[0].PreviousOutPoint.HasIssuance)
	require.Equal(t, tx.TxIn[0].Sequence, decoded.TxIn[0].Sequence)

	require.Len(t, decoded.TxOut, 1)
	gotValue, ok := decoded.TxOut[0].Value.ExplicitValue()
	require.True(t, ok)
	require.Equal(t, int64(9_900), gotValue)
	gotAsset, ok := decoded.TxOut[0].Asset.ExplicitAsset()
	require.True(t, ok)
	require.Equal(t, assetID, gotAsset)
}

func TestTxEncodeDecodeRoundTripWithWitness(t *testing.T) {
	var txid chainhash.Hash
	copy(txid[:], bytes.Repeat([]byte{0x33}, 32))
	var assetID chainhash.Hash
	copy(assetID[:], bytes.Repeat([]byte{0x44}, 32))

	tx := &Tx{
		Version: TxVersion,
		TxIn: []*TxIn{{
			PreviousOutPoint: Outpoint{Hash: txid, Index: 0},
			Sequence:         ClaimSequence,
		}},
		TxOut: []*TxOut{
			{
				Asset:    NewExplicitAsset(assetID),
				Value:    NewExplicitValue(100_000),
				Nonce:    NewNullNonce(),
				PkScript: []byte{0x51, 0x20},
			},
			{
				Asset:           NewExplicitAsset(assetID),
				Value:           NewExplicitValue(1),
				Nonce:           NewNullNonce(),
				PkScript:        []byte{0x6a},
				SurjectionProof: []byte{0xaa, 0xbb},
				RangeProof:      []byte{0xcc, 0xdd, 0xee},
			},
		},
		InWitness: []TxInWitness{{
			ScriptWitness: [][]byte{{0x01}, {0x02, 0x03}},
		}},
	}

	raw, err := tx.Serialize()
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	require.Len(t, decoded.InWitness, 1)
	require.Equal(t, tx.InWitness[0].ScriptWitness, decoded.InWitness[0].ScriptWitness)
	require.Equal(t, tx.TxOut[1].SurjectionProof, decoded.TxOut[1].SurjectionProof)
	require.Equal(t, tx.TxOut[1].RangeProof, decoded.TxOut[1].RangeProof)
}

func TestTxidExcludesWitness(t *testing.T) {
	var txid chainhash.Hash
	copy(txid[:], bytes.Repeat([]byte{0x55}, 32))
	var assetID chainhash.Hash
	copy(assetID[:], bytes.Repeat([]byte{0x66}, 32))

	base := func(withWitness bool) *Tx {
		tx := &Tx{
			Version: TxVersion,
			TxIn: []*TxIn{{
				PreviousOutPoint: Outpoint{Hash: txid, Index: 0},
				Sequence:         ClaimSequence,
			}},
			TxOut: []*TxOut{{
				Asset:    NewExplicitAsset(assetID),
				Value:    NewExplicitValue(5),
				Nonce:    NewNullNonce(),
				PkScript: []byte{0x51},
			}},
		}
		if withWitness {
			tx.InWitness = []TxInWitness{{ScriptWitness: [][]byte{{0xaa}}}}
		}
		return tx
	}

	require.Equal(t, base(false).Txid(), base(true).Txid())
}
