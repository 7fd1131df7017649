// Package wireformat implements the Elements consensus transaction
// encoding: Bitcoin's wire format extended with confidential asset/value/
// nonce commitments, per-input pegin/issuance outpoint flags, and the
// per-output range/surjection proof witness fields.
package wireformat

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	outpointIssuanceFlag = uint32(1) << 31
	outpointPeginFlag    = uint32(1) << 30
	outpointIndexMask    = uint32(0x3fffffff)

	witnessFlag = byte(1)

	// TxVersion is the version this daemon always builds claim
	// transactions with (spec.md §4.6 step 5).
	TxVersion = 2

	// ClaimSequence signals RBF without finalizing the input, per
	// spec.md §4.6 step 5.
	ClaimSequence = 0xFFFFFFFD
)

// Commitment is an Elements confidential-field encoding: a one-byte prefix
// followed by a payload whose meaning depends on the prefix and the field
// (asset/value/nonce) it belongs to. Across all three fields the only
// non-confidential prefixes are 0 (null, nonce-only) and 1 (explicit);
// every other prefix value is a blinded commitment.
type Commitment struct {
	Prefix byte
	Data   []byte
}

// IsNull reports whether this is a null nonce (no content at all).
func (c Commitment) IsNull() bool { return c.Prefix == 0 }

// IsExplicit reports whether this field carries its value in the clear.
func (c Commitment) IsExplicit() bool { return c.Prefix == 1 }

// IsConfidential reports whether this field is a blinded commitment.
func (c Commitment) IsConfidential() bool { return c.Prefix != 0 && c.Prefix != 1 }

// NewNullNonce returns the null nonce written when an output has no
// ephemeral key (the usual case for an explicit output).
func NewNullNonce() Commitment { return Commitment{Prefix: 0} }

// NewExplicitAsset wraps a 32-byte asset id as an explicit asset field.
func NewExplicitAsset(assetID chainhash.Hash) Commitment {
	return Commitment{Prefix: 1, Data: append([]byte(nil), assetID[:]...)}
}

// NewExplicitValue wraps a satoshi amount as an explicit value field.
// Elements serializes explicit values big-endian, unlike Bitcoin's
// little-endian amounts, so that the leading byte after the 0x01 prefix
// never collides with a commitment's parity byte.
func NewExplicitValue(amount int64) Commitment {
	data := make([]byte, 8)
	v := uint64(amount)
	for i := 7; i >= 0; i-- {
		data[i] = byte(v)
		v >>= 8
	}
	return Commitment{Prefix: 1, Data: data}
}

// NewConfidentialCommitment wraps a 33-byte (parity-prefixed X coordinate)
// commitment for an asset, value or nonce field.
func NewConfidentialCommitment(parity byte, x [32]byte) Commitment {
	return Commitment{Prefix: parity, Data: append([]byte(nil), x[:]...)}
}

// ExplicitValue returns the amount of an explicit value field.
func (c Commitment) ExplicitValue() (int64, bool) {
	if !c.IsExplicit() || len(c.Data) != 8 {
		return 0, false
	}
	var v uint64
	for _, b := range c.Data {
		v = v<<8 | uint64(b)
	}
	return int64(v), true
}

// ExplicitAsset returns the asset id of an explicit asset field.
func (c Commitment) ExplicitAsset() (chainhash.Hash, bool) {
	var h chainhash.Hash
	if !c.IsExplicit() || len(c.Data) != 32 {
		return h, false
	}
	copy(h[:], c.Data)
	return h, true
}

func (c Commitment) serialize(w io.Writer) error {
	if c.Prefix == 0 {
		_, err := w.Write([]byte{0})
		return err
	}
	buf := make([]byte, 0, 1+len(c.Data))
	buf = append(buf, c.Prefix)
	buf = append(buf, c.Data...)
	_, err := w.Write(buf)
	return err
}

func readCommitment(r io.Reader, payloadLen int) (Commitment, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Commitment{}, fmt.Errorf("read commitment prefix: %w", err)
	}
	if prefix[0] == 0 {
		return Commitment{Prefix: 0}, nil
	}
	n := payloadLen
	if prefix[0] != 1 {
		n = 32
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Commitment{}, fmt.Errorf("read commitment payload: %w", err)
	}
	return Commitment{Prefix: prefix[0], Data: data}, nil
}

func readAsset(r io.Reader) (Commitment, error)  { return readCommitment(r, 32) }
func readValue(r io.Reader) (Commitment, error)  { return readCommitment(r, 8) }
func readNonce(r io.Reader) (Commitment, error)  { return readCommitment(r, 32) }

// Outpoint is a prevout reference with Elements' pegin/issuance flag bits
// packed into the high bits of the output index.
type Outpoint struct {
	Hash        chainhash.Hash
	Index       uint32
	IsPegin     bool
	HasIssuance bool
}

func (o Outpoint) encodedIndex() uint32 {
	idx := o.Index & outpointIndexMask
	if o.IsPegin {
		idx |= outpointPeginFlag
	}
	if o.HasIssuance {
		idx |= outpointIssuanceFlag
	}
	return idx
}

// AssetIssuance carries the issuance/reissuance fields of a TxIn. This
// daemon never constructs an issuance input; it only needs to parse past
// one when scanning arbitrary lockup/block transactions.
type AssetIssuance struct {
	AssetBlindingNonce chainhash.Hash
	AssetEntropy       chainhash.Hash
	Amount             Commitment
	InflationKeys      Commitment
}

// TxIn is a single Elements transaction input.
type TxIn struct {
	PreviousOutPoint Outpoint
	Issuance         *AssetIssuance
	SignatureScript  []byte
	Sequence         uint32
}

// TxOut is a single Elements transaction output.
type TxOut struct {
	Asset           Commitment
	Value           Commitment
	Nonce           Commitment
	PkScript        []byte
	SurjectionProof []byte
	RangeProof      []byte
}

// TxInWitness holds the per-input witness fields carried alongside TxIn
// when the transaction has witness data.
type TxInWitness struct {
	IssuanceAmountRangeproof []byte
	InflationKeysRangeproof  []byte
	PeginWitness             [][]byte
	ScriptWitness            [][]byte
}

// Tx is a fully decoded Elements transaction.
type Tx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32

	// InWitness is parallel to TxIn; empty when the transaction carries
	// no witness data at all (flags byte omitted on the wire).
	InWitness []TxInWitness
}

// Txid returns the double-SHA256 of the transaction serialized without
// any witness data, matching Elements' (and Bitcoin's) txid convention.
func (t *Tx) Txid() chainhash.Hash {
	var buf bytes.Buffer
	_ = t.encode(&buf, false)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Serialize encodes the transaction with witness data included.
func (t *Tx) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.encode(&buf, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Tx) hasWitness() bool {
	for _, w := range t.InWitness {
		if len(w.PeginWitness) > 0 || len(w.ScriptWitness) > 0 ||
			len(w.IssuanceAmountRangeproof) > 0 || len(w.InflationKeysRangeproof) > 0 {
			return true
		}
	}
	for _, o := range t.TxOut {
		if len(o.SurjectionProof) > 0 || len(o.RangeProof) > 0 {
			return true
		}
	}
	return false
}

func (t *Tx) encode(w io.Writer, allowWitness bool) error {
	if err := writeLE32(w, uint32(t.Version)); err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	withWitness := allowWitness && t.hasWitness()

	if withWitness {
		// Elements reuses Bitcoin's segwit trick: an empty dummy vin
		// signals "a flags byte and the real vin/vout follow".
		if err := wire.WriteVarInt(w, 0, 0); err != nil {
			return fmt.Errorf("write dummy vin count: %w", err)
		}
		if _, err := w.Write([]byte{witnessFlag}); err != nil {
			return fmt.Errorf("write witness flag: %w", err)
		}
	}

	if err := writeTxIns(w, t.TxIn); err != nil {
		return err
	}
	if err := writeTxOuts(w, t.TxOut); err != nil {
		return err
	}

	if withWitness {
		for i, in := range t.TxIn {
			var wit TxInWitness
			if i < len(t.InWitness) {
				wit = t.InWitness[i]
			}
			if err := writeVarBytes(w, wit.IssuanceAmountRangeproof); err != nil {
				return fmt.Errorf("write issuance amount rangeproof: %w", err)
			}
			if err := writeVarBytes(w, wit.InflationKeysRangeproof); err != nil {
				return fmt.Errorf("write inflation keys rangeproof: %w", err)
			}
			if in.PreviousOutPoint.IsPegin {
				if err := writeWitnessStack(w, wit.PeginWitness); err != nil {
					return fmt.Errorf("write pegin witness: %w", err)
				}
			}
			if err := writeWitnessStack(w, wit.ScriptWitness); err != nil {
				return fmt.Errorf("write script witness: %w", err)
			}
		}
		for _, out := range t.TxOut {
			if err := writeVarBytes(w, out.SurjectionProof); err != nil {
				return fmt.Errorf("write surjection proof: %w", err)
			}
			if err := writeVarBytes(w, out.RangeProof); err != nil {
				return fmt.Errorf("write range proof: %w", err)
			}
		}
	}

	if err := writeLE32(w, t.LockTime); err != nil {
		return fmt.Errorf("write locktime: %w", err)
	}
	return nil
}

func writeLE32(w io.Writer, v uint32) error {
	_, err := w.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	return err
}

func writeTxIns(w io.Writer, ins []*TxIn) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(ins))); err != nil {
		return fmt.Errorf("write txin count: %w", err)
	}
	for i, in := range ins {
		if err := writeTxIn(w, in); err != nil {
			return fmt.Errorf("write txin %d: %w", i, err)
		}
	}
	return nil
}

func writeTxIn(w io.Writer, in *TxIn) error {
	if _, err := w.Write(in.PreviousOutPoint.Hash[:]); err != nil {
		return fmt.Errorf("write prevout hash: %w", err)
	}
	if err := writeLE32(w, in.PreviousOutPoint.encodedIndex()); err != nil {
		return fmt.Errorf("write prevout index: %w", err)
	}
	if err := writeVarBytes(w, in.SignatureScript); err != nil {
		return fmt.Errorf("write scriptSig: %w", err)
	}
	if err := writeLE32(w, in.Sequence); err != nil {
		return fmt.Errorf("write sequence: %w", err)
	}
	if in.PreviousOutPoint.HasIssuance {
		if in.Issuance == nil {
			return fmt.Errorf("outpoint flagged as issuance but no issuance data set")
		}
		if _, err := w.Write(in.Issuance.AssetBlindingNonce[:]); err != nil {
			return fmt.Errorf("write asset blinding nonce: %w", err)
		}
		if _, err := w.Write(in.Issuance.AssetEntropy[:]); err != nil {
			return fmt.Errorf("write asset entropy: %w", err)
		}
		if err := in.Issuance.Amount.serialize(w); err != nil {
			return fmt.Errorf("write issuance amount: %w", err)
		}
		if err := in.Issuance.InflationKeys.serialize(w); err != nil {
			return fmt.Errorf("write issuance inflation keys: %w", err)
		}
	}
	return nil
}

func writeTxOuts(w io.Writer, outs []*TxOut) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(outs))); err != nil {
		return fmt.Errorf("write txout count: %w", err)
	}
	for i, out := range outs {
		if err := writeTxOut(w, out); err != nil {
			return fmt.Errorf("write txout %d: %w", i, err)
		}
	}
	return nil
}

func writeTxOut(w io.Writer, out *TxOut) error {
	if err := out.Asset.serialize(w); err != nil {
		return fmt.Errorf("write asset: %w", err)
	}
	if err := out.Value.serialize(w); err != nil {
		return fmt.Errorf("write value: %w", err)
	}
	if err := out.Nonce.serialize(w); err != nil {
		return fmt.Errorf("write nonce: %w", err)
	}
	if err := writeVarBytes(w, out.PkScript); err != nil {
		return fmt.Errorf("write scriptPubKey: %w", err)
	}
	return nil
}

func writeVarBytes(w io.Writer, data []byte) error {
	return wire.WriteVarBytes(w, 0, data)
}

func writeWitnessStack(w io.Writer, stack [][]byte) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(stack))); err != nil {
		return fmt.Errorf("write witness stack count: %w", err)
	}
	for i, item := range stack {
		if err := writeVarBytes(w, item); err != nil {
			return fmt.Errorf("write witness item %d: %w", i, err)
		}
	}
	return nil
}

// Decode parses a consensus-serialized Elements transaction.
func Decode(r io.Reader) (*Tx, error) {
	tx := &Tx{}

	var versionBytes [4]byte
	if _, err := io.ReadFull(r, versionBytes[:]); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	tx.Version = int32(le32(versionBytes[:]))

	txins, err := readTxIns(r)
	if err != nil {
		return nil, err
	}

	var flags byte
	var txouts []*TxOut
	if len(txins) == 0 {
		var flagByte [1]byte
		if _, err := io.ReadFull(r, flagByte[:]); err != nil {
			return nil, fmt.Errorf("read witness flag: %w", err)
		}
		flags = flagByte[0]
		if flags != 0 {
			txins, err = readTxIns(r)
			if err != nil {
				return nil, err
			}
		}
		txouts, err = readTxOuts(r)
		if err != nil {
			return nil, err
		}
	} else {
		txouts, err = readTxOuts(r)
		if err != nil {
			return nil, err
		}
	}

	tx.TxIn = txins
	tx.TxOut = txouts

	if flags&witnessFlag != 0 {
		tx.InWitness = make([]TxInWitness, len(txins))
		for i, in := range txins {
			amtRP, err := readVarBytes(r)
			if err != nil {
				return nil, fmt.Errorf("read issuance amount rangeproof: %w", err)
			}
			inflRP, err := readVarBytes(r)
			if err != nil {
				return nil, fmt.Errorf("read inflation keys rangeproof: %w", err)
			}
			var peginWit [][]byte
			if in.PreviousOutPoint.IsPegin {
				peginWit, err = readWitnessStack(r)
				if err != nil {
					return nil, fmt.Errorf("read pegin witness: %w", err)
				}
			}
			scriptWit, err := readWitnessStack(r)
			if err != nil {
				return nil, fmt.Errorf("read script witness: %w", err)
			}
			tx.InWitness[i] = TxInWitness{
				IssuanceAmountRangeproof: amtRP,
				InflationKeysRangeproof:  inflRP,
				PeginWitness:             peginWit,
				ScriptWitness:            scriptWit,
			}
		}
		for _, out := range txouts {
			sp, err := readVarBytes(r)
			if err != nil {
				return nil, fmt.Errorf("read surjection proof: %w", err)
			}
			rp, err := readVarBytes(r)
			if err != nil {
				return nil, fmt.Errorf("read range proof: %w", err)
			}
			out.SurjectionProof = sp
			out.RangeProof = rp
		}
	}

	var lockTimeBytes [4]byte
	if _, err := io.ReadFull(r, lockTimeBytes[:]); err != nil {
		return nil, fmt.Errorf("read locktime: %w", err)
	}
	tx.LockTime = le32(lockTimeBytes[:])

	return tx, nil
}

func readTxIns(r io.Reader) ([]*TxIn, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("read txin count: %w", err)
	}
	ins := make([]*TxIn, 0, count)
	for i := uint64(0); i < count; i++ {
		in, err := readTxIn(r)
		if err != nil {
			return nil, fmt.Errorf("read txin %d: %w", i, err)
		}
		ins = append(ins, in)
	}
	return ins, nil
}

func readTxIn(r io.Reader) (*TxIn, error) {
	var hash chainhash.Hash
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return nil, fmt.Errorf("read prevout hash: %w", err)
	}
	var idxBytes [4]byte
	if _, err := io.ReadFull(r, idxBytes[:]); err != nil {
		return nil, fmt.Errorf("read prevout index: %w", err)
	}
	rawIdx := le32(idxBytes[:])
	out := Outpoint{
		Hash:        hash,
		Index:       rawIdx & outpointIndexMask,
		IsPegin:     rawIdx&outpointPeginFlag != 0,
		HasIssuance: rawIdx&outpointIssuanceFlag != 0,
	}

	sigScript, err := readVarBytes(r)
	if err != nil {
		return nil, fmt.Errorf("read scriptSig: %w", err)
	}

	var seqBytes [4]byte
	if _, err := io.ReadFull(r, seqBytes[:]); err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}

	in := &TxIn{
		PreviousOutPoint: out,
		SignatureScript:  sigScript,
		Sequence:         le32(seqBytes[:]),
	}

	if out.HasIssuance {
		var blindingNonce, entropy chainhash.Hash
		if _, err := io.ReadFull(r, blindingNonce[:]); err != nil {
			return nil, fmt.Errorf("read asset blinding nonce: %w", err)
		}
		if _, err := io.ReadFull(r, entropy[:]); err != nil {
			return nil, fmt.Errorf("read asset entropy: %w", err)
		}
		amount, err := readValue(r)
		if err != nil {
			return nil, fmt.Errorf("read issuance amount: %w", err)
		}
		inflation, err := readValue(r)
		if err != nil {
			return nil, fmt.Errorf("read issuance inflation keys: %w", err)
		}
		in.Issuance = &AssetIssuance{
			AssetBlindingNonce: blindingNonce,
			AssetEntropy:       entropy,
			Amount:             amount,
			InflationKeys:      inflation,
		}
	}

	return in, nil
}

func readTxOuts(r io.Reader) ([]*TxOut, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("read txout count: %w", err)
	}
	outs := make([]*TxOut, 0, count)
	for i := uint64(0); i < count; i++ {
		out, err := readTxOut(r)
		if err != nil {
			return nil, fmt.Errorf("read txout %d: %w", i, err)
		}
		outs = append(outs, out)
	}
	return outs, nil
}

func readTxOut(r io.Reader) (*TxOut, error) {
	asset, err := readAsset(r)
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	value, err := readValue(r)
	if err != nil {
		return nil, fmt.Errorf("read value: %w", err)
	}
	nonce, err := readNonce(r)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	pkScript, err := readVarBytes(r)
	if err != nil {
		return nil, fmt.Errorf("read scriptPubKey: %w", err)
	}
	return &TxOut{Asset: asset, Value: value, Nonce: nonce, PkScript: pkScript}, nil
}

func readVarBytes(r io.Reader) ([]byte, error) {
	return wire.ReadVarBytes(r, 0, math.MaxUint32, "data")
}

func readWitnessStack(r io.Reader) ([][]byte, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("read witness stack count: %w", err)
	}
	stack := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := readVarBytes(r)
		if err != nil {
			return nil, fmt.Errorf("read witness item %d: %w", i, err)
		}
		stack = append(stack, item)
	}
	return stack, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
