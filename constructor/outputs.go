package constructor

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/vulpemcov/covclaimd/confidential"
	"github.com/vulpemcov/covclaimd/swaptree"
	"github.com/vulpemcov/covclaimd/wireformat"
)

// opReturnScript is the provably-unspendable carrier script the blinded
// balancing output pays to.
var opReturnScript = []byte{0x6a} // OP_RETURN

// buildOutputs assembles the claim transaction's three (or two, for an
// explicit prevout) outputs per spec.md §4.6 step 4.
func buildOutputs(details *swaptree.CovenantDetails, destinationScript []byte, utxoValue int64,
	utxoAsset chainhash.Hash, prevoutSecrets *confidential.Secrets) ([]*wireformat.TxOut, error) {

	destination := &wireformat.TxOut{
		Asset:    wireformat.NewExplicitAsset(utxoAsset),
		Value:    wireformat.NewExplicitValue(details.ExpectedAmount),
		Nonce:    wireformat.NewNullNonce(),
		PkScript: destinationScript,
	}

	feeValue := utxoValue - details.ExpectedAmount
	fee := &wireformat.TxOut{
		Asset:    wireformat.NewExplicitAsset(utxoAsset),
		Value:    wireformat.NewExplicitValue(feeValue),
		Nonce:    wireformat.NewNullNonce(),
		PkScript: nil,
	}

	if prevoutSecrets == nil {
		return []*wireformat.TxOut{destination, fee}, nil
	}

	opReturn, err := buildBlindedOpReturn(details, utxoValue, utxoAsset, prevoutSecrets)
	if err != nil {
		return nil, fmt.Errorf("build blinded op_return: %w", err)
	}
	return []*wireformat.TxOut{destination, opReturn, fee}, nil
}

// buildBlindedOpReturn is the 1-satoshi blinded carrier output that
// absorbs the difference needed to balance the transaction's blinding
// factors, per spec.md §4.6 step 4.2 / the "Rationale for the blinded
// OP_RETURN" note.
func buildBlindedOpReturn(details *swaptree.CovenantDetails, utxoValue int64, utxoAsset chainhash.Hash,
	prevoutSecrets *confidential.Secrets) (*wireformat.TxOut, error) {

	outABF, err := confidential.NewRandomScalar()
	if err != nil {
		return nil, fmt.Errorf("generate output asset blinding factor: %w", err)
	}

	blindedAsset, surjectionProof, err := confidential.BlindAsset(
		utxoAsset, outABF, []confidential.Secrets{*prevoutSecrets},
	)
	if err != nil {
		return nil, fmt.Errorf("blind asset: %w", err)
	}

	finalVBF := confidential.LastValueBlindingFactor(
		1, outABF,
		[]confidential.ValueAssetTuple{{
			Value:               prevoutSecrets.Value,
			AssetBlindingFactor: prevoutSecrets.AssetBlindingFactor,
			ValueBlindingFactor: prevoutSecrets.ValueBlindingFactor,
		}},
		[]confidential.ValueAssetTuple{
			{Value: details.ExpectedAmount, AssetBlindingFactor: confidential.ZeroScalar, ValueBlindingFactor: confidential.ZeroScalar},
			{Value: utxoValue - details.ExpectedAmount, AssetBlindingFactor: confidential.ZeroScalar, ValueBlindingFactor: confidential.ZeroScalar},
		},
	)

	noncePriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral nonce key: %w", err)
	}
	rangeproofSecret := rangeproofSecretForOpReturn(prevoutSecrets.ValueBlindingFactor)

	assetGen := confidential.AssetGenerator(utxoAsset, outABF)
	blindedValue, nonceCommitment, rangeProof, err := confidential.BlindValue(
		1, finalVBF, assetGen, noncePriv.PubKey(), rangeproofSecret, opReturnScript,
		confidential.RangeProofMessage{Asset: utxoAsset, Bf: outABF},
	)
	if err != nil {
		return nil, fmt.Errorf("blind value: %w", err)
	}

	return &wireformat.TxOut{
		Asset:           blindedAsset,
		Value:           blindedValue,
		Nonce:           nonceCommitment,
		PkScript:        opReturnScript,
		SurjectionProof: surjectionProof,
		RangeProof:      rangeProof,
	}, nil
}

// rangeproofSecretForOpReturn derives the key that seals the blinded
// OP_RETURN's range proof deterministically from the prevout's own value
// blinding factor, so whoever holds the prevout's blinding key (i.e.
// whoever could unblind the lockup output in the first place) can also
// reopen this balancing output later, rather than sealing it under a key
// nobody retains.
func rangeproofSecretForOpReturn(prevoutVBF confidential.Scalar) *btcec.PrivateKey {
	h := sha256.Sum256(append([]byte("covclaimd/op-return-rangeproof-key/"), prevoutVBF[:]...))
	priv, _ := btcec.PrivKeyFromBytes(h[:])
	return priv
}
