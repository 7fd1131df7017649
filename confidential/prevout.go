package confidential

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/vulpemcov/covclaimd/wireformat"
)

// IsConfidentialOutput reports whether a prevout is confidential per
// spec.md §4.6 step 3: both its asset and value fields must be blinded.
func IsConfidentialOutput(asset, value wireformat.Commitment) bool {
	return asset.IsConfidential() && value.IsConfidential()
}

// UnblindPrevout recovers a confidential prevout's explicit asset/value
// and blinding factors using the covenant's registered blinding key, and
// checks the recovered secrets actually reproduce the on-chain asset and
// value commitments before trusting them.
func UnblindPrevout(asset, value, _ wireformat.Commitment, rangeProof, script []byte,
	blindingKey *btcec.PrivateKey) (*Secrets, error) {

	secrets, err := Unblind(rangeProof, script, blindingKey)
	if err != nil {
		return nil, fmt.Errorf("unblind prevout: %w", err)
	}

	wantGen := AssetGenerator(secrets.Asset, secrets.AssetBlindingFactor)
	gotParity, gotX := serializeCommitmentPoint(wantGen)
	wantAsset := wireformat.Commitment{Prefix: assetConfidentialPrefix(gotParity), Data: gotX[:]}
	if !commitmentsEqual(wantAsset, asset) {
		return nil, fmt.Errorf("unblinded asset does not match prevout asset commitment")
	}

	wantValuePoint := valueCommitmentPoint(wantGen, secrets.Value, secrets.ValueBlindingFactor)
	vParity, vX := serializeCommitmentPoint(wantValuePoint)
	wantValue := wireformat.Commitment{Prefix: valueConfidentialPrefix(vParity), Data: vX[:]}
	if !commitmentsEqual(wantValue, value) {
		return nil, fmt.Errorf("unblinded value does not match prevout value commitment")
	}

	return secrets, nil
}

func commitmentsEqual(a, b wireformat.Commitment) bool {
	if a.Prefix != b.Prefix || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}
