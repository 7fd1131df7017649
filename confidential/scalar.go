package confidential

import (
	"crypto/rand"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Scalar is a blinding factor: an integer mod the secp256k1 group order,
// used as an asset or value blinding factor throughout this package.
type Scalar [32]byte

var curveOrder = btcec.S256().N

// ZeroScalar is the additive identity, used for the explicit (unblinded)
// outputs fed into the last-blinding-factor closure.
var ZeroScalar = Scalar{}

// NewRandomScalar draws a uniformly random blinding factor.
func NewRandomScalar() (Scalar, error) {
	for {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return Scalar{}, err
		}
		v := new(big.Int).SetBytes(buf[:])
		if v.Sign() != 0 && v.Cmp(curveOrder) < 0 {
			return Scalar(buf), nil
		}
	}
}

func (s Scalar) bigInt() *big.Int {
	return new(big.Int).SetBytes(s[:])
}

func scalarFromBigInt(v *big.Int) Scalar {
	v = new(big.Int).Mod(v, curveOrder)
	var out Scalar
	v.FillBytes(out[:])
	return out
}

// Add returns (s + o) mod N.
func (s Scalar) Add(o Scalar) Scalar {
	return scalarFromBigInt(new(big.Int).Add(s.bigInt(), o.bigInt()))
}

// Sub returns (s - o) mod N.
func (s Scalar) Sub(o Scalar) Scalar {
	return scalarFromBigInt(new(big.Int).Sub(s.bigInt(), o.bigInt()))
}

// Mul returns (s * o) mod N.
func (s Scalar) Mul(o Scalar) Scalar {
	return scalarFromBigInt(new(big.Int).Mul(s.bigInt(), o.bigInt()))
}

// MulInt returns (s * v) mod N for a plain satoshi amount.
func (s Scalar) MulInt(v int64) Scalar {
	return scalarFromBigInt(new(big.Int).Mul(s.bigInt(), big.NewInt(v)))
}

// point returns s*G.
func (s Scalar) point() *btcec.PublicKey {
	x, y := btcec.S256().ScalarBaseMult(s[:])
	return newPubKey(x, y)
}

func newPubKey(x, y *big.Int) *btcec.PublicKey {
	var fx, fy btcec.FieldVal
	fx.SetByteSlice(x.Bytes())
	fy.SetByteSlice(y.Bytes())
	return btcec.NewPublicKey(&fx, &fy)
}

func addPoints(a, b *btcec.PublicKey) *btcec.PublicKey {
	x, y := btcec.S256().Add(a.X(), a.Y(), b.X(), b.Y())
	return newPubKey(x, y)
}

func scalarMultPoint(p *btcec.PublicKey, s Scalar) *btcec.PublicKey {
	x, y := btcec.S256().ScalarMult(p.X(), p.Y(), s[:])
	return newPubKey(x, y)
}
