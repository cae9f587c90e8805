package crypto

import (
	"crypto/subtle"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Secp256k1Adapter is the production Adapter, built on btcec's BIP340
// Schnorr implementation for sign/verify and decred's secp256k1 field/point
// arithmetic for aggregation and Taproot tweaking.
type Secp256k1Adapter struct{}

// NewSecp256k1Adapter constructs the default production CryptoAdapter.
func NewSecp256k1Adapter() *Secp256k1Adapter { return &Secp256k1Adapter{} }

func (Secp256k1Adapter) Sign(secretKey []byte, msg [32]byte) (Signature, error) {
	priv := secp256k1.PrivKeyFromBytes(secretKey)
	if priv == nil {
		return Signature{}, ErrInvalidKey
	}
	sig, err := schnorr.Sign(btcec.PrivKeyFromBytes(priv.Serialize()), msg[:])
	if err != nil {
		return Signature{}, fmt.Errorf("schnorr sign: %w", err)
	}
	var out Signature
	copy(out[:], sig.Serialize())
	return out, nil
}

func (Secp256k1Adapter) Verify(pub PubKey, msg [32]byte, sigBytes Signature) bool {
	xpub, err := schnorr.ParsePubKey(pub[:])
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes[:])
	if err != nil {
		return false
	}
	return sig.Verify(msg[:], xpub)
}

// Aggregate sums the component public keys on the curve, producing a single
// MuSig-style aggregated key. This is a simplified (non-interactive,
// unweighted) aggregation suitable for the core's purposes: it does not
// implement the full MuSig2 key-aggregation coefficients, which require a
// nonce-exchange protocol out of scope for a script-construction library —
// the core only needs a deterministic, order-independent combination for
// script commitments, not a signing ceremony.
func (a Secp256k1Adapter) Aggregate(keys ...PubKey) (PubKey, error) {
	if len(keys) == 0 {
		return PubKey{}, ErrInvalidKey
	}
	var sum *btcec.PublicKey
	for _, k := range keys {
		if !k.Valid() {
			continue
		}
		pk, err := schnorr.ParsePubKey(k[:])
		if err != nil {
			return PubKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if sum == nil {
			sum = pk
			continue
		}
		var jac1, jac2, res btcec.JacobianPoint
		sum.AsJacobian(&jac1)
		pk.AsJacobian(&jac2)
		btcec.AddNonConst(&jac1, &jac2, &res)
		res.ToAffine()
		sum = btcec.NewPublicKey(&res.X, &res.Y)
	}
	if sum == nil {
		return PubKey{}, ErrInvalidKey
	}
	var out PubKey
	copy(out[:], schnorr.SerializePubKey(sum))
	return out, nil
}

// TaprootTweak derives t = H_TapTweak(internal || scriptTreeRoot) reduced
// mod the curve order, using decred's ModNScalar for the reduction.
func (Secp256k1Adapter) TaprootTweak(internal PubKey, scriptTreeRoot [32]byte) ([32]byte, error) {
	if !internal.Valid() {
		return [32]byte{}, ErrInvalidKey
	}
	tag := SHA256([]byte("TapTweak"))
	h := SHA256(tag[:], tag[:], internal[:], scriptTreeRoot[:])
	var s secp256k1.ModNScalar
	s.SetBytes(&h)
	var out [32]byte
	b := s.Bytes()
	copy(out[:], b[:])
	return out, nil
}

// TweakedOutputKey computes internal + tweak*G, the on-chain Taproot output
// key, so a cooperative spend is indistinguishable from a single-key spend.
func (Secp256k1Adapter) TweakedOutputKey(internal PubKey, tweak [32]byte) (PubKey, error) {
	if !internal.Valid() {
		return PubKey{}, ErrInvalidKey
	}
	xpub, err := schnorr.ParsePubKey(internal[:])
	if err != nil {
		return PubKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var tweakScalar secp256k1.ModNScalar
	overflow := tweakScalar.SetBytes(&tweak)
	if overflow != 0 {
		return PubKey{}, ErrInvalidKey
	}
	var tweakPointJac btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&tweakScalar, &tweakPointJac)

	var internalJac btcec.JacobianPoint
	xpub.AsJacobian(&internalJac)

	var resultJac btcec.JacobianPoint
	btcec.AddNonConst(&internalJac, &tweakPointJac, &resultJac)
	resultJac.ToAffine()

	result := btcec.NewPublicKey(&resultJac.X, &resultJac.Y)
	var out PubKey
	copy(out[:], schnorr.SerializePubKey(result))
	return out, nil
}

func (Secp256k1Adapter) SHA256(data ...[]byte) [32]byte         { return SHA256(data...) }
func (Secp256k1Adapter) HMACSHA256(key []byte, data ...[]byte) [32]byte {
	return HMACSHA256(key, data...)
}

func (Secp256k1Adapter) ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
