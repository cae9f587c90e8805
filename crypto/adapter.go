// Package crypto abstracts the secp256k1/Taproot primitives the core needs
// (spec §6 CryptoAdapter): Schnorr sign/verify, MuSig-style key aggregation,
// Taproot tweaking, hashing, and HMAC. The core never talks to a concrete
// curve library directly — it composes against the Adapter interface so a
// host can swap in a hardware-backed signer without touching the state
// machine or script builder.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/middleman-protocol/mmp-core/kerrors"
)

// PubKey is a 32-byte x-only Taproot/Schnorr public key.
type PubKey [32]byte

// Valid reports whether p is a non-zero key. The zero key is the sentinel
// for "party not yet present" (spec §3 KeyContext invariants).
func (p PubKey) Valid() bool {
	var zero PubKey
	return p != zero
}

// Signature is a 64-byte Schnorr signature.
type Signature [64]byte

// Adapter is the capability-bundle the core composes against for all
// curve operations.
type Adapter interface {
	// Sign produces a Schnorr signature over msg using the secret key.
	Sign(secretKey []byte, msg [32]byte) (Signature, error)
	// Verify checks a Schnorr signature against a public key and message.
	Verify(pub PubKey, msg [32]byte, sig Signature) bool
	// Aggregate combines component keys into a single MuSig-style
	// aggregated key. Order-independent per the spec's Agg() notation.
	Aggregate(keys ...PubKey) (PubKey, error)
	// TaprootTweak derives the tweak value for an aggregated internal key
	// and a script-tree merkle root.
	TaprootTweak(internal PubKey, scriptTreeRoot [32]byte) ([32]byte, error)
	// TweakedOutputKey applies a tweak to an internal key, producing the
	// on-chain output key.
	TweakedOutputKey(internal PubKey, tweak [32]byte) (PubKey, error)
	// SHA256 hashes data.
	SHA256(data ...[]byte) [32]byte
	// HMACSHA256 computes an HMAC-SHA256 over data keyed by key.
	HMACSHA256(key []byte, data ...[]byte) [32]byte
	// ConstantTimeEqual compares two byte slices without leaking timing.
	ConstantTimeEqual(a, b []byte) bool
}

// SHA256 is a free function matching the Adapter method, usable by packages
// that only need hashing (script building, serialization checksums) without
// pulling in a full Adapter.
func SHA256(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACSHA256 is the free-function counterpart of Adapter.HMACSHA256.
func HMACSHA256(key []byte, data ...[]byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	for _, d := range data {
		mac.Write(d)
	}
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ErrInvalidKey is returned by Aggregate/TweakedOutputKey when an input key
// fails to parse as a valid curve point.
var ErrInvalidKey = kerrors.New(kerrors.InvalidKeys, "invalid public key")
