// Package collab defines the narrow collaborator interfaces the core
// consumes (spec §6 "Consumed by the core"). The core is composed against
// these capability sets, never concrete implementations, so hosts can wire
// real node/wallet/crypto backends while tests use in-memory doubles.
package collab

import "time"

// Clock supplies wall-clock time. now() in spec terms.
type Clock interface {
	Now() time.Time
}

// BlockHeader is the minimal chain header data the core needs.
type BlockHeader struct {
	Time time.Time
	Hash [32]byte
}

// ChainView supplies chain height and header lookups, plus OpenTimestamps
// proof verification and the chain's block-interval parameter.
// FallbackRotation counts its schedule in block heights and KeyContext its
// rotation interval in wall-clock time; neither converts between the two
// through BlockInterval.
type ChainView interface {
	CurrentHeight() uint64
	HeaderAt(height uint64) (BlockHeader, bool)
	VerifyOTSProof(proof []byte, claimedTime time.Time) bool
	// BlockInterval returns the chain's target spacing between blocks.
	BlockInterval() time.Duration
}

// Rng supplies cryptographically strong randomness.
type Rng interface {
	Fill(buf []byte) error
}

// ContentFetcher retrieves evidence payloads by URL. Must be callable
// outside any per-contract guard (spec §5).
type ContentFetcher interface {
	Fetch(url string) ([]byte, error)
}

// TxBroadcaster submits a signed transaction and returns its txid. Never
// invoked by the core while holding a per-contract guard.
type TxBroadcaster interface {
	Submit(signedTx []byte) (txid [32]byte, err error)
}
