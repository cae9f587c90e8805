package crypto

import "crypto/rand"

// SystemRng is the default production collab.Rng, backed by the OS CSPRNG.
// No library in the example pack substitutes for crypto/rand here — an RNG
// collaborator exists precisely so hosts needing an HSM or hardware RNG can
// swap it out; crypto/rand is the correct default.
type SystemRng struct{}

func (SystemRng) Fill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}
