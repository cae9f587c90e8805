// Package txtpl builds unsigned transaction templates for the three
// on-chain upgrades the core must be able to propose (spec §4.3, §4.5):
// moving the escrow output to a tighter script as the job progresses. It
// produces wire.MsgTx skeletons with script commitments and witness
// placeholders only — no signing, no broadcast (those are host
// responsibilities per spec §1 non-goals). The shape of a template-builder
// over btcsuite/btcd's wire types follows the swap package's Taproot
// script-tree construction pattern (internal-swap-script.go in the
// retrieved reference set).
package txtpl

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/script"
)

// UpgradeKind names which script transition a template performs.
type UpgradeKind int

const (
	WorkerSelectionUpgrade UpgradeKind = iota
	DisputeEscalationUpgrade
	ResolutionUpgrade
)

// Input is the prior escrow output being spent into a new commitment.
type Input struct {
	PrevTxid [32]byte
	PrevVout uint32
	Amount   int64 // sats, copied unchanged to the new output — the template carries no fee logic
}

// Factory builds unsigned wire.MsgTx templates from an escrow Input and a
// target script commitment.
type Factory struct{}

// NewFactory constructs a stateless Factory.
func NewFactory() *Factory { return &Factory{} }

// Build constructs a one-in, one-out unsigned template spending `in` into
// the P2WSH commitment of newRedeemScript, selected by which upgrade kind
// is requested (spec §4.3: the script-path set rebuilt for the kind
// determines which path the new output actually commits to — here the
// caller passes the already-selected redeem script).
func (f *Factory) Build(kind UpgradeKind, in Input, newRedeemScript []byte) (*wire.MsgTx, error) {
	if err := script.Validate(newRedeemScript); err != nil {
		return nil, kerrors.Wrap(kerrors.ScriptUpdateFailed, err, "building tx template")
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	prevHash, err := chainhash.NewHash(in.PrevTxid[:])
	if err != nil {
		return nil, kerrors.Wrap(kerrors.InvalidState, err, "invalid previous txid")
	}
	txIn := wire.NewTxIn(wire.NewOutPoint(prevHash, in.PrevVout), nil, nil)
	tx.AddTxIn(txIn)

	commitment := script.P2WSH(newRedeemScript)
	txOut := wire.NewTxOut(in.Amount, commitment)
	tx.AddTxOut(txOut)

	return tx, nil
}

// EstimateWeight returns a rough vbyte-weight estimate for a one-in,
// one-out P2WSH-to-P2WSH template, used by hosts doing fee-rate math
// before handing a template off for signing (SPEC_FULL.md §6.4
// supplement — the distilled spec specifies script construction but not
// fee estimation). The witness is estimated as one stack-count byte, 72
// bytes per signature in numWitnessSigs, and 40 bytes of script and
// control data, each counted at one weight unit.
func EstimateWeight(tx *wire.MsgTx, numWitnessSigs int) int {
	base := tx.SerializeSizeStripped() * 4
	witness := 1 + numWitnessSigs*72 + 40 // rough: stack count + sigs + script/control-block
	return (base + witness + 3) / 4
}
