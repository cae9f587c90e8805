// Package script implements the deterministic construction of the three
// escrow script variants and the Taproot script-path set that sits above
// them (spec §4.3). Everything here is pure: given a key set it returns
// bytes, with no I/O and no mutation of shared state. Script assembly goes
// through btcsuite/btcd/txscript's ScriptBuilder, the same opcode-builder
// API the lnwallet funding-script pattern uses for its 2-of-2 P2WSH
// multisig and witness-program wrapping (lnwallet/script_utils.go's
// genMultiSigScript/witnessScriptHash in the retrieved reference set).
package script

import (
	"github.com/btcsuite/btcd/txscript"

	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/kerrors"
	"github.com/middleman-protocol/mmp-core/log"
)

var logger = log.NewModuleLogger(log.ScriptBuilder)

// maxStandardScript is the P2WSH standard-ness byte bound the original
// implementation enforced before handing a script to the
// collaborator-signed path.
const maxStandardScript = 10_000

// Variant identifies which of the three escrow script shapes was built.
type Variant int

const (
	VariantInitial Variant = iota
	VariantTwoOfTwo
	VariantTwoOfThree
)

func singleSigScript(k crypto.PubKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(k[:]).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func twoOfTwoScript(a, b crypto.PubKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_2).
		AddData(a[:]).
		AddData(b[:]).
		AddOp(txscript.OP_2).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

func twoOfThreeScript(a, b, c crypto.PubKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_2).
		AddData(a[:]).
		AddData(b[:]).
		AddData(c[:]).
		AddOp(txscript.OP_3).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

// CreateJobEscrowScript builds the redeem script appropriate to which
// parties are present (spec §4.3): employer-only, employer+worker, or
// employer+worker+middleman.
func CreateJobEscrowScript(employer, worker, middleman crypto.PubKey) ([]byte, Variant, error) {
	if !employer.Valid() {
		return nil, 0, kerrors.New(kerrors.InvalidKeys, "employer key required")
	}
	var (
		s   []byte
		err error
		v   Variant
	)
	switch {
	case !worker.Valid():
		s, err = singleSigScript(employer)
		v = VariantInitial
	case !middleman.Valid():
		s, err = twoOfTwoScript(employer, worker)
		v = VariantTwoOfTwo
	default:
		s, err = twoOfThreeScript(employer, worker, middleman)
		v = VariantTwoOfThree
	}
	if err != nil {
		return nil, 0, kerrors.Wrap(kerrors.ScriptUpdateFailed, err, "assembling job escrow script")
	}
	return finish(s, v)
}

func finish(s []byte, v Variant) ([]byte, Variant, error) {
	if err := Validate(s); err != nil {
		return nil, 0, err
	}
	return s, v, nil
}

// Validate performs the defensive well-formedness and size check the
// original implementation ran before handing a script to the
// collaborator-signed path: a non-empty script within the P2WSH standard
// size bound.
func Validate(s []byte) error {
	if len(s) == 0 {
		return kerrors.New(kerrors.InvalidScript, "empty script")
	}
	if len(s) > maxStandardScript {
		return kerrors.New(kerrors.InvalidScript, "script exceeds standard size policy")
	}
	return nil
}

// P2WSH wraps a redeem script's SHA-256 digest as a version-0 witness
// program, the commitment form spec §4.3 specifies for all three variants
// (lnwallet/script_utils.go's witnessScriptHash).
func P2WSH(redeemScript []byte) []byte {
	h := crypto.SHA256(redeemScript)
	out, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(h[:]).
		Script()
	if err != nil {
		// AddData on a fixed 32-byte hash cannot fail; a builder error
		// here would mean txscript itself is broken.
		panic(err)
	}
	return out
}

// Paths is the Taproot script-path set (spec §3 script_paths, §4.3): the
// four named spending conditions layered above the base escrow script.
type Paths struct {
	EmployerApproval    []byte
	WorkerTimeout       []byte
	MiddlemanResolution []byte
	Refund              []byte
}

// Empty reports whether no script paths have been built yet (spec §3:
// "Non-empty when state >= Assigned").
func (p Paths) Empty() bool {
	return len(p.EmployerApproval) == 0 && len(p.WorkerTimeout) == 0 &&
		len(p.MiddlemanResolution) == 0 && len(p.Refund) == 0
}

// KeySet is the minimal key material Paths construction needs; callers in
// package keys supply their Context's fields through this to avoid a
// dependency cycle (script must not import keys).
type KeySet struct {
	Employer  crypto.PubKey
	Worker    crypto.PubKey
	Middleman crypto.PubKey
}

// BuildPaths constructs the four script paths for the current key set
// (spec §4.3). It is all-or-nothing: any failure leaves the caller free to
// discard the returned zero value and keep the prior Paths untouched,
// satisfying the "rotation is all-or-nothing" requirement at the KeyContext
// layer (spec §4.3).
func BuildPaths(keys KeySet) (Paths, error) {
	if !keys.Employer.Valid() {
		return Paths{}, kerrors.New(kerrors.InvalidKeys, "employer key required to build script paths")
	}

	// employer_approval: employer + worker cooperative signature (valid
	// once a worker is assigned; prior to that it degrades to the
	// employer's own approval of the initial single-key lock).
	var (
		employerApproval []byte
		err              error
	)
	if keys.Worker.Valid() {
		employerApproval, err = twoOfTwoScript(keys.Employer, keys.Worker)
	} else {
		employerApproval, err = singleSigScript(keys.Employer)
	}
	if err != nil {
		return Paths{}, kerrors.Wrap(kerrors.ScriptUpdateFailed, err, "building employer_approval path")
	}

	// worker_timeout: unilateral worker claim after the cooperative
	// timeout window (spec §4.5). The path commits only to the worker's
	// key (the employer's before a worker is assigned); neither this
	// script nor the txtpl templates encode a timelock.
	var workerTimeout []byte
	if keys.Worker.Valid() {
		workerTimeout, err = singleSigScript(keys.Worker)
	} else {
		workerTimeout, err = singleSigScript(keys.Employer)
	}
	if err != nil {
		return Paths{}, kerrors.Wrap(kerrors.ScriptUpdateFailed, err, "building worker_timeout path")
	}

	// middleman_resolution: 2-of-3 once escalated. Before escalation the
	// path holds the employer+worker 2-of-2 script (the employer's
	// single-sig script before a worker is assigned), which those keys
	// satisfy without any middleman signature.
	var middlemanResolution []byte
	switch {
	case keys.Middleman.Valid():
		middlemanResolution, err = twoOfThreeScript(keys.Employer, keys.Worker, keys.Middleman)
	case keys.Worker.Valid():
		middlemanResolution, err = twoOfTwoScript(keys.Employer, keys.Worker)
	default:
		middlemanResolution, err = singleSigScript(keys.Employer)
	}
	if err != nil {
		return Paths{}, kerrors.Wrap(kerrors.ScriptUpdateFailed, err, "building middleman_resolution path")
	}

	// refund: employer-only reclaim path, always available.
	refund, err := singleSigScript(keys.Employer)
	if err != nil {
		return Paths{}, kerrors.Wrap(kerrors.ScriptUpdateFailed, err, "building refund path")
	}

	paths := Paths{
		EmployerApproval:    employerApproval,
		WorkerTimeout:       workerTimeout,
		MiddlemanResolution: middlemanResolution,
		Refund:              refund,
	}
	for _, s := range []([]byte){paths.EmployerApproval, paths.WorkerTimeout, paths.MiddlemanResolution, paths.Refund} {
		if err := Validate(s); err != nil {
			return Paths{}, kerrors.Wrap(kerrors.ScriptUpdateFailed, err, "building taproot script path")
		}
	}
	logger.Debug("script paths built", "has_worker", keys.Worker.Valid(), "has_middleman", keys.Middleman.Valid())
	return paths, nil
}

// UpdateWithNewKeys rebuilds the script-path set after a key rotation
// (spec §4.3 "rebuilt after every successful rotate_keys"). It is a pure
// function wrapper over BuildPaths kept as a distinct name to match the
// operation spec.md names explicitly.
func UpdateWithNewKeys(keys KeySet) (Paths, error) {
	return BuildPaths(keys)
}
