// Package contract implements the JobContract aggregate (spec §3, §4.4):
// the top-level object a host stores one of per job, wiring together
// KeyContext, the script-path set, the state machine, and an optional
// DisputeRecord.
package contract

import (
	"github.com/middleman-protocol/mmp-core/config"
	"github.com/middleman-protocol/mmp-core/kerrors"
)

// Metadata is the immutable job description (spec §3 JobContract.metadata).
type Metadata struct {
	Title        string
	Description  string
	AmountSats   uint64
	TimeoutBlocks uint32
}

// Validate enforces the bounds spec §3/§8 name: non-empty title/description,
// amount_sats within [MinAmountSats, MaxAmountSats], timeout_blocks within
// [MinTimeoutBlocks, MaxTimeoutBlocks].
func (m Metadata) Validate(params config.Params) error {
	if m.Title == "" {
		return kerrors.New(kerrors.InvalidMetadata, "title must not be empty")
	}
	if m.Description == "" {
		return kerrors.New(kerrors.InvalidMetadata, "description must not be empty")
	}
	if m.AmountSats < params.MinAmountSats || m.AmountSats > params.MaxAmountSats {
		return kerrors.New(kerrors.InvalidFunding, "amount_sats out of policy range")
	}
	if m.TimeoutBlocks < params.MinTimeoutBlocks || m.TimeoutBlocks > params.MaxTimeoutBlocks {
		return kerrors.New(kerrors.InvalidMetadata, "timeout_blocks out of policy range")
	}
	return nil
}
