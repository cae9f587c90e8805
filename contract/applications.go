package contract

import (
	"time"

	"github.com/middleman-protocol/mmp-core/crypto"
	"github.com/middleman-protocol/mmp-core/kerrors"
)

// maxWorkerApplications bounds worker_applications (spec §3) to prevent a
// single job posting from being spammed with unbounded applications.
const maxWorkerApplications = 100

// WorkerApplication is one worker's bid for an open job (spec §3).
type WorkerApplication struct {
	Worker    crypto.PubKey
	Timestamp time.Time
	Message   string
}

// applicationSet is the bounded, append-only application list.
type applicationSet struct {
	items []WorkerApplication
}

// Apply adds a new application, rejecting duplicates and enforcing the
// bound.
func (a *applicationSet) Apply(worker crypto.PubKey, now time.Time, message string) error {
	if !worker.Valid() {
		return kerrors.New(kerrors.InvalidKeys, "worker key invalid")
	}
	for _, existing := range a.items {
		if existing.Worker == worker {
			return kerrors.New(kerrors.InvalidState, "worker has already applied")
		}
	}
	if len(a.items) >= maxWorkerApplications {
		return kerrors.New(kerrors.TooLarge, "maximum applications reached for this job")
	}
	a.items = append(a.items, WorkerApplication{Worker: worker, Timestamp: now, Message: message})
	return nil
}

// List returns a defensive copy of the current applications.
func (a *applicationSet) List() []WorkerApplication {
	out := make([]WorkerApplication, len(a.items))
	copy(out, a.items)
	return out
}

// Restore replaces the application list verbatim, used when reconstructing
// a Contract from its persisted form where the usual Open-state and
// duplicate checks have already been satisfied once.
func (a *applicationSet) Restore(apps []WorkerApplication) {
	a.items = append([]WorkerApplication(nil), apps...)
}

// RestoreApplications is Contract's exported entry point to
// applicationSet.Restore, used by package serialize.
func (c *Contract) RestoreApplications(apps []WorkerApplication) {
	c.Applications.Restore(apps)
}
