// Package remote defines the contract with the authoritative layout store
// and an HTTP implementation of it.
//
// The [Gateway] interface is satisfied by [HTTPClient] (a panelsync server
// over HTTP) and by the stores in pkg/store, so the layout lifecycle can run
// against a remote server or an in-process store without change.
//
// Failures are reported with pkg/errors codes:
//   - NOT_FOUND: the project does not exist
//   - CONFLICT: a persist was made against a stale revision
//   - TRANSPORT_ERROR: the store is unreachable or answered 5xx (retryable)
//   - VALIDATION_ERROR: the request was rejected as malformed
package remote

import (
	"context"
	"time"

	"github.com/matzehuels/panelsync/pkg/panel"
)

// Gateway reads and writes layouts in the authoritative store.
type Gateway interface {
	// FetchLayout returns the current layout of projectID.
	FetchLayout(ctx context.Context, projectID string) (*Layout, error)

	// PersistLayout replaces the panel list of projectID. The write is
	// accepted only if req.BaseRevision matches the stored revision.
	PersistLayout(ctx context.Context, projectID string, req PersistRequest) (*Ack, error)
}

// Layout is a fetched layout. Panels are decoded and normalized. Records
// that could not be decoded are listed in Invalid.
type Layout struct {
	ProjectID   string
	Panels      []panel.Panel
	Invalid     []panel.Invalid
	Width       float64 // site width, feet
	Height      float64 // site height, feet
	Scale       float64 // pixels per foot, 0 when unset
	LastUpdated time.Time
	Revision    int64
}

// Snapshot returns the layout as a panel snapshot.
func (l *Layout) Snapshot() panel.Snapshot {
	return panel.Snapshot{
		ProjectID:   l.ProjectID,
		Panels:      panel.CloneAll(l.Panels),
		LastUpdated: l.LastUpdated,
		Revision:    l.Revision,
	}
}

// PersistRequest is a full-list write.
type PersistRequest struct {
	Panels []panel.Panel
	// BaseRevision is the revision the client last saw. 0 creates the
	// project if it does not exist yet.
	BaseRevision int64
	// Width, Height and Scale update the site geometry when non-zero.
	Width  float64
	Height float64
	Scale  float64
}

// Ack confirms an accepted persist.
type Ack struct {
	Revision    int64
	LastUpdated time.Time
}
