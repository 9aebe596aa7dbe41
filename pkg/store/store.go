// Package store provides authoritative layout stores.
//
// Every store implements [remote.Gateway], so the layout lifecycle can use a
// store in-process and the HTTP server can expose one over the network.
// Backends:
//   - [MemoryStore]: in-memory, for tests and `panelsync serve` without persistence
//   - [FileStore]: one JSON file per project under a data directory
//   - [MongoStore]: a MongoDB collection, for shared deployments
//
// # Revisions
//
// Writes use optimistic concurrency. Each layout carries a revision that
// increments on every accepted persist, and a persist names the revision
// it was based on:
//   - base 0 on a missing project creates it at revision 1
//   - base 0 on an existing project is a CONFLICT
//   - base n on a missing project is NOT_FOUND
//   - base n that does not match the stored revision is a CONFLICT
package store

import (
	"context"
	"math"
	"time"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/panel"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// Store is an authoritative layout store.
type Store interface {
	remote.Gateway

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// checkRevision applies the revision rules to a persist against the
// current state of projectID.
func checkRevision(projectID string, exists bool, current, base int64) error {
	switch {
	case !exists && base == 0:
		return nil
	case !exists:
		return errors.New(errors.ErrCodeNotFound, "project %s not found", projectID)
	case base == 0:
		return errors.New(errors.ErrCodeConflict, "project %s already exists at revision %d", projectID, current)
	case base != current:
		return errors.New(errors.ErrCodeConflict, "project %s is at revision %d, write was based on %d", projectID, current, base)
	}
	return nil
}

// validatePanels rejects panel lists the store must not accept.
func validatePanels(panels []panel.Panel) error {
	seen := make(map[string]bool, len(panels))
	for i, p := range panels {
		if err := errors.ValidatePanelID(p.ID); err != nil {
			return errors.Wrap(errors.ErrCodeValidation, err, "panel %d", i)
		}
		if seen[p.ID] {
			return errors.New(errors.ErrCodeValidation, "duplicate panel id %q", p.ID)
		}
		seen[p.ID] = true
		if !p.HasFinitePosition() {
			return errors.New(errors.ErrCodeValidation, "panel %q has a non-finite position", p.ID)
		}
		if !finite(p.Width) || !finite(p.Height) {
			return errors.New(errors.ErrCodeValidation, "panel %q has a non-finite size", p.ID)
		}
	}
	return nil
}

// apply builds the layout that results from an accepted persist.
func apply(projectID string, prev *remote.Layout, req remote.PersistRequest, now time.Time) *remote.Layout {
	next := &remote.Layout{
		ProjectID:   projectID,
		Panels:      panel.CloneAll(req.Panels),
		LastUpdated: now.UTC(),
	}
	if next.Panels == nil {
		next.Panels = []panel.Panel{}
	}
	if prev != nil {
		next.Width, next.Height, next.Scale = prev.Width, prev.Height, prev.Scale
		next.Revision = prev.Revision
	}
	if req.Width > 0 {
		next.Width = req.Width
	}
	if req.Height > 0 {
		next.Height = req.Height
	}
	if req.Scale > 0 {
		next.Scale = req.Scale
	}
	next.Revision++
	return next
}

func copyLayout(l *remote.Layout) *remote.Layout {
	out := *l
	out.Panels = panel.CloneAll(l.Panels)
	out.Invalid = nil
	return &out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
