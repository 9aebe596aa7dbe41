// Package reconcile decides which position is authoritative for each panel
// when a candidate layout arrives from the remote store or the push channel.
//
// Three sources compete: the local position cache, the remote store and
// push broadcasts from other viewers. The rules live in one pure function,
// [Reconcile], applied per panel by [Merge]. Neither touches I/O, so all of
// them are unit-testable and idempotent: the same inputs always give the
// same result.
//
// Rules, in order:
//
//  1. No cached record: the candidate is accepted. It is written to the
//     cache unless it looks like a placeholder. A candidate without a finite
//     position has nothing to fall back on and is dropped.
//  2. Cached record and a candidate without a usable position, or one that
//     is a suspicious default: the cache wins. A scaffold position from the
//     server must never stomp a real drag.
//  3. Initial load or explicit refresh: the cache wins. It holds the most
//     recent local confirmation.
//  4. Push event: the cache wins unless the event is strictly newer than
//     the cached record, in which case the remote value is adopted and
//     written back. An event that repeats the cached position is an echo
//     and changes nothing.
package reconcile

import (
	"math"
	"time"

	"github.com/matzehuels/panelsync/pkg/panel"
)

// Origin identifies where a candidate list came from.
type Origin int

const (
	OriginLoad Origin = iota
	OriginRefresh
	OriginPush
)

func (o Origin) String() string {
	switch o {
	case OriginLoad:
		return "load"
	case OriginRefresh:
		return "refresh"
	case OriginPush:
		return "push"
	}
	return "unknown"
}

// Source records which input a resolved position came from.
type Source int

const (
	// SourceCandidate: no cached record, candidate accepted.
	SourceCandidate Source = iota
	// SourceCached: the cached record overrode the candidate.
	SourceCached
	// SourceRemote: a newer push event overrode the cached record.
	SourceRemote
	// SourceEcho: the push event repeated the cached position.
	SourceEcho
	// SourceStale: the push event was not newer than the cached record.
	SourceStale
	// SourceInvalid: no cached record and no finite candidate position.
	// The panel cannot be rendered and is dropped.
	SourceInvalid
)

func (s Source) String() string {
	switch s {
	case SourceCandidate:
		return "candidate"
	case SourceCached:
		return "cached"
	case SourceRemote:
		return "remote"
	case SourceEcho:
		return "echo"
	case SourceStale:
		return "stale"
	case SourceInvalid:
		return "invalid"
	}
	return "unknown"
}

// Options tunes placeholder detection.
type Options struct {
	// Sentinels are coordinates (feet) that server-side scaffolding uses
	// for unplaced panels.
	Sentinels []panel.Point
	// Tolerance is the distance (feet, per axis) within which a position
	// counts as a sentinel.
	Tolerance float64
	// Heuristic enables coordinate-based sentinel matching. When false,
	// only the explicit Placeholder flag marks a suspicious default.
	Heuristic bool
}

// DefaultOptions matches the sentinels the layout service has historically
// emitted: the origin and a (50, 50) scaffold offset.
func DefaultOptions() Options {
	return Options{
		Sentinels: []panel.Point{{X: 0, Y: 0}, {X: 50, Y: 50}},
		Tolerance: 0.5,
		Heuristic: true,
	}
}

// IsSuspiciousDefault reports whether p's position looks like a
// placeholder rather than a real placement.
func (o Options) IsSuspiciousDefault(p panel.Panel) bool {
	if p.Placeholder {
		return true
	}
	if !o.Heuristic {
		return false
	}
	for _, s := range o.Sentinels {
		if math.Abs(p.X-s.X) <= o.Tolerance && math.Abs(p.Y-s.Y) <= o.Tolerance {
			return true
		}
	}
	return false
}

// Resolution is the outcome of reconciling one panel.
type Resolution struct {
	// Panel is the panel to render, metadata from the candidate and
	// position from whichever source won.
	Panel panel.Panel
	// Source names the winning input.
	Source Source
	// Write is true when Record must be stored in the position cache.
	Write bool
	// Record is the cache record to store when Write is true.
	Record panel.Position
}

// Reconcile resolves a single candidate against its cached record.
// eventTime is the event timestamp for push origins and the layout's
// last-updated time otherwise.
func Reconcile(candidate panel.Panel, cached panel.Position, hasCached bool, origin Origin, eventTime time.Time, opts Options) Resolution {
	candidate = candidate.Clone()

	if !hasCached {
		if !candidate.HasFinitePosition() {
			return Resolution{Panel: candidate, Source: SourceInvalid}
		}
		res := Resolution{Panel: candidate, Source: SourceCandidate}
		if !opts.IsSuspiciousDefault(candidate) {
			res.Write = true
			res.Record = panel.Position{
				X:         candidate.X,
				Y:         candidate.Y,
				Rotation:  candidate.Rotation,
				UpdatedAt: eventTime,
			}
		}
		return res
	}

	fromCache := Resolution{Panel: candidate.WithPosition(cached), Source: SourceCached}

	if !candidate.HasFinitePosition() || opts.IsSuspiciousDefault(candidate) {
		return fromCache
	}

	if origin != OriginPush {
		return fromCache
	}

	if candidate.Position().SameSpot(cached) {
		fromCache.Source = SourceEcho
		return fromCache
	}

	if eventTime.After(cached.UpdatedAt) {
		rec := candidate.Position()
		rec.UpdatedAt = eventTime
		rec.Seq = cached.Seq
		return Resolution{
			Panel:  candidate.WithPosition(rec),
			Source: SourceRemote,
			Write:  true,
			Record: rec,
		}
	}

	fromCache.Source = SourceStale
	return fromCache
}
