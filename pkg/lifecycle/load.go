package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/observability"
	"github.com/matzehuels/panelsync/pkg/panel"
	"github.com/matzehuels/panelsync/pkg/positions"
	"github.com/matzehuels/panelsync/pkg/reconcile"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// Load fetches and reconciles the layout of projectID and waits for the
// result. Loading a different project than the current one discards all
// state of the previous project: its in-flight results are dropped, its
// push room is left and its view is cleared. Loading the current project
// again is a fetch with load semantics.
//
// The returned error is the fetch error. The view reflects the outcome
// either way.
func (l *Lifecycle) Load(ctx context.Context, projectID string) error {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return err
	}
	done := make(chan error, 1)
	err := l.send(ctx, func() {
		if projectID != l.st.projectID || l.st.status == StatusIdle {
			l.switchProject(projectID)
		}
		l.st.loadWaiters = append(l.st.loadWaiters, done)
		l.startFetch(reconcile.OriginLoad)
	})
	if err != nil {
		return err
	}
	return l.await(ctx, done)
}

// Refresh re-fetches the current layout and waits for the result. The
// position cache keeps priority over fetched positions.
func (l *Lifecycle) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	err := l.call(ctx, func() error {
		if l.st.projectID == "" {
			return errNoProject
		}
		l.st.loadWaiters = append(l.st.loadWaiters, done)
		l.startFetch(reconcile.OriginRefresh)
		return nil
	})
	if err != nil {
		return err
	}
	return l.await(ctx, done)
}

// Retry repeats a failed load. It is the retry affordance of the error state.
func (l *Lifecycle) Retry(ctx context.Context) error {
	return l.Refresh(ctx)
}

// DiscardLocal drops every local override of the current project: position
// records, delete markers and the stored snapshot. It then resyncs from the
// remote store. Unsaved edits are lost.
func (l *Lifecycle) DiscardLocal(ctx context.Context) error {
	done := make(chan error, 1)
	err := l.call(ctx, func() error {
		s := &l.st
		if s.projectID == "" {
			return errNoProject
		}
		l.newGeneration(ErrSuperseded)
		if s.positions != nil {
			if err := s.positions.Clear(l.baseCtx); err != nil {
				l.logger.Warn("clearing position cache failed", "project", s.projectID, "err", err)
			}
		}
		if err := clearSnapshot(l.baseCtx, l.cfg.Cache, l.cfg.Keyer, s.projectID); err != nil {
			l.logger.Warn("clearing layout snapshot failed", "project", s.projectID, "err", err)
		}
		s.snapshot = nil
		s.deleted = make(map[string]bool)
		s.panels = nil
		s.unsaved = false
		s.degraded = false
		s.saveErr, s.saveWarn = nil, ""
		s.loadWaiters = append(s.loadWaiters, done)
		l.logger.Info("discarded local layout state", "project", s.projectID)
		l.startFetch(reconcile.OriginRefresh)
		return nil
	})
	if err != nil {
		return err
	}
	return l.await(ctx, done)
}

// newGeneration invalidates every in-flight result of the current state.
func (l *Lifecycle) newGeneration(waiterErr error) {
	s := &l.st
	s.gen++
	s.fetching = false
	s.persisting = false
	s.persistPending = false
	s.recovering = false
	s.conflicts = 0
	s.pushBuf = nil
	l.releaseLoadWaiters(waiterErr)
	l.releaseSaveWaiters(0, waiterErr)
}

// switchProject resets all state for projectID.
func (l *Lifecycle) switchProject(projectID string) {
	l.newGeneration(ErrSuperseded)
	if l.st.sub != nil {
		l.st.sub.Close()
	}

	gen := l.st.gen
	l.st = state{
		projectID: projectID,
		gen:       gen,
		deleted:   make(map[string]bool),
		scale:     l.effectiveScale(0),
	}
	s := &l.st

	pc, err := positions.Open(l.baseCtx, l.cfg.Cache, l.cfg.Keyer, projectID)
	if err != nil {
		l.logger.Warn("position cache unavailable, keeping positions in memory", "project", projectID, "err", err)
		s.cacheWarn = "local position cache unavailable"
	}
	s.positions = pc

	snap, err := loadSnapshot(l.baseCtx, l.cfg.Cache, l.cfg.Keyer, projectID)
	if err != nil {
		l.logger.Debug("no usable layout snapshot", "project", projectID, "err", err)
	}
	s.snapshot = snap

	l.subscribe(projectID)
	l.logger.Debug("switched project", "project", projectID, "generation", gen, "cached", pc.Len())
	l.changed()
}

// startFetch issues a fetch. A fetch already in flight is superseded: its
// result is dropped and its waiters are answered by the new one.
func (l *Lifecycle) startFetch(origin reconcile.Origin) {
	s := &l.st
	if !s.fetching {
		s.settled = s.status
	}
	s.fetching = true
	s.fetchSeq++
	s.fetchOrigin = origin
	s.fetchStart = time.Now()
	s.status = StatusLoading
	l.changed()

	gen, id, projectID := s.gen, s.fetchSeq, s.projectID
	observability.Lifecycle().OnLoadStart(l.baseCtx, projectID)
	l.spawn(func() {
		layout, err := l.cfg.Gateway.FetchLayout(l.baseCtx, projectID)
		l.post(func() { l.applyFetch(gen, id, projectID, layout, err) })
	})
}

func (l *Lifecycle) applyFetch(gen, id uint64, projectID string, layout *remote.Layout, err error) {
	s := &l.st
	if gen != s.gen || projectID != s.projectID {
		l.logger.Debug("dropping fetch for a previous generation", "project", projectID, "generation", gen)
		return
	}
	if id != s.fetchSeq {
		l.logger.Debug("dropping superseded fetch", "project", projectID, "fetch", id)
		return
	}
	s.fetching = false
	origin := s.fetchOrigin
	recovering := s.recovering
	s.recovering = false
	l.changed()

	if err != nil {
		observability.Lifecycle().OnLoadComplete(l.baseCtx, projectID, 0, time.Since(s.fetchStart), err)
		l.fetchFailed(err)
		l.releaseLoadWaiters(err)
		if recovering {
			l.releaseSaveWaiters(0, err)
		}
		l.replayPush()
		return
	}

	if len(layout.Invalid) > 0 {
		for _, inv := range layout.Invalid {
			l.logger.Warn("dropping invalid panel record", "project", projectID, "index", inv.Index, "err", inv.Err)
		}
	}

	s.revision = layout.Revision
	s.scale = l.effectiveScale(layout.Scale)
	s.width, s.height = layout.Width, layout.Height
	s.lastUpdated = layout.LastUpdated
	s.fetchErr = nil
	s.fetchWarn = ""
	if n := len(layout.Invalid); n > 0 {
		s.fetchWarn = pluralize(n, "invalid panel record") + " ignored"
	}

	if len(layout.Panels) == 0 {
		l.applyEmptyFetch(origin, layout)
	} else {
		res := l.merge(layout.Panels, origin, layout.LastUpdated)
		s.panels = res.Effective
		s.status = StatusLoaded
		s.degraded = false
		l.logger.Debug("layout reconciled",
			"project", projectID,
			"origin", origin,
			"panels", len(res.Effective),
			"cached", res.Count(reconcile.SourceCached),
			"fetched", res.Count(reconcile.SourceCandidate),
			"retained", len(res.Retained),
			"skipped", len(res.Skipped),
		)
		if n := overrides(layout.Panels, res); n > 0 && !s.unsaved {
			// Positions confirmed earlier but never saved.
			s.unsaved = true
			l.logger.Info("local positions differ from the remote layout", "project", projectID, "panels", n)
		}
		l.storeSnapshot()
	}
	observability.Lifecycle().OnLoadComplete(l.baseCtx, projectID, len(s.panels), time.Since(s.fetchStart), nil)
	l.releaseLoadWaiters(nil)

	if recovering && s.unsaved {
		l.logger.Info("re-saving local changes after conflict", "project", projectID, "revision", s.revision)
		l.schedulePersist()
	}
	l.replayPush()
}

// applyEmptyFetch handles a successful fetch without panels. When this
// client has seen panels for the project before, an empty answer is
// treated as a store anomaly: the last good list stays on screen, marked
// degraded. Cached positions alone also count as history. Without any of
// it the layout is genuinely empty.
func (l *Lifecycle) applyEmptyFetch(origin reconcile.Origin, layout *remote.Layout) {
	s := &l.st
	switch {
	case len(s.panels) > 0:
		s.degraded = true
		s.status = StatusLoaded
		l.logger.Warn("remote layout is empty, keeping the current panels", "project", s.projectID, "panels", len(s.panels))
	case s.snapshot != nil && len(s.snapshot.Panels) > 0:
		res := l.merge(s.snapshot.Panels, reconcile.OriginLoad, s.snapshot.LastUpdated)
		s.panels = res.Effective
		s.degraded = true
		s.status = StatusLoaded
		l.logger.Warn("remote layout is empty, showing the last stored snapshot",
			"project", s.projectID, "panels", len(s.panels), "snapshot_revision", s.snapshot.Revision)
	case s.positions.Len() > 0:
		// Cached positions without panel records to attach them to. The
		// project is not known to be empty, so nothing is shown as such.
		s.panels = nil
		s.degraded = true
		s.status = StatusLoaded
		l.logger.Warn("remote layout is empty but local positions exist",
			"project", s.projectID, "cached", s.positions.Len())
		s.fetchWarn = joinWarnings(s.fetchWarn, "remote layout returned no panels; local positions are kept")
		return
	default:
		s.panels = nil
		s.degraded = false
		s.status = StatusEmpty
	}
	if s.degraded {
		s.fetchWarn = joinWarnings(s.fetchWarn, "remote layout returned no panels; showing last known layout")
	}
}

func (l *Lifecycle) fetchFailed(err error) {
	s := &l.st
	if len(s.panels) > 0 {
		// Keep what is on screen. A failed refresh is not fatal.
		s.status = s.settled
		if s.status != StatusLoaded && s.status != StatusEmpty {
			s.status = StatusLoaded
		}
		if errors.IsTerminal(err) {
			s.fetchWarn = "project no longer exists on the server; showing last known layout"
			l.logger.Error("project vanished from the layout store", "project", s.projectID, "err", err)
			return
		}
		s.fetchWarn = "refresh failed: " + errors.UserMessage(err)
		l.logger.Warn("layout refresh failed", "project", s.projectID, "err", err)
		return
	}
	s.status = StatusError
	s.fetchErr = err
	l.logger.Error("layout load failed", "project", s.projectID, "err", err)
}

// merge reconciles candidates against the cache and applies the writes.
func (l *Lifecycle) merge(candidates []panel.Panel, origin reconcile.Origin, eventTime time.Time) reconcile.Result {
	s := &l.st
	res := reconcile.Merge(reconcile.Input{
		Candidates: candidates,
		Previous:   s.panels,
		Cached:     s.positions.GetAll(),
		Deleted:    s.deleted,
		Origin:     origin,
		EventTime:  eventTime,
		Options:    l.opts,
	})
	for _, id := range res.Invalid {
		l.logger.Warn("dropping panel without a usable position", "project", s.projectID, "panel", id, "origin", origin)
	}
	if l.logger.GetLevel() <= log.DebugLevel {
		for id, src := range res.Sources {
			l.logger.Debug("reconciled panel", "panel", id, "source", src, "origin", origin)
		}
	}
	if len(res.Writes) > 0 {
		if err := s.positions.SetMany(l.baseCtx, res.Writes); err != nil {
			l.logger.Warn("position cache write failed", "project", s.projectID, "err", err)
			s.cacheWarn = "local position cache unavailable"
		}
	}
	return res
}

// overrides counts candidates whose position lost to a cached record that
// differs from it.
func overrides(candidates []panel.Panel, res reconcile.Result) int {
	effective := make(map[string]panel.Position, len(res.Effective))
	for _, p := range res.Effective {
		effective[p.ID] = p.Position()
	}
	n := 0
	for _, c := range candidates {
		if res.Sources[c.ID] != reconcile.SourceCached {
			continue
		}
		if pos, ok := effective[c.ID]; ok && !pos.SameSpot(c.Position()) {
			n++
		}
	}
	return n
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
