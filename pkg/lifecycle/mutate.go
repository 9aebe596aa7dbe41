package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/observability"
	"github.com/matzehuels/panelsync/pkg/panel"
	"github.com/matzehuels/panelsync/pkg/push"
	"github.com/matzehuels/panelsync/pkg/reconcile"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// UpdatePanelPosition moves panel id to (x, y) feet with the given
// rotation. The move is applied and cached at once and persisted in the
// background; it returns before the persist completes.
func (l *Lifecycle) UpdatePanelPosition(ctx context.Context, id string, x, y, rotation float64) error {
	return l.call(ctx, func() error {
		return l.move(id, panel.Position{X: x, Y: y, Rotation: rotation})
	})
}

func (l *Lifecycle) move(id string, pos panel.Position) error {
	s := &l.st
	if s.projectID == "" {
		return errNoProject
	}
	if !(panel.Panel{X: pos.X, Y: pos.Y, Rotation: pos.Rotation}).HasFinitePosition() {
		return errors.New(errors.ErrCodeValidation, "position of %s is not a finite number", id)
	}
	i := l.indexOf(id)
	if i < 0 {
		return errors.New(errors.ErrCodeNotFound, "panel %s not found", id)
	}

	rec := l.confirm(pos)
	s.panels[i] = s.panels[i].WithPosition(rec)
	l.cachePut(id, rec)
	l.logger.Debug("panel moved", "project", s.projectID, "panel", id, "x", rec.X, "y", rec.Y, "seq", rec.Seq)
	l.markUnsaved()
	return nil
}

// AddPanel appends p to the layout. An empty id is replaced by a new UUID.
// The added panel is returned.
func (l *Lifecycle) AddPanel(ctx context.Context, p panel.Panel) (panel.Panel, error) {
	var added panel.Panel
	err := l.call(ctx, func() error {
		var err error
		added, err = l.add(p)
		return err
	})
	return added, err
}

func (l *Lifecycle) add(p panel.Panel) (panel.Panel, error) {
	s := &l.st
	if s.projectID == "" {
		return panel.Panel{}, errNoProject
	}
	p = p.Clone()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := errors.ValidatePanelID(p.ID); err != nil {
		return panel.Panel{}, err
	}
	if l.indexOf(p.ID) >= 0 {
		return panel.Panel{}, errors.New(errors.ErrCodeInvalidInput, "panel %s already exists", p.ID)
	}
	if !p.HasFinitePosition() {
		return panel.Panel{}, errors.New(errors.ErrCodeValidation, "position of %s is not a finite number", p.ID)
	}
	if !p.Shape.Valid() {
		p.Shape = panel.ShapeRectangle
	}
	if p.Width <= 0 {
		p.Width = panel.DefaultWidth
	}
	if p.Height <= 0 {
		p.Height = panel.DefaultHeight
	}
	if p.Shape == panel.ShapeCircle {
		p.Height = p.Width
	}

	rec := l.confirm(p.Position())
	p = p.WithPosition(rec)
	delete(s.deleted, p.ID)
	s.panels = append(s.panels, p)
	l.cachePut(p.ID, rec)
	if s.status == StatusEmpty {
		s.status = StatusLoaded
	}
	l.logger.Debug("panel added", "project", s.projectID, "panel", p.ID, "seq", rec.Seq)
	l.markUnsaved()
	return p.Clone(), nil
}

// RemovePanel deletes panel id. Its position record is purged and the id
// is remembered, so a later fetch or push cannot bring it back.
func (l *Lifecycle) RemovePanel(ctx context.Context, id string) error {
	return l.call(ctx, func() error { return l.remove(id) })
}

func (l *Lifecycle) remove(id string) error {
	s := &l.st
	if s.projectID == "" {
		return errNoProject
	}
	i := l.indexOf(id)
	if i < 0 {
		return errors.New(errors.ErrCodeNotFound, "panel %s not found", id)
	}
	s.panels = append(s.panels[:i:i], s.panels[i+1:]...)
	s.deleted[id] = true
	if err := s.positions.Delete(l.baseCtx, id); err != nil {
		l.logger.Warn("position cache delete failed", "project", s.projectID, "panel", id, "err", err)
		s.cacheWarn = "local position cache unavailable"
	}
	s.localSeq++
	l.logger.Debug("panel removed", "project", s.projectID, "panel", id, "seq", s.localSeq)
	l.markUnsaved()
	return nil
}

// Save persists the current layout and waits until every local change made
// so far is confirmed. A failed persist is returned; it is the explicit
// retry for a failed background save.
func (l *Lifecycle) Save(ctx context.Context) error {
	done := make(chan error, 1)
	err := l.call(ctx, func() error {
		s := &l.st
		if s.projectID == "" {
			return errNoProject
		}
		if !s.unsaved && !s.persisting {
			done <- nil
			return nil
		}
		s.saveWaiters = append(s.saveWaiters, saveWaiter{seq: s.localSeq, ch: done})
		if !s.persisting && !s.recovering {
			s.conflicts = 0
			l.startPersist()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return l.await(ctx, done)
}

func (l *Lifecycle) indexOf(id string) int {
	for i, p := range l.st.panels {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// confirm stamps pos as a local confirmation.
func (l *Lifecycle) confirm(pos panel.Position) panel.Position {
	l.st.localSeq++
	pos.UpdatedAt = l.cfg.Clock()
	pos.Seq = l.st.localSeq
	return pos
}

func (l *Lifecycle) cachePut(id string, rec panel.Position) {
	s := &l.st
	if err := s.positions.SetMany(l.baseCtx, map[string]panel.Position{id: rec}); err != nil {
		l.logger.Warn("position cache write failed", "project", s.projectID, "panel", id, "err", err)
		s.cacheWarn = "local position cache unavailable"
	}
}

func (l *Lifecycle) markUnsaved() {
	l.st.unsaved = true
	l.changed()
	l.schedulePersist()
}

// schedulePersist starts a persist, or folds into the follow-up of the one
// in flight.
func (l *Lifecycle) schedulePersist() {
	s := &l.st
	if s.persisting || (s.fetching && s.recovering) {
		s.persistPending = true
		return
	}
	l.startPersist()
}

func (l *Lifecycle) startPersist() {
	s := &l.st
	s.persisting = true
	s.persistPending = false
	l.changed()

	gen, projectID, seq := s.gen, s.projectID, s.localSeq
	req := remote.PersistRequest{Panels: panel.CloneAll(s.panels), BaseRevision: s.revision}
	issued := l.cfg.Clock()
	start := time.Now()
	observability.Lifecycle().OnPersistStart(l.baseCtx, projectID, seq)
	l.logger.Debug("persisting layout", "project", projectID, "seq", seq, "base_revision", req.BaseRevision, "panels", len(req.Panels))

	l.spawn(func() {
		ack, err := l.cfg.Gateway.PersistLayout(l.baseCtx, projectID, req)
		observability.Lifecycle().OnPersistComplete(l.baseCtx, projectID, seq, time.Since(start), err)
		l.post(func() { l.applyPersist(gen, projectID, seq, issued, req.Panels, ack, err) })
	})
}

func (l *Lifecycle) applyPersist(gen uint64, projectID string, seq uint64, issued time.Time, sent []panel.Panel, ack *remote.Ack, err error) {
	s := &l.st
	if gen != s.gen || projectID != s.projectID {
		l.logger.Debug("dropping persist result for a previous generation", "project", projectID, "seq", seq)
		return
	}
	s.persisting = false
	l.changed()

	if err != nil {
		l.persistFailed(seq, err)
		return
	}

	s.revision = ack.Revision
	if !ack.LastUpdated.IsZero() {
		s.lastUpdated = ack.LastUpdated
	}
	s.saveErr, s.saveWarn = nil, ""
	s.conflicts = 0
	if seq == s.localSeq && !s.persistPending {
		s.unsaved = false
	}
	l.logger.Info("layout saved", "project", projectID, "revision", ack.Revision, "seq", seq)
	l.storeSnapshot()
	l.releaseSaveWaiters(seq, nil)
	l.broadcast(push.Event{
		Type:      push.EventPanelUpdate,
		ProjectID: projectID,
		Panels:    sent,
		Timestamp: issued,
		Origin:    l.cfg.ClientID,
		Seq:       seq,
		Revision:  ack.Revision,
	})

	if s.persistPending {
		l.startPersist()
	}
}

func (l *Lifecycle) persistFailed(seq uint64, err error) {
	s := &l.st
	if errors.Is(err, errors.ErrCodeConflict) && s.conflicts < maxConflictRetries {
		// The store moved on. Reload on top of the cache, which still holds
		// every local change, then save again.
		s.conflicts++
		s.persistPending = false
		s.recovering = true
		s.saveWarn = "layout changed remotely; merging"
		l.logger.Warn("persist conflict, refreshing", "project", s.projectID, "seq", seq, "attempt", s.conflicts)
		l.startFetch(reconcile.OriginRefresh)
		return
	}

	s.saveErr = err
	s.saveWarn = "changes not saved: " + errors.UserMessage(err)
	l.logger.Warn("persist failed", "project", s.projectID, "seq", seq, "err", err, "retryable", errors.IsRetryable(err))
	l.releaseSaveWaiters(0, err)
	if s.persistPending {
		l.startPersist()
	}
}
