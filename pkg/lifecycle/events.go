package lifecycle

import (
	"context"
	"time"

	"github.com/matzehuels/panelsync/pkg/observability"
	"github.com/matzehuels/panelsync/pkg/push"
	"github.com/matzehuels/panelsync/pkg/reconcile"
)

// publishTimeout bounds a push broadcast after a confirmed persist.
const publishTimeout = 5 * time.Second

// OnPushEvent feeds a push event into the lifecycle. Events for another
// project, of another type, or published by this client are ignored.
// Events that arrive while a load is in flight are held and applied after
// it. OnPushEvent returns once the event is queued.
func (l *Lifecycle) OnPushEvent(ev push.Event) {
	_ = l.send(context.Background(), func() { l.handlePush(ev) })
}

// subscribe joins the push room of projectID and forwards its events to
// the loop until the subscription ends.
func (l *Lifecycle) subscribe(projectID string) {
	if l.cfg.Push == nil {
		return
	}
	sub, err := l.cfg.Push.Subscribe(l.baseCtx, projectID)
	if err != nil {
		l.logger.Warn("live updates unavailable", "project", projectID, "err", err)
		l.st.liveWarn = "live updates unavailable"
		return
	}
	l.st.sub = sub
	l.spawn(func() {
		for ev := range sub.C {
			l.post(func() { l.handlePush(ev) })
		}
	})
}

func (l *Lifecycle) handlePush(ev push.Event) {
	s := &l.st
	switch {
	case ev.ProjectID != s.projectID:
		l.logger.Debug("ignoring push event for another project", "event_project", ev.ProjectID, "project", s.projectID)
		return
	case ev.Type != push.EventPanelUpdate:
		l.logger.Debug("ignoring push event", "type", ev.Type, "project", s.projectID)
		return
	case ev.Origin != "" && ev.Origin == l.cfg.ClientID:
		l.logger.Debug("ignoring own push event", "project", s.projectID, "seq", ev.Seq)
		return
	}
	for _, inv := range ev.Invalid {
		l.logger.Warn("dropping invalid panel record in push event", "project", s.projectID, "index", inv.Index, "err", inv.Err)
	}

	if s.fetching {
		if len(s.pushBuf) >= l.cfg.PushBuffer {
			l.logger.Warn("push buffer full, dropping oldest event", "project", s.projectID, "buffered", len(s.pushBuf))
			s.pushBuf = s.pushBuf[1:]
		}
		s.pushBuf = append(s.pushBuf, ev)
		return
	}
	if s.status != StatusLoaded && s.status != StatusEmpty {
		l.logger.Debug("ignoring push event before a successful load", "project", s.projectID, "status", s.status)
		return
	}
	l.applyPush(ev)
}

func (l *Lifecycle) applyPush(ev push.Event) {
	s := &l.st
	res := l.merge(ev.Panels, reconcile.OriginPush, ev.Timestamp)

	adopted := res.Count(reconcile.SourceRemote) + res.Count(reconcile.SourceCandidate)
	rejected := res.Count(reconcile.SourceStale) + res.Count(reconcile.SourceCached)
	observability.Lifecycle().OnPushMerged(l.baseCtx, s.projectID, adopted, rejected)
	l.logger.Debug("push event merged",
		"project", s.projectID,
		"origin", ev.Origin,
		"adopted", adopted,
		"rejected", rejected,
		"echo", res.Count(reconcile.SourceEcho),
	)

	// A revision one ahead of ours is the change this event describes.
	if ev.Revision == s.revision+1 && !s.persisting {
		s.revision = ev.Revision
		l.changed()
	}

	if !res.Changed(s.panels) {
		return
	}
	s.panels = res.Effective
	switch {
	case len(s.panels) > 0 && s.status == StatusEmpty:
		s.status = StatusLoaded
	case len(s.panels) == 0 && s.status == StatusLoaded:
		s.status = StatusEmpty
	}
	l.changed()
}

// replayPush applies the events held during a load, oldest first.
func (l *Lifecycle) replayPush() {
	buf := l.st.pushBuf
	l.st.pushBuf = nil
	for _, ev := range buf {
		l.handlePush(ev)
	}
}

// broadcast publishes ev to the project room in the background.
func (l *Lifecycle) broadcast(ev push.Event) {
	if l.cfg.Push == nil {
		return
	}
	l.spawn(func() {
		ctx, cancel := context.WithTimeout(l.baseCtx, publishTimeout)
		defer cancel()
		if err := l.cfg.Push.Publish(ctx, ev); err != nil {
			l.logger.Warn("push broadcast failed", "project", ev.ProjectID, "seq", ev.Seq, "err", err)
		}
	})
}
