// Package lifecycle drives a layout from first fetch to confirmed persist.
//
// A [Lifecycle] owns the effective panel list of one project at a time. All
// of its state lives on a single event-loop goroutine: public methods send
// commands to the loop, remote I/O runs on helper goroutines that post their
// results back, and observers receive [View] snapshots. Reconciliation and
// cache writes always happen on the loop, so a push event and a local drag
// that arrive together are applied one after the other, never interleaved.
//
// Every asynchronous result carries the generation and project id it was
// started for. A result that arrives after a project switch or a local
// discard is dropped.
//
// Local edits are optimistic. They are applied and written to the position
// cache at once, then persisted in the background. At most one persist is in
// flight; edits made meanwhile are folded into a single follow-up persist. A
// failed persist never rolls anything back. The edit stays on screen and in
// the cache, marked unsaved, until [Lifecycle.Save] succeeds or the user
// calls [Lifecycle.DiscardLocal].
package lifecycle

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/panelsync/pkg/cache"
	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/panel"
	"github.com/matzehuels/panelsync/pkg/positions"
	"github.com/matzehuels/panelsync/pkg/push"
	"github.com/matzehuels/panelsync/pkg/reconcile"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// DefaultPushBuffer is the number of push events held while a load is in
// flight.
const DefaultPushBuffer = 256

// maxConflictRetries bounds automatic re-persists after revision conflicts.
const maxConflictRetries = 3

var (
	// ErrClosed is returned by operations on a closed Lifecycle.
	ErrClosed = errors.New(errors.ErrCodeInternal, "lifecycle is closed")

	// ErrSuperseded is returned to a caller whose operation was overtaken
	// by a project switch or a local discard.
	ErrSuperseded = errors.New(errors.ErrCodeInternal, "superseded by a newer load")

	errNoProject = errors.New(errors.ErrCodeInvalidInput, "no project loaded")
)

// Config configures a Lifecycle.
type Config struct {
	// Gateway is the authoritative layout store. Required.
	Gateway remote.Gateway
	// Push is the real-time channel. Optional.
	Push push.Channel
	// Cache is the durable backend for position records and snapshots.
	// Defaults to a null cache, which keeps records in memory only.
	Cache cache.Cache
	// Keyer names the cache keys. Defaults to cache.NewDefaultKeyer().
	Keyer cache.Keyer
	// Scale is the pixels-per-foot used when a layout has none.
	Scale float64
	// Reconcile overrides the placeholder detection options.
	Reconcile *reconcile.Options
	// ClientID identifies this client's push broadcasts. Defaults to a
	// random UUID.
	ClientID string
	// Logger defaults to a discarding logger.
	Logger *log.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
	// PushBuffer bounds the events held during a load.
	PushBuffer int
}

// Lifecycle is the layout state machine. Create one with [New].
type Lifecycle struct {
	cfg     Config
	opts    reconcile.Options
	logger  *log.Logger
	baseCtx context.Context
	cancel  context.CancelFunc

	cmds    chan func()
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	viewMu sync.Mutex
	view   View
	subs   map[chan View]struct{}

	// st is owned by the loop goroutine.
	st state
}

// state is everything the loop owns.
type state struct {
	projectID string
	gen       uint64
	status    Status
	settled   Status // status to restore when a refresh fails
	panels    []panel.Panel
	positions *positions.Cache
	snapshot  *panel.Snapshot
	deleted   map[string]bool

	revision    int64
	scale       float64
	width       float64
	height      float64
	lastUpdated time.Time

	unsaved  bool
	degraded bool
	fetchErr error
	saveErr  error
	// Warnings, shown joined.
	fetchWarn string
	saveWarn  string
	cacheWarn string
	liveWarn  string

	localSeq uint64

	fetching    bool
	fetchSeq    uint64
	fetchOrigin reconcile.Origin
	fetchStart  time.Time
	loadWaiters []chan error

	persisting     bool
	persistPending bool
	saveWaiters    []saveWaiter
	recovering     bool
	conflicts      int

	pushBuf []push.Event
	sub     *push.Subscription

	dirty bool
}

type saveWaiter struct {
	seq uint64
	ch  chan error
}

// New starts a Lifecycle. Call [Lifecycle.Close] to stop it.
func New(cfg Config) (*Lifecycle, error) {
	if cfg.Gateway == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "lifecycle needs a gateway")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewNullCache()
	}
	if cfg.Keyer == nil {
		cfg.Keyer = cache.NewDefaultKeyer()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PushBuffer <= 0 {
		cfg.PushBuffer = DefaultPushBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	opts := reconcile.DefaultOptions()
	if cfg.Reconcile != nil {
		opts = *cfg.Reconcile
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Lifecycle{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		cmds:    make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		subs:    make(map[chan View]struct{}),
	}
	l.st.deleted = make(map[string]bool)
	l.view = l.buildView()
	go l.run()
	return l, nil
}

// ClientID returns the id stamped on this client's push broadcasts.
func (l *Lifecycle) ClientID() string { return l.cfg.ClientID }

// Close stops the loop, waits for in-flight I/O to finish and closes every
// view subscription. Pending operations fail with [ErrClosed].
func (l *Lifecycle) Close() error {
	l.once.Do(func() {
		close(l.quit)
		<-l.stopped
		l.cancel()
		l.wg.Wait()

		l.viewMu.Lock()
		for ch := range l.subs {
			close(ch)
			delete(l.subs, ch)
		}
		l.viewMu.Unlock()
	})
	return nil
}

func (l *Lifecycle) run() {
	defer close(l.stopped)
	for {
		select {
		case cmd := <-l.cmds:
			cmd()
			if l.st.dirty {
				l.st.dirty = false
				l.publish()
			}
		case <-l.quit:
			l.shutdown()
			return
		}
	}
}

func (l *Lifecycle) shutdown() {
	l.releaseLoadWaiters(ErrClosed)
	l.releaseSaveWaiters(0, ErrClosed)
	if l.st.sub != nil {
		l.st.sub.Close()
		l.st.sub = nil
	}
}

// send queues cmd on the loop.
func (l *Lifecycle) send(ctx context.Context, cmd func()) error {
	select {
	case l.cmds <- cmd:
		return nil
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop and returns its result.
func (l *Lifecycle) call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if err := l.send(ctx, func() { res <- fn() }); err != nil {
		return err
	}
	return l.await(ctx, res)
}

func (l *Lifecycle) await(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers the result of background work to the loop. It gives up
// when the lifecycle is closing.
func (l *Lifecycle) post(cmd func()) {
	select {
	case l.cmds <- cmd:
	case <-l.quit:
	}
}

// spawn runs fn on a tracked goroutine.
func (l *Lifecycle) spawn(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// View returns the current view.
func (l *Lifecycle) View() View {
	l.viewMu.Lock()
	defer l.viewMu.Unlock()
	return copyView(l.view)
}

// Subscribe returns a channel that receives the current view at once and
// then every change. Slow receivers only see the latest view. Call the
// returned function to unsubscribe.
func (l *Lifecycle) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	l.viewMu.Lock()
	select {
	case <-l.quit:
		close(ch)
		l.viewMu.Unlock()
		return ch, func() {}
	default:
	}
	l.subs[ch] = struct{}{}
	ch <- copyView(l.view)
	l.viewMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.viewMu.Lock()
			defer l.viewMu.Unlock()
			if _, ok := l.subs[ch]; ok {
				delete(l.subs, ch)
				close(ch)
			}
		})
	}
}

func (l *Lifecycle) publish() {
	v := l.buildView()
	l.viewMu.Lock()
	defer l.viewMu.Unlock()
	l.view = v
	for ch := range l.subs {
		select {
		case <-ch:
		default:
		}
		ch <- copyView(v)
	}
}

func (l *Lifecycle) buildView() View {
	s := &l.st
	t := panel.NewTransform(s.scale)
	v := View{
		ProjectID:   s.projectID,
		Status:      s.status,
		Panels:      t.ToRenderAll(s.panels),
		Unsaved:     s.unsaved,
		Saving:      s.persisting,
		Degraded:    s.degraded,
		Warning:     joinWarnings(s.fetchWarn, s.saveWarn, s.cacheWarn, s.liveWarn),
		Revision:    s.revision,
		Scale:       t.Scale,
		Width:       s.width,
		Height:      s.height,
		LastUpdated: s.lastUpdated,
	}
	if v.Scale <= 0 {
		v.Scale = panel.DefaultScale
	}
	switch {
	case s.fetchErr != nil:
		v.Err = s.fetchErr
	case s.saveErr != nil:
		v.Err = s.saveErr
	}
	v.Retryable = errors.IsRetryable(v.Err)
	return v
}

func copyView(v View) View {
	out := v
	out.Panels = make([]panel.RenderPanel, len(v.Panels))
	for i, p := range v.Panels {
		cp := p
		if p.Points != nil {
			cp.Points = append([]panel.Point(nil), p.Points...)
		}
		if p.Meta != nil {
			cp.Meta = make(map[string]any, len(p.Meta))
			for k, val := range p.Meta {
				cp.Meta[k] = val
			}
		}
		out.Panels[i] = cp
	}
	return out
}

func joinWarnings(ws ...string) string {
	out := ""
	for _, w := range ws {
		if w == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += w
	}
	return out
}

// changed marks the view for republication after the current command.
func (l *Lifecycle) changed() { l.st.dirty = true }

// effectiveScale returns the scale to render at.
func (l *Lifecycle) effectiveScale(layoutScale float64) float64 {
	if layoutScale > 0 {
		return layoutScale
	}
	if l.cfg.Scale > 0 {
		return l.cfg.Scale
	}
	return panel.DefaultScale
}

func (l *Lifecycle) releaseLoadWaiters(err error) {
	for _, ch := range l.st.loadWaiters {
		ch <- err
	}
	l.st.loadWaiters = nil
}

// releaseSaveWaiters answers every waiter whose target seq is covered by
// seq. A non-nil err answers all of them.
func (l *Lifecycle) releaseSaveWaiters(seq uint64, err error) {
	kept := l.st.saveWaiters[:0]
	for _, w := range l.st.saveWaiters {
		if err != nil || w.seq <= seq {
			w.ch <- err
			continue
		}
		kept = append(kept, w)
	}
	l.st.saveWaiters = kept
}
