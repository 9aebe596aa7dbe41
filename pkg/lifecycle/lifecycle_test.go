package lifecycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/matzehuels/panelsync/pkg/cache"
	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/panel"
	"github.com/matzehuels/panelsync/pkg/positions"
	"github.com/matzehuels/panelsync/pkg/push"
	"github.com/matzehuels/panelsync/pkg/remote"
	"github.com/matzehuels/panelsync/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// gateway wraps a memory store with failure injection and gates.
type gateway struct {
	inner *store.MemoryStore

	mu          sync.Mutex
	fetchErr    error
	persistErr  error
	fetchGate   map[string]chan struct{}
	persistGate chan struct{}
	fetches     int
	persists    int
}

func newGateway() *gateway {
	return &gateway{inner: store.NewMemoryStore(store.WithClock(func() time.Time { return t0 })), fetchGate: map[string]chan struct{}{}}
}

func (g *gateway) FetchLayout(ctx context.Context, projectID string) (*remote.Layout, error) {
	g.mu.Lock()
	g.fetches++
	gate, err := g.fetchGate[projectID], g.fetchErr
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return g.inner.FetchLayout(ctx, projectID)
}

func (g *gateway) PersistLayout(ctx context.Context, projectID string, req remote.PersistRequest) (*remote.Ack, error) {
	g.mu.Lock()
	g.persists++
	gate, err := g.persistGate, g.persistErr
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return g.inner.PersistLayout(ctx, projectID, req)
}

func (g *gateway) set(fn func(g *gateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *gateway) persistCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.persists
}

func seed(g *gateway, projectID string, panels ...panel.Panel) {
	g.inner.Seed(&remote.Layout{
		ProjectID:   projectID,
		Panels:      panels,
		Scale:       10,
		Revision:    1,
		LastUpdated: t0,
	})
}

func rect(id string, x, y float64) panel.Panel {
	return panel.Panel{ID: id, Shape: panel.ShapeRectangle, X: x, Y: y, Width: 40, Height: 100}
}

func newLifecycle(t *testing.T, cfg Config) *Lifecycle {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return t0.Add(time.Minute) }
	}
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// waitView waits until the view satisfies cond.
func waitView(t *testing.T, l *Lifecycle, cond func(View) bool) View {
	t.Helper()
	ch, cancel := l.Subscribe()
	defer cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatal("view subscription closed")
			}
			if cond(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for view, last: %+v", l.View())
		}
	}
}

func position(t *testing.T, v View, id string) (float64, float64) {
	t.Helper()
	p, ok := v.Panel(id)
	if !ok {
		t.Fatalf("panel %s missing from view %+v", id, v.Panels)
	}
	return p.X, p.Y
}

func storedPanel(t *testing.T, g *gateway, projectID, id string) panel.Panel {
	t.Helper()
	l, err := g.inner.FetchLayout(context.Background(), projectID)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range l.Panels {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("panel %s not stored", id)
	return panel.Panel{}
}

func TestNewRequiresGateway(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("New() err = %v", err)
	}
}

func TestLoad(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8), rect("p2", 30, 40))
	l := newLifecycle(t, Config{Gateway: g})

	if v := l.View(); v.Status != StatusIdle {
		t.Errorf("initial status = %s", v.Status)
	}
	if err := l.Load(context.Background(), "site-1"); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	v := l.View()
	if v.Status != StatusLoaded || len(v.Panels) != 2 || v.Revision != 1 || v.Unsaved {
		t.Fatalf("view = %+v", v)
	}
	if x, y := position(t, v, "p1"); x != 120 || y != 80 {
		t.Errorf("p1 at (%v, %v) px, want (120, 80)", x, y)
	}
}

func TestLoadPrefersCachedPositions(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	backend := cache.NewMemoryCache()
	keyer := cache.NewDefaultKeyer()

	pc, err := positions.Open(context.Background(), backend, keyer, "site-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.SetMany(context.Background(), map[string]panel.Position{"p1": {X: 20, Y: 25, UpdatedAt: t0}}); err != nil {
		t.Fatal(err)
	}

	l := newLifecycle(t, Config{Gateway: g, Cache: backend, Keyer: keyer})
	if err := l.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}
	v := l.View()
	if x, y := position(t, v, "p1"); x != 200 || y != 250 {
		t.Errorf("p1 at (%v, %v) px, want cached (200, 250)", x, y)
	}
	if !v.Unsaved {
		t.Error("cached override not reported as unsaved")
	}

	if err := l.Save(context.Background()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if p := storedPanel(t, g, "site-1", "p1"); p.X != 20 || p.Y != 25 {
		t.Errorf("stored p1 = %+v, want cached position", p)
	}
}

func TestInitialFetchFailure(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	g.set(func(g *gateway) { g.fetchErr = errors.New(errors.ErrCodeTransport, "unreachable") })
	l := newLifecycle(t, Config{Gateway: g})

	err := l.Load(context.Background(), "site-1")
	if !errors.Is(err, errors.ErrCodeTransport) {
		t.Fatalf("Load() err = %v", err)
	}
	v := l.View()
	if v.Status != StatusError || !v.Retryable || v.Err == nil {
		t.Fatalf("view = %+v, want retryable error", v)
	}

	g.set(func(g *gateway) { g.fetchErr = nil })
	if err := l.Retry(context.Background()); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if v := l.View(); v.Status != StatusLoaded || v.Err != nil {
		t.Errorf("view after retry = %+v", v)
	}
}

func TestMissingProjectIsTerminal(t *testing.T) {
	l := newLifecycle(t, Config{Gateway: newGateway()})
	if err := l.Load(context.Background(), "nope"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("Load() err = %v", err)
	}
	if v := l.View(); v.Status != StatusError || v.Retryable {
		t.Errorf("view = %+v, want terminal error", v)
	}
}

func TestRefreshFailureKeepsPanels(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 1, 1), rect("p2", 2, 2), rect("p3", 3, 3), rect("p4", 4, 4), rect("p5", 5, 5))
	l := newLifecycle(t, Config{Gateway: g})
	if err := l.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}

	g.set(func(g *gateway) { g.fetchErr = errors.New(errors.ErrCodeTransport, "timeout") })
	if err := l.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() succeeded, want error")
	}
	v := l.View()
	if v.Status != StatusLoaded || len(v.Panels) != 5 {
		t.Fatalf("view = %+v, want 5 loaded panels", v)
	}
	if v.Warning == "" {
		t.Error("expected a refresh warning")
	}
}

func TestRefreshOfVanishedProjectKeepsPanels(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	if err := l.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}

	g.set(func(g *gateway) { g.fetchErr = errors.New(errors.ErrCodeNotFound, "project site-1 not found") })
	if err := l.Refresh(context.Background()); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("Refresh() err = %v, want NOT_FOUND", err)
	}
	v := l.View()
	if v.Status != StatusLoaded || len(v.Panels) != 1 {
		t.Fatalf("view = %+v, want p1 still loaded", v)
	}
	if !strings.Contains(v.Warning, "no longer exists") {
		t.Errorf("Warning = %q, want a vanished-project warning", v.Warning)
	}
}

func TestEmptyProject(t *testing.T) {
	g := newGateway()
	seed(g, "site-1")
	l := newLifecycle(t, Config{Gateway: g})
	if err := l.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}
	if v := l.View(); v.Status != StatusEmpty || v.Degraded {
		t.Errorf("view = %+v, want genuinely empty", v)
	}
}

func TestEmptyFetchKeepsCurrentPanels(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	if err := l.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}

	seed(g, "site-1")
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	v := l.View()
	if v.Status != StatusLoaded || !v.Degraded || len(v.Panels) != 1 {
		t.Errorf("view = %+v, want degraded with p1", v)
	}
}

func TestEmptyFetchFallsBackToSnapshot(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8), rect("p2", 3, 4))
	backend := cache.NewMemoryCache()

	first := newLifecycle(t, Config{Gateway: g, Cache: backend})
	if err := first.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}
	first.Close()

	seed(g, "site-1")
	second := newLifecycle(t, Config{Gateway: g, Cache: backend})
	if err := second.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}
	v := second.View()
	if v.Status != StatusLoaded || !v.Degraded || len(v.Panels) != 2 {
		t.Errorf("view = %+v, want snapshot panels", v)
	}
}

func TestEmptyFetchWithCachedPositionsIsDegraded(t *testing.T) {
	ctx := context.Background()
	g := newGateway()
	seed(g, "site-1")
	backend := cache.NewMemoryCache()
	pc, err := positions.Open(ctx, backend, cache.NewDefaultKeyer(), "site-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.SetMany(ctx, map[string]panel.Position{"p1": {X: 12, Y: 8, UpdatedAt: t0}}); err != nil {
		t.Fatal(err)
	}

	l := newLifecycle(t, Config{Gateway: g, Cache: backend})
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}
	v := l.View()
	if v.Status == StatusEmpty || !v.Degraded || v.Warning == "" {
		t.Errorf("view = %+v, want degraded rather than empty", v)
	}
}

func TestMoveAndSave(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}

	if err := l.UpdatePanelPosition(ctx, "p1", 20, 30, 90); err != nil {
		t.Fatalf("UpdatePanelPosition() error: %v", err)
	}
	if v := l.View(); !v.Unsaved {
		t.Error("view not marked unsaved after move")
	}
	if err := l.Save(ctx); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	v := l.View()
	if v.Unsaved || v.Revision != 2 {
		t.Errorf("view after save = %+v", v)
	}
	if p := storedPanel(t, g, "site-1", "p1"); p.X != 20 || p.Y != 30 || p.Rotation != 90 {
		t.Errorf("stored p1 = %+v", p)
	}
}

func TestMutationErrors(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()

	if err := l.UpdatePanelPosition(ctx, "p1", 1, 1, 0); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("move before load err = %v", err)
	}
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdatePanelPosition(ctx, "ghost", 1, 1, 0); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("move unknown err = %v", err)
	}
	if _, err := l.AddPanel(ctx, rect("p1", 0, 0)); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("duplicate add err = %v", err)
	}
	if err := l.RemovePanel(ctx, "ghost"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("remove unknown err = %v", err)
	}
}

func TestFailedPersistKeepsEdit(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}

	g.set(func(g *gateway) { g.persistErr = errors.New(errors.ErrCodeTransport, "down") })
	if err := l.UpdatePanelPosition(ctx, "p1", 20, 30, 0); err != nil {
		t.Fatal(err)
	}
	if err := l.Save(ctx); !errors.Is(err, errors.ErrCodeTransport) {
		t.Fatalf("Save() err = %v", err)
	}
	v := l.View()
	if !v.Unsaved || v.Warning == "" {
		t.Errorf("view = %+v, want unsaved with warning", v)
	}
	if x, _ := position(t, v, "p1"); x != 200 {
		t.Errorf("p1 rolled back to x=%v px", x)
	}

	g.set(func(g *gateway) { g.persistErr = nil })
	if err := l.Save(ctx); err != nil {
		t.Fatalf("Save() retry error: %v", err)
	}
	if v := l.View(); v.Unsaved || v.Err != nil {
		t.Errorf("view after retry = %+v", v)
	}
}

func TestPersistsAreCoalesced(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	g.set(func(g *gateway) { g.persistGate = gate })
	for i := 1; i <= 3; i++ {
		if err := l.UpdatePanelPosition(ctx, "p1", float64(i), float64(i), 0); err != nil {
			t.Fatal(err)
		}
	}
	waitView(t, l, func(v View) bool { return v.Saving })
	close(gate)

	if err := l.Save(ctx); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if n := g.persistCount(); n != 2 {
		t.Errorf("persists = %d, want 2", n)
	}
	if p := storedPanel(t, g, "site-1", "p1"); p.X != 3 {
		t.Errorf("stored p1.X = %v, want 3", p.X)
	}
	if v := l.View(); v.Unsaved || v.Revision != 3 {
		t.Errorf("view = %+v", v)
	}
}

func TestConflictRefreshesAndSavesAgain(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}

	// Another client adds p2.
	if _, err := g.inner.PersistLayout(ctx, "site-1", remote.PersistRequest{
		Panels:       []panel.Panel{rect("p1", 12, 8), rect("p2", 5, 5)},
		BaseRevision: 1,
	}); err != nil {
		t.Fatal(err)
	}

	if err := l.UpdatePanelPosition(ctx, "p1", 20, 30, 0); err != nil {
		t.Fatal(err)
	}
	if err := l.Save(ctx); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	v := l.View()
	if v.Unsaved || v.Revision != 3 || len(v.Panels) != 2 {
		t.Fatalf("view = %+v", v)
	}
	if p := storedPanel(t, g, "site-1", "p1"); p.X != 20 {
		t.Errorf("stored p1 = %+v, want local move", p)
	}
	storedPanel(t, g, "site-1", "p2")
}

func TestProjectSwitchDropsStaleFetch(t *testing.T) {
	g := newGateway()
	seed(g, "site-a", rect("a1", 1, 1))
	seed(g, "site-b", rect("b1", 2, 2))
	gate := make(chan struct{})
	g.set(func(g *gateway) { g.fetchGate["site-a"] = gate })
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- l.Load(ctx, "site-a") }()
	waitView(t, l, func(v View) bool { return v.ProjectID == "site-a" && v.Status == StatusLoading })

	if err := l.Load(ctx, "site-b"); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != ErrSuperseded {
		t.Errorf("superseded Load() err = %v", err)
	}
	close(gate)

	// Give the stale fetch a chance to land, then check it was ignored.
	if err := l.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	v := l.View()
	if v.ProjectID != "site-b" || len(v.Panels) != 1 || v.Panels[0].ID != "b1" {
		t.Errorf("view = %+v, want site-b only", v)
	}
}

func TestRemovedPanelIsNotResurrected(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8), rect("p2", 3, 4))
	gate := make(chan struct{})
	defer close(gate)
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}

	// Hold the persist so the store still has p1 during the refresh.
	g.set(func(g *gateway) { g.persistGate = gate })
	if err := l.RemovePanel(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.View().Panel("p1"); ok {
		t.Error("p1 came back after refresh")
	}

	l.OnPushEvent(push.Event{
		Type:      push.EventPanelUpdate,
		ProjectID: "site-1",
		Panels:    []panel.Panel{rect("p1", 50, 50), rect("p2", 3, 4)},
		Timestamp: t0.Add(time.Hour),
		Origin:    "other",
	})
	if err := l.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.View().Panel("p1"); ok {
		t.Error("p1 came back after push")
	}
}

func TestRemoteUpdateApplied(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	if err := l.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}

	l.OnPushEvent(push.Event{
		Type:      push.EventPanelUpdate,
		ProjectID: "site-1",
		Panels:    []panel.Panel{rect("p1", 30, 40)},
		Timestamp: t0.Add(time.Hour),
		Origin:    "other",
		Revision:  2,
	})
	v := waitView(t, l, func(v View) bool {
		p, _ := v.Panel("p1")
		return p.X == 300
	})
	if v.Unsaved || v.Revision != 2 {
		t.Errorf("view = %+v, want clean at revision 2", v)
	}
}

func TestPushDuringPersistKeepsLocalEdit(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8), rect("p2", 3, 4))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	g.set(func(g *gateway) { g.persistGate = gate })
	if err := l.UpdatePanelPosition(ctx, "p1", 20, 20, 0); err != nil {
		t.Fatal(err)
	}
	waitView(t, l, func(v View) bool { return v.Saving })

	// Older than the local drag of p1, newer than the fetched p2.
	l.OnPushEvent(push.Event{
		Type:      push.EventPanelUpdate,
		ProjectID: "site-1",
		Panels:    []panel.Panel{rect("p1", 90, 90), rect("p2", 5, 6)},
		Timestamp: t0.Add(30 * time.Second),
		Origin:    "other",
	})
	v := waitView(t, l, func(v View) bool {
		p, _ := v.Panel("p2")
		return p.X == 50
	})
	if x, y := position(t, v, "p1"); x != 200 || y != 200 {
		t.Errorf("p1 = (%v, %v) px, want local (200, 200)", x, y)
	}
	if !v.Unsaved {
		t.Error("edit under persist should still be unsaved")
	}

	close(gate)
	if err := l.Save(ctx); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if v := l.View(); v.Unsaved {
		t.Errorf("view = %+v, want saved", v)
	}
	if p := storedPanel(t, g, "site-1", "p1"); p.X != 20 || p.Y != 20 {
		t.Errorf("stored p1 = (%v, %v), want (20, 20)", p.X, p.Y)
	}
}

func TestPushNumericIDMatchesFetchedPanel(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("12345678", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	if err := l.Load(context.Background(), "site-1"); err != nil {
		t.Fatal(err)
	}

	ev, err := push.Decode([]byte(`{"type":"PANEL_UPDATE","projectId":"site-1","origin":"other",
		"timestamp":"2026-03-01T13:00:00Z","panels":[{"id":12345678,"x":30,"y":40}]}`))
	if err != nil {
		t.Fatal(err)
	}
	l.OnPushEvent(ev)
	v := waitView(t, l, func(v View) bool {
		p, _ := v.Panel("12345678")
		return p.X == 300
	})
	if len(v.Panels) != 1 {
		t.Errorf("panels = %+v, want the fetched panel updated in place", v.Panels)
	}
}

func TestPushEventsIgnored(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdatePanelPosition(ctx, "p1", 20, 20, 0); err != nil {
		t.Fatal(err)
	}
	if err := l.Save(ctx); err != nil {
		t.Fatal(err)
	}

	moved := []panel.Panel{rect("p1", 90, 90)}
	tests := []struct {
		name string
		ev   push.Event
	}{
		{"self echo", push.Event{Type: push.EventPanelUpdate, ProjectID: "site-1", Panels: moved, Timestamp: t0.Add(time.Hour), Origin: l.ClientID()}},
		{"other project", push.Event{Type: push.EventPanelUpdate, ProjectID: "site-2", Panels: moved, Timestamp: t0.Add(time.Hour), Origin: "other"}},
		{"other type", push.Event{Type: "PANEL_DELETE", ProjectID: "site-1", Panels: moved, Timestamp: t0.Add(time.Hour), Origin: "other"}},
		{"stale", push.Event{Type: push.EventPanelUpdate, ProjectID: "site-1", Panels: moved, Timestamp: t0, Origin: "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l.OnPushEvent(tt.ev)
			// A round trip through the loop orders it after the event.
			if err := l.Refresh(ctx); err != nil {
				t.Fatal(err)
			}
			if x, _ := position(t, l.View(), "p1"); x != 200 {
				t.Errorf("p1.X = %v px, want 200", x)
			}
		})
	}
}

func TestPushBufferedDuringLoad(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	gate := make(chan struct{})
	g.set(func(g *gateway) { g.fetchGate["site-1"] = gate })
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- l.Load(ctx, "site-1") }()
	waitView(t, l, func(v View) bool { return v.Status == StatusLoading })

	l.OnPushEvent(push.Event{
		Type:      push.EventPanelUpdate,
		ProjectID: "site-1",
		Panels:    []panel.Panel{rect("p1", 30, 40)},
		Timestamp: t0.Add(time.Hour),
		Origin:    "other",
	})
	close(gate)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	v := waitView(t, l, func(v View) bool {
		p, _ := v.Panel("p1")
		return p.X == 300
	})
	if v.Status != StatusLoaded {
		t.Errorf("status = %s", v.Status)
	}
}

func TestPushChannelDelivers(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	hub := push.NewHub(push.DefaultBuffer)
	defer hub.Close()

	a := newLifecycle(t, Config{Gateway: g, Push: hub, ClientID: "a"})
	b := newLifecycle(t, Config{Gateway: g, Push: hub, ClientID: "b"})
	ctx := context.Background()
	for _, l := range []*Lifecycle{a, b} {
		if err := l.Load(ctx, "site-1"); err != nil {
			t.Fatal(err)
		}
	}

	if err := a.UpdatePanelPosition(ctx, "p1", 25, 35, 0); err != nil {
		t.Fatal(err)
	}
	if err := a.Save(ctx); err != nil {
		t.Fatal(err)
	}
	v := waitView(t, b, func(v View) bool {
		p, _ := v.Panel("p1")
		return p.X == 250
	})
	if v.Revision != 2 || v.Unsaved {
		t.Errorf("receiver view = %+v", v)
	}
}

func TestAddRemoveAndDiscard(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}

	g.set(func(g *gateway) { g.persistErr = errors.New(errors.ErrCodeTransport, "down") })
	added, err := l.AddPanel(ctx, panel.Panel{Shape: panel.ShapeCircle, X: 5, Y: 5, Width: 20})
	if err != nil {
		t.Fatal(err)
	}
	if added.ID == "" || added.Height != 20 {
		t.Errorf("added = %+v", added)
	}
	if err := l.UpdatePanelPosition(ctx, "p1", 1, 1, 0); err != nil {
		t.Fatal(err)
	}

	if err := l.DiscardLocal(ctx); err != nil {
		t.Fatalf("DiscardLocal() error: %v", err)
	}
	v := l.View()
	if v.Unsaved || len(v.Panels) != 1 {
		t.Fatalf("view = %+v, want store layout", v)
	}
	if x, y := position(t, v, "p1"); x != 120 || y != 80 {
		t.Errorf("p1 at (%v, %v) px after discard", x, y)
	}
}

func TestClosed(t *testing.T) {
	l, err := New(Config{Gateway: newGateway()})
	if err != nil {
		t.Fatal(err)
	}
	ch, _ := l.Subscribe()
	l.Close()
	if err := l.Load(context.Background(), "site-1"); err != ErrClosed {
		t.Errorf("Load() after Close err = %v", err)
	}
	for range ch {
	}
}
