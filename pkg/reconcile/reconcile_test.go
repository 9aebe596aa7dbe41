package reconcile

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/matzehuels/panelsync/pkg/panel"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
	t2 = t0.Add(2 * time.Minute)
)

func pn(id string, x, y float64) panel.Panel {
	return panel.Panel{ID: id, Shape: panel.ShapeRectangle, X: x, Y: y, Width: 40, Height: 100, PanelNumber: "N-" + id}
}

func TestReconcileRules(t *testing.T) {
	opts := DefaultOptions()
	cached := panel.Position{X: 120, Y: 80, UpdatedAt: t1, Seq: 4}

	tests := []struct {
		name       string
		candidate  panel.Panel
		hasCached  bool
		origin     Origin
		eventTime  time.Time
		wantX      float64
		wantY      float64
		wantSource Source
		wantWrite  bool
	}{
		{"no cache accepts candidate", pn("p1", 10, 10), false, OriginLoad, t0, 10, 10, SourceCandidate, true},
		{"no cache placeholder not written", pn("p1", 50, 50), false, OriginLoad, t0, 50, 50, SourceCandidate, false},
		{"sentinel loses to cache", pn("p1", 50, 50), true, OriginLoad, t0, 120, 80, SourceCached, false},
		{"origin loses to cache", pn("p1", 0.2, 0.1), true, OriginPush, t2, 120, 80, SourceCached, false},
		{"load prefers cache", pn("p1", 300, 300), true, OriginLoad, t2, 120, 80, SourceCached, false},
		{"refresh prefers cache", pn("p1", 300, 300), true, OriginRefresh, t2, 120, 80, SourceCached, false},
		{"newer push wins", pn("p1", 300, 300), true, OriginPush, t2, 300, 300, SourceRemote, true},
		{"older push is stale", pn("p1", 300, 300), true, OriginPush, t0, 120, 80, SourceStale, false},
		{"equal-time push is stale", pn("p1", 300, 300), true, OriginPush, t1, 120, 80, SourceStale, false},
		{"echo of cached position", pn("p1", 120, 80), true, OriginPush, t2, 120, 80, SourceEcho, false},
		{"non-finite loses to cache", pn("p1", math.NaN(), 3), true, OriginPush, t2, 120, 80, SourceCached, false},
		{"non-finite without cache is invalid", pn("p1", math.Inf(1), 3), false, OriginLoad, t0, math.Inf(1), 3, SourceInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Reconcile(tt.candidate, cached, tt.hasCached, tt.origin, tt.eventTime, opts)
			if r.Panel.X != tt.wantX || r.Panel.Y != tt.wantY {
				t.Errorf("position = (%v, %v), want (%v, %v)", r.Panel.X, r.Panel.Y, tt.wantX, tt.wantY)
			}
			if r.Source != tt.wantSource {
				t.Errorf("Source = %v, want %v", r.Source, tt.wantSource)
			}
			if r.Write != tt.wantWrite {
				t.Errorf("Write = %v, want %v", r.Write, tt.wantWrite)
			}
			if r.Panel.PanelNumber != tt.candidate.PanelNumber {
				t.Error("metadata must come from the candidate")
			}
		})
	}
}

func TestReconcileRemoteWriteRecord(t *testing.T) {
	cached := panel.Position{X: 1, Y: 1, UpdatedAt: t0, Seq: 7}
	r := Reconcile(pn("p1", 5, 6), cached, true, OriginPush, t1, DefaultOptions())
	if !r.Write {
		t.Fatal("newer push should be written")
	}
	if r.Record.X != 5 || r.Record.Y != 6 || !r.Record.UpdatedAt.Equal(t1) || r.Record.Seq != 7 {
		t.Errorf("Record = %+v", r.Record)
	}
}

func TestExplicitPlaceholderFlag(t *testing.T) {
	opts := Options{Heuristic: false}
	cached := panel.Position{X: 120, Y: 80}

	p := pn("p1", 50, 50)
	if opts.IsSuspiciousDefault(p) {
		t.Error("heuristic disabled: (50,50) without flag is a real placement")
	}
	r := Reconcile(p, cached, true, OriginPush, t2, opts)
	if r.Source != SourceRemote {
		t.Errorf("Source = %v, want remote", r.Source)
	}

	p.Placeholder = true
	r = Reconcile(p, cached, true, OriginPush, t2, opts)
	if r.Source != SourceCached || r.Panel.X != 120 {
		t.Errorf("flagged placeholder should lose to cache, got %v at %v", r.Source, r.Panel.X)
	}
	if r.Panel.Placeholder {
		t.Error("resolved panel takes the cached position and is no longer a placeholder")
	}
}

func TestAntiRegression(t *testing.T) {
	res := Merge(Input{
		Candidates: []panel.Panel{pn("p1", 50, 50)},
		Cached:     map[string]panel.Position{"p1": {X: 120, Y: 80}},
		Origin:     OriginLoad,
		EventTime:  t0,
		Options:    DefaultOptions(),
	})
	got := res.Effective[0]
	if got.X != 120 || got.Y != 80 {
		t.Errorf("p1 = (%v, %v), want cached (120, 80)", got.X, got.Y)
	}
	if len(res.Writes) != 0 {
		t.Errorf("Writes = %v, want none", res.Writes)
	}
}

func TestScenarioEmptyCache(t *testing.T) {
	candidates := []panel.Panel{pn("a", 10, 10), pn("b", 20, 20), pn("c", 30, 30)}
	res := Merge(Input{Candidates: candidates, Cached: map[string]panel.Position{}, Origin: OriginLoad, EventTime: t0, Options: DefaultOptions()})

	if !reflect.DeepEqual(res.Effective, candidates) {
		t.Errorf("Effective = %+v, want fetch result", res.Effective)
	}
	if len(res.Writes) != 3 {
		t.Fatalf("Writes = %v, want 3 entries", res.Writes)
	}
	for _, c := range candidates {
		w := res.Writes[c.ID]
		if w.X != c.X || w.Y != c.Y {
			t.Errorf("Writes[%s] = %+v", c.ID, w)
		}
	}
}

func TestScenarioSentinelAgainstCache(t *testing.T) {
	res := Merge(Input{
		Candidates: []panel.Panel{pn("p1", 50, 50), pn("p2", 10, 10)},
		Cached:     map[string]panel.Position{"p1": {X: 200, Y: 300}},
		Origin:     OriginLoad,
		EventTime:  t0,
		Options:    DefaultOptions(),
	})
	if len(res.Effective) != 2 {
		t.Fatalf("Effective = %+v", res.Effective)
	}
	if p := res.Effective[0]; p.ID != "p1" || p.X != 200 || p.Y != 300 {
		t.Errorf("p1 = %+v, want (200,300)", p)
	}
	if p := res.Effective[1]; p.ID != "p2" || p.X != 10 || p.Y != 10 {
		t.Errorf("p2 = %+v, want (10,10)", p)
	}
	if _, ok := res.Writes["p1"]; ok {
		t.Error("p1 cache record should not be rewritten")
	}
	if _, ok := res.Writes["p2"]; !ok {
		t.Error("p2 should be written to the cache")
	}
}

func TestMergeIdempotent(t *testing.T) {
	in := Input{
		Candidates: []panel.Panel{pn("p1", 300, 300), pn("p2", 50, 50), pn("p3", 7, 8)},
		Previous:   []panel.Panel{pn("p1", 1, 1), pn("p4", 9, 9)},
		Cached: map[string]panel.Position{
			"p1": {X: 1, Y: 1, UpdatedAt: t0},
			"p2": {X: 2, Y: 2, UpdatedAt: t0},
			"p4": {X: 9, Y: 9, UpdatedAt: t0},
		},
		Origin:    OriginPush,
		EventTime: t1,
		Options:   DefaultOptions(),
	}
	first := Merge(in)
	second := Merge(in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Merge() is not deterministic:\n%+v\n%+v", first, second)
	}

	// Applying the writes and merging the same event again must not move anything.
	for id, w := range first.Writes {
		in.Cached[id] = w
	}
	in.Previous = first.Effective
	again := Merge(in)
	if again.Changed(first.Effective) {
		t.Errorf("re-applying the same event changed the list:\n%+v\n%+v", first.Effective, again.Effective)
	}
	if len(again.Writes) != 0 {
		t.Errorf("re-applying the same event wrote %v", again.Writes)
	}
}

func TestMergeDuplicateCandidates(t *testing.T) {
	res := Merge(Input{
		Candidates: []panel.Panel{pn("p1", 1, 1), pn("p2", 2, 2), pn("p1", 3, 3)},
		Origin:     OriginLoad,
		Options:    DefaultOptions(),
	})
	if len(res.Effective) != 2 || res.Effective[0].ID != "p1" || res.Effective[0].X != 3 {
		t.Errorf("Effective = %+v", res.Effective)
	}
}

func TestMergeRetainsCachedAbsentPanels(t *testing.T) {
	prev := []panel.Panel{pn("p1", 1, 1), pn("local", 5, 5), pn("gone", 6, 6)}
	res := Merge(Input{
		Candidates: []panel.Panel{pn("p1", 1, 1)},
		Previous:   prev,
		Cached: map[string]panel.Position{
			"p1":    {X: 1, Y: 1},
			"local": {X: 15, Y: 25},
		},
		Origin:  OriginPush,
		Options: DefaultOptions(),
	})
	if len(res.Effective) != 2 {
		t.Fatalf("Effective = %+v", res.Effective)
	}
	kept := res.Effective[1]
	if kept.ID != "local" || kept.X != 15 || kept.Y != 25 {
		t.Errorf("retained panel = %+v", kept)
	}
	if !reflect.DeepEqual(res.Retained, []string{"local"}) {
		t.Errorf("Retained = %v", res.Retained)
	}
}

func TestMergeDeletedNotResurrected(t *testing.T) {
	res := Merge(Input{
		Candidates: []panel.Panel{pn("p1", 1, 1), pn("p2", 2, 2)},
		Previous:   []panel.Panel{pn("p1", 1, 1)},
		Cached:     map[string]panel.Position{"p1": {X: 1, Y: 1}},
		Deleted:    map[string]bool{"p2": true},
		Origin:     OriginRefresh,
		Options:    DefaultOptions(),
	})
	for _, p := range res.Effective {
		if p.ID == "p2" {
			t.Fatal("deleted panel p2 was resurrected")
		}
	}
	if _, ok := res.Writes["p2"]; ok {
		t.Error("deleted panel p2 was written to the cache")
	}
	if !reflect.DeepEqual(res.Skipped, []string{"p2"}) {
		t.Errorf("Skipped = %v", res.Skipped)
	}
}

func TestMergeDropsUnrenderablePanels(t *testing.T) {
	res := Merge(Input{
		Candidates: []panel.Panel{pn("p1", math.NaN(), 1), pn("p2", 2, 2), pn("p3", math.Inf(-1), 3)},
		Cached:     map[string]panel.Position{"p3": {X: 30, Y: 30}},
		Origin:     OriginLoad,
		Options:    DefaultOptions(),
	})
	if len(res.Effective) != 2 || res.Effective[0].ID != "p2" || res.Effective[1].ID != "p3" {
		t.Fatalf("Effective = %+v, want p2 and p3", res.Effective)
	}
	if res.Effective[1].X != 30 {
		t.Errorf("p3.X = %v, want cached 30", res.Effective[1].X)
	}
	if !reflect.DeepEqual(res.Invalid, []string{"p1"}) {
		t.Errorf("Invalid = %v, want [p1]", res.Invalid)
	}
	if _, ok := res.Sources["p1"]; ok {
		t.Error("dropped panel p1 has a source")
	}
	if _, ok := res.Writes["p1"]; ok {
		t.Error("dropped panel p1 was written to the cache")
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	cands := []panel.Panel{{ID: "p1", X: 50, Y: 50, Meta: map[string]any{"k": "v"}}}
	cached := map[string]panel.Position{"p1": {X: 1, Y: 2}}
	res := Merge(Input{Candidates: cands, Cached: cached, Origin: OriginLoad, Options: DefaultOptions()})
	res.Effective[0].Meta["k"] = "changed"
	if cands[0].X != 50 || cands[0].Meta["k"] != "v" {
		t.Error("Merge() modified its candidates")
	}
	if len(cached) != 1 || cached["p1"].X != 1 {
		t.Error("Merge() modified the cache map")
	}
}

func TestResultCountAndChanged(t *testing.T) {
	res := Merge(Input{
		Candidates: []panel.Panel{pn("a", 5, 5), pn("b", 6, 6)},
		Cached:     map[string]panel.Position{"a": {X: 1, Y: 1}},
		Origin:     OriginLoad,
		Options:    DefaultOptions(),
	})
	if res.Count(SourceCached) != 1 || res.Count(SourceCandidate) != 1 {
		t.Errorf("Sources = %v", res.Sources)
	}
	if !res.Changed(nil) {
		t.Error("Changed(nil) should be true for a non-empty list")
	}
	if res.Changed(res.Effective) {
		t.Error("Changed(self) should be false")
	}
}

func TestOriginAndSourceStrings(t *testing.T) {
	if OriginPush.String() != "push" || SourceEcho.String() != "echo" || SourceInvalid.String() != "invalid" || Source(99).String() != "unknown" {
		t.Error("unexpected String() output")
	}
}
