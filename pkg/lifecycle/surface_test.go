package lifecycle

import (
	"context"
	"math"
	"testing"

	"github.com/matzehuels/panelsync/pkg/panel"
)

func TestSurfaceConvertsPixels(t *testing.T) {
	g := newGateway()
	seed(g, "site-1", rect("p1", 12, 8))
	l := newLifecycle(t, Config{Gateway: g})
	ctx := context.Background()
	if err := l.Load(ctx, "site-1"); err != nil {
		t.Fatal(err)
	}
	s := l.Surface()

	if err := s.OnDragEnd(ctx, "p1", 300, 450, 45); err != nil {
		t.Fatalf("OnDragEnd() error: %v", err)
	}
	if err := l.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if p := storedPanel(t, g, "site-1", "p1"); p.X != 30 || p.Y != 45 || p.Rotation != 45 {
		t.Errorf("stored p1 = %+v, want (30, 45) ft", p)
	}

	created, err := s.OnCreate(ctx, panel.RenderPanel{ID: "p2", Shape: panel.ShapeRectangle, X: 100, Y: 50, Width: 400, Height: 1000})
	if err != nil {
		t.Fatalf("OnCreate() error: %v", err)
	}
	if created.X != 100 || created.Width != 400 {
		t.Errorf("created = %+v, want pixel units", created)
	}
	if err := l.Save(ctx); err != nil {
		t.Fatal(err)
	}
	p2 := storedPanel(t, g, "site-1", "p2")
	if math.Abs(p2.X-10) > 1e-9 || math.Abs(p2.Width-40) > 1e-9 {
		t.Errorf("stored p2 = %+v, want feet", p2)
	}

	if err := s.OnDelete(ctx, "p2"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.View().Panel("p2"); ok {
		t.Error("p2 still in view after OnDelete")
	}
}
