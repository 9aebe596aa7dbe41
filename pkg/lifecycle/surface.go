package lifecycle

import (
	"context"

	"github.com/matzehuels/panelsync/pkg/panel"
)

// Surface adapts the lifecycle to a rendering surface that works in
// pixels. Conversions use the scale of the loaded layout.
type Surface struct {
	l *Lifecycle
}

// Surface returns the pixel-unit adapter of l.
func (l *Lifecycle) Surface() *Surface { return &Surface{l: l} }

// OnDragEnd commits a drag of panel id to pixel position (x, y).
func (s *Surface) OnDragEnd(ctx context.Context, id string, x, y, rotation float64) error {
	return s.l.call(ctx, func() error {
		t := panel.NewTransform(s.l.st.scale)
		return s.l.move(id, t.PositionToDomain(x, y, rotation))
	})
}

// OnDelete removes panel id.
func (s *Surface) OnDelete(ctx context.Context, id string) error {
	return s.l.RemovePanel(ctx, id)
}

// OnCreate adds a panel drawn in pixels and returns it as stored.
func (s *Surface) OnCreate(ctx context.Context, r panel.RenderPanel) (panel.RenderPanel, error) {
	var out panel.RenderPanel
	err := s.l.call(ctx, func() error {
		t := panel.NewTransform(s.l.st.scale)
		p, err := s.l.add(t.ToDomain(r))
		if err != nil {
			return err
		}
		out = t.ToRender(p)
		return nil
	})
	return out, err
}
