package panel

// DefaultScale is the number of pixels drawn per foot when a layout does
// not specify its own scale.
const DefaultScale = 10.0

// RenderPanel is a [Panel] expressed in pixels for the rendering surface.
// Rotation stays in degrees.
type RenderPanel struct {
	ID          string         `json:"id"`
	Shape       Shape          `json:"shape"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	Width       float64        `json:"width"`
	Height      float64        `json:"height"`
	Rotation    float64        `json:"rotation"`
	Points      []Point        `json:"points,omitempty"`
	PanelNumber string         `json:"panelNumber,omitempty"`
	RollNumber  string         `json:"rollNumber,omitempty"`
	Material    string         `json:"material,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	Placeholder bool           `json:"placeholder,omitempty"`
}

// Transform converts between feet and pixels at a fixed scale.
// The zero value uses [DefaultScale].
type Transform struct {
	Scale float64 // pixels per foot
}

// NewTransform returns a Transform for scale, falling back to
// [DefaultScale] when scale is not a positive finite number.
func NewTransform(scale float64) Transform {
	return Transform{Scale: scale}
}

func (t Transform) scale() float64 {
	if t.Scale > 0 && finite(t.Scale) {
		return t.Scale
	}
	return DefaultScale
}

// ToRender converts p to pixel units. It is pure and never fails.
func (t Transform) ToRender(p Panel) RenderPanel {
	s := t.scale()
	p = p.Clone()
	return RenderPanel{
		ID:          p.ID,
		Shape:       p.Shape,
		X:           p.X * s,
		Y:           p.Y * s,
		Width:       p.Width * s,
		Height:      p.Height * s,
		Rotation:    p.Rotation,
		Points:      scalePoints(p.Points, s),
		PanelNumber: p.PanelNumber,
		RollNumber:  p.RollNumber,
		Material:    p.Material,
		Meta:        p.Meta,
		Placeholder: p.Placeholder,
	}
}

// ToDomain converts r back to feet. ToDomain(ToRender(p)) equals p within
// floating-point rounding.
func (t Transform) ToDomain(r RenderPanel) Panel {
	inv := 1 / t.scale()
	p := Panel{
		ID:          r.ID,
		Shape:       r.Shape,
		X:           r.X * inv,
		Y:           r.Y * inv,
		Width:       r.Width * inv,
		Height:      r.Height * inv,
		Rotation:    r.Rotation,
		Points:      scalePoints(r.Points, inv),
		PanelNumber: r.PanelNumber,
		RollNumber:  r.RollNumber,
		Material:    r.Material,
		Meta:        r.Meta,
		Placeholder: r.Placeholder,
	}
	return p.Clone()
}

// ToRenderAll converts a list of panels.
func (t Transform) ToRenderAll(panels []Panel) []RenderPanel {
	out := make([]RenderPanel, len(panels))
	for i, p := range panels {
		out[i] = t.ToRender(p)
	}
	return out
}

// PositionToDomain converts a pixel-space position to feet.
func (t Transform) PositionToDomain(x, y, rotation float64) Position {
	inv := 1 / t.scale()
	return Position{X: x * inv, Y: y * inv, Rotation: rotation}
}

func scalePoints(pts []Point, s float64) []Point {
	if pts == nil {
		return nil
	}
	out := make([]Point, len(pts))
	for i, pt := range pts {
		out[i] = Point{X: pt.X * s, Y: pt.Y * s}
	}
	return out
}
