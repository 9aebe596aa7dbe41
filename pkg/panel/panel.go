package panel

import (
	"math"
	"time"
)

// =============================================================================
// Constants - Single Source of Truth
// =============================================================================

// Shapes.
const (
	ShapeRectangle Shape = "rectangle"
	ShapeCircle    Shape = "circle"
	ShapePolygon   Shape = "polygon"
)

// Defaults applied by [Decode] when a record omits a size.
const (
	DefaultWidth    = 40.0  // feet
	DefaultHeight   = 100.0 // feet
	DefaultDiameter = 30.0  // feet
)

// Shape is the geometric variant of a panel.
type Shape string

// Valid reports whether s is a known shape.
func (s Shape) Valid() bool {
	switch s {
	case ShapeRectangle, ShapeCircle, ShapePolygon:
		return true
	}
	return false
}

// =============================================================================
// Panel - Domain Units
// =============================================================================

// Point is a 2D coordinate in the owning type's unit.
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Panel is the unit of layout, in feet.
//
// X and Y are always the top-left corner of the unrotated bounding box,
// whatever the shape. A circle's bounding box is a square of side Width.
// Polygon Points are offsets from (X, Y). Rotation is in degrees about the
// bounding-box centre.
//
// Only X, Y and Rotation take part in reconciliation; every other field is
// carried through untouched.
type Panel struct {
	ID       string  `json:"id" bson:"id"`
	Shape    Shape   `json:"shape" bson:"shape"`
	X        float64 `json:"x" bson:"x"`
	Y        float64 `json:"y" bson:"y"`
	Width    float64 `json:"width" bson:"width"`
	Height   float64 `json:"height" bson:"height"`
	Rotation float64 `json:"rotation" bson:"rotation"`
	Points   []Point `json:"points,omitempty" bson:"points,omitempty"`

	// Descriptive metadata
	PanelNumber string         `json:"panelNumber,omitempty" bson:"panel_number,omitempty"`
	RollNumber  string         `json:"rollNumber,omitempty" bson:"roll_number,omitempty"`
	Material    string         `json:"material,omitempty" bson:"material,omitempty"`
	Meta        map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`

	// Placeholder marks a scaffold record whose position was never placed
	// by anyone. Set by the remote store or by Decode for position-less records.
	Placeholder bool `json:"placeholder,omitempty" bson:"placeholder,omitempty"`
}

// Position returns the panel's reconcilable position without timing data.
func (p Panel) Position() Position {
	return Position{X: p.X, Y: p.Y, Rotation: p.Rotation}
}

// WithPosition returns a copy of p moved to pos. The copy is no longer a
// placeholder.
func (p Panel) WithPosition(pos Position) Panel {
	p.X, p.Y, p.Rotation = pos.X, pos.Y, pos.Rotation
	p.Placeholder = false
	return p
}

// Clone returns a deep copy of p.
func (p Panel) Clone() Panel {
	if p.Points != nil {
		p.Points = append([]Point(nil), p.Points...)
	}
	if p.Meta != nil {
		meta := make(map[string]any, len(p.Meta))
		for k, v := range p.Meta {
			meta[k] = v
		}
		p.Meta = meta
	}
	return p
}

// HasFinitePosition reports whether X, Y and Rotation are usable numbers.
func (p Panel) HasFinitePosition() bool {
	return finite(p.X) && finite(p.Y) && finite(p.Rotation)
}

// CloneAll deep-copies a panel list.
func CloneAll(panels []Panel) []Panel {
	if panels == nil {
		return nil
	}
	out := make([]Panel, len(panels))
	for i, p := range panels {
		out[i] = p.Clone()
	}
	return out
}

// =============================================================================
// Position - Position Cache Record
// =============================================================================

// Position is the record kept in the position cache for one panel.
//
// UpdatedAt is the time the local client confirmed the position and Seq the
// local sequence number of the mutation that produced it. Both are zero for
// positions that have not been confirmed.
type Position struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Rotation  float64   `json:"rotation"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	Seq       uint64    `json:"seq,omitempty"`
}

// positionEpsilon is the tolerance used when comparing positions.
const positionEpsilon = 1e-6

// SameSpot reports whether p and o describe the same placement, ignoring
// timing data.
func (p Position) SameSpot(o Position) bool {
	return math.Abs(p.X-o.X) <= positionEpsilon &&
		math.Abs(p.Y-o.Y) <= positionEpsilon &&
		math.Abs(p.Rotation-o.Rotation) <= positionEpsilon
}

// =============================================================================
// Snapshot - Layout Snapshot
// =============================================================================

// Snapshot is the live layout of one project.
type Snapshot struct {
	ProjectID   string    `json:"projectId"`
	Panels      []Panel   `json:"panels"`
	LastUpdated time.Time `json:"lastUpdated"`
	Revision    int64     `json:"revision"`
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
