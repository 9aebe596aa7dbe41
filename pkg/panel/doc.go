// Package panel defines the panel data model and the coordinate transform
// between domain units (feet) and render units (pixels).
//
// # Coordinates
//
// Panel geometry is stored in feet. X and Y are always the top-left corner
// of the panel's unrotated bounding box, including for circles and
// polygons, so conversions never depend on the shape.
//
//	t := panel.NewTransform(layout.Scale)
//	rp := t.ToRender(p)   // pixels, for the canvas
//	p2 := t.ToDomain(rp)  // feet again; equal to p within rounding
//
// # Decoding
//
// Records from the remote store have gone through several schema revisions.
// [Decode] accepts all historical field names and fills in missing sizes
// with defaults. It never panics. Records without an id are rejected with
// a validation error so the caller can drop them and keep the rest.
package panel
