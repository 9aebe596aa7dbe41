package panel

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/matzehuels/panelsync/pkg/errors"
)

// Historical field names, most preferred first.
var (
	idKeys       = []string{"id", "panelId", "panel_id", "_id"}
	xKeys        = []string{"x", "posX", "positionX", "left"}
	yKeys        = []string{"y", "posY", "positionY", "top"}
	widthKeys    = []string{"width", "w", "panelWidth", "width_ft", "widthFt"}
	heightKeys   = []string{"height", "h", "length", "panelLength", "length_ft", "lengthFt"}
	rotationKeys = []string{"rotation", "angle", "rotationDeg"}
	shapeKeys    = []string{"shape", "shapeType", "type"}
	numberKeys   = []string{"panelNumber", "panel_number", "number"}
	rollKeys     = []string{"rollNumber", "roll_number", "roll"}
	materialKeys = []string{"material", "materialType"}
)

// known lists every key Decode consumes; anything else lands in Meta.
var known = func() map[string]bool {
	m := map[string]bool{
		"position": true, "points": true, "diameter": true, "radius": true,
		"placeholder": true, "meta": true,
	}
	for _, keys := range [][]string{idKeys, xKeys, yKeys, widthKeys, heightKeys,
		rotationKeys, shapeKeys, numberKeys, rollKeys, materialKeys} {
		for _, k := range keys {
			m[k] = true
		}
	}
	return m
}()

// Invalid describes a record rejected by [DecodeAll].
type Invalid struct {
	Index  int            // position in the input list
	Record map[string]any // the raw record
	Err    error          // always an errors.ErrCodeValidation error
}

// Decode normalizes a raw panel record into a canonical [Panel].
//
// Legacy aliases are accepted for every geometric field, and numbers may be
// JSON numbers or numeric strings. Missing sizes fall back to the package
// defaults. A record with no position is decoded at (0, 0) and flagged
// as a placeholder. The only rejected input is a record without an id,
// reported as an errors.ErrCodeValidation error.
func Decode(raw map[string]any) (Panel, error) {
	if raw == nil {
		return Panel{}, errors.New(errors.ErrCodeValidation, "panel record is empty")
	}

	id := firstString(raw, idKeys)
	if strings.TrimSpace(id) == "" {
		return Panel{}, errors.New(errors.ErrCodeValidation, "panel record has no id")
	}

	p := Panel{
		ID:          id,
		Shape:       parseShape(firstString(raw, shapeKeys)),
		PanelNumber: firstString(raw, numberKeys),
		RollNumber:  firstString(raw, rollKeys),
		Material:    firstString(raw, materialKeys),
	}

	x, hasX := firstNumber(raw, xKeys)
	y, hasY := firstNumber(raw, yKeys)
	if pos, ok := raw["position"].(map[string]any); ok {
		if !hasX {
			x, hasX = firstNumber(pos, []string{"x"})
		}
		if !hasY {
			y, hasY = firstNumber(pos, []string{"y"})
		}
	}
	p.X, p.Y = x, y
	if !hasX || !hasY {
		p.X, p.Y = 0, 0
		p.Placeholder = true
	}
	if flag, ok := raw["placeholder"].(bool); ok && flag {
		p.Placeholder = true
	}

	if rot, ok := firstNumber(raw, rotationKeys); ok {
		p.Rotation = rot
	}

	switch p.Shape {
	case ShapeCircle:
		d, ok := firstNumber(raw, []string{"diameter"})
		if !ok {
			if r, rok := firstNumber(raw, []string{"radius"}); rok {
				d, ok = 2*r, true
			}
		}
		if !ok {
			d, ok = firstNumber(raw, widthKeys)
		}
		if !ok || d <= 0 {
			d = DefaultDiameter
		}
		p.Width, p.Height = d, d
	default:
		p.Width = sizeOr(raw, widthKeys, DefaultWidth)
		p.Height = sizeOr(raw, heightKeys, DefaultHeight)
	}

	if p.Shape == ShapePolygon {
		p.Points = parsePoints(raw["points"])
	}

	p.Meta = collectMeta(raw)
	return p, nil
}

// DecodeAll decodes every record, dropping the invalid ones.
// The returned slices never contain the same index twice.
func DecodeAll(raws []map[string]any) ([]Panel, []Invalid) {
	panels := make([]Panel, 0, len(raws))
	var invalid []Invalid
	for i, raw := range raws {
		p, err := Decode(raw)
		if err != nil {
			invalid = append(invalid, Invalid{Index: i, Record: raw, Err: err})
			continue
		}
		panels = append(panels, p)
	}
	return panels, invalid
}

func parseShape(s string) Shape {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "circle", "round", "circular":
		return ShapeCircle
	case "polygon", "poly", "irregular":
		return ShapePolygon
	default:
		return ShapeRectangle
	}
}

func parsePoints(v any) []Point {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	pts := make([]Point, 0, len(list))
	for _, item := range list {
		switch pt := item.(type) {
		case map[string]any:
			x, xok := firstNumber(pt, []string{"x"})
			y, yok := firstNumber(pt, []string{"y"})
			if xok && yok {
				pts = append(pts, Point{X: x, Y: y})
			}
		case []any:
			if len(pt) == 2 {
				x, xok := toNumber(pt[0])
				y, yok := toNumber(pt[1])
				if xok && yok {
					pts = append(pts, Point{X: x, Y: y})
				}
			}
		}
	}
	return pts
}

func collectMeta(raw map[string]any) map[string]any {
	var meta map[string]any
	if nested, ok := raw["meta"].(map[string]any); ok {
		meta = make(map[string]any, len(nested))
		for k, v := range nested {
			meta[k] = v
		}
	}
	for k, v := range raw {
		if known[k] {
			continue
		}
		if meta == nil {
			meta = make(map[string]any)
		}
		meta[k] = v
	}
	return meta
}

func sizeOr(raw map[string]any, keys []string, def float64) float64 {
	if v, ok := firstNumber(raw, keys); ok && v > 0 {
		return v
	}
	return def
}

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int, int64, json.Number:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func firstNumber(raw map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := toNumber(raw[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
