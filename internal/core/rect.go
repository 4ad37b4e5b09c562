package core

// Rect is an axis-aligned rectangle in page coordinates.
// X0/Y0 is one corner, X1/Y1 the opposite one; no ordering is assumed.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// NewRect returns a normalized Rect with X0 <= X1 and Y0 <= Y1.
func NewRect(x0, y0, x1, y1 float64) Rect {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// Intersects reports whether r and o overlap. Rectangles that share only
// an edge or a corner count as intersecting.
func (r Rect) Intersects(o Rect) bool {
	r = NewRect(r.X0, r.Y0, r.X1, r.Y1)
	o = NewRect(o.X0, o.Y0, o.X1, o.Y1)
	return r.X0 <= o.X1 && o.X0 <= r.X1 && r.Y0 <= o.Y1 && o.Y0 <= r.Y1
}
