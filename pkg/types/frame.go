package types

import "gocv.io/x/gocv"

// Frame is a single timestamped image from a frame source. Ts is the
// producer's wall-clock seconds at capture time; it is the ordering key
// used everywhere downstream instead of arrival order.
type Frame struct {
	Mat gocv.Mat
	Ts  float64
}

// Close releases the underlying image buffer. Safe to call on a zero Frame.
func (f Frame) Close() error {
	if f.Mat.Ptr() == nil {
		return nil
	}
	return f.Mat.Close()
}

// Clone returns a deep copy of the frame, safe to hand to a second consumer
// (e.g. the display singleton) while the original continues downstream.
func (f Frame) Clone() Frame {
	return Frame{Mat: f.Mat.Clone(), Ts: f.Ts}
}

// Rect is an axis-aligned pixel rectangle, (xmin, ymin) inclusive to
// (xmax, ymax) exclusive.
type Rect struct {
	XMin, YMin, XMax, YMax int
}

// Empty reports whether the rectangle has zero or negative area.
func (r Rect) Empty() bool {
	return r.XMax <= r.XMin || r.YMax <= r.YMin
}

// Width returns the rectangle's pixel width.
func (r Rect) Width() int { return r.XMax - r.XMin }

// Height returns the rectangle's pixel height.
func (r Rect) Height() int { return r.YMax - r.YMin }

// Contains reports whether other is fully contained within r.
func (r Rect) Contains(other Rect) bool {
	return other.XMin >= r.XMin && other.YMin >= r.YMin &&
		other.XMax <= r.XMax && other.YMax <= r.YMax
}

// Intersects reports whether r and other overlap.
func (r Rect) Intersects(other Rect) bool {
	return !(other.XMax <= r.XMin || other.XMin >= r.XMax ||
		other.YMax <= r.YMin || other.YMin >= r.YMax)
}

// Intersect returns the overlapping region of r and other. The result is
// empty if the two rectangles don't overlap.
func (r Rect) Intersect(other Rect) Rect {
	out := Rect{
		XMin: max(r.XMin, other.XMin),
		YMin: max(r.YMin, other.YMin),
		XMax: min(r.XMax, other.XMax),
		YMax: min(r.YMax, other.YMax),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Union returns the smallest rectangle containing both r and other.
func (r Rect) Union(other Rect) Rect {
	if r.Empty() {
		return other
	}
	if other.Empty() {
		return r
	}
	return Rect{
		XMin: min(r.XMin, other.XMin),
		YMin: min(r.YMin, other.YMin),
		XMax: max(r.XMax, other.XMax),
		YMax: max(r.YMax, other.YMax),
	}
}

// Detection is a single scored bounding box from the object detector.
type Detection struct {
	Box   Rect
	Label string
	Score float64
}
