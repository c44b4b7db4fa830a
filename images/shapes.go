// Package images - Image loading and geometry utilities.
package images

import "fmt"

// Rect is a bounding box in floating-point coordinates.
//
// The unit of the coordinates depends on where the Rect came from: detectors
// emit pixel coordinates relative to the frame they report, the normalizer
// emits fractions of the frame in [0, 1].
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Canon returns the rect with its corners ordered so that X1 <= X2 and Y1 <= Y2.
//
// Returns:
//   - A copy of r with swapped coordinates where needed.
//
// Example:
//
// ```go
//
//	r := Rect{X1: 50, Y1: 10, X2: 10, Y2: 90}.Canon() // {10 10 50 90}
//
// ```
func (r Rect) Canon() Rect {
	if r.X2 < r.X1 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y2 < r.Y1 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Width returns X2-X1 of the canonical rect.
func (r Rect) Width() float64 {
	c := r.Canon()
	return c.X2 - c.X1
}

// Height returns Y2-Y1 of the canonical rect.
func (r Rect) Height() float64 {
	c := r.Canon()
	return c.Y2 - c.Y1
}

// Area returns the area of the canonical rect.
func (r Rect) Area() float64 {
	return r.Width() * r.Height()
}

// Array returns the coordinates in x1, y1, x2, y2 order.
func (r Rect) Array() [4]float64 {
	return [4]float64{r.X1, r.Y1, r.X2, r.Y2}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", r.X1, r.Y1, r.X2, r.Y2)
}

// CalculateIoU returns the Intersection over Union of two rects.
//
// IoU = Area of Intersection / Area of Union. 1.0 means the rects are
// identical, 0.0 means they do not overlap. Both rects are canonicalized
// first, so corner order does not matter.
//
// Arguments:
//   - r: The first rect.
//   - o: The other rect to compare against.
//
// Returns:
//   - A value between 0.0 and 1.0.
//
// Example:
//
// ```go
//
//	iou := CalculateIoU(Rect{0, 0, 10, 10}, Rect{5, 5, 15, 15}) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float64 {
	r, o = r.Canon(), o.Canon()

	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	// Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}
