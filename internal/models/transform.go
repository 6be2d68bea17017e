package models

import "fmt"

// ScaleEpsilon bounds every stored scale to [-1+ScaleEpsilon, 1-ScaleEpsilon].
// Keeping |S| < 1 makes the decoder's map a contraction.
const ScaleEpsilon = 1e-4

// Rectangle is a half-open pixel rectangle [X1,X2) x [Y1,Y2).
type Rectangle struct {
	X1, X2 int
	Y1, Y2 int
}

// Square returns the size x size rectangle with its top-left corner at (x, y).
func Square(x, y, size int) Rectangle {
	return Rectangle{X1: x, X2: x + size, Y1: y, Y2: y + size}
}

// Dx returns the rectangle width.
func (r Rectangle) Dx() int { return r.X2 - r.X1 }

// Dy returns the rectangle height.
func (r Rectangle) Dy() int { return r.Y2 - r.Y1 }

// Empty reports whether the rectangle contains no pixels.
func (r Rectangle) Empty() bool { return r.X1 >= r.X2 || r.Y1 >= r.Y2 }

// In reports whether r lies inside a width x height image.
func (r Rectangle) In(width, height int) bool {
	return r.X1 >= 0 && r.Y1 >= 0 && r.X2 <= width && r.Y2 <= height
}

// Shrink divides every coordinate by 2^shift.
func (r Rectangle) Shrink(shift int) Rectangle {
	return Rectangle{X1: r.X1 >> shift, X2: r.X2 >> shift, Y1: r.Y1 >> shift, Y2: r.Y2 >> shift}
}

func (r Rectangle) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", r.X1, r.X2, r.Y1, r.Y2)
}

// TransformListHeader holds the global scalars stored with every transform list
type TransformListHeader struct {
	// OrigW and OrigH are the dimensions of the encoded image in pixels
	OrigW int
	OrigH int

	// DomainSize is the domain block edge (d_size)
	DomainSize int

	// RangeSize is the range block edge (r_size)
	RangeSize int
}

// Transform maps one domain block onto one range block:
// range = Offset + Scale * downsample(domain).
type Transform struct {
	Range  Rectangle
	Offset float64
	Scale  float64
	Domain Rectangle
}

// TransformList is the compressed representation of an image.
// Transforms are ordered row-major by range block position.
type TransformList struct {
	Header     TransformListHeader
	Transforms []Transform
}

// Len returns the number of transforms in the list
func (l *TransformList) Len() int {
	return len(l.Transforms)
}

// Equal reports whether two lists hold the same header and transforms.
func (l *TransformList) Equal(o *TransformList) bool {
	if l == nil || o == nil {
		return l == o
	}
	if l.Header != o.Header || len(l.Transforms) != len(o.Transforms) {
		return false
	}
	for i := range l.Transforms {
		if l.Transforms[i] != o.Transforms[i] {
			return false
		}
	}
	return true
}
