package types

import (
	"fmt"
	"math"
)

// EmbeddingDim is the length of the face encodings produced by the detection engine.
const EmbeddingDim = 512

// FrameTask represents a single camera frame sent to a worker for processing
type FrameTask struct {
	CameraID string
	Index    int
	Data     []byte
}

// Point is a pixel coordinate in frame space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned bounding box in pixels, [X1,Y1] top-left and [X2,Y2] bottom-right.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// Area returns the box area, 0 for degenerate boxes.
func (r Rect) Area() float64 {
	w, h := r.X2-r.X1, r.Y2-r.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is one face found in a single frame.
// Index is only unique within the frame's detection list.
type Detection struct {
	Index     int       `json:"index"`
	BBox      Rect      `json:"bbox"`
	Center    Point     `json:"center"`
	Embedding []float32 `json:"embedding"`
	Quality   float32   `json:"quality"`
	// Handle is owned by the detection engine and passed through untouched (thumbnail bytes today).
	Handle any `json:"-"`
}

// NewDetection builds a detection from engine output, deriving the center from the box.
func NewDetection(index int, bbox Rect, embedding []float32, handle any) Detection {
	return Detection{
		Index:     index,
		BBox:      bbox,
		Center:    bbox.Center(),
		Embedding: embedding,
		Handle:    handle,
	}
}

// Validate rejects records the matcher cannot reason about.
func (d Detection) Validate() error {
	if d.Index < 0 {
		return fmt.Errorf("detection index must be >= 0, got %d", d.Index)
	}
	if d.BBox.X2 < d.BBox.X1 || d.BBox.Y2 < d.BBox.Y1 {
		return fmt.Errorf("detection %d has inverted bbox %+v", d.Index, d.BBox)
	}
	for i, v := range d.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("detection %d embedding[%d] is not finite", d.Index, i)
		}
	}
	return nil
}
