package models

// Point is a position in unit image coordinates.
type Point struct {
	X float64
	Y float64
}

// Rect is a normalized rectangle; (0,0,1,1) covers the whole image.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
