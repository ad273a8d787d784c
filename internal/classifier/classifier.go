// Package classifier defines the external disease-classification capability
// and its HTTP client implementation.
package classifier

import "context"

// Rect is a rectangular image region flagged by the classifier.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is one ranked candidate returned by the classifier.
type Result struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Regions    []Rect   `json:"regions,omitempty"`
	Treatments []string `json:"treatments,omitempty"`
}

// Interface is the classifier capability. Implementations take the processed
// (normalized) image bytes and return a ranked candidate list, possibly empty.
// Callers are expected to bound the call with a context deadline.
type Interface interface {
	Classify(ctx context.Context, image []byte) ([]Result, error)
}
