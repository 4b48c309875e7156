package models

import "time"

// BoundingBox holds normalized [0,1] coordinates in model order.
type BoundingBox struct {
	Ymin float32 `json:"ymin"`
	Xmin float32 `json:"xmin"`
	Ymax float32 `json:"ymax"`
	Xmax float32 `json:"xmax"`
}

type Detection struct {
	ClassLabel string      `json:"class"`
	Score      float32     `json:"score"`
	Box        BoundingBox `json:"boundingBox"`
}

// RawModelOutput is the four-tensor output of the detection model. Only the
// first Count entries (Count*4 for Boxes) are valid, the rest is padding.
type RawModelOutput struct {
	Boxes   []float32
	Scores  []float32
	Classes []int32
	Count   int
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
