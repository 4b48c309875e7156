package detections

const (
	// InputWidth and InputHeight are used when the model does not declare
	// fixed spatial dimensions and resizing is still requested.
	InputWidth  = 320
	InputHeight = 320

	Channels = 3
)

// Default output names of a TensorFlow object-detection export, in the order
// boxes, scores, classes, count.
var DefaultOutputNames = []string{
	"detection_boxes",
	"detection_scores",
	"detection_classes",
	"num_detections",
}

const DefaultInputName = "input_tensor"
