package detections

import "fmt"

// DecodeError is returned when image bytes cannot be decoded.
type DecodeError struct {
	MIME  string
	Cause error
}

func (e *DecodeError) Error() string {
	if e.MIME != "" {
		return fmt.Sprintf("decode image (%s): %v", e.MIME, e.Cause)
	}
	return fmt.Sprintf("decode image: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// ModelNotReadyError is returned for inference requests that arrive while the
// model is still loading or after loading failed. Callers may retry later.
type ModelNotReadyError struct {
	State State
	Cause error
}

func (e *ModelNotReadyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("model not ready (%s): %v", e.State, e.Cause)
	}
	return fmt.Sprintf("model not ready (%s)", e.State)
}

func (e *ModelNotReadyError) Unwrap() error { return e.Cause }

// UnknownClassIndexError means the model emitted a class id that the class
// table does not cover: the model and the table do not match.
type UnknownClassIndexError struct {
	Index     int
	TableSize int
}

func (e *UnknownClassIndexError) Error() string {
	return fmt.Sprintf("class index %d outside class table of size %d", e.Index, e.TableSize)
}

// MalformedOutputError reports raw model output whose shape contradicts its
// own detection count.
type MalformedOutputError struct {
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return "malformed model output: " + e.Reason
}
