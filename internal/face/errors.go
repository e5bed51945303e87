package face

import "errors"

var (
	// ErrDecode is returned when an image payload is empty or not a decodable image.
	ErrDecode = errors.New("failed to decode image")
	// ErrDetection covers every reason a frame is not ready for verification.
	ErrDetection = errors.New("face detection failed")
	// ErrNoFace is returned when no face is located.
	ErrNoFace = errors.New("no face detected")
	// ErrMultipleFaces is returned when more than one face is located.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrExtraction is returned when a face was located but no embedding could be computed.
	ErrExtraction = errors.New("could not encode face")
	// ErrNoEnrollment is returned when the gallery holds no embeddings at all.
	ErrNoEnrollment = errors.New("no faces enrolled")
	// ErrNoMatch is returned when no enrolled embedding passes the tolerance gate.
	ErrNoMatch = errors.New("face not recognized")
	// ErrLowConfidence marks a best match whose confidence is under the threshold.
	ErrLowConfidence = errors.New("confidence below threshold")
)

// Messages surfaced to callers.
const (
	MsgDecodeFailed     = "Failed to decode image"
	MsgNoFace           = "No face detected"
	MsgMultipleFaces    = "Multiple faces detected. Please ensure only one face is visible."
	MsgReady            = "Face detected and ready for verification"
	MsgExtractionFailed = "Could not encode face for verification"
	MsgNotRecognized    = "Face not recognized in database"
	MsgNoEnrollment     = "Face not recognized in database: no faces enrolled"
)

// ReasonFor maps a pipeline error onto its reason code.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonAccepted
	case errors.Is(err, ErrDecode):
		return ReasonDecodeFailed
	case errors.Is(err, ErrNoFace):
		return ReasonNoFace
	case errors.Is(err, ErrMultipleFaces):
		return ReasonMultipleFaces
	case errors.Is(err, ErrDetection):
		return ReasonDetectionFailed
	case errors.Is(err, ErrExtraction):
		return ReasonExtractionFailed
	case errors.Is(err, ErrNoEnrollment):
		return ReasonNoEnrollment
	case errors.Is(err, ErrLowConfidence):
		return ReasonLowConfidence
	case errors.Is(err, ErrNoMatch):
		return ReasonNoMatch
	default:
		return ReasonDetectionFailed
	}
}
