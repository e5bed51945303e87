package face

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Detector finds candidate face rectangles in a grid.
type Detector interface {
	DetectFaces(ctx context.Context, grid *PixelGrid) ([]Region, error)
}

// Extractor computes the embedding of one face region.
type Extractor interface {
	Extract(ctx context.Context, grid *PixelGrid, region Region) (Embedding, error)
}

// Assess applies the single-face readiness policy to raw detector output.
// Regions are clipped to the grid and empty ones discarded before counting.
func Assess(regions []Region, grid *PixelGrid) Detection {
	valid := make([]Region, 0, len(regions))
	for _, r := range regions {
		c := r.Clip(grid.Width, grid.Height)
		if c.Width > 0 && c.Height > 0 {
			valid = append(valid, c)
		}
	}

	switch len(valid) {
	case 0:
		return Detection{Message: MsgNoFace, Regions: []Region{}, Reason: ReasonNoFace}
	case 1:
		return Detection{Ready: true, Message: MsgReady, Regions: valid, Reason: ReasonReady}
	default:
		return Detection{Message: MsgMultipleFaces, Regions: []Region{}, Reason: ReasonMultipleFaces}
	}
}

// Err returns the detection failure as an error, or nil when ready.
func (d Detection) Err() error {
	switch d.Reason {
	case ReasonReady:
		return nil
	case ReasonNoFace:
		return fmt.Errorf("%w: %w", ErrDetection, ErrNoFace)
	case ReasonMultipleFaces:
		return fmt.Errorf("%w: %w", ErrDetection, ErrMultipleFaces)
	default:
		return fmt.Errorf("%w: %s", ErrDetection, d.Message)
	}
}

// Locator runs a Detector and folds its faults into a not-ready Detection.
type Locator struct {
	detector Detector
	logger   *zap.Logger
}

// NewLocator wraps a detector.
func NewLocator(detector Detector, logger *zap.Logger) *Locator {
	return &Locator{detector: detector, logger: logger.Named("locator")}
}

// Locate never returns an error; detector faults surface as ReasonDetectionFailed.
func (l *Locator) Locate(ctx context.Context, grid *PixelGrid) Detection {
	regions, err := l.detector.DetectFaces(ctx, grid)
	if err != nil {
		l.logger.Warn("face detector failed", zap.Error(err))
		return Detection{
			Message: fmt.Sprintf("Face detection failed: %v", err),
			Regions: []Region{},
			Reason:  ReasonDetectionFailed,
		}
	}
	d := Assess(regions, grid)
	l.logger.Debug("faces located",
		zap.Int("raw", len(regions)),
		zap.Bool("ready", d.Ready),
		zap.String("reason", string(d.Reason)))
	return d
}
