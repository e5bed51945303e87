// Package matcher decides whether a probe embedding belongs to an enrolled identity.
//
// Matching is a two-stage gate. Every enrolled embedding within Tolerance of
// the probe is a candidate; the closest candidate overall must then reach
// ConfidenceThreshold, where confidence is (1 - distance) * 100 clamped to
// [0, 100]. Identities are scanned in lexicographic order and the first
// candidate at the minimal distance wins, so ties are reproducible.
package matcher

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/example/faceid/internal/face"
)

const (
	DefaultTolerance           = 0.5
	DefaultConfidenceThreshold = 0.55

	// boundaryEpsilon keeps decimal constants such as 0.45 or 0.55 inclusive
	// after floating point rounding.
	boundaryEpsilon = 1e-9
)

// Gallery is the read-only view of enrolled embeddings.
type Gallery interface {
	Identities() []string
	Embeddings(identity string) []face.Embedding
}

// Config holds the two independently tuned gates.
type Config struct {
	Tolerance           float64
	ConfidenceThreshold float64
}

// DefaultConfig returns the stock gate values.
func DefaultConfig() Config {
	return Config{Tolerance: DefaultTolerance, ConfidenceThreshold: DefaultConfidenceThreshold}
}

// Candidate is one probe vs enrolled embedding comparison.
type Candidate struct {
	Identity   string
	Index      int
	Distance   float64
	Confidence float64
	Match      bool
}

// Evaluation is the decision plus the comparisons behind it. Best is set
// whenever some candidate passed the tolerance gate, including on the
// low-confidence rejection path; it must not be exposed as the winner.
type Evaluation struct {
	Decision   face.Decision
	Best       *Candidate
	Candidates []Candidate
}

// Engine evaluates probes against a gallery. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// NewEngine builds an engine; zero config values fall back to the defaults.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Engine{cfg: cfg, logger: logger.Named("matcher")}
}

// Config returns the active gate values.
func (e *Engine) Config() Config {
	return e.cfg
}

// Distance is the Euclidean distance between two embeddings. Empty or
// mismatched vectors are infinitely far apart.
func Distance(a, b face.Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Confidence converts a distance to a percentage clamped to [0, 100].
func Confidence(distance float64) float64 {
	c := (1 - distance) * 100
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}

// Evaluate compares probe against every enrolled embedding and renders a decision.
func (e *Engine) Evaluate(probe face.Embedding, gallery Gallery) Evaluation {
	identities := append([]string(nil), gallery.Identities()...)
	sort.Strings(identities)

	var (
		candidates []Candidate
		best       *Candidate
	)
	for _, identity := range identities {
		for i, enrolled := range gallery.Embeddings(identity) {
			d := Distance(probe, enrolled)
			c := Candidate{
				Identity:   identity,
				Index:      i,
				Distance:   d,
				Confidence: Confidence(d),
				Match:      d <= e.cfg.Tolerance+boundaryEpsilon,
			}
			candidates = append(candidates, c)
			e.logger.Debug("compared embedding",
				zap.String("identity", identity),
				zap.Int("index", i),
				zap.Bool("match", c.Match),
				zap.Float64("distance", d),
				zap.Float64("confidence", c.Confidence))

			if c.Match && (best == nil || d < best.Distance) {
				cp := c
				best = &cp
			}
		}
	}

	ev := Evaluation{Best: best, Candidates: candidates}
	switch {
	case len(candidates) == 0:
		ev.Decision = face.Reject(face.ReasonNoEnrollment, face.MsgNoEnrollment)
	case best == nil:
		ev.Decision = face.Reject(face.ReasonNoMatch, face.MsgNotRecognized)
	case best.Confidence+boundaryEpsilon >= e.cfg.ConfidenceThreshold*100:
		ev.Decision = face.Decision{
			Accepted:   true,
			Identity:   best.Identity,
			Confidence: best.Confidence,
			Message:    fmt.Sprintf("Face verified with %.1f%% confidence", best.Confidence),
			Reason:     face.ReasonAccepted,
		}
	default:
		ev.Decision = face.Decision{
			Confidence: best.Confidence,
			Message: fmt.Sprintf("Low confidence match (%.1f%%) below threshold (%.1f%%). Not verified.",
				best.Confidence, e.cfg.ConfidenceThreshold*100),
			Reason: face.ReasonLowConfidence,
		}
	}

	fields := []zap.Field{
		zap.Bool("accepted", ev.Decision.Accepted),
		zap.String("reason", string(ev.Decision.Reason)),
		zap.Float64("confidence", ev.Decision.Confidence),
		zap.Int("comparisons", len(candidates)),
	}
	if best != nil {
		fields = append(fields, zap.String("best_identity", best.Identity), zap.Float64("best_distance", best.Distance))
	}
	e.logger.Info("verification decision", fields...)
	return ev
}

// Err returns the taxonomy error for a rejected evaluation, or nil when accepted.
func (ev Evaluation) Err() error {
	switch ev.Decision.Reason {
	case face.ReasonAccepted:
		return nil
	case face.ReasonNoEnrollment:
		return face.ErrNoEnrollment
	case face.ReasonLowConfidence:
		return face.ErrLowConfidence
	default:
		return face.ErrNoMatch
	}
}
