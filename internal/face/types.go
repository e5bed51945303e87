package face

// PixelGrid is a decoded RGB image, row-major, three bytes per pixel.
type PixelGrid struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewPixelGrid allocates a zeroed grid of the given size.
func NewPixelGrid(width, height int) *PixelGrid {
	return &PixelGrid{Width: width, Height: height, Pix: make([]uint8, width*height*3)}
}

// At returns the RGB sample at x, y.
func (g *PixelGrid) At(x, y int) (r, gr, b uint8) {
	i := (y*g.Width + x) * 3
	return g.Pix[i], g.Pix[i+1], g.Pix[i+2]
}

// Set writes the RGB sample at x, y.
func (g *PixelGrid) Set(x, y int, r, gr, b uint8) {
	i := (y*g.Width + x) * 3
	g.Pix[i], g.Pix[i+1], g.Pix[i+2] = r, gr, b
}

// Region is an axis-aligned face rectangle in grid coordinates.
type Region struct {
	Left   int `json:"x"`
	Top    int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Within reports whether the region has a positive area and lies inside the grid.
func (r Region) Within(width, height int) bool {
	return r.Width > 0 && r.Height > 0 &&
		r.Left >= 0 && r.Top >= 0 &&
		r.Left+r.Width <= width && r.Top+r.Height <= height
}

// Clip intersects the region with a width x height grid.
func (r Region) Clip(width, height int) Region {
	x1 := max(r.Left, 0)
	y1 := max(r.Top, 0)
	x2 := min(r.Left+r.Width, width)
	y2 := min(r.Top+r.Height, height)
	if x2 <= x1 || y2 <= y1 {
		return Region{}
	}
	return Region{Left: x1, Top: y1, Width: x2 - x1, Height: y2 - y1}
}

// Embedding is a fixed-length identity feature vector. Treat as read-only.
type Embedding []float64

// Clone returns an independent copy.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Reason classifies the outcome of a detection or verification call.
type Reason string

const (
	ReasonAccepted         Reason = "accepted"
	ReasonReady            Reason = "ready"
	ReasonNoEnrollment     Reason = "no_enrollment"
	ReasonNoMatch          Reason = "no_match"
	ReasonLowConfidence    Reason = "low_confidence"
	ReasonDecodeFailed     Reason = "decode_failed"
	ReasonNoFace           Reason = "no_face"
	ReasonMultipleFaces    Reason = "multiple_faces"
	ReasonDetectionFailed  Reason = "detection_failed"
	ReasonExtractionFailed Reason = "extraction_failed"
)

// Detection is the readiness result for one frame.
type Detection struct {
	Ready   bool
	Message string
	Regions []Region
	Reason  Reason
}

// Decision is the terminal output of one verification call. An empty
// Identity means no identity was accepted.
type Decision struct {
	Accepted   bool
	Identity   string
	Confidence float64
	Message    string
	Reason     Reason
}

// Reject builds a rejected decision carrying only a message and reason.
func Reject(reason Reason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}
