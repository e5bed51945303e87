package enrollment

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/faceid/internal/face"
	"github.com/example/faceid/internal/imagecodec"
)

// DefaultWorkers bounds concurrent model calls during enrollment.
const DefaultWorkers = 4

const embeddingCacheTTL = 30 * 24 * time.Hour

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Cache stores computed embeddings keyed by image hash.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Loader builds snapshots from <dir>/<identity>/*.{png,jpg,jpeg}.
type Loader struct {
	dir       string
	detector  face.Detector
	extractor face.Extractor
	cache     Cache
	workers   int
	logger    *zap.Logger
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(dir string, detector face.Detector, extractor face.Extractor, cache Cache, workers int, logger *zap.Logger) *Loader {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Loader{
		dir:       dir,
		detector:  detector,
		extractor: extractor,
		cache:     cache,
		workers:   workers,
		logger:    logger.Named("enrollment"),
	}
}

// Dir returns the face data root.
func (l *Loader) Dir() string {
	return l.dir
}

// Load enrolls every identity. Missing identity directories are created;
// unreadable images and images without a usable face are skipped.
func (l *Loader) Load(ctx context.Context, identities []string) (*Snapshot, error) {
	type job struct {
		identity string
		slot     int
		path     string
	}

	results := make(map[string][]face.Embedding, len(identities))
	var jobs []job
	for _, identity := range identities {
		files, err := l.identityImages(identity)
		if err != nil {
			return nil, err
		}
		results[identity] = make([]face.Embedding, len(files))
		for i, f := range files {
			jobs = append(jobs, job{identity: identity, slot: i, path: f})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for _, j := range jobs {
		slots := results[j.identity]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			emb, err := l.embedFile(gctx, j.path)
			if err != nil {
				l.logger.Warn("skipping enrollment image",
					zap.String("identity", j.identity),
					zap.String("file", filepath.Base(j.path)),
					zap.Error(err))
				return nil
			}
			slots[j.slot] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enrollment interrupted: %w", err)
	}

	records := make(map[string][]face.Embedding, len(results))
	for identity, slots := range results {
		var embeddings []face.Embedding
		for _, e := range slots {
			if e != nil {
				embeddings = append(embeddings, e)
			}
		}
		records[identity] = embeddings
		if len(embeddings) == 0 {
			l.logger.Warn("no face images enrolled",
				zap.String("identity", identity),
				zap.String("dir", filepath.Join(l.dir, identity)))
		} else {
			l.logger.Info("loaded face encodings",
				zap.String("identity", identity),
				zap.Int("count", len(embeddings)))
		}
	}
	return NewSnapshot(records), nil
}

func (l *Loader) identityImages(identity string) ([]string, error) {
	if identity == "" || strings.ContainsAny(identity, `/\`) || identity == "." || identity == ".." {
		return nil, fmt.Errorf("invalid identity name %q", identity)
	}
	dir := filepath.Join(l.dir, identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create face directory for %s: %w", identity, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) embedFile(ctx context.Context, path string) (face.Embedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(data)
	key := "enrollment:embedding:" + hex.EncodeToString(sum[:])

	if cached, ok := l.cached(ctx, key); ok {
		return cached, nil
	}

	grid, err := imagecodec.Decode(data)
	if err != nil {
		return nil, err
	}
	regions, err := l.detector.DetectFaces(ctx, grid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", face.ErrDetection, err)
	}
	region, ok := firstRegion(regions, grid)
	if !ok {
		return nil, face.ErrNoFace
	}
	if len(regions) > 1 {
		l.logger.Debug("multiple faces in enrollment image, using the first", zap.String("file", filepath.Base(path)))
	}

	emb, err := l.extractor.Extract(ctx, grid, region)
	if err != nil {
		return nil, err
	}
	l.store(ctx, key, emb)
	return emb, nil
}

func firstRegion(regions []face.Region, grid *face.PixelGrid) (face.Region, bool) {
	for _, r := range regions {
		c := r.Clip(grid.Width, grid.Height)
		if c.Width > 0 && c.Height > 0 {
			return c, true
		}
	}
	return face.Region{}, false
}

func (l *Loader) cached(ctx context.Context, key string) (face.Embedding, bool) {
	if l.cache == nil {
		return nil, false
	}
	raw, err := l.cache.Get(ctx, key)
	if err != nil || raw == "" {
		return nil, false
	}
	var emb face.Embedding
	if err := json.Unmarshal([]byte(raw), &emb); err != nil || len(emb) == 0 {
		l.logger.Warn("discarding malformed cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return emb, true
}

func (l *Loader) store(ctx context.Context, key string, emb face.Embedding) {
	if l.cache == nil {
		return
	}
	payload, err := json.Marshal(emb)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, key, string(payload), embeddingCacheTTL); err != nil {
		l.logger.Warn("failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

// SnapshotLoader builds a snapshot for a set of identities.
type SnapshotLoader interface {
	Load(ctx context.Context, identities []string) (*Snapshot, error)
}

// Reload rebuilds the snapshot and publishes it atomically.
// The current snapshot stays in effect if loading fails.
func (s *Store) Reload(ctx context.Context, loader SnapshotLoader, identities []string) (*Snapshot, error) {
	next, err := loader.Load(ctx, identities)
	if err != nil {
		return nil, err
	}
	s.Replace(next)
	return next, nil
}
