package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/enrollment"
	"github.com/example/faceid/internal/face"
	"github.com/example/faceid/internal/imagecodec"
	"github.com/example/faceid/internal/logging"
	"github.com/example/faceid/internal/matcher"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/retry"
)

const (
	processingTTL = time.Minute
	resultTTL     = 5 * time.Minute
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// UserRepository is the credential table.
type UserRepository interface {
	EnsureUser(ctx context.Context, username, passwordHash string) error
	FindUser(ctx context.Context, username string) (*repository.User, error)
	ListUsernames(ctx context.Context) ([]string, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(subject, method string) (string, time.Time, error)
}

// ModelStatus reports whether the face model backend is reachable.
type ModelStatus interface {
	Available() bool
}

// Dependencies groups the collaborators of VerificationUseCase.
type Dependencies struct {
	Repo      VerificationRepository
	Users     UserRepository
	Cache     Cache
	Detector  face.Detector
	Extractor face.Extractor
	Engine    *matcher.Engine
	Store     *enrollment.Store
	Loader    enrollment.SnapshotLoader
	Tokens    TokenIssuer
	Model     ModelStatus

	// MaxImagePixels bounds decoded uploads; zero means imagecodec.DefaultMaxPixels.
	MaxImagePixels int
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo      VerificationRepository
	users     UserRepository
	cache     Cache
	locator   *face.Locator
	extractor face.Extractor
	engine    *matcher.Engine
	store     *enrollment.Store
	loader    enrollment.SnapshotLoader
	tokens    TokenIssuer
	model     ModelStatus
	maxPixels int
	logger    *zap.Logger
	policy    retry.Policy
	now       func() time.Time
}

type cachedVerification struct {
	RequestID  string    `json:"request_id"`
	Identity   string    `json:"identity"`
	Confidence float64   `json:"confidence"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason"`
	Details    string    `json:"details"`
	Hash       string    `json:"sha1_hash"`
	LatencyMs  float64   `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// DuplicateReport lists earlier attempts that submitted the same image bytes.
type DuplicateReport struct {
	Request    *repository.VerificationLog
	Duplicates []*repository.VerificationLog
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(deps Dependencies, logger *zap.Logger) *VerificationUseCase {
	logger = logger.Named("verification_usecase")
	engine := deps.Engine
	if engine == nil {
		engine = matcher.NewEngine(matcher.DefaultConfig(), logger)
	}
	store := deps.Store
	if store == nil {
		store = enrollment.NewStore(nil)
	}
	return &VerificationUseCase{
		repo:      deps.Repo,
		users:     deps.Users,
		cache:     deps.Cache,
		locator:   face.NewLocator(deps.Detector, logger),
		extractor: deps.Extractor,
		engine:    engine,
		store:     store,
		loader:    deps.Loader,
		tokens:    deps.Tokens,
		model:     deps.Model,
		maxPixels: deps.MaxImagePixels,
		logger:    logger,
		policy:    retry.DefaultPolicy(),
		now:       time.Now,
	}
}

// VerifyImage runs one verification attempt over raw image bytes. Every
// pipeline outcome is returned as a Decision; the error is reserved for
// cache and persistence faults.
func (uc *VerificationUseCase) VerifyImage(ctx context.Context, imageBytes []byte) (string, *face.Decision, error) {
	requestID := uuid.NewString()
	ctx = logging.ContextWithRequestID(ctx, requestID)
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_image", requestID)
	start := uc.now()

	cacheKey := resultKey(requestID)
	if err := retry.Do(ctx, uc.logger, uc.policy, "cache.set.processing", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	decision := uc.decide(ctx, imageBytes, opLogger)

	hash := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(hash[:])
	log := &repository.VerificationLog{
		RequestID:  requestID,
		Identity:   decision.Identity,
		Confidence: decision.Confidence,
		Success:    decision.Accepted,
		Reason:     string(decision.Reason),
		Details:    decision.Message,
		SHA1Hash:   hashHex,
		LatencyMs:  float64(uc.now().Sub(start).Microseconds()) / 1000,
		CreatedAt:  uc.now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := &logging.OperationError{Operation: "usecase.save_log", RequestID: requestID, Err: err}
		uc.logger.Error("failed to persist verification log", wrapped.Fields()...)
		return "", nil, wrapped
	}

	serialized, err := json.Marshal(cachedFromLog(log))
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return "", nil, err
	}
	if err := retry.Do(ctx, uc.logger, uc.policy, "cache.set.result", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return "", nil, err
	}

	opLogger.Info("verification completed",
		zap.Bool("accepted", decision.Accepted),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("latency_ms", log.LatencyMs))
	return requestID, &decision, nil
}

// VerifyDataURL is VerifyImage for canvas-style base64 payloads.
func (uc *VerificationUseCase) VerifyDataURL(ctx context.Context, payload string) (string, *face.Decision, error) {
	// An undecodable payload still produces a persisted decode_failed decision.
	raw, _ := imagecodec.DataURLBytes(payload)
	return uc.VerifyImage(ctx, raw)
}

func (uc *VerificationUseCase) decide(ctx context.Context, imageBytes []byte, opLogger *zap.Logger) face.Decision {
	grid, err := imagecodec.DecodeLimit(imageBytes, uc.maxPixels)
	if err != nil {
		opLogger.Info("image rejected", zap.Error(err))
		return face.Reject(face.ReasonDecodeFailed, face.MsgDecodeFailed)
	}

	detection := uc.locator.Locate(ctx, grid)
	if !detection.Ready {
		return face.Reject(detection.Reason, detection.Message)
	}

	probe, err := uc.extractor.Extract(ctx, grid, detection.Regions[0])
	if err != nil {
		if !errors.Is(err, face.ErrExtraction) {
			opLogger.Warn("embedding extraction failed", zap.Error(err))
		}
		return face.Reject(face.ReasonExtractionFailed, face.MsgExtractionFailed)
	}

	ev := uc.engine.Evaluate(probe, uc.store.Current())
	if err := ev.Err(); err != nil {
		opLogger.Info("face not verified", zap.Error(err), zap.String("reason", string(ev.Decision.Reason)))
	}
	return ev.Decision
}

// Detect answers whether an image is ready for verification without matching it.
func (uc *VerificationUseCase) Detect(ctx context.Context, imageBytes []byte) face.Detection {
	grid, err := imagecodec.DecodeLimit(imageBytes, uc.maxPixels)
	if err != nil {
		return face.Detection{Message: face.MsgDecodeFailed, Regions: []face.Region{}, Reason: face.ReasonDecodeFailed}
	}
	return uc.locator.Locate(ctx, grid)
}

// DetectDataURL is Detect for canvas-style base64 payloads.
func (uc *VerificationUseCase) DetectDataURL(ctx context.Context, payload string) face.Detection {
	raw, err := imagecodec.DataURLBytes(payload)
	if err != nil {
		return face.Detection{Message: face.MsgDecodeFailed, Regions: []face.Region{}, Reason: face.ReasonDecodeFailed}
	}
	return uc.Detect(ctx, raw)
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, requestID string) (*repository.VerificationLog, error) {
	cacheKey := resultKey(requestID)
	if cached, err := uc.cacheGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedVerification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			// "processing" marker or a corrupt entry; the database is authoritative.
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Debug("cached result unusable", zap.Error(err))
		} else {
			return payload.toLog(requestID), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

// GetDuplicateReport builds a duplicate detection report for a verification request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

// IssueToken signs a session token for an authenticated identity.
func (uc *VerificationUseCase) IssueToken(identity, method string) (string, time.Time, error) {
	if uc.tokens == nil {
		return "", time.Time{}, errors.New("token issuer not configured")
	}
	return uc.tokens.Issue(identity, method)
}

func (uc *VerificationUseCase) cacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := retry.Do(ctx, uc.logger, uc.policy, operation, requestID, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func cachedFromLog(log *repository.VerificationLog) cachedVerification {
	return cachedVerification{
		RequestID:  log.RequestID,
		Identity:   log.Identity,
		Confidence: log.Confidence,
		Success:    log.Success,
		Reason:     log.Reason,
		Details:    log.Details,
		Hash:       log.SHA1Hash,
		LatencyMs:  log.LatencyMs,
		CreatedAt:  log.CreatedAt,
	}
}

func (c cachedVerification) toLog(requestID string) *repository.VerificationLog {
	log := &repository.VerificationLog{
		RequestID:  requestID,
		Identity:   c.Identity,
		Confidence: c.Confidence,
		Success:    c.Success,
		Reason:     c.Reason,
		Details:    c.Details,
		SHA1Hash:   c.Hash,
		LatencyMs:  c.LatencyMs,
		CreatedAt:  c.CreatedAt,
	}
	if c.RequestID != "" {
		log.RequestID = c.RequestID
	}
	return log
}
