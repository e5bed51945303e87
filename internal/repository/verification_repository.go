package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faceid/internal/retry"
)

// VerificationLog represents a persisted face verification attempt.
type VerificationLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Identity   string    `gorm:"column:identity;size:64;index"`
	Confidence float64   `gorm:"column:confidence"`
	Success    bool      `gorm:"column:success"`
	Reason     string    `gorm:"column:reason;size:32"`
	Details    string    `gorm:"column:details;type:text"`
	SHA1Hash   string    `gorm:"column:sha1_hash;size:40;index"`
	LatencyMs  float64   `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation is the raw aggregate over all verification logs.
type MetricsAggregation struct {
	TotalCount                 int64
	SuccessCount               int64
	AverageScore               float64
	AverageProcessingLatencyMs float64
}

// VerificationRepository provides persistence APIs for verification logs.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	p := retry.DefaultPolicy()
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  p.Attempts,
		initialBackoff: p.InitialBackoff,
		maxBackoff:     p.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&VerificationLog{}, &User{})
	})
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the verification log of one request.
func (r *VerificationRepository) FindByRequestID(ctx context.Context, requestID string) (*VerificationLog, error) {
	var log VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists other attempts that submitted the same image bytes.
func (r *VerificationRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*VerificationLog, error) {
	var logs []*VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
			Order("created_at ASC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals over every verification log.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&VerificationLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(AVG(confidence), 0) AS average_score,
				COALESCE(AVG(latency_ms), 0) AS average_processing_latency_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{Attempts: r.retryAttempts, InitialBackoff: r.initialBackoff, MaxBackoff: r.maxBackoff}
	return retry.Do(ctx, r.logger, policy, operation, requestID, fn)
}
