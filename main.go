package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/faceid/internal/auth"
	"github.com/example/faceid/internal/config"
	"github.com/example/faceid/internal/enrollment"
	"github.com/example/faceid/internal/grpcclient"
	"github.com/example/faceid/internal/handlers"
	"github.com/example/faceid/internal/logging"
	"github.com/example/faceid/internal/matcher"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	msgSize := cfg.ModelMaxMessageBytes
	if msgSize == 0 {
		msgSize = grpcclient.MessageSizeFor(cfg.MaxImagePixels)
	}
	model, err := grpcclient.DialFaceModel(ctx, cfg.ModelAddr, cfg.ModelTimeout, logger, grpcclient.MaxMessageSize(msgSize))
	if err != nil {
		logger.Fatal("failed to connect to face model", zap.String("addr", cfg.ModelAddr), zap.Error(err))
	}
	defer model.Close()

	if cfg.UsingDefaultSecret() {
		logger.Warn("JWT_SECRET is not set; tokens are signed with the development key", zap.String("env", cfg.Environment))
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTAudience, cfg.JWTTTL)
	if err != nil {
		logger.Fatal("invalid token configuration", zap.Error(err))
	}

	cache := usecase.NewRedisCache(redisClient)
	loader := enrollment.NewLoader(cfg.Enrollment.FaceDataDir, model, model, cache, cfg.Enrollment.Workers, logger)
	engine := matcher.NewEngine(matcher.Config{
		Tolerance:           cfg.Match.Tolerance,
		ConfidenceThreshold: cfg.Match.ConfidenceThreshold,
	}, logger)

	uc := usecase.NewVerificationUseCase(usecase.Dependencies{
		Repo:      repo,
		Users:     repo,
		Cache:     cache,
		Detector:  model,
		Extractor: model,
		Engine:    engine,
		Store:     enrollment.NewStore(nil),
		Loader:    loader,
		Tokens:    issuer,
		Model:     model,

		MaxImagePixels: cfg.MaxImagePixels,
	}, logger)

	if err := uc.SeedUsers(ctx, cfg.Users); err != nil {
		logger.Fatal("failed to seed users", zap.Error(err))
	}

	// Enrollment can take longer than the startup budget above.
	enrollCtx, enrollCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	summary, err := uc.ReloadEnrollment(enrollCtx)
	enrollCancel()
	if err != nil {
		logger.Fatal("initial enrollment failed", zap.Error(err))
	}
	logger.Info("enrollment ready",
		zap.String("dir", loader.Dir()),
		zap.Int("identities", summary.Identities),
		zap.Int("faces", summary.Faces))

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face id service listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Float64("tolerance", cfg.Match.Tolerance),
		zap.Float64("confidence_threshold", cfg.Match.ConfidenceThreshold))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

// serveHTTPServerWithOptions serves until the server fails or a signal
// arrives, then drains in-flight requests for up to shutdownTimeout. A nil
// listener uses server.Addr; a nil signalCh subscribes to SIGINT and SIGTERM.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
