package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/faceid/internal/auth"
	"github.com/example/faceid/internal/config"
	"github.com/example/faceid/internal/repository"
)

// Login messages.
const (
	MsgLoginSuccess       = "Login successful"
	MsgLoginInvalid       = "Invalid username or password"
	MsgCredentialsMissing = "Username and password required"
)

// LoginResult is the outcome of a password login. It carries no face
// confidence.
type LoginResult struct {
	Success   bool
	Message   string
	Username  string
	Token     string
	ExpiresAt time.Time
}

// UserStatus is one row of the user listing.
type UserStatus struct {
	Username    string `json:"username"`
	HasFaceData bool   `json:"has_face_data"`
}

// HealthStatus summarizes service readiness.
type HealthStatus struct {
	Status                   string `json:"status"`
	FaceRecognitionAvailable bool   `json:"face_recognition_available"`
	RegisteredUsers          int    `json:"registered_users"`
	EnrolledFaces            int    `json:"enrolled_faces"`
}

// EnrollmentSummary reports the snapshot published by a reload.
type EnrollmentSummary struct {
	Identities int `json:"identities"`
	Faces      int `json:"faces"`
}

// SeedUsers inserts configured users that do not exist yet.
func (uc *VerificationUseCase) SeedUsers(ctx context.Context, seeds []config.UserSeed) error {
	for _, seed := range seeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password for %q: %w", seed.Username, err)
		}
		if err := uc.users.EnsureUser(ctx, seed.Username, string(hash)); err != nil {
			return err
		}
	}
	uc.logger.Info("seeded users", zap.Int("count", len(seeds)))
	return nil
}

// Login checks a username and password against the credential table.
func (uc *VerificationUseCase) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return &LoginResult{Message: MsgCredentialsMissing}, nil
	}

	user, err := uc.users.FindUser(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		uc.logger.Info("password login failed", zap.String("username", username))
		return &LoginResult{Message: MsgLoginInvalid}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		uc.logger.Info("password login failed", zap.String("username", username))
		return &LoginResult{Message: MsgLoginInvalid}, nil
	}

	result := &LoginResult{Success: true, Message: MsgLoginSuccess, Username: username}
	if uc.tokens != nil {
		token, expires, err := uc.tokens.Issue(username, auth.MethodPassword)
		if err != nil {
			return nil, err
		}
		result.Token, result.ExpiresAt = token, expires
	}
	uc.logger.Info("password login succeeded", zap.String("username", username))
	return result, nil
}

// ListUsers returns every registered user and whether face data is enrolled.
func (uc *VerificationUseCase) ListUsers(ctx context.Context) ([]UserStatus, error) {
	names, err := uc.users.ListUsernames(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := uc.store.Current()
	out := make([]UserStatus, 0, len(names))
	for _, name := range names {
		out = append(out, UserStatus{Username: name, HasFaceData: snapshot.HasFaces(name)})
	}
	return out, nil
}

// Health reports model availability and the registered user count.
func (uc *VerificationUseCase) Health(ctx context.Context) HealthStatus {
	snapshot := uc.store.Current()
	status := HealthStatus{
		Status:          "healthy",
		RegisteredUsers: snapshot.Count(),
		EnrolledFaces:   snapshot.FaceCount(),
	}
	if uc.model != nil {
		status.FaceRecognitionAvailable = uc.model.Available()
	}
	if names, err := uc.users.ListUsernames(ctx); err != nil {
		uc.logger.Warn("failed to count users", zap.Error(err))
		status.Status = "degraded"
	} else {
		status.RegisteredUsers = len(names)
	}
	return status
}

// ReloadEnrollment re-enrolls every registered user and swaps the snapshot.
func (uc *VerificationUseCase) ReloadEnrollment(ctx context.Context) (*EnrollmentSummary, error) {
	if uc.loader == nil {
		return nil, errors.New("enrollment loader not configured")
	}
	names, err := uc.users.ListUsernames(ctx)
	if err != nil {
		return nil, err
	}
	snapshot, err := uc.store.Reload(ctx, uc.loader, names)
	if err != nil {
		uc.logger.Error("enrollment reload failed", zap.Error(err))
		return nil, err
	}
	summary := &EnrollmentSummary{Identities: snapshot.Count(), Faces: snapshot.FaceCount()}
	uc.logger.Info("enrollment reloaded", zap.Int("identities", summary.Identities), zap.Int("faces", summary.Faces))
	return summary, nil
}
