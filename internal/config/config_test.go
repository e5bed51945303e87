package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeUsers(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("USERS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("APP_ENV", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Match.Tolerance != 0.5 || cfg.Match.ConfidenceThreshold != 0.55 {
		t.Fatalf("unexpected gates %+v", cfg.Match)
	}
	if cfg.HTTPAddr != ":8080" || cfg.JWTTTL != time.Hour || cfg.Enrollment.Workers != 4 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Users) != 0 {
		t.Fatalf("expected no users, got %v", cfg.Users)
	}
	if cfg.Environment != "development" || !cfg.UsingDefaultSecret() {
		t.Fatalf("expected development defaults, got env %q secret default %v", cfg.Environment, cfg.UsingDefaultSecret())
	}
	if cfg.MaxImagePixels != 16_000_000 || cfg.ModelMaxMessageBytes != 0 {
		t.Fatalf("unexpected image limits %d / %d", cfg.MaxImagePixels, cfg.ModelMaxMessageBytes)
	}
}

func TestLoadRejectsMalformedGates(t *testing.T) {
	for _, key := range []string{"FACE_TOLERANCE", "FACE_CONFIDENCE_THRESHOLD"} {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("USERS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
			t.Setenv(key, "0,5")

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s parse error, got %v", key, err)
			}
		})
	}
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("USERS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET error, got %v", err)
	}

	t.Setenv("JWT_SECRET", "a-real-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UsingDefaultSecret() {
		t.Fatal("explicit secret reported as default")
	}
}

func TestValidateMessageSizeCoversPixelLimit(t *testing.T) {
	cfg := &Config{
		Match:                MatchConfig{Tolerance: 0.5, ConfidenceThreshold: 0.55},
		JWTSecret:            "x",
		MaxImagePixels:       1_000_000,
		ModelMaxMessageBytes: 1 << 20,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected 1 MiB messages to be rejected for 1 MP images")
	}
	cfg.ModelMaxMessageBytes = 8 << 20
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("USERS_FILE", writeUsers(t, "users:\n  - username: maitri\n    password: s3cret\n"))
	t.Setenv("FACE_TOLERANCE", "0.6")
	t.Setenv("FACE_CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("JWT_TTL", "15m")
	t.Setenv("ENROLLMENT_WORKERS", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Match.Tolerance != 0.6 || cfg.Match.ConfidenceThreshold != 0.7 {
		t.Fatalf("unexpected gates %+v", cfg.Match)
	}
	if cfg.JWTTTL != 15*time.Minute {
		t.Fatalf("JWTTTL = %v", cfg.JWTTTL)
	}
	if cfg.Enrollment.Workers != 4 {
		t.Fatalf("negative workers should fall back to default, got %d", cfg.Enrollment.Workers)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Username != "maitri" {
		t.Fatalf("Users = %+v", cfg.Users)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FACE_TOLERANCE=0.42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("USERS_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("FACE_TOLERANCE", "")
	os.Unsetenv("FACE_TOLERANCE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Match.Tolerance != 0.42 {
		t.Fatalf("Tolerance = %v, want 0.42 from .env", cfg.Match.Tolerance)
	}
}

func TestValidateRejectsBadGates(t *testing.T) {
	tests := []struct {
		name  string
		match MatchConfig
	}{
		{"zero tolerance", MatchConfig{Tolerance: 0, ConfidenceThreshold: 0.5}},
		{"threshold above one", MatchConfig{Tolerance: 0.5, ConfidenceThreshold: 1.5}},
		{"zero threshold", MatchConfig{Tolerance: 0.5, ConfidenceThreshold: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Match: tt.match, JWTSecret: "x"}
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadUsersRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing password", "users:\n  - username: a\n"},
		{"duplicate", "users:\n  - {username: a, password: x}\n  - {username: a, password: y}\n"},
		{"not yaml", "users: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadUsers(writeUsers(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
