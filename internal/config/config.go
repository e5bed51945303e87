package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/faceid/internal/imagecodec"
)

// DefaultJWTSecret is only accepted when Environment is "development".
const DefaultJWTSecret = "dev-secret"

const envDevelopment = "development"

// Config is the service configuration.
type Config struct {
	Environment     string
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string

	DatabaseDSN string
	RedisAddr   string

	ModelAddr    string
	ModelTimeout time.Duration

	// ModelMaxMessageBytes is the gRPC message limit; zero derives it from MaxImagePixels.
	ModelMaxMessageBytes int
	MaxImagePixels       int

	JWTSecret   string
	JWTAudience string
	JWTTTL      time.Duration

	Match      MatchConfig
	Enrollment EnrollmentConfig

	UsersFile string
	Users     []UserSeed
}

// MatchConfig holds the two verification gates.
type MatchConfig struct {
	Tolerance           float64
	ConfidenceThreshold float64
}

// EnrollmentConfig locates reference images.
type EnrollmentConfig struct {
	FaceDataDir string
	Workers     int
}

// UserSeed is one entry of the users file. Password is plaintext and is
// hashed before it reaches the credential table.
type UserSeed struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type usersFile struct {
	Users []UserSeed `yaml:"users"`
}

// Load reads an optional .env file, the environment and the users file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	tolerance, err := envFloat("FACE_TOLERANCE", 0.5)
	if err != nil {
		return nil, err
	}
	threshold, err := envFloat("FACE_CONFIDENCE_THRESHOLD", 0.55)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:     getEnv("APP_ENV", envDevelopment),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseDSN:     getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=faceid port=5432 sslmode=disable"),
		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		ModelAddr:       getEnv("FACE_MODEL_ADDR", "face-model:50051"),
		ModelTimeout:    envDuration("FACE_MODEL_TIMEOUT", 10*time.Second),
		JWTSecret:       getEnv("JWT_SECRET", DefaultJWTSecret),
		JWTAudience:     os.Getenv("JWT_AUDIENCE"),
		JWTTTL:          envDuration("JWT_TTL", time.Hour),
		Match: MatchConfig{
			Tolerance:           tolerance,
			ConfidenceThreshold: threshold,
		},
		Enrollment: EnrollmentConfig{
			FaceDataDir: getEnv("FACE_DATA_DIR", "face_data"),
			Workers:     envInt("ENROLLMENT_WORKERS", 4),
		},
		UsersFile: getEnv("USERS_FILE", "users.yaml"),
	}
	cfg.MaxImagePixels = envInt("IMAGE_MAX_PIXELS", imagecodec.DefaultMaxPixels)
	cfg.ModelMaxMessageBytes = envInt("FACE_MODEL_MAX_MESSAGE_BYTES", 0)

	users, err := LoadUsers(cfg.UsersFile)
	if err != nil {
		return nil, err
	}
	cfg.Users = users

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUsers parses the users file. A missing file yields no users.
func LoadUsers(path string) ([]UserSeed, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read users file '%s': %w", path, err)
	}

	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse users file '%s': %w", path, err)
	}
	seen := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("users file '%s': username and password are required", path)
		}
		if seen[u.Username] {
			return nil, fmt.Errorf("users file '%s': duplicate user %q", path, u.Username)
		}
		seen[u.Username] = true
	}
	return f.Users, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Match.Tolerance <= 0 {
		return fmt.Errorf("FACE_TOLERANCE must be positive, got %v", c.Match.Tolerance)
	}
	if c.Match.ConfidenceThreshold <= 0 || c.Match.ConfidenceThreshold > 1 {
		return fmt.Errorf("FACE_CONFIDENCE_THRESHOLD must be in (0, 1], got %v", c.Match.ConfidenceThreshold)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.UsingDefaultSecret() && c.Environment != envDevelopment {
		return fmt.Errorf("JWT_SECRET must be set when APP_ENV is %q", c.Environment)
	}
	if c.ModelMaxMessageBytes != 0 && c.ModelMaxMessageBytes < c.MaxImagePixels*4 {
		return fmt.Errorf("FACE_MODEL_MAX_MESSAGE_BYTES (%d) cannot carry IMAGE_MAX_PIXELS (%d) images", c.ModelMaxMessageBytes, c.MaxImagePixels)
	}
	return nil
}

// UsingDefaultSecret reports whether tokens are signed with the well-known development key.
func (c *Config) UsingDefaultSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envInt returns the default for unset, invalid or non-positive values.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat fails on malformed values; the float settings are decision gates.
func envFloat(key string, defaultVal float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return f, nil
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}
