package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"PRESENCE/liveness"
	"PRESENCE/logger"

	"github.com/golang-jwt/jwt/v4"
	"github.com/joho/godotenv"
)

// Data carried inside the bearer token issued by the account service.
type JWTClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Config struct {
	Env  string
	Port string

	JWTKey []byte

	// memory, mysql or redis
	StoreDriver   string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	EmbeddingDim int
	Location     *time.Location

	Liveness LivenessTuning
	Matcher  MatcherTuning
	Geofence GeofenceTuning

	AttemptTTL time.Duration
	// Wall-clock time of the daily duplicate-session audit, "HH:MM".
	AuditAt string
}

type LivenessTuning struct {
	SessionTimeout time.Duration
	IdleTimeout    time.Duration
	EyeClosedProb  float64
	EyeOpenProb    float64
	YawDegrees     float64
}

type MatcherTuning struct {
	StrongThreshold    float64
	SecondaryThreshold float64
	FrameMinAgree      int
	MinDecisionFrames  int
	MinAgreeRequired   int
	VerifiedMethod     string
}

type GeofenceTuning struct {
	MarginMeters float64
	MaxFixAge    time.Duration
	// Optional geofence written to the store at startup when SeedID is set.
	SeedID           string
	SeedLat          float64
	SeedLng          float64
	SeedRadiusMeters float64
}

var ErrMissingJWTKey = errors.New("JWT_KEY is not set")

// Default returns the tuned defaults without reading the environment.
func Default() *Config {
	return &Config{
		Env:          "dev",
		Port:         "8080",
		StoreDriver:  "memory",
		EmbeddingDim: 128,
		Location:     time.Local,
		Liveness: LivenessTuning{
			SessionTimeout: 8 * time.Second,
			IdleTimeout:    5 * time.Second,
			EyeClosedProb:  0.35,
			EyeOpenProb:    0.65,
			YawDegrees:     18,
		},
		Matcher: MatcherTuning{
			StrongThreshold:    0.60,
			SecondaryThreshold: 0.50,
			FrameMinAgree:      1,
			MinDecisionFrames:  14,
			MinAgreeRequired:   7,
			VerifiedMethod:     "geofence+liveness+fr",
		},
		Geofence: GeofenceTuning{
			MarginMeters: 20,
			MaxFixAge:    30 * time.Second,
		},
		AttemptTTL: 2 * time.Minute,
		AuditAt:    "23:55",
	}
}

// Load reads .env when present (local development) and then the process environment.
// On hosted deployments there is no .env file; that is only logged.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info(".env not found, using process environment")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, starting from Default.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	key := getenv("JWT_KEY")
	if key == "" {
		return nil, ErrMissingJWTKey
	}
	cfg.JWTKey = []byte(key)

	setString(&cfg.Env, getenv("ENV"))
	setString(&cfg.Port, getenv("PORT"))
	setString(&cfg.StoreDriver, getenv("STORE_DRIVER"))
	setString(&cfg.DatabaseURL, getenv("DATABASE_URL"))
	setString(&cfg.RedisAddr, getenv("REDIS_ADDR"))
	setString(&cfg.RedisPassword, getenv("REDIS_PASSWORD"))
	setString(&cfg.Matcher.VerifiedMethod, getenv("VERIFIED_METHOD"))
	setString(&cfg.AuditAt, getenv("AUDIT_AT"))
	setString(&cfg.Geofence.SeedID, getenv("GEOFENCE_SEED_ID"))

	if tz := getenv("TZ"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("TZ: %w", err)
		}
		cfg.Location = loc
	}

	p := parser{getenv: getenv}
	p.int("EMBEDDING_DIM", &cfg.EmbeddingDim)
	p.duration("LIVENESS_SESSION_TIMEOUT", &cfg.Liveness.SessionTimeout)
	p.duration("LIVENESS_IDLE_TIMEOUT", &cfg.Liveness.IdleTimeout)
	p.float("LIVENESS_EYE_CLOSED_PROB", &cfg.Liveness.EyeClosedProb)
	p.float("LIVENESS_EYE_OPEN_PROB", &cfg.Liveness.EyeOpenProb)
	p.float("LIVENESS_YAW_DEGREES", &cfg.Liveness.YawDegrees)
	p.float("MATCH_STRONG_THRESHOLD", &cfg.Matcher.StrongThreshold)
	p.float("MATCH_SECONDARY_THRESHOLD", &cfg.Matcher.SecondaryThreshold)
	p.int("MATCH_FRAME_MIN_AGREE", &cfg.Matcher.FrameMinAgree)
	p.int("MATCH_MIN_DECISION_FRAMES", &cfg.Matcher.MinDecisionFrames)
	p.int("MATCH_MIN_AGREE_REQUIRED", &cfg.Matcher.MinAgreeRequired)
	p.float("GEOFENCE_MARGIN_METERS", &cfg.Geofence.MarginMeters)
	p.duration("GEOFENCE_MAX_FIX_AGE", &cfg.Geofence.MaxFixAge)
	p.float("GEOFENCE_SEED_LAT", &cfg.Geofence.SeedLat)
	p.float("GEOFENCE_SEED_LNG", &cfg.Geofence.SeedLng)
	p.float("GEOFENCE_SEED_RADIUS_METERS", &cfg.Geofence.SeedRadiusMeters)
	p.duration("ATTEMPT_TTL", &cfg.AttemptTTL)
	if p.err != nil {
		return nil, p.err
	}

	switch cfg.StoreDriver {
	case "memory":
	case "mysql":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for STORE_DRIVER=mysql")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("REDIS_ADDR is required for STORE_DRIVER=redis")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parser keeps the first parse error so the caller checks once.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) int(name string, dst *int) {
	v := p.getenv(name)
	if v == "" || p.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = n
}

func (p *parser) float(name string, dst *float64) {
	v := p.getenv(name)
	if v == "" || p.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = f
}

func (p *parser) duration(name string, dst *time.Duration) {
	v := p.getenv(name)
	if v == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = d
}

// Gate converts the tuning into the liveness gate's config.
func (t LivenessTuning) Gate() liveness.Config {
	return liveness.Config{
		SessionTimeout: t.SessionTimeout,
		IdleTimeout:    t.IdleTimeout,
		EyeClosedProb:  t.EyeClosedProb,
		EyeOpenProb:    t.EyeOpenProb,
		YawDegrees:     t.YawDegrees,
	}
}
