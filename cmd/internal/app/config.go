package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, startup runs the embedded migrations against DatabaseURL.
	MigrateOnStart bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// JWTSecret signs session tokens. Startup fails when it is missing or
	// shorter than 32 bytes.
	JWTSecret string
	JWTTTL    time.Duration

	// SweepInterval paces the sealed->ready promotion and expiry sweeps.
	SweepInterval time.Duration

	// S3 attachment storage. Endpoints stay disabled when Bucket is empty.
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("OPENON_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("OPENON_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("OPENON_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("OPENON_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("OPENON_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("OPENON_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("OPENON_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("OPENON_DATABASE_URL", ""),
		DBSchema:    EnvString("OPENON_DB_SCHEMA", "openon"),
		DBMaxConns:  EnvInt32("OPENON_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("OPENON_DB_MIN_CONNS", 0),

		MigrateOnStart: EnvBool("OPENON_DB_MIGRATE", false),

		ReadinessRequireDB: EnvBool("OPENON_READINESS_REQUIRE_DB", false),

		JWTSecret: EnvString("OPENON_JWT_SECRET", ""),
		JWTTTL:    EnvDuration("OPENON_JWT_TTL", 24*time.Hour),

		SweepInterval: EnvDuration("OPENON_SWEEP_INTERVAL", time.Minute),

		S3Bucket:    EnvString("OPENON_S3_BUCKET", ""),
		S3Region:    EnvString("OPENON_S3_REGION", "us-east-1"),
		S3AccessKey: EnvString("OPENON_S3_ACCESS_KEY", ""),
		S3SecretKey: EnvString("OPENON_S3_SECRET_KEY", ""),
		S3Endpoint:  EnvString("OPENON_S3_ENDPOINT", ""),
	}
}
