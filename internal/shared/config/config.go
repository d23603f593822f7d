package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	LogLevel        string
	LogFormat       string

	// RecordStore selects the submission record backend: memory, file, postgres or firestore.
	RecordStore         string
	RecordFile          string
	DatabaseURL         string
	DBPool              DBPool
	GCPProject          string
	FirestoreCollection string
	FeedPollInterval    time.Duration

	// BlobStore selects where raw uploads are kept: none, local, s3, gcs or azblob.
	BlobStore       string
	LocalStoreDir   string
	PublicBaseURL   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	GCSBucket       string
	GCSPrefix       string
	AzureAccountURL string
	AzureContainer  string
	InlinePayload   bool

	OracleProvider string
	OracleModel    string
	OracleTimeout  time.Duration
	OpenAIAPIKey   string
	VertexLocation string

	SQSQueueURL          string
	SQSVisibilityTimeout time.Duration
	WorkerConcurrency    int
	ShutdownTimeout      time.Duration

	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	NotificationsChannel string

	JWTSecret  string
	SessionTTL time.Duration
	OTPMode    string
	OTPTTL     time.Duration
}

// DBPool overrides database pool defaults; zero fields keep the default.
type DBPool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// Load reads configuration from env files, an optional config file named by
// VERISURE_CONFIG, and environment variables, in increasing precedence.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	_ = godotenv.Load(existing(".env", "cmd/.env")...)

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := os.Getenv("VERISURE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				log.Printf("config file %s ignored: %v", path, err)
			}
		}
	}

	env := normalizeEnv(v.GetString("ENV"))
	cfg := Config{
		Port:            v.GetString("PORT"),
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),
		Env:             env,
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),

		DatabaseURL:         v.GetString("DATABASE_URL"),
		DBPool: DBPool{
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
			PingTimeout:     v.GetDuration("DB_PING_TIMEOUT"),
		},
		RecordFile:          v.GetString("RECORD_FILE"),
		GCPProject:          v.GetString("GCP_PROJECT"),
		FirestoreCollection: v.GetString("FIRESTORE_COLLECTION"),
		FeedPollInterval:    v.GetDuration("FEED_POLL_INTERVAL"),

		BlobStore:       normalizeBlobStore(v.GetString("BLOB_STORE")),
		LocalStoreDir:   v.GetString("LOCAL_STORE_DIR"),
		PublicBaseURL:   v.GetString("PUBLIC_BASE_URL"),
		AWSRegion:       v.GetString("AWS_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Prefix:        v.GetString("S3_PREFIX"),
		SSEKMSKeyID:     v.GetString("SSE_KMS_KEY_ID"),
		GCSBucket:       v.GetString("GCS_BUCKET"),
		GCSPrefix:       v.GetString("GCS_PREFIX"),
		AzureAccountURL: v.GetString("AZURE_STORAGE_ACCOUNT_URL"),
		AzureContainer:  v.GetString("AZURE_STORAGE_CONTAINER"),
		InlinePayload:   v.GetBool("INLINE_PAYLOAD"),

		OracleProvider: normalizeOracleProvider(v.GetString("ORACLE_PROVIDER")),
		OracleModel:    v.GetString("ORACLE_MODEL"),
		OracleTimeout:  v.GetDuration("ORACLE_TIMEOUT"),
		OpenAIAPIKey:   v.GetString("OPENAI_API_KEY"),
		VertexLocation: v.GetString("VERTEX_LOCATION"),

		SQSQueueURL:          v.GetString("SQS_QUEUE_URL"),
		SQSVisibilityTimeout: time.Duration(v.GetInt("SQS_VISIBILITY_TIMEOUT_SECONDS")) * time.Second,
		WorkerConcurrency:    v.GetInt("WORKER_CONCURRENCY"),
		ShutdownTimeout:      time.Duration(v.GetInt("SHUTDOWN_TIMEOUT_SECONDS")) * time.Second,

		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		NotificationsChannel: v.GetString("NOTIFICATIONS_CHANNEL"),

		JWTSecret:  v.GetString("JWT_SECRET"),
		SessionTTL: v.GetDuration("SESSION_TTL"),
		OTPMode:    normalizeOTPMode(v.GetString("OTP_MODE")),
		OTPTTL:     v.GetDuration("OTP_TTL"),
	}
	cfg.RecordStore = normalizeRecordStore(v.GetString("RECORD_STORE"), cfg.DatabaseURL)

	if env == "production" && cfg.RecordStore == "memory" {
		log.Printf("RECORD_STORE=memory in production loses submissions on restart")
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}
	if cfg.SQSVisibilityTimeout <= 0 {
		cfg.SQSVisibilityTimeout = 300 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return cfg
}

// ErrProcessLocalRecords rejects a queue paired with a record store that the
// worker process cannot see.
var ErrProcessLocalRecords = errors.New("RECORD_STORE=memory|file is single-process and cannot be used with SQS_QUEUE_URL; use postgres or firestore")

// Validate reports combinations Load cannot repair.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SQSQueueURL) == "" {
		return nil
	}
	switch c.RecordStore {
	case "memory", "file":
		return ErrProcessLocalRecords
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("CORS_ALLOW_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("RECORD_FILE", "./data/submissions.json")
	v.SetDefault("FIRESTORE_COLLECTION", "applications")
	v.SetDefault("FEED_POLL_INTERVAL", 2*time.Second)
	v.SetDefault("BLOB_STORE", "none")
	v.SetDefault("LOCAL_STORE_DIR", "./data/blobs")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080/files")
	v.SetDefault("AZURE_STORAGE_CONTAINER", "documents")
	v.SetDefault("INLINE_PAYLOAD", true)
	v.SetDefault("ORACLE_PROVIDER", "placeholder")
	v.SetDefault("ORACLE_MODEL", "")
	v.SetDefault("ORACLE_TIMEOUT", 60*time.Second)
	v.SetDefault("VERTEX_LOCATION", "us-central1")
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("SQS_VISIBILITY_TIMEOUT_SECONDS", 300)
	v.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 30)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("NOTIFICATIONS_CHANNEL", "verisure:notifications")
	v.SetDefault("SESSION_TTL", 24*time.Hour)
	v.SetDefault("OTP_MODE", "placeholder")
	v.SetDefault("OTP_TTL", 5*time.Minute)
}

func existing(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		// godotenv.Load with no arguments reads ./.env; point it at nothing instead.
		return []string{os.DevNull}
	}
	return out
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeRecordStore(raw, databaseURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "memory":
		return "memory"
	case "file", "local":
		return "file"
	case "postgres", "pg":
		return "postgres"
	case "firestore":
		return "firestore"
	}
	if databaseURL != "" {
		return "postgres"
	}
	return "file"
}

func normalizeBlobStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "local":
		return "local"
	case "s3":
		return "s3"
	case "gcs":
		return "gcs"
	case "azblob", "azure":
		return "azblob"
	default:
		return "none"
	}
}

func normalizeOracleProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openai":
		return "openai"
	case "vertex", "gemini":
		return "vertex"
	default:
		return "placeholder"
	}
}

func normalizeOTPMode(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), "strict") {
		return "strict"
	}
	return "placeholder"
}
