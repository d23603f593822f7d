package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vriksha-code/verisure/internal/notify"
	"github.com/vriksha-code/verisure/internal/onboarding"
	"github.com/vriksha-code/verisure/internal/oracle"
	"github.com/vriksha-code/verisure/internal/oracle/openai"
	"github.com/vriksha-code/verisure/internal/oracle/vertex"
	"github.com/vriksha-code/verisure/internal/queue"
	"github.com/vriksha-code/verisure/internal/services/health"
	"github.com/vriksha-code/verisure/internal/shared/auth"
	"github.com/vriksha-code/verisure/internal/shared/config"
	"github.com/vriksha-code/verisure/internal/shared/server"
	"github.com/vriksha-code/verisure/internal/shared/storage/db"
	"github.com/vriksha-code/verisure/internal/shared/storage/object"
	"github.com/vriksha-code/verisure/internal/shared/storage/object/azure"
	"github.com/vriksha-code/verisure/internal/shared/storage/object/gcs"
	localstore "github.com/vriksha-code/verisure/internal/shared/storage/object/local"
	s3store "github.com/vriksha-code/verisure/internal/shared/storage/object/s3"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
	"github.com/vriksha-code/verisure/internal/submissions"
)

// App holds shared dependencies for every entry point.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Redis      *redis.Client
	Records    submissions.Store
	Feed       *submissions.Feed
	Blobs      object.ObjectStore
	Queue      queue.Client
	Oracle     oracle.Client
	Hub        *notify.Hub
	Service    *submissions.Service
	Onboarding *onboarding.Service
	Health     *health.Service

	closers []func() error
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx := context.Background()
	app := &App{Config: cfg, Health: health.NewService(), Hub: notify.NewHub(32)}
	auth.SetSecret(cfg.JWTSecret)

	if err := app.buildRecords(ctx); err != nil {
		app.Close()
		return nil, err
	}
	steps := []func(context.Context) error{app.buildBlobs, app.buildOracle, app.buildQueue, app.buildRedis}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.Close()
			return nil, err
		}
	}

	var notifier notify.Notifier = app.Hub
	var challenges onboarding.ChallengeStore = onboarding.NewMemoryChallengeStore()
	if app.Redis != nil {
		// Every process publishes; each API replica relays into its own hub.
		notifier = notify.NewRedisPublisher(app.Redis, cfg.NotificationsChannel)
		challenges = onboarding.NewRedisChallengeStore(app.Redis)
	}

	app.Service = &submissions.Service{
		Store:         app.Feed,
		Oracle:        app.Oracle,
		Blobs:         app.Blobs,
		Notifier:      notifier,
		Queue:         app.Queue,
		OracleTimeout: cfg.OracleTimeout,
		InlinePayload: cfg.InlinePayload,
		BatchLimit:    cfg.WorkerConcurrency,
	}
	app.Onboarding = &onboarding.Service{
		Store:        challenges,
		Mode:         onboarding.Mode(cfg.OTPMode),
		ChallengeTTL: cfg.OTPTTL,
		SessionTTL:   cfg.SessionTTL,
		Env:          cfg.Env,
	}

	filesDir := ""
	if local, ok := app.Blobs.(*localstore.Store); ok {
		filesDir = local.Dir()
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:      cfg,
		Submissions: submissions.NewHandler(app.Service, app.Hub),
		Onboarding:  onboarding.NewHandler(app.Onboarding),
		Health:      app.Health,
		FilesDir:    filesDir,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":             cfg.Env,
		"record_store":    cfg.RecordStore,
		"blob_store":      cfg.BlobStore,
		"oracle_provider": cfg.OracleProvider,
		"queue":           app.Queue != nil,
		"redis":           app.Redis != nil,
		"otp_mode":        cfg.OTPMode,
	})
	return app, nil
}

// Start runs the background loops of an API process until ctx ends.
func (a *App) Start(ctx context.Context) {
	if a.Feed != nil {
		go a.Feed.Run(ctx, a.Config.FeedPollInterval)
	}
	if a.Redis != nil {
		go func() {
			if err := notify.Relay(ctx, a.Redis, a.Config.NotificationsChannel, a.Hub); err != nil && ctx.Err() == nil {
				telemetry.Error("notify.relay_stopped", map[string]any{"err": err})
			}
		}()
	}
}

// Close releases every client opened by Build, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			telemetry.Warn("bootstrap.close_failed", map[string]any{"err": err})
		}
	}
	a.closers = nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildRecords(ctx context.Context) error {
	cfg := a.Config
	var store submissions.Store
	switch cfg.RecordStore {
	case "memory":
		store = submissions.NewMemoryStore()
	case "postgres":
		sqlDB, err := connectDB(ctx, cfg)
		if err != nil {
			if !isDevLike(cfg.Env) {
				return err
			}
			telemetry.Warn("bootstrap.db_unavailable", map[string]any{"err": err, "fallback": "memory"})
			store = submissions.NewMemoryStore()
			break
		}
		a.DB = sqlDB
		if !db.IsLambdaRuntime() {
			a.onClose(sqlDB.Close)
		}
		a.Health.Register("database", func(ctx context.Context) error { return db.Ping(ctx, sqlDB, 0) })
		store = &submissions.PGStore{DB: sqlDB}
	case "firestore":
		fs, err := submissions.NewFirestoreStore(ctx, cfg.GCPProject, cfg.FirestoreCollection)
		if err != nil {
			return err
		}
		a.onClose(fs.Close)
		store = fs
	default:
		fs, err := submissions.OpenFileStore(cfg.RecordFile)
		if err != nil {
			return err
		}
		a.onClose(fs.Close)
		store = fs
	}
	a.Records = store
	a.Feed = submissions.NewFeed(store)
	a.Health.Register("records", func(ctx context.Context) error {
		_, err := store.List(ctx, submissions.ListOptions{OwnerID: "readiness-probe", Limit: 1})
		return err
	})
	return nil
}

func connectDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for RECORD_STORE=postgres")
	}
	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, db.DefaultLambdaOptions().Override(db.Options(cfg.DBPool)))
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.DefaultServerOptions().Override(db.Options(cfg.DBPool)))
	}
	if err != nil {
		return nil, err
	}
	if isDevLike(cfg.Env) {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func (a *App) buildBlobs(ctx context.Context) error {
	cfg := a.Config
	switch cfg.BlobStore {
	case "local":
		a.Blobs = localstore.New(cfg.LocalStoreDir, cfg.PublicBaseURL)
	case "s3":
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return err
		}
		a.Blobs = store
	case "gcs":
		store, err := gcs.New(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return err
		}
		a.onClose(store.Close)
		a.Blobs = store
	case "azblob":
		store, err := azure.New(ctx, cfg.AzureAccountURL, cfg.AzureContainer)
		if err != nil {
			return err
		}
		a.Blobs = store
	}
	return nil
}

func (a *App) buildOracle(ctx context.Context) error {
	cfg := a.Config
	switch cfg.OracleProvider {
	case "openai":
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OracleModel, cfg.OracleTimeout)
		if err != nil {
			return err
		}
		a.Oracle = client
	case "vertex":
		client, err := vertex.NewClient(ctx, cfg.GCPProject, cfg.VertexLocation, cfg.OracleModel)
		if err != nil {
			return err
		}
		a.onClose(client.Close)
		a.Oracle = client
	default:
		a.Oracle = oracle.PlaceholderClient{}
	}
	return nil
}

func (a *App) buildQueue(ctx context.Context) error {
	if strings.TrimSpace(a.Config.SQSQueueURL) == "" {
		return nil
	}
	client, err := queue.NewSQSClient(ctx, a.Config.AWSRegion, a.Config.SQSQueueURL)
	if err != nil {
		return err
	}
	a.Queue = client
	return nil
}

func (a *App) buildRedis(ctx context.Context) error {
	if strings.TrimSpace(a.Config.RedisAddr) == "" {
		return nil
	}
	client, err := notify.NewRedisClient(ctx, a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	if err != nil {
		if isDevLike(a.Config.Env) {
			telemetry.Warn("bootstrap.redis_unavailable", map[string]any{"err": err})
			return nil
		}
		return err
	}
	a.Redis = client
	a.onClose(client.Close)
	a.Health.Register("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
