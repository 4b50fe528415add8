package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/putuastawa/visioncap/internal/application"
	appaccounts "github.com/putuastawa/visioncap/internal/application/accounts"
	appanalyses "github.com/putuastawa/visioncap/internal/application/analyses"
	"github.com/putuastawa/visioncap/internal/config"
	accdomain "github.com/putuastawa/visioncap/internal/domain/accounts"
	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
	mysqlp "github.com/putuastawa/visioncap/internal/infra/db/mysql"
	postgresp "github.com/putuastawa/visioncap/internal/infra/db/postgres"
	"github.com/putuastawa/visioncap/internal/infra/httpserver"
	"github.com/putuastawa/visioncap/internal/infra/queue/redisq"
	minioStore "github.com/putuastawa/visioncap/internal/infra/storage"
	"github.com/putuastawa/visioncap/internal/logger"
	"github.com/putuastawa/visioncap/internal/middleware"
	"github.com/putuastawa/visioncap/internal/stt"
	"github.com/putuastawa/visioncap/internal/vision"
	"github.com/putuastawa/visioncap/internal/vision/oai"
)

type repositories struct {
	analyses domain.Repository
	objects  domain.ObjectRepository
	errors   domain.ErrorRepository
	users    accdomain.Repository
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, *repositories, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		return db, &repositories{
			analyses: postgresp.NewAnalysisRepository(db),
			objects:  postgresp.NewObjectRepository(db),
			errors:   postgresp.NewErrorRepository(db),
			users:    postgresp.NewUserRepository(db),
		}, nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		return db, &repositories{
			analyses: mysqlp.NewAnalysisRepository(db),
			objects:  mysqlp.NewObjectRepository(db),
			errors:   mysqlp.NewErrorRepository(db),
			users:    mysqlp.NewUserRepository(db),
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer lg.Sync()

	ctx := context.Background()

	// connect database
	db, repos, err := openDatabase(ctx, cfg)
	if err != nil {
		lg.Fatal("database connect error", "driver", cfg.Database.Driver, "err", err)
	}
	defer db.Close()

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		lg.Fatal("minio init error", "err", err)
	}

	// init queue
	queue := redisq.New(redisq.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		QueueName:   cfg.Redis.QueueName,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
		JobTimeout:  cfg.Redis.JobTimeout.Duration,
		ResultTTL:   cfg.Redis.ResultTTL.Duration,
	}, lg)
	defer queue.Close()

	// init vision handler
	engine := oai.NewEngine(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name)
	visionH := vision.NewHandler(engine, vision.NvidiaProbe{}, lg, cfg.Model.MinGPUMemGiB)
	if err := visionH.Load(ctx); err != nil {
		// fallback path can still load lazily on first request
		lg.Warn("vision model warm-up failed", "err", err)
	}

	// init services
	analysesSvc := &appanalyses.Service{
		Repo:    repos.analyses,
		Objects: repos.objects,
		Errors:  repos.errors,
		Images:  store,
		Queue:   queue,
		Vision:  visionH,
		Users:   repos.users,
		Clock:   application.SystemClock{},
		Log:     lg,
	}
	accountsSvc := &appaccounts.Service{
		Repo:     repos.users,
		Pictures: store,
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: cfg.Auth.TokenTTL.Duration,
		Clock:    application.SystemClock{},
		Log:      lg,
	}

	// speech-to-text is opt-in, handlers answer 503 when off
	var recognizer *stt.Recognizer
	if cfg.STT.Enabled {
		recognizer = stt.NewRecognizer(
			stt.NewMalgoCapture(),
			stt.NewWhisperTranscriber(cfg.Model.BaseURL, cfg.Model.APIKey, ""),
			time.Duration(cfg.STT.RecordSeconds)*time.Second,
			lg,
		)
	}

	// init router
	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.RequestLogging(lg))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.RateLimitMiddleware(60, 1))

	mux.Get("/health", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
		"queue":    &middleware.PingHealthChecker{Target: queue},
		"storage":  &middleware.PingHealthChecker{Target: store},
	}))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Mount("/", httpserver.NewRouter(analysesSvc, accountsSvc, recognizer, []byte(cfg.Auth.JWTSecret), lg))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		lg.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("server error", "err", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	lg.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		lg.Error("shutdown error", "err", err)
	}
}
