package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/putuastawa/visioncap/internal/application"
	appanalyses "github.com/putuastawa/visioncap/internal/application/analyses"
	"github.com/putuastawa/visioncap/internal/config"
	accdomain "github.com/putuastawa/visioncap/internal/domain/accounts"
	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
	mysqlp "github.com/putuastawa/visioncap/internal/infra/db/mysql"
	postgresp "github.com/putuastawa/visioncap/internal/infra/db/postgres"
	"github.com/putuastawa/visioncap/internal/infra/queue/redisq"
	minioStore "github.com/putuastawa/visioncap/internal/infra/storage"
	"github.com/putuastawa/visioncap/internal/logger"
	"github.com/putuastawa/visioncap/internal/vision"
	"github.com/putuastawa/visioncap/internal/vision/oai"
)

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, domain.Repository, domain.ErrorRepository, accdomain.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db, postgresp.NewAnalysisRepository(db), postgresp.NewErrorRepository(db), postgresp.NewUserRepository(db), nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db, mysqlp.NewAnalysisRepository(db), mysqlp.NewErrorRepository(db), mysqlp.NewUserRepository(db), nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, repo, errRepo, userRepo, err := openDatabase(ctx, cfg)
	if err != nil {
		lg.Fatal("database connect error", "driver", cfg.Database.Driver, "err", err)
	}
	defer db.Close()

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

	engine := oai.NewEngine(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name)
	visionH := vision.NewHandler(engine, vision.NvidiaProbe{}, lg, cfg.Model.MinGPUMemGiB)
	if err := visionH.Load(ctx); err != nil {
		lg.Fatal("vision model load error", "err", err)
	}
	lg.Info("vision model ready", "device", visionH.Device(), "precision", visionH.Precision())

	svc := &appanalyses.Service{
		Repo:   repo,
		Errors: errRepo,
		Images: store,
		Queue:  queue,
		Vision: visionH,
		Users:  userRepo,
		Clock:  application.SystemClock{},
		Log:    lg,
	}

	if err := queue.Run(ctx, svc.Execute); err != nil && err != context.Canceled {
		lg.Error("worker loop stopped", "err", err)
	}
	lg.Info("worker shut down")
}
