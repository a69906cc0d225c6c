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

	"github.com/bryanwahyu/voiceguard/internal/application"
	appanalysis "github.com/bryanwahyu/voiceguard/internal/application/analysis"
	"github.com/bryanwahyu/voiceguard/internal/config"
	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
	openaic "github.com/bryanwahyu/voiceguard/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/voiceguard/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/voiceguard/internal/infra/db/postgres"
	sqlitep "github.com/bryanwahyu/voiceguard/internal/infra/db/sqlite"
	"github.com/bryanwahyu/voiceguard/internal/infra/detector/simulated"
	"github.com/bryanwahyu/voiceguard/internal/infra/httpserver"
	"github.com/bryanwahyu/voiceguard/internal/infra/memory"
	"github.com/bryanwahyu/voiceguard/internal/infra/storage"
	"github.com/bryanwahyu/voiceguard/internal/middleware"
)

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

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	checkers := map[string]middleware.HealthChecker{}

	// init history repo
	repo, db, err := openHistory(ctx, cfg)
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}
	if db != nil {
		defer db.Close()
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}
	if cfg.Database.SeedDemo {
		if err := memory.SeedDemo(ctx, repo, "demo", time.Now().UTC()); err != nil {
			log.Printf("seed demo error: %v", err)
		}
	}

	// init audio store
	var audio domain.AudioStore
	if cfg.Minio.Enabled {
		store, err := storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		audio = store
		checkers["storage"] = middleware.CheckerFunc(store.Check)
	} else {
		audio = storage.NewSimulated(cfg.Simulation.UploadDelay)
	}

	// init detector
	var detector domain.Detector
	if cfg.OpenAI.APIKey != "" {
		detector = openaic.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
		log.Printf("detector: openai model=%s", cfg.OpenAI.Model)
	} else {
		detector = simulated.NewDetector(cfg.Simulation.AnalysisDelay)
		log.Printf("detector: simulated delay=%s", cfg.Simulation.AnalysisDelay)
	}

	// init sessions
	sessions := memory.NewSessionStore()
	sessions.StartJanitor(ctx, cfg.Session.TTL, 0, func(s *domain.Session) {
		if p := s.LocalPath(); p != "" {
			_ = os.Remove(p)
		}
		log.Printf("session evicted: tenant=%s session=%s", s.TenantID, s.ID)
	})

	// init service
	svc := &appanalysis.Service{
		Sessions:  sessions,
		History:   repo,
		Audio:     audio,
		Detector:  detector,
		Validator: cfg.Validator(),
		Clock:     application.SystemClock{},
		Events:    appanalysis.NewBroker(),
		Observer:  middleware.AnalysisObserver{},
	}

	// init router
	readiness := &middleware.Readiness{}
	mux := chi.NewRouter()
	mux.Mount("/", httpserver.NewRouter(svc, httpserver.Options{
		TempDir:        cfg.Upload.TempDir,
		APIKeys:        cfg.Auth.APIKeys,
		RateCapacity:   cfg.RateLimit.Capacity,
		RateRefill:     cfg.RateLimit.RefillRate,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Checkers:       checkers,
		Readiness:      readiness,
	}))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")
	readiness.Drain()

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stopBackground()
	svc.Shutdown()
}

// openHistory picks the history backend by database.driver. db is nil for
// the in-memory driver.
func openHistory(ctx context.Context, cfg *config.Config) (domain.Repository, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlitep.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		return sqlitep.NewHistoryRepository(db), db, nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		repo := mysqlp.NewHistoryRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("mysql migrate: %w", err)
		}
		return repo, db, nil
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		repo := postgresp.NewHistoryRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return repo, db, nil
	default:
		return memory.NewHistoryRepository(), nil, nil
	}
}
