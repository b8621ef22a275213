package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"civicwatch/internal/analysis"
	analysisclient "civicwatch/internal/analysis/client"
	analysishandler "civicwatch/internal/analysis/handler"
	analysismetrics "civicwatch/internal/analysis/metrics"
	"civicwatch/internal/analysis/worker"
	caseshandler "civicwatch/internal/cases/handler"
	casesmetrics "civicwatch/internal/cases/metrics"
	"civicwatch/internal/cases/service"
	casestore "civicwatch/internal/cases/store"
	"civicwatch/internal/evidence/blob"
	evidencehandler "civicwatch/internal/evidence/handler"
	evidencemetrics "civicwatch/internal/evidence/metrics"
	"civicwatch/internal/evidence/pipeline"
	"civicwatch/internal/identity"
	"civicwatch/internal/platform/config"
	"civicwatch/internal/platform/httpserver"
	"civicwatch/internal/platform/logger"
	"civicwatch/internal/platform/metrics"
	"civicwatch/internal/platform/postgres"
	"civicwatch/internal/platform/redis"
	"civicwatch/internal/projection"
	"civicwatch/internal/projection/cache"
	projectionhandler "civicwatch/internal/projection/handler"
	projectionmetrics "civicwatch/internal/projection/metrics"
	ratelimitmetrics "civicwatch/internal/ratelimit/metrics"
	ratelimitmw "civicwatch/internal/ratelimit/middleware"
	ratelimitmodels "civicwatch/internal/ratelimit/models"
	"civicwatch/internal/ratelimit/store/bucket"
	httptransport "civicwatch/internal/transport/http"
	"civicwatch/pkg/platform/audit"
	"civicwatch/pkg/platform/audit/publisher"
	auditkafka "civicwatch/pkg/platform/audit/store/kafka"
	auditmemory "civicwatch/pkg/platform/audit/store/memory"
	auditpostgres "civicwatch/pkg/platform/audit/store/postgres"
	"civicwatch/pkg/platform/circuit"
)

const eventBufferSize = 1024

// caseRepository is the union of what the lifecycle, evidence, analysis and
// projection modules need from the store.
type caseRepository interface {
	service.Store
	pipeline.CaseStore
	analysis.CaseStore
	projection.CaseReader
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.UsesDevSigningKey() {
		log.Warn("JWT_SIGNING_KEY not set, using the development key")
	}
	health := map[string]httptransport.HealthCheck{}

	var (
		cases  caseRepository
		events publisher.Store
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer closeDB(db, log)
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		cases = casestore.NewPostgres(db)
		events = auditpostgres.New(db)
		health["database"] = db.PingContext
		log.Info("using postgres case repository")
	} else {
		cases = casestore.NewInMemory()
		events = auditmemory.NewInMemoryStore()
		log.Warn("DATABASE_URL not set, cases are kept in memory")
	}

	var sinks []audit.Store
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := newKafka(ctx, cfg.Kafka)
		if err != nil {
			return err
		}
		defer client.Close()
		sinks = append(sinks, auditkafka.New(client, cfg.Kafka.Topic))
		health["kafka"] = client.Ping
		log.Info("forwarding case events to kafka", "topic", cfg.Kafka.Topic)
	}
	auditPublisher := publisher.NewPublisher(events,
		publisher.WithAsyncBuffer(eventBufferSize),
		publisher.WithSinks(sinks...),
		publisher.WithLogger(log),
	)
	defer auditPublisher.Close()

	var viewCache projection.Cache = cache.NewMemory(cfg.Projection.CacheTTL)
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		defer func() { _ = rc.Close() }()
		viewCache = cache.NewRedis(rc.Client, cfg.Projection.CacheTTL)
		health["redis"] = rc.Health
		log.Info("caching projections in redis")
	}

	blobs, err := newBlobStore(cfg.Evidence, log)
	if err != nil {
		return err
	}

	analysisMetrics := analysismetrics.New()
	trigger := newTrigger(cfg.Analysis, cases,
		analysis.WithLogger(log),
		analysis.WithMetrics(analysisMetrics),
		analysis.WithAuditPublisher(auditPublisher),
	)
	pool := worker.New(trigger,
		worker.WithWorkers(cfg.Analysis.Workers),
		worker.WithQueueSize(cfg.Analysis.QueueSize),
		worker.WithJobTimeout(2*cfg.Analysis.Timeout),
		worker.WithLogger(log),
		worker.WithMetrics(analysisMetrics),
	)

	caseService := service.New(cases,
		service.WithLogger(log),
		service.WithMetrics(casesmetrics.New()),
		service.WithAuditPublisher(auditPublisher),
		service.WithEventLister(auditPublisher),
	)
	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithMetrics(evidencemetrics.New()),
		pipeline.WithAuditPublisher(auditPublisher),
		pipeline.WithMaxBytes(cfg.Evidence.MaxBytes),
	}
	if cfg.Evidence.AutoAnalyze {
		pipelineOpts = append(pipelineOpts, pipeline.WithAnalysisEnqueuer(pool))
	}
	evidencePipeline := pipeline.New(cases, blobs, pipelineOpts...)
	projector := projection.New(cases,
		projection.WithCache(viewCache),
		projection.WithCellLevel(cfg.Projection.MapCellLevel),
		projection.WithLogger(log),
		projection.WithMetrics(projectionmetrics.New()),
	)

	var buckets ratelimitmw.BucketStore = bucket.NewInMemoryBucketStore()
	if rc != nil {
		buckets = bucket.NewRedisBucketStore(rc.Client)
	}
	limiter := ratelimitmw.New(buckets, log,
		ratelimitmw.WithLimit(ratelimitmodels.ClassRead, ratelimitmodels.Limit{Requests: cfg.RateLimit.Reads, Window: cfg.RateLimit.Window}),
		ratelimitmw.WithLimit(ratelimitmodels.ClassWrite, ratelimitmodels.Limit{Requests: cfg.RateLimit.Writes, Window: cfg.RateLimit.Window}),
		ratelimitmw.WithMetrics(ratelimitmetrics.New()),
	)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:    log,
		Resolver:  identity.NewJWTResolver(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer),
		Metrics:   metrics.New(),
		Health:    health,
		RateLimit: limiter.PerActor,
		Modules: []httptransport.Registrar{
			caseshandler.New(caseService, log),
			evidencehandler.New(evidencePipeline, log),
			analysishandler.New(trigger, log),
			projectionhandler.New(projector, log),
		},
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting civicwatch", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// newTrigger builds the analysis trigger around the HTTP collaborators. The
// anchorer is optional; without it cases are analyzed but never anchored.
func newTrigger(cfg config.AnalysisConfig, cases analysis.CaseStore, opts ...analysis.Option) *analysis.Trigger {
	log := slog.Default()
	if cfg.AnalyzerURL == "" {
		log.Warn("ANALYZER_URL not set, analysis requests will fail as unavailable")
	}
	analyzer := analysisclient.NewAnalyzer(cfg.AnalyzerURL, cfg.Timeout,
		analysisclient.WithBreaker(newBreaker("analyzer", cfg)),
		analysisclient.WithLogger(log),
	)
	if cfg.AnchorURL != "" {
		opts = append(opts, analysis.WithAnchorer(analysisclient.NewAnchorer(cfg.AnchorURL, cfg.Timeout,
			analysisclient.WithBreaker(newBreaker("anchor", cfg)),
			analysisclient.WithLogger(log),
		)))
	}
	return analysis.New(cases, analyzer, opts...)
}

func newBreaker(name string, cfg config.AnalysisConfig) *circuit.Breaker {
	return circuit.New(name,
		circuit.WithFailureThreshold(cfg.FailureThreshold),
		circuit.WithCooldown(cfg.Cooldown),
	)
}

func newBlobStore(cfg config.EvidenceConfig, log *slog.Logger) (blob.Store, error) {
	if cfg.BlobDir == "" {
		log.Warn("BLOB_DIR not set, evidence is kept in memory")
		return blob.NewMemory(), nil
	}
	fs, err := blob.NewFileSystem(cfg.BlobDir)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func newKafka(ctx context.Context, cfg config.KafkaConfig) (*kgo.Client, error) {
	client, err := auditkafka.NewClient(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	if err := auditkafka.EnsureTopic(ctx, client, cfg.Topic, 3, 1); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func closeDB(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Error("failed to close database", "error", err)
	}
}
