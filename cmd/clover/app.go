package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/masterproduct"
	"github.com/Ramsey-B/clover/internal/repositories/queuejob"
	"github.com/Ramsey-B/clover/internal/repositories/skumapping"
	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/inject"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/queue"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/routes/masters"
	queueroutes "github.com/Ramsey-B/clover/pkg/routes/queue"
	verificationroutes "github.com/Ramsey-B/clover/pkg/routes/verification"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
	"github.com/Ramsey-B/clover/pkg/verification"
)

// app holds the components shared by every command
type app struct {
	cfg    *config.Config
	logger ectologger.Logger
	zap    *zap.Logger
	deps   *startup.Startup

	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer

	hooks    *events.Hooks
	masters  *masterproduct.Repository
	mappings *skumapping.Repository
	jobs     *queuejob.Repository
	queue    *queue.Queue
	matcher  *matching.Matcher
	workflow *verification.Workflow

	// resolved by the HTTP handlers through ectoinject
	container ectocontainer.DIContainer

	shutdownTracing func(context.Context) error
}

// newApp loads configuration, connects to Postgres, Redis and Kafka and
// builds the domain services on top of them.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, zl, err := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.PrettyLogs,
		AppName: cfg.AppName,
		Version: cfg.Version,
	})
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Enabled:     cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		},
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:             cfg,
		logger:          logger,
		zap:             zl,
		deps:            startup.New(logger, cfg.StartupMaxAttempts),
		shutdownTracing: shutdownTracing,
	}

	a.deps.Add(startup.Func{
		Name: "postgres",
		StartFn: func(ctx context.Context) error {
			db, err := database.Open(ctx, database.Config{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}
			a.db = db
			return nil
		},
		StopFn: func(context.Context) error { return a.db.Close() },
	})
	a.deps.Add(startup.Func{
		Name: "redis",
		StartFn: func(ctx context.Context) error {
			client, err := redis.NewClient(ctx, redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			if err != nil {
				return err
			}
			a.redis = client
			return nil
		},
		StopFn: func(context.Context) error { return a.redis.Close() },
	})
	a.deps.Add(startup.Func{
		Name: "kafka-producer",
		StartFn: func(context.Context) error {
			a.producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      cfg.KafkaBrokers,
				BatchTimeout: 10 * time.Millisecond,
				RequiredAcks: 1,
			}, logger)
			return nil
		},
		StopFn: func(context.Context) error { return a.producer.Close() },
	})

	if err := a.deps.Start(ctx); err != nil {
		_ = a.shutdownTracing(ctx)
		return nil, err
	}

	if err := a.wire(); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	overrides, err := a.cfg.ReliabilityOverrides()
	if err != nil {
		return err
	}

	sink := events.NewKafkaSink(a.producer, a.cfg.KafkaAuditTopic, a.cfg.KafkaAlertTopic)
	invalidator := cache.NewRedisInvalidator(a.redis, a.cfg.RedisCachePrefix, a.cfg.RedisInvalidationChannel, a.logger)
	a.hooks = events.NewHooks(a.logger, sink, invalidator, sink)

	a.masters = masterproduct.NewRepository(a.db, a.logger)
	a.mappings = skumapping.NewRepository(a.db, a.logger)
	a.jobs = queuejob.NewRepository(a.db, a.logger)

	a.queue = queue.NewQueue(a.jobs, a.hooks, queue.Config{
		MaxAttempts:  a.cfg.QueueMaxAttempts,
		RetryDelay:   a.cfg.QueueRetryDelay,
		StuckTimeout: a.cfg.QueueStuckTimeout,
	}, a.logger)

	finder := matching.NewCandidateFinder(a.masters, matching.FinderConfig{
		FuzzyWindow:    a.cfg.MatchFuzzyWindow,
		FuzzyThreshold: a.cfg.FuzzyMinSimilarity,
		DefaultLimit:   a.cfg.MatchCandidateLimit,
	}, a.logger)
	a.matcher = matching.NewMatcher(finder, matching.NewConfidenceEngine(overrides), a.mappings, a.hooks, matching.Config{
		AutoAcceptThreshold:    a.cfg.AutoAcceptThreshold,
		LowConfidenceThreshold: a.cfg.LowConfidenceThreshold,
		PendingAlertThreshold:  a.cfg.PendingQueueAlertThreshold,
		CandidateLimit:         a.cfg.MatchCandidateLimit,
	}, a.logger)

	a.workflow = verification.NewWorkflow(a.mappings, a.masters, a.matcher, database.Runner(a.db), a.hooks, verification.DefaultConfig(), a.logger)
	return a.provide()
}

// provide registers the services the HTTP handlers resolve per request
func (a *app) provide() error {
	container, err := inject.NewContainer(a.cfg.AppName)
	if err != nil {
		return err
	}

	for _, register := range []func() error{
		func() error { return inject.Provide(container, a.logger) },
		func() error { return inject.Provide(container, a.hooks) },
		func() error { return inject.Provide[verificationroutes.Workflow](container, a.workflow) },
		func() error { return inject.Provide[masters.Store](container, a.masters) },
		func() error { return inject.Provide[masters.Deactivator](container, a.workflow) },
		func() error { return inject.Provide[queueroutes.JobQueue](container, a.queue) },
	} {
		if err := register(); err != nil {
			return err
		}
	}

	a.container = container
	return nil
}

// close stops the dependencies in reverse start order and flushes traces
// and logs
func (a *app) close(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.deps.Stop(stopCtx); err != nil {
		a.logger.WithContext(stopCtx).WithError(err).Error("Failed to stop dependencies")
	}
	if err := a.shutdownTracing(stopCtx); err != nil {
		a.logger.WithContext(stopCtx).WithError(err).Warn("Failed to flush traces")
	}
	_ = a.zap.Sync()
}
