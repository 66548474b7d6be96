package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume source records and process queue jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		return a.runWorker(ctx)
	},
}

func (a *app) newPool() *worker.Pool {
	pool := worker.NewPool(a.queue, redis.NewLocker(a.redis, redis.DefaultLockPrefix), worker.Config{
		Name:          a.cfg.WorkerName,
		WorkerCount:   a.cfg.WorkerCount,
		PollInterval:  a.cfg.QueuePollInterval,
		SweepInterval: a.cfg.QueueSweepInterval,
	}, a.logger)

	pool.Register(models.JobTypeMatchSKU, worker.MatchSKU(a.matcher))
	pool.Register(models.JobTypeRematchMapping, worker.RematchMapping(a.matcher))
	pool.Register(models.JobTypeRetentionCleanup, worker.RetentionCleanup(a.mappings, a.cfg.RejectedRetentionDays, nil))
	return pool
}

func (a *app) runWorker(ctx context.Context) error {
	log := a.logger.WithContext(ctx)

	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", a.cfg.MetricsPort), Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()

	pool := a.newPool()
	if err := pool.Start(ctx); err != nil {
		return err
	}

	var consumer *kafka.Consumer
	if a.cfg.KafkaIngestEnabled {
		handler := ingest.NewHandler(a.queue, models.JobPriorityNormal, a.logger)
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       a.cfg.KafkaBrokers,
			Topic:         a.cfg.KafkaIngestTopic,
			ConsumerGroup: a.cfg.KafkaConsumerGroup,
		}, a.logger, handler.HandleMessage)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Info("Kafka ingestion disabled")
	}

	<-ctx.Done()
	log.Info("Shutting down worker...")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if consumer != nil {
		errs = append(errs, consumer.Stop())
	}
	errs = append(errs, pool.Stop(stopCtx), metricsServer.Shutdown(stopCtx))
	return errors.Join(errs...)
}
