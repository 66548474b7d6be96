package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// JobQueue is the queue behind the operational endpoints
type JobQueue interface {
	EnqueueRaw(ctx context.Context, jobType models.JobType, raw json.RawMessage, opts models.EnqueueOptions) (*models.QueueJob, error)
	Get(ctx context.Context, id string) (*models.QueueJob, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
	ResetStuckJobs(ctx context.Context, timeout time.Duration) (int, error)
}

// Register registers the operational queue routes. Handlers resolve the
// JobQueue from the request's dependency container.
func Register(g *echo.Group) {
	g.GET("/stats", Stats)
	g.POST("/jobs", Enqueue)
	g.GET("/jobs/:id", GetJob)
	g.POST("/reset-stuck", ResetStuck)
}

func resolve(c echo.Context) (context.Context, JobQueue, error) {
	ctx, queue, err := ectoinject.GetContext[JobQueue](c.Request().Context())
	if err != nil {
		return ctx, nil, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	return ctx, queue, nil
}

// Stats returns job counts by status, type and worker
// GET /queue/stats
func Stats(c echo.Context) error {
	ctx, queue, err := resolve(c)
	if err != nil {
		return err
	}

	stats, err := queue.Stats(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// Enqueue stores a job after validating its payload against the job type
// POST /queue/jobs
func Enqueue(c echo.Context) error {
	body, err := utils.BindRequest[models.EnqueueJobRequest](c)
	if err != nil {
		return err
	}

	ctx, queue, err := resolve(c)
	if err != nil {
		return err
	}

	job, err := queue.EnqueueRaw(ctx, body.JobType, body.Payload, models.EnqueueOptions{
		Priority:    body.Priority,
		ScheduledAt: body.ScheduledAt,
		MaxAttempts: body.MaxAttempts,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, job)
}

// GetJob returns one job
// GET /queue/jobs/:id
func GetJob(c echo.Context) error {
	ctx, queue, err := resolve(c)
	if err != nil {
		return err
	}

	job, err := queue.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// ResetStuck releases jobs stuck in processing. The optional timeout query
// parameter is a Go duration and defaults to the configured stuck timeout.
// POST /queue/reset-stuck
func ResetStuck(c echo.Context) error {
	var timeout time.Duration
	if raw := c.QueryParam("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return errors.Newf(errors.KindValidation, "timeout %q must be a positive duration", raw)
		}
		timeout = d
	}

	ctx, queue, err := resolve(c)
	if err != nil {
		return err
	}

	reset, err := queue.ResetStuckJobs(ctx, timeout)
	if err != nil {
		return err
	}

	if _, logger, err := ectoinject.GetContext[ectologger.Logger](ctx); err == nil {
		logger.WithContext(ctx).WithField("reset", reset).Info("Reset stuck jobs on request")
	}
	return c.JSON(http.StatusOK, map[string]int{"reset": reset})
}
