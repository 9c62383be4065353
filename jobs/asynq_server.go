package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// Worker wraps the Asynq server and its cron scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker. Handlers without a type are ignored; an
// invalid cron spec fails construction.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		Logger:       slogAdapter{logger: logger.With(slog.String("component", "asynq"))},
		ErrorHandler: asynq.ErrorHandlerFunc(taskErrorHandler(logger)),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
			Location: time.UTC,
			Logger:   slogAdapter{logger: logger.With(slog.String("component", "scheduler"))},
		})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, fmt.Errorf("jobs: register %s at %q: %w", entry.Task.Type(), entry.Spec, err)
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

func taskErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Error("task failed",
			slog.String("task", task.Type()),
			slog.Int("retry", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err))
	}
}

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

func (a slogAdapter) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}

// Client submits jobs to the queue outside the cron schedule.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueReservationSweep schedules an immediate expiry sweep.
func (c *Client) EnqueueReservationSweep(ctx context.Context, batchSize int) (*asynq.TaskInfo, error) {
	task, err := NewReservationSweepTask(batchSize)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// EnqueueOutboxDrain schedules an immediate outbox drain.
func (c *Client) EnqueueOutboxDrain(ctx context.Context) (*asynq.TaskInfo, error) {
	task, err := NewOutboxDrainTask()
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueHealth summarises one queue for the health endpoint.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
}

// Handler exposes queue health and manual triggers over HTTP.
type Handler struct {
	inspector *asynq.Inspector
	client    *Client
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. client may be nil,
// in which case the trigger routes are not mounted.
func NewHandler(inspector *asynq.Inspector, client *Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, client: client, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	if h.client != nil {
		r.Post("/reservations/expire", h.triggerSweep)
		r.Post("/outbox/drain", h.triggerDrain)
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, QueueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "job queue could not be inspected")
		return
	}
	httpx.JSON(w, http.StatusOK, QueueHealth{
		Queue:     info.Queue,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
		Paused:    info.Paused,
	})
}

func (h *Handler) triggerSweep(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.EnqueueReservationSweep(r.Context(), 0)
	h.respondEnqueued(w, info, err)
}

func (h *Handler) triggerDrain(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.EnqueueOutboxDrain(r.Context())
	h.respondEnqueued(w, info, err)
}

func (h *Handler) respondEnqueued(w http.ResponseWriter, info *asynq.TaskInfo, err error) {
	if err != nil {
		h.logger.Error("enqueue task", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "task could not be enqueued")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
}
