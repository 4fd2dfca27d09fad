package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	settings  asynq.Config
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
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

// DefaultConcurrency is the worker pool size used when none is configured.
const DefaultConcurrency = 5

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	// Concurrency bounds tasks processed at once. Zero means DefaultConcurrency.
	Concurrency int
	// Queues maps queue names to priority weights. Empty means DefaultQueues.
	Queues          map[string]int
	StrictPriority  bool
	ShutdownTimeout time.Duration
	Handlers        []TaskHandler
	Cron            []CronRegistration
}

// ServerConfig resolves the Asynq server settings, rejecting queues that would never be served.
func (cfg WorkerConfig) ServerConfig() (asynq.Config, error) {
	concurrency := cfg.Concurrency
	if concurrency < 0 {
		return asynq.Config{}, fmt.Errorf("worker: concurrency must not be negative, got %d", concurrency)
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = DefaultQueues()
	}
	for name, priority := range queues {
		if strings.TrimSpace(name) == "" {
			return asynq.Config{}, errors.New("worker: queue name must not be empty")
		}
		if priority <= 0 {
			return asynq.Config{}, fmt.Errorf("worker: queue %s priority must be positive, got %d", name, priority)
		}
	}
	for _, h := range cfg.Handlers {
		if h.Type == "" {
			continue
		}
		if queue := QueueFor(h.Type); queues[queue] == 0 {
			return asynq.Config{}, fmt.Errorf("worker: %s is routed to queue %s which is not served", h.Type, queue)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return asynq.Config{
		Concurrency:     concurrency,
		Queues:          queues,
		StrictPriority:  cfg.StrictPriority,
		ShutdownTimeout: cfg.ShutdownTimeout,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn("job failed", slog.String("job", task.Type()), slog.Int("retried", retried), slog.Int("max_retry", maxRetry), slog.Any("error", err))
		}),
	}, nil
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	settings, err := cfg.ServerConfig()
	if err != nil {
		return nil, err
	}
	srv := asynq.NewServer(cfg.RedisOpts, settings)
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{server: srv, mux: mux, scheduler: scheduler, settings: settings, logger: logger}, nil
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
	w.logger.Info("worker started", slog.Int("concurrency", w.settings.Concurrency), slog.Any("queues", w.settings.Queues))
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

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueGLIntegrity enqueues an on-demand GL integrity check. Zero checks every period.
func (c *Client) EnqueueGLIntegrity(ctx context.Context, periodID int64) (*asynq.TaskInfo, error) {
	task, err := NewGLIntegrityTask(periodID)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueFor(TaskGLIntegrity)), asynq.MaxRetry(3))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector *asynq.Inspector
	queues    []string
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. Without queues it reports the
// ledger and default queues.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger, queues ...string) *Handler {
	if len(queues) == 0 {
		queues = []string{QueueLedger, QueueDefault}
	}
	return &Handler{inspector: inspector, queues: queues, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Retry   int    `json:"retry"`
	Paused  bool   `json:"paused"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	report := make([]queueHealth, 0, len(h.queues))
	for _, name := range h.queues {
		entry := queueHealth{Queue: name}
		if h.inspector != nil {
			info, err := h.inspector.GetQueueInfo(name)
			switch {
			case errors.Is(err, asynq.ErrQueueNotFound):
			case err != nil:
				h.logger.Warn("jobs health", slog.String("queue", name), slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			case info != nil:
				entry.Pending = info.Pending
				entry.Retry = info.Retry
				entry.Paused = info.Paused
			}
		}
		report = append(report, entry)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"queues": report})
}
