package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/catalog"
	"github.com/desertthunder/dlx/internal/engine"
	"github.com/desertthunder/dlx/internal/metrics"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/repositories"
	"github.com/desertthunder/dlx/internal/shared"
	"golang.org/x/time/rate"
)

// Config sizes the worker pool.
type Config struct {
	Workers       int           // Concurrent workers (default: 4)
	QueueSize     int           // Tasks waiting for a worker before submissions are refused (default: 64)
	Timeout       time.Duration // Per-task bound on the engine call; zero disables it
	EngineRate    float64       // Engine invocations per second across workers; zero disables the limit
	DefaultFormat string        // Format used when a request names none
}

// ConfigFromShared converts the [tasks] and [engine] config sections.
func ConfigFromShared(cfg *shared.Config) Config {
	return Config{
		Workers:       cfg.Tasks.Workers,
		QueueSize:     cfg.Tasks.QueueSize,
		Timeout:       cfg.Tasks.Timeout,
		EngineRate:    cfg.Tasks.EngineRate,
		DefaultFormat: cfg.Engine.OutputFormatDefault,
	}
}

// Orchestrator accepts job submissions, registers them, and executes them on
// a fixed pool of workers. Submission never blocks on the engine.
type Orchestrator struct {
	registry *Registry
	engine   engine.Engine
	store    *artifacts.Store
	namer    catalog.Namer
	cache    repositories.ResolveCache
	cacheTTL time.Duration
	metrics  *metrics.Collector
	logger   *log.Logger
	events   chan<- Event
	limiter  *rate.Limiter
	cfg      Config

	jobs    chan string
	queued  atomic.Int64
	running atomic.Int64

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures optional collaborators of an [Orchestrator].
type Option func(*Orchestrator)

// WithNamer names artifacts after catalog metadata.
func WithNamer(n catalog.Namer) Option {
	return func(o *Orchestrator) { o.namer = n }
}

// WithResolveCache caches resolved URLs for ttl.
func WithResolveCache(c repositories.ResolveCache, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// WithMetrics records task metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEvents delivers lifecycle events to ch without blocking; events are
// dropped when ch is full.
func WithEvents(ch chan<- Event) Option {
	return func(o *Orchestrator) { o.events = ch }
}

// New creates an orchestrator. Call [Orchestrator.Start] to begin executing tasks.
func New(registry *Registry, eng engine.Engine, store *artifacts.Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = engine.DefaultFormat
	}

	o := &Orchestrator{
		registry: registry,
		engine:   eng,
		store:    store,
		cfg:      cfg,
		jobs:     make(chan string, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = shared.NewLogger(nil)
	}
	o.logger = shared.WithLogger(o.logger, "component", "orchestrator")
	if cfg.EngineRate > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.EngineRate), 1)
	}
	return o
}

// Registry returns the task registry the orchestrator writes to.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Store returns the artifact store tasks write into.
func (o *Orchestrator) Store() *artifacts.Store { return o.store }

// Start launches the worker pool. Workers stop when ctx is cancelled or
// after [Orchestrator.Shutdown] drains the queue.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return
	}
	o.started = true
	o.ctx, o.cancel = context.WithCancel(ctx)

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(o.ctx)
	}
	o.logger.Info("workers started", "workers", o.cfg.Workers, "queue_size", o.cfg.QueueSize, "timeout", o.cfg.Timeout)
}

// Submit validates req for kind, registers a pending task and queues it.
// It fails with [shared.ErrInvalidRequest] before any task exists when the
// request is malformed, and with [shared.ErrQueueFull] when the queue is at capacity.
func (o *Orchestrator) Submit(kind models.Kind, req models.Request) (string, error) {
	normalized, err := Validate(kind, req, o.cfg.DefaultFormat, o.store.Resolve)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return "", shared.ErrShuttingDown
	}

	if o.queued.Add(1) > int64(o.cfg.QueueSize) {
		o.queued.Add(-1)
		return "", fmt.Errorf("%w: %d tasks waiting", shared.ErrQueueFull, o.cfg.QueueSize)
	}

	id, err := o.registry.Create(kind, normalized)
	if err != nil {
		o.queued.Add(-1)
		return "", err
	}

	// Capacity is reserved above, so this send never blocks.
	o.jobs <- id

	o.metrics.TaskSubmitted(string(kind))
	o.logger.Info("task submitted", "task_id", id, "kind", kind)
	o.emit(Event{Phase: PhaseQueued, TaskID: id, Kind: kind, State: models.StatePending})
	return id, nil
}

// Resolution is the answer of [Orchestrator.ResolveSync].
type Resolution struct {
	Request models.Request // Normalized request
	URLs    []string
	Cached  bool // Answered from the resolve cache
}

// ResolveSync resolves req.Source inline without creating a task.
func (o *Orchestrator) ResolveSync(ctx context.Context, req models.Request) (*Resolution, error) {
	normalized, err := Validate(models.KindResolveLink, req, o.cfg.DefaultFormat, nil)
	if err != nil {
		return nil, err
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	urls, cached, err := o.resolve(ctx, normalized.Source)
	if err != nil {
		return nil, err
	}
	return &Resolution{Request: normalized, URLs: urls, Cached: cached}, nil
}

// Wait blocks until the task is terminal or ctx ends and returns its snapshot.
func (o *Orchestrator) Wait(ctx context.Context, id string) (models.Task, error) {
	done, err := o.registry.Done(id)
	if err != nil {
		return models.Task{}, err
	}

	select {
	case <-done:
		return o.registry.Get(id)
	case <-ctx.Done():
		return models.Task{}, ctx.Err()
	}
}

// Delete purges a terminal task's artifact and then removes the task.
func (o *Orchestrator) Delete(id string) error {
	err := o.registry.Delete(id, func(t models.Task) error {
		if t.Result == nil || t.Result.Path == "" {
			return nil
		}
		return o.store.Purge(t.Result.Path, artifacts.ReasonDelete)
	})
	if err != nil {
		return err
	}

	o.logger.Info("task deleted", "task_id", id)
	o.emit(Event{Phase: PhaseDeleted, TaskID: id})
	return nil
}

// Stats is a point-in-time view of the worker pool.
type Stats struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
}

// Stats reports pool occupancy.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Workers:   o.cfg.Workers,
		QueueSize: o.cfg.QueueSize,
		Queued:    int(o.queued.Load()),
		Running:   int(o.running.Load()),
	}
}

// Shutdown stops accepting submissions and waits for queued and running
// tasks to finish. If ctx ends first, in-flight engine calls are cancelled
// and ctx's error is returned. When workers were never started, queued
// tasks fail immediately.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.jobs)
	started := o.started
	o.mu.Unlock()

	if !started {
		for id := range o.jobs {
			o.queued.Add(-1)
			o.abandon(id)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		o.logger.Info("workers stopped")
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()

	for id := range o.jobs {
		o.queued.Add(-1)
		o.run(ctx, id)
	}
}

// run drives one task from pending to a terminal state. Every path out of
// run leaves the task terminal, including panics in the execution path.
func (o *Orchestrator) run(ctx context.Context, id string) {
	task, err := o.registry.Get(id)
	if err != nil {
		o.logger.Error("queued task vanished", "task_id", id, "error", err)
		return
	}

	if err := o.registry.Transition(id, models.StateRunning, nil, nil); err != nil {
		o.logger.Error("failed to start task", "task_id", id, "error", err)
		return
	}
	o.running.Add(1)
	defer o.running.Add(-1)

	o.metrics.TaskStarted()
	logger := shared.WithLogger(o.logger, "task_id", id, "kind", task.Kind)
	logger.Info("task running")
	o.emit(Event{Phase: PhaseStarted, TaskID: id, Kind: task.Kind, State: models.StateRunning})

	started := time.Now()
	result, execErr := o.execute(ctx, task, logger)
	if execErr == nil && result.Empty() {
		execErr = engine.NewError(models.CategoryEngineFailure, "", "engine produced no result", shared.ErrMissingArtifact)
	}

	if execErr == nil {
		if err := o.registry.Transition(id, models.StateCompleted, result, nil); err != nil {
			logger.Error("failed to record completion", "error", err)
			execErr = engine.NewError(models.CategoryEngineFailure, "", "failed to record result", err)
			if result.Path != "" {
				if err := o.store.Purge(result.Path, artifacts.ReasonFailed); err != nil {
					logger.Error("failed to purge unrecorded artifact", "error", err)
				}
			}
		}
	}

	elapsed := time.Since(started)
	if execErr != nil {
		taskErr := &models.TaskError{Category: engine.CategoryOf(execErr), Message: engine.MessageOf(execErr)}
		if err := o.registry.Transition(id, models.StateFailed, nil, taskErr); err != nil {
			logger.Error("failed to record failure", "error", err)
			return
		}
		o.metrics.TaskFinished(string(task.Kind), string(models.StateFailed), string(taskErr.Category), elapsed)
		logger.Warn("task failed", "category", taskErr.Category, "error", execErr, "elapsed", elapsed)
		o.emit(Event{Phase: PhaseFailed, TaskID: id, Kind: task.Kind, State: models.StateFailed, Message: taskErr.Message})
		return
	}

	o.metrics.TaskFinished(string(task.Kind), string(models.StateCompleted), "", elapsed)
	logger.Info("task completed", "elapsed", elapsed, "file_size", result.FileSize)
	o.emit(Event{Phase: PhaseCompleted, TaskID: id, Kind: task.Kind, State: models.StateCompleted})
}

// abandon fails a queued task that no worker will ever pick up.
func (o *Orchestrator) abandon(id string) {
	task, err := o.registry.Get(id)
	if err != nil {
		return
	}

	taskErr := &models.TaskError{Category: models.CategoryEngineFailure, Message: "task cancelled by shutdown"}
	err = o.registry.Transition(id, models.StateRunning, nil, nil)
	if err == nil {
		err = o.registry.Transition(id, models.StateFailed, nil, taskErr)
	}
	if err != nil {
		o.logger.Error("failed to cancel queued task", "task_id", id, "error", err)
		return
	}

	o.metrics.TaskStarted()
	o.metrics.TaskFinished(string(task.Kind), string(models.StateFailed), string(taskErr.Category), 0)
	o.logger.Warn("queued task cancelled", "task_id", id, "kind", task.Kind)
	o.emit(Event{Phase: PhaseFailed, TaskID: id, Kind: task.Kind, State: models.StateFailed, Message: taskErr.Message})
}

// execute runs the kind-specific work under the per-task timeout. The work
// runs on its own goroutine so a call that ignores cancellation is abandoned
// rather than holding the worker.
func (o *Orchestrator) execute(parent context.Context, task models.Task, logger *log.Logger) (*models.Result, error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if o.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, o.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	var slot string
	if task.Kind.ProducesArtifact() {
		var err error
		if slot, err = o.store.Reserve(slotHint(task)); err != nil {
			return nil, err
		}
	}

	type outcome struct {
		result *models.Result
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task panicked", "panic", r)
				ch <- outcome{err: engine.NewError(models.CategoryEngineFailure, "", fmt.Sprintf("worker crashed: %v", r), nil)}
			}
		}()
		res, err := o.perform(ctx, task, slot)
		ch <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.err = engine.NewError(models.CategoryTimeout, "", fmt.Sprintf("task exceeded %s", o.cfg.Timeout), ctx.Err())
		} else {
			out.err = engine.NewError(models.CategoryEngineFailure, "", "task cancelled by shutdown", ctx.Err())
		}
	}

	if out.err != nil && slot != "" {
		if err := o.store.Purge(slot, artifacts.ReasonFailed); err != nil {
			logger.Error("failed to purge partial artifact", "error", err)
		}
	}
	return out.result, out.err
}

func slotHint(task models.Task) string {
	id := task.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return string(task.Kind) + "-" + id
}

func (o *Orchestrator) emit(ev Event) {
	if o.events == nil {
		return
	}
	ev.At = time.Now()
	select {
	case o.events <- ev:
	default:
	}
}
