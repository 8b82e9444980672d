package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/observability/metrics"
)

// Config sizes the worker pool and bounds a single processing attempt.
type Config struct {
	Workers     int
	TaskTimeout time.Duration
	Backoff     Backoff
	Service     string
}

func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Minute
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.Service == "" {
		c.Service = "worker"
	}
	return c
}

// Pipeline dequeues task messages and drives each through one processing
// attempt, owning the state machine transitions around the processor: claim,
// run, then ack, re-enqueue with backoff, or dead-letter.
type Pipeline struct {
	queue     ports.QueueTransport
	tasks     ports.TaskRepository
	processor ports.TaskProcessor
	notifier  ports.DeadLetterNotifier
	metrics   *metrics.PipelineMetrics
	logger    *slog.Logger
	cfg       Config

	retryWG sync.WaitGroup
}

func New(
	queue ports.QueueTransport,
	tasks ports.TaskRepository,
	processor ports.TaskProcessor,
	notifier ports.DeadLetterNotifier,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
	cfg Config,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		queue:     queue,
		tasks:     tasks,
		processor: processor,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		cfg:       cfg.normalize(),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight attempts and
// pending retry re-enqueues to settle.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	p.retryWG.Wait()
	return ctx.Err()
}

func (p *Pipeline) workerLoop(ctx context.Context, worker int) {
	log := p.logger.With("worker", worker)
	for {
		msg, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.handle(ctx, log, msg)
	}
}

func (p *Pipeline) handle(ctx context.Context, log *slog.Logger, msg ports.TaskMessage) {
	if p.metrics != nil {
		p.metrics.ObserveQueueLag(p.cfg.Service, time.Since(msg.EnqueuedAt))
	}

	task, err := p.tasks.Claim(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotClaimable) || errors.Is(err, domain.ErrTaskNotFound) {
			// Another worker holds it, or it was cancelled while queued.
			p.ack(ctx, log, msg)
			return
		}
		log.Error("claim failed, redelivering", "task_id", msg.TaskID, "error", err)
		if nackErr := p.queue.Nack(ctx, msg); nackErr != nil {
			log.Error("nack failed", "task_id", msg.TaskID, "error", nackErr)
		}
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	start := time.Now()
	if p.metrics != nil {
		p.metrics.StartTask()
	}
	procErr := p.processor.Process(attemptCtx, task)
	cancel()

	outcome := domain.TaskOutcome{Err: procErr, Cancelled: errors.Is(procErr, domain.ErrTaskCancelled)}
	retryCount := task.RetryCount
	if procErr != nil && !outcome.Cancelled {
		retryCount, err = p.tasks.IncrementRetry(ctx, task.ID)
		if err != nil {
			log.Error("increment retry failed", "task_id", task.ID, "error", err)
			retryCount = task.RetryCount + 1
		}
	}

	state := domain.NextTaskState(domain.TaskProcessing, outcome, retryCount, task.MaxRetries)
	if p.metrics != nil {
		p.metrics.FinishTask(p.cfg.Service, string(state), time.Since(start))
	}

	switch state {
	case domain.TaskCompleted:
		p.updateState(ctx, log, task.ID, state, "")
		p.ack(ctx, log, msg)
		log.Info("task completed", "task_id", task.ID, "duration", time.Since(start))

	case domain.TaskCancelled:
		p.updateState(ctx, log, task.ID, state, "")
		p.ack(ctx, log, msg)
		log.Info("task cancelled", "task_id", task.ID)

	case domain.TaskRetrying:
		p.updateState(ctx, log, task.ID, state, procErr.Error())
		p.ack(ctx, log, msg)
		delay := p.cfg.Backoff.Delay(retryCount)
		if p.metrics != nil {
			p.metrics.TaskRetried()
		}
		log.Warn("task attempt failed, retrying",
			"task_id", task.ID, "retry", retryCount,
			"max_retries", task.MaxRetries, "delay", delay, "error", procErr)
		p.scheduleRetry(ctx, log, msg, delay)

	case domain.TaskFailed:
		p.updateState(ctx, log, task.ID, state, procErr.Error())
		p.deadLetter(ctx, log, msg, task)
		p.ack(ctx, log, msg)
		log.Error("task failed permanently",
			"task_id", task.ID, "retries", retryCount, "error", procErr)
	}
}

// scheduleRetry re-enqueues msg after delay. Shutdown does not lose the
// retry: on ctx cancellation the message is re-enqueued immediately so
// another worker picks it up.
func (p *Pipeline) scheduleRetry(ctx context.Context, log *slog.Logger, msg ports.TaskMessage, delay time.Duration) {
	next := msg
	next.Attempt++
	next.EnqueuedAt = time.Now().UTC()

	p.retryWG.Add(1)
	go func() {
		defer p.retryWG.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}

		enqueueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.queue.Enqueue(enqueueCtx, next); err != nil {
			log.Error("retry enqueue failed", "task_id", next.TaskID, "error", err)
		}
	}()
}

func (p *Pipeline) deadLetter(ctx context.Context, log *slog.Logger, msg ports.TaskMessage, task *domain.Task) {
	if p.metrics != nil {
		p.metrics.TaskDeadLettered()
	}
	if err := p.queue.DeadLetter(ctx, msg); err != nil {
		log.Error("dead-letter publish failed", "task_id", task.ID, "error", err)
	}
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyTaskFailed(ctx, task); err != nil {
		log.Error("dead-letter notification failed", "task_id", task.ID, "error", err)
	}
}

func (p *Pipeline) updateState(ctx context.Context, log *slog.Logger, taskID string, state domain.TaskState, lastError string) {
	if err := p.tasks.UpdateState(ctx, taskID, state, lastError); err != nil {
		log.Error("state update failed", "task_id", taskID, "state", state, "error", err)
	}
}

func (p *Pipeline) ack(ctx context.Context, log *slog.Logger, msg ports.TaskMessage) {
	if err := p.queue.Ack(ctx, msg); err != nil {
		log.Error("ack failed", "task_id", msg.TaskID, "error", err)
	}
}
