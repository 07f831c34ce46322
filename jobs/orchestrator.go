package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nci/satgate/logging"
	"github.com/nci/satgate/processor"
)

const (
	DefaultJobTimeout = 30 * time.Minute
	DefaultWorkers    = 2

	topicPrefix    = "jobs."
	jobIDMetadata  = "job_id"
	closeTimeout   = 30 * time.Second
	queueBufferLen = 256
)

// Job is one accepted request as seen by its handler.
type Job struct {
	ID       string
	Request  JobRequest
	Progress processor.ProgressFunc
}

// Outcome is what a handler reports for a job that did not fail.
type Outcome struct {
	Status  Status
	Result  interface{}
	Message string
}

// HandlerFunc runs one job. A returned error fails the job.
type HandlerFunc func(ctx context.Context, job *Job) (*Outcome, error)

type OrchestratorConfig struct {
	Timeout time.Duration
	Workers int
}

// Orchestrator accepts jobs, queues them on in-process watermill topics,
// one per job type, and runs them under a per-job deadline.
type Orchestrator struct {
	tracker *Tracker
	pubSub  *gochannel.GoChannel
	router  *message.Router
	cfg     OrchestratorConfig
	workers *processor.ConcLimiter
	logger  zerolog.Logger

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	running  map[string]context.CancelFunc
}

func NewOrchestrator(tracker *Tracker, cfg OrchestratorConfig, logger zerolog.Logger) (*Orchestrator, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJobTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	logger = logging.WithComponent(logger, "jobs")
	wmLogger := logging.NewWatermillAdapter(logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create job router: %w", err)
	}

	o := &Orchestrator{
		tracker:  tracker,
		pubSub:   gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: queueBufferLen}, wmLogger),
		router:   router,
		cfg:      cfg,
		workers:  processor.NewConcLimiter(cfg.Workers),
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		running:  make(map[string]context.CancelFunc),
	}
	// settle is outermost so panics turned into errors by Recoverer are
	// recorded and the message is acked rather than redelivered.
	router.AddMiddleware(o.settle, middleware.Recoverer)
	return o, nil
}

// Handle registers fn for jobType. It must be called before Run.
func (o *Orchestrator) Handle(jobType string, fn HandlerFunc) {
	o.mu.Lock()
	o.handlers[jobType] = fn
	o.mu.Unlock()
	o.router.AddNoPublisherHandler("jobs-"+jobType, topicPrefix+jobType, o.pubSub, o.consume(jobType))
}

// Run processes jobs until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.router.Run(ctx)
}

// Running is closed once jobs are being consumed.
func (o *Orchestrator) Running() chan struct{} {
	return o.router.Running()
}

func (o *Orchestrator) Close() error {
	err := o.router.Close()
	if perr := o.pubSub.Close(); err == nil {
		err = perr
	}
	return err
}

// NewJobID returns <type>_<32 hex digits>.
func NewJobID(jobType string) string {
	return jobType + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Submit validates req, records it as pending and queues it.
func (o *Orchestrator) Submit(ctx context.Context, req JobRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	o.mu.Lock()
	_, ok := o.handlers[req.Type]
	o.mu.Unlock()
	if !ok {
		return "", invalid("no handler for job type %q", req.Type)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	select {
	case <-o.router.Running():
	case <-ctx.Done():
		return "", ctx.Err()
	}

	jobID := NewJobID(req.Type)
	if _, err := o.tracker.Create(ctx, jobID, req.Type); err != nil {
		return "", err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(jobIDMetadata, jobID)
	if err := o.pubSub.Publish(topicPrefix+req.Type, msg); err != nil {
		o.tracker.Fail(ctx, jobID, fmt.Errorf("queue job: %w", err))
		return "", err
	}
	o.logger.Info().Str("job_id", jobID).Str("type", req.Type).Int("scenes", len(req.SceneIDs)).Msg("job queued")
	return jobID, nil
}

func (o *Orchestrator) Status(ctx context.Context, jobID string) (*Record, error) {
	return o.tracker.Get(ctx, jobID)
}

// Cancel marks the job cancelled and stops it between iterations. A job
// that already finished keeps its state; its record is returned as is.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*Record, error) {
	rec, err := o.tracker.Cancel(ctx, jobID)
	if errors.Is(err, errTerminal) {
		return rec, nil
	}
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	cancel, ok := o.running[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	o.logger.Info().Str("job_id", jobID).Bool("running", ok).Msg("job cancelled")
	return rec, nil
}

// settle turns a failed or panicking handler into a failed job and acks
// the message.
func (o *Orchestrator) settle(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		var panicErr middleware.RecoveredPanicError
		if errors.As(err, &panicErr) {
			err = fmt.Errorf("job panicked: %v", panicErr.V)
		}
		if err != nil {
			jobID := msg.Metadata.Get(jobIDMetadata)
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("job handler failed")
			if ferr := o.tracker.Fail(context.Background(), jobID, err); ferr != nil && !errors.Is(ferr, errTerminal) {
				o.logger.Error().Err(ferr).Str("job_id", jobID).Msg("failed to record job failure")
			}
		}
		return out, nil
	}
}

func (o *Orchestrator) consume(jobType string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		jobID := msg.Metadata.Get(jobIDMetadata)

		var req JobRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return fmt.Errorf("decode job %s: %w", jobID, err)
		}

		o.workers.Increase()
		defer o.workers.Decrease()

		rec, err := o.tracker.Get(context.Background(), jobID)
		if err != nil {
			return err
		}
		if rec.Status.Terminal() {
			o.logger.Info().Str("job_id", jobID).Str("status", string(rec.Status)).Msg("job skipped")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
		defer cancel()
		o.mu.Lock()
		o.running[jobID] = cancel
		fn := o.handlers[jobType]
		o.mu.Unlock()
		defer func() {
			o.mu.Lock()
			delete(o.running, jobID)
			o.mu.Unlock()
		}()

		job := &Job{ID: jobID, Request: req, Progress: o.progress(jobID)}
		start := time.Now()
		out, err := fn(ctx, job)
		logEv := o.logger.Info().Str("job_id", jobID).Dur("took", time.Since(start))

		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return fmt.Errorf("job exceeded its %v deadline", o.cfg.Timeout)
		case errors.Is(ctx.Err(), context.Canceled):
			logEv.Msg("job stopped after cancel")
			return nil
		case err != nil:
			return err
		}

		if out == nil {
			out = &Outcome{Status: StatusCompleted}
		}
		if err := o.tracker.Finish(context.Background(), jobID, out.Status, out.Result, out.Message); err != nil {
			if errors.Is(err, errTerminal) {
				return nil
			}
			return err
		}
		logEv.Str("status", string(out.Status)).Msg("job finished")
		return nil
	}
}

func (o *Orchestrator) progress(jobID string) processor.ProgressFunc {
	return func(stage string, p float64) {
		if err := o.tracker.Progress(context.Background(), jobID, stage, p); err != nil && !errors.Is(err, errTerminal) {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress update failed")
		}
	}
}
