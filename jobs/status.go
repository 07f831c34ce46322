package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/nci/satgate/metrics"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition may follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial, StatusCancelled:
		return true
	}
	return false
}

// Record is the stored status of one job.
type Record struct {
	JobID     string          `json:"job_id"`
	Type      string          `json:"type"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Progress  *float64        `json:"progress,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// errTerminal stops an update of a job that already finished.
var errTerminal = errors.New("job already finished")

// Tracker reads and writes job records. Every update reads the record,
// changes it and writes the whole value back with the TTL.
type Tracker struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

const DefaultStatusTTL = 24 * time.Hour

func NewTracker(store Store, ttl time.Duration, logger zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &Tracker{store: store, ttl: ttl, now: time.Now, logger: logger}
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (t *Tracker) put(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = t.now().UTC()
	if rec.Progress != nil {
		p := clampProgress(*rec.Progress)
		rec.Progress = &p
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", rec.JobID, err)
	}
	if err := t.store.Set(ctx, rec.JobID, data, t.ttl); err != nil {
		return fmt.Errorf("store job %s: %w", rec.JobID, err)
	}
	return nil
}

// Create writes the pending record of a new job.
func (t *Tracker) Create(ctx context.Context, jobID, jobType string) (*Record, error) {
	zero := 0.0
	rec := &Record{JobID: jobID, Type: jobType, Status: StatusPending, CreatedAt: t.now().UTC(), Progress: &zero}
	if err := t.put(ctx, rec); err != nil {
		return nil, err
	}
	metrics.JobTransitions.WithLabelValues(jobType, string(StatusPending)).Inc()
	return rec, nil
}

func (t *Tracker) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := t.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return rec, nil
}

// update applies fn to the current record. Records in a terminal state
// are left alone and errTerminal is returned.
func (t *Tracker) update(ctx context.Context, jobID string, fn func(rec *Record)) (*Record, error) {
	rec, err := t.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, errTerminal
	}
	before := rec.Status
	fn(rec)
	if err := t.put(ctx, rec); err != nil {
		return nil, err
	}
	if rec.Status != before {
		metrics.JobTransitions.WithLabelValues(rec.Type, string(rec.Status)).Inc()
	}
	return rec, nil
}

// Progress marks the job in progress at stage.
func (t *Tracker) Progress(ctx context.Context, jobID, stage string, progress float64) error {
	_, err := t.update(ctx, jobID, func(rec *Record) {
		rec.Status = StatusInProgress
		rec.Stage = stage
		rec.Progress = &progress
	})
	return err
}

// Finish writes a terminal state with the job result.
func (t *Tracker) Finish(ctx context.Context, jobID string, status Status, result interface{}, message string) error {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result of job %s: %w", jobID, err)
		}
		raw = data
	}
	_, err := t.update(ctx, jobID, func(rec *Record) {
		rec.Status = status
		rec.Result = raw
		rec.Message = message
		done := 100.0
		rec.Progress = &done
		rec.Stage = ""
	})
	return err
}

// Fail writes the failed state with err as the message.
func (t *Tracker) Fail(ctx context.Context, jobID string, cause error) error {
	_, err := t.update(ctx, jobID, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Error = cause.Error()
		rec.Message = "job failed"
	})
	return err
}

// Cancel marks the job cancelled unless it already finished.
func (t *Tracker) Cancel(ctx context.Context, jobID string) (*Record, error) {
	return t.update(ctx, jobID, func(rec *Record) {
		rec.Status = StatusCancelled
		rec.Message = "cancelled by request"
	})
}
