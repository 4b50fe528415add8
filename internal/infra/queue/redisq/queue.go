package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/putuastawa/visioncap/internal/domain/analyses"
	"github.com/putuastawa/visioncap/internal/logger"
)

// Options for the queue adapter. JobTimeout bounds one unit of work on the
// worker side; ResultTTL is how long a terminal status stays pollable.
type Options struct {
	Addr        string
	Password    string
	DB          int
	QueueName   string
	DialTimeout time.Duration
	JobTimeout  time.Duration
	ResultTTL   time.Duration
}

// Queue submits units of work to a redis list and tracks per-job status
// keys, RQ-style. The api process enqueues and polls; the worker process
// consumes via Run.
type Queue struct {
	rdb  *goredis.Client
	log  *logger.Logger
	opts Options
}

func New(opts Options, log *logger.Logger) *Queue {
	if opts.QueueName == "" {
		opts.QueueName = "visioncap:jobs"
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.JobTimeout == 0 {
		opts.JobTimeout = 20 * time.Minute
	}
	if opts.ResultTTL == 0 {
		opts.ResultTTL = 24 * time.Hour
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	return &Queue{rdb: rdb, log: log, opts: opts}
}

// Ping is used by the health endpoint.
func (q *Queue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.opts.DialTimeout)
	defer cancel()
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) Close() error { return q.rdb.Close() }

func (q *Queue) statusKey(jobID string) string {
	return "visioncap:job:" + jobID
}

type jobRecord struct {
	Status   string `json:"status"`
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Enqueue pushes a task and marks its handle as processing. A broker that
// cannot be reached within the dial timeout is reported as
// analyses.ErrQueueUnavailable so callers can fall back to synchronous
// execution instead of failing the request.
func (q *Queue) Enqueue(ctx context.Context, t analyses.Task) (string, error) {
	pingCtx, cancel := context.WithTimeout(ctx, q.opts.DialTimeout)
	defer cancel()
	if err := q.rdb.Ping(pingCtx).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", analyses.ErrQueueUnavailable, err)
	}

	if t.JobID == "" {
		t.JobID = uuid.New().String()
	}
	t.Enqueued = float64(time.Now().UnixMilli()) / 1000

	payload, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	status, err := json.Marshal(jobRecord{Status: string(analyses.JobProcessing)})
	if err != nil {
		return "", err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.statusKey(t.JobID), status, q.opts.ResultTTL)
	pipe.LPush(ctx, q.opts.QueueName, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", analyses.ErrQueueUnavailable, err)
	}

	q.log.Info("job enqueued", "job_id", t.JobID, "queue", q.opts.QueueName)
	return t.JobID, nil
}

// Status resolves a job handle. Unknown or expired handles report not found.
func (q *Queue) Status(ctx context.Context, jobID string) (analyses.JobState, error) {
	raw, err := q.rdb.Get(ctx, q.statusKey(jobID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return analyses.JobState{}, analyses.ErrNotFound
	}
	if err != nil {
		return analyses.JobState{}, err
	}
	var rec jobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return analyses.JobState{}, err
	}
	return analyses.JobState{
		Status:   analyses.JobStatus(rec.Status),
		RecordID: analyses.AnalysisID(rec.RecordID),
		Error:    rec.Error,
	}, nil
}

// Executor runs one unit of work and reports the created record's id.
type Executor func(ctx context.Context, t analyses.Task) (analyses.AnalysisID, error)

// Run consumes tasks until ctx is canceled. Each task gets its own
// JobTimeout deadline; the terminal status is written back with ResultTTL.
func (q *Queue) Run(ctx context.Context, exec Executor) error {
	q.log.Info("worker loop started", "queue", q.opts.QueueName)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := q.rdb.BRPop(ctx, 5*time.Second, q.opts.QueueName).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Error("queue pop failed", "err", err)
			time.Sleep(time.Second)
			continue
		}

		var t analyses.Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			q.log.Error("bad task payload, dropping", "err", err)
			continue
		}
		q.process(ctx, t, exec)
	}
}

func (q *Queue) process(ctx context.Context, t analyses.Task, exec Executor) {
	jobCtx, cancel := context.WithTimeout(ctx, q.opts.JobTimeout)
	defer cancel()

	log := q.log.With("job_id", t.JobID)
	log.Info("processing job")

	rec := jobRecord{Status: string(analyses.JobCompleted)}
	id, err := exec(jobCtx, t)
	if err != nil {
		log.Error("job failed", "err", err)
		rec = jobRecord{Status: string(analyses.JobFailed), Error: err.Error()}
	} else {
		rec.RecordID = string(id)
		log.Info("job completed", "record_id", id)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		log.Error("marshal job status", "err", err)
		return
	}
	// Use the parent context: the job deadline may already be spent.
	if err := q.rdb.Set(ctx, q.statusKey(t.JobID), raw, q.opts.ResultTTL).Err(); err != nil {
		log.Error("write job status", "err", err)
	}
}
