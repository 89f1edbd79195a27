package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag/internal/logging"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("ingestion: queue is full")

	// ErrJobNotFound is returned for unknown or evicted job IDs.
	ErrJobNotFound = errors.New("ingestion: job not found")
)

const (
	// DefaultQueueSize is the number of jobs that may wait behind the running one.
	DefaultQueueSize = 16
	// DefaultJobTimeout bounds a single ingestion.
	DefaultJobTimeout = 15 * time.Minute
	// defaultHistory is the number of finished jobs kept for status queries.
	defaultHistory = 256
)

// State is the stage a job has reached.
type State string

// Job states, in order. A job ends in StateDone or StateFailed.
const (
	StateQueued    State = "queued"
	StateParsing   State = "parsing"
	StateChunking  State = "chunking"
	StateIndexing  State = "indexing"
	StateReloading State = "reloading"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Finished reports whether s is terminal.
func (s State) Finished() bool { return s == StateDone || s == StateFailed }

// Job is a snapshot of one queued upload. Indexed and Total report embedding
// progress once the job reaches StateIndexing.
type Job struct {
	ID         string    `json:"job_id"`
	Filename   string    `json:"filename"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
	Nodes      int       `json:"nodes,omitempty"`
	Indexed    int       `json:"indexed_nodes,omitempty"`
	Total      int       `json:"total_nodes,omitempty"`
	Generation string    `json:"generation,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ingester is the subset of Pipeline the Orchestrator drives.
type ingester interface {
	Ingest(ctx context.Context, name, path string, report *Reporter) (Result, error)
}

// QueueConfig tunes the Orchestrator.
type QueueConfig struct {
	// Size is the queue capacity (default 16).
	Size int
	// JobTimeout bounds each job (default 15m).
	JobTimeout time.Duration
}

type job struct {
	Job
	path string
	done chan struct{}
}

// Orchestrator serializes ingestion: jobs wait in a bounded queue and a
// single worker started by Run processes them in submission order.
type Orchestrator struct {
	pipeline ingester
	cfg      QueueConfig
	metrics  *metrics
	queue    chan *job

	mu       sync.Mutex
	jobs     map[string]*job
	finished []string
}

// NewOrchestrator returns an Orchestrator feeding p. Metrics are registered
// on reg.
func NewOrchestrator(p ingester, cfg QueueConfig, reg prometheus.Registerer) *Orchestrator {
	if cfg.Size <= 0 {
		cfg.Size = DefaultQueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	return &Orchestrator{
		pipeline: p,
		cfg:      cfg,
		metrics:  newMetrics(reg),
		queue:    make(chan *job, cfg.Size),
		jobs:     make(map[string]*job),
	}
}

// Submit queues the file at path, recorded as filename. It never blocks:
// when the queue is full it returns ErrQueueFull.
func (o *Orchestrator) Submit(filename, path string) (Job, error) {
	now := time.Now().UTC()
	j := &job{
		Job: Job{
			ID:        uuid.NewString(),
			Filename:  filename,
			State:     StateQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		path: path,
		done: make(chan struct{}),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case o.queue <- j:
	default:
		o.metrics.jobsTotal.WithLabelValues("rejected").Inc()
		return Job{}, ErrQueueFull
	}
	o.jobs[j.ID] = j
	o.metrics.queueDepth.Inc()
	return j.Job, nil
}

// Job returns a snapshot of job id.
func (o *Orchestrator) Job(id string) (Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.Job, nil
}

// Run processes jobs until ctx is cancelled. Jobs still queued at that
// point are marked failed.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			o.drain(err)
			return
		}
		select {
		case <-ctx.Done():
		case j := <-o.queue:
			o.metrics.queueDepth.Dec()
			o.process(ctx, j)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, j *job) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()
	ctx = logging.With(ctx, slog.String("job_id", j.ID), slog.String("filename", j.Filename))
	log := logging.FromContext(ctx)
	log.Info("ingestion: job started")
	start := time.Now()

	res, err := o.pipeline.Ingest(ctx, j.Filename, j.path, &Reporter{
		Stage:   func(s State) { o.setState(j, s) },
		Indexed: func(done, total int) { o.setIndexed(j, done, total) },
	})

	outcome := "done"
	if err != nil {
		outcome = "failed"
		if isCanceled(err) {
			outcome = "timeout"
		}
	}
	o.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	o.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("ingestion: job failed, previous knowledge base kept", slog.Any("error", err))
		o.finish(j, StateFailed, err.Error(), res)
		return
	}
	o.metrics.nodesTotal.Add(float64(res.Nodes))
	log.Info("ingestion: job done",
		slog.String("generation", res.Generation),
		slog.Int("nodes", res.Nodes),
		slog.Duration("elapsed", time.Since(start)),
	)
	o.finish(j, StateDone, "", res)
}

func (o *Orchestrator) setState(j *job, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j.State = s
	j.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) setIndexed(j *job, done, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j.Indexed = done
	j.Total = total
	j.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) finish(j *job, s State, msg string, res Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j.State = s
	j.Error = msg
	j.Nodes = res.Nodes
	j.Generation = res.Generation
	j.UpdatedAt = time.Now().UTC()
	close(j.done)

	o.finished = append(o.finished, j.ID)
	if len(o.finished) > defaultHistory {
		delete(o.jobs, o.finished[0])
		o.finished = o.finished[1:]
	}
}

// drain fails every job still waiting in the queue.
func (o *Orchestrator) drain(cause error) {
	for {
		select {
		case j := <-o.queue:
			o.metrics.queueDepth.Dec()
			o.finish(j, StateFailed, "ingestion: shutting down: "+cause.Error(), Result{})
		default:
			return
		}
	}
}
