package local

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"

	"github.com/nemanja-m/fanout/internal/shared/logging"
	"github.com/nemanja-m/fanout/pkg/core"
)

const DefaultWaitInterval = 100 * time.Millisecond

var (
	ErrInvalidThreadCount  = errors.New("thread count must not be negative")
	ErrInvalidWaitInterval = errors.New("wait interval must be positive")
	ErrPoolRunning         = errors.New("pool is already running a batch")
	ErrJobPanicked         = errors.New("job panicked")
)

// JobError reports a failed job.
type JobError struct {
	ID   core.JobID
	Type string
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s (%s): %v", e.Type, e.ID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Handle is the in-flight token of a job submitted to the workers.
type Handle struct {
	ID        core.JobID
	Type      string
	Parent    core.JobID
	Submitted time.Time
}

type Option func(*Pool) error

// WithThreadCount sets the number of workers. 1 runs every job synchronously
// on the caller's goroutine; 0 picks max(1, NumCPU-1).
func WithThreadCount(n int) Option {
	return func(p *Pool) error {
		if n < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidThreadCount, n)
		}
		p.threadCount = n
		return nil
	}
}

// WithWaitInterval sets how often Run polls for in-flight jobs.
func WithWaitInterval(d time.Duration) Option {
	return func(p *Pool) error {
		if d <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidWaitInterval, d)
		}
		p.waitInterval = d
		return nil
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(p *Pool) error {
		p.logger = logger
		return nil
	}
}

func WithMetrics(registry metrics.Registry) Option {
	return func(p *Pool) error {
		p.metrics = newPoolMetrics(registry)
		return nil
	}
}

// Pool runs a batch of jobs, the jobs they spawn and the reducers those
// subtrees trigger, either sequentially or on a fixed set of workers.
type Pool struct {
	state        any
	threadCount  int
	waitInterval time.Duration
	stateLock    sync.Locker
	logger       logging.Logger
	metrics      *poolMetrics
	running      atomic.Bool

	// mu guards everything below.
	mu          sync.Mutex
	tracker     *SubtreeTracker
	liveHandles map[core.JobID]*Handle
	workers     *Workers
	errs        *multierror.Error
	aborted     bool
}

func NewPool(state any, opts ...Option) (*Pool, error) {
	p := &Pool{
		state:        state,
		threadCount:  1,
		waitInterval: DefaultWaitInterval,
		tracker:      NewSubtreeTracker(),
		liveHandles:  make(map[core.JobID]*Handle),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.threadCount == 0 {
		p.threadCount = max(1, runtime.NumCPU()-1)
	}
	if p.threadCount > 1 {
		p.stateLock = &sync.Mutex{}
	}
	if p.logger == nil {
		p.logger = logging.NewNopLogger()
	}
	if p.metrics == nil {
		p.metrics = newPoolMetrics(nil)
	}
	return p, nil
}

func (p *Pool) State() any {
	return p.state
}

func (p *Pool) ThreadCount() int {
	return p.threadCount
}

// StateLock returns a pool-scoped lock jobs may use around State, or nil when
// the pool is sequential.
func (p *Pool) StateLock() sync.Locker {
	return p.stateLock
}

func (p *Pool) Logger() logging.Logger {
	return p.logger
}

func (p *Pool) Metrics() metrics.Registry {
	return p.metrics.registry
}

// InFlight returns the number of jobs submitted to workers that have not
// completed yet.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.liveHandles)
}

// Run constructs one job of jobType per param and blocks until those jobs,
// everything they transitively spawn and every reducer they trigger have
// finished.
func (p *Pool) Run(jobType *core.JobType, params []core.JobParam) error {
	if len(params) == 0 {
		return nil
	}
	if jobType == nil {
		return core.ErrNilJobType
	}
	if !p.running.CompareAndSwap(false, true) {
		return ErrPoolRunning
	}
	defer p.running.Store(false)

	start := time.Now()
	p.logger.Info(
		"Starting batch",
		"job_type", jobType.Name,
		"num_jobs", len(params),
		"threads", p.threadCount,
	)

	var err error
	if p.threadCount == 1 {
		err = p.runSequential(jobType, params)
	} else {
		err = p.runParallel(jobType, params)
	}

	if err != nil {
		p.logger.Error("Batch failed", "job_type", jobType.Name, "duration", time.Since(start), "error", err)
		return err
	}
	p.logger.Info("Batch completed", "job_type", jobType.Name, "duration", time.Since(start))
	return nil
}

func (p *Pool) runSequential(jobType *core.JobType, params []core.JobParam) error {
	for _, param := range params {
		if err := p.runSync(jobType, param, core.RootID); err != nil {
			return err
		}
	}
	return nil
}

// runSync executes a job, then its whole child subtree, then its reducer.
func (p *Pool) runSync(jobType *core.JobType, param core.JobParam, parent core.JobID) error {
	id := uuid.New()
	job, err := p.construct(id, jobType, param)
	if err != nil {
		return err
	}
	p.metrics.submitted.Inc(1)
	if err := p.execute(id, jobType.Name, job); err != nil {
		return err
	}

	childType, childParams, err := p.childrenOf(id, jobType.Name, job)
	if err != nil {
		return err
	}
	for _, childParam := range childParams {
		if err := p.runSync(childType, childParam, id); err != nil {
			return err
		}
	}

	reducerType, reducerParam, ok, err := p.reducerOf(id, jobType.Name, job)
	if err != nil {
		return err
	}
	if ok {
		p.metrics.reducersFired.Inc(1)
		p.logger.Debug("Subtree drained", "job_id", id, "job_type", jobType.Name, "reducer", reducerType.Name)
		return p.runSync(reducerType, reducerParam, parent)
	}
	return nil
}

func (p *Pool) runParallel(jobType *core.JobType, params []core.JobParam) error {
	p.mu.Lock()
	p.tracker.Reset()
	clear(p.liveHandles)
	p.errs = nil
	p.aborted = false
	p.workers = NewWorkers(p.threadCount)
	p.workers.Start()

	for _, param := range params {
		id := uuid.New()
		job, err := p.construct(id, jobType, param)
		if err != nil {
			p.fail(err)
			break
		}
		p.registerJob(id, jobType.Name, job, core.RootID)
	}
	p.mu.Unlock()

	p.wait()
	p.workers.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs.ErrorOrNil()
}

// registerJob records the job in the tracker and hands it to the workers.
// The caller holds p.mu.
func (p *Pool) registerJob(id core.JobID, jobType string, job core.Job, parent core.JobID) {
	p.submit(p.tracker.AddJob(id, jobType, job, parent))
}

func (p *Pool) submit(tracked Tracked) {
	p.liveHandles[tracked.ID] = &Handle{
		ID:        tracked.ID,
		Type:      tracked.Type,
		Parent:    tracked.Parent,
		Submitted: time.Now(),
	}
	p.metrics.submitted.Inc(1)
	p.metrics.liveHandles.Update(int64(len(p.liveHandles)))

	if err := p.workers.Submit(func() { p.runAsync(tracked) }); err != nil {
		delete(p.liveHandles, tracked.ID)
		p.fail(&JobError{ID: tracked.ID, Type: tracked.Type, Err: err})
	}
}

func (p *Pool) runAsync(tracked Tracked) {
	if p.isAborted() {
		// Queued before the batch aborted; resolve the handle without running.
		p.jobCompleted(tracked, nil)
		return
	}
	err := p.execute(tracked.ID, tracked.Type, tracked.Job)
	p.jobCompleted(tracked, err)
}

func (p *Pool) isAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

// jobCompleted registers the children of a finished job, fires the reducer
// of any subtree that drained as a result, and resolves the job's handle.
func (p *Pool) jobCompleted(tracked Tracked, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		delete(p.liveHandles, tracked.ID)
		p.metrics.liveHandles.Update(int64(len(p.liveHandles)))
	}()

	if err != nil {
		p.fail(err)
	}
	if p.aborted {
		return
	}

	childType, childParams, err := p.childrenOf(tracked.ID, tracked.Type, tracked.Job)
	if err != nil {
		p.fail(err)
		return
	}
	for _, childParam := range childParams {
		id := uuid.New()
		child, err := p.construct(id, childType, childParam)
		if err != nil {
			p.fail(err)
			return
		}
		p.registerJob(id, childType.Name, child, tracked.ID)
	}

	// TryDrain calls the reducer hooks and constructors of drained ancestors.
	var reducer *Tracked
	err = p.guard(tracked.ID, tracked.Type, func() error {
		var err error
		reducer, err = p.tracker.TryDrain(p, tracked.ID)
		return err
	})
	if err != nil {
		p.fail(err)
		return
	}
	if reducer != nil {
		p.metrics.reducersFired.Inc(1)
		p.logger.Debug("Subtree drained", "job_id", tracked.ID, "job_type", tracked.Type, "reducer", reducer.Type)
		p.submit(*reducer)
	}
}

// wait polls until no job is in flight.
func (p *Pool) wait() {
	ticker := time.NewTicker(p.waitInterval)
	defer ticker.Stop()

	for p.InFlight() > 0 {
		<-ticker.C
	}
}

// fail records a job failure and stops the batch from spawning new work.
// The caller holds p.mu.
func (p *Pool) fail(err error) {
	if !p.aborted {
		p.logger.Warn("Aborting batch after job failure", "error", err, "in_flight", len(p.liveHandles))
		for _, h := range p.liveHandles {
			p.logger.Debug(
				"Waiting for in-flight job",
				"job_id", h.ID,
				"job_type", h.Type,
				"parent", h.Parent,
				"age", time.Since(h.Submitted),
			)
		}
	}
	p.aborted = true
	p.errs = multierror.Append(p.errs, err)
}

func (p *Pool) construct(id core.JobID, jobType *core.JobType, param core.JobParam) (core.Job, error) {
	var job core.Job
	err := p.guard(id, jobType.Name, func() error {
		var err error
		job, err = jobType.New(p, param)
		if err != nil {
			return &JobError{ID: id, Type: jobType.Name, Err: fmt.Errorf("construct: %w", err)}
		}
		return nil
	})
	return job, err
}

func (p *Pool) childrenOf(id core.JobID, jobType string, job core.Job) (*core.JobType, []core.JobParam, error) {
	var (
		childType   *core.JobType
		childParams []core.JobParam
	)
	err := p.guard(id, jobType, func() error {
		childType, childParams = core.ChildrenOf(job)
		return nil
	})
	if err != nil || childType == nil {
		return nil, nil, err
	}
	return childType, childParams, nil
}

func (p *Pool) reducerOf(id core.JobID, jobType string, job core.Job) (*core.JobType, core.JobParam, bool, error) {
	var (
		reducerType *core.JobType
		param       core.JobParam
		ok          bool
	)
	err := p.guard(id, jobType, func() error {
		reducerType, param, ok = core.ReducerOf(job)
		return nil
	})
	if err != nil {
		return nil, core.JobParam{}, false, err
	}
	return reducerType, param, ok, nil
}

func (p *Pool) execute(id core.JobID, jobType string, job core.Job) error {
	start := time.Now()
	err := p.guard(id, jobType, func() error {
		if err := job.Execute(); err != nil {
			p.logger.Error("Job failed", "job_id", id, "job_type", jobType, "error", err)
			return &JobError{ID: id, Type: jobType, Err: err}
		}
		return nil
	})
	p.metrics.jobFinished(start, err)
	return err
}

// guard runs user code belonging to a job and turns a panic into a
// *JobError wrapping ErrJobPanicked.
func (p *Pool) guard(id core.JobID, jobType string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(
				"Job panicked",
				"job_id", id,
				"job_type", jobType,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = &JobError{ID: id, Type: jobType, Err: fmt.Errorf("%w: %v", ErrJobPanicked, r)}
		}
	}()
	return fn()
}
