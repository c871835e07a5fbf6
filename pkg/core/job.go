package core

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nemanja-m/fanout/internal/shared/logging"
)

var ErrNilJobType = errors.New("job type is nil")

// JobID identifies one registered job instance within a run.
type JobID = uuid.UUID

// RootID is the parent of every job submitted directly to Run.
var RootID = uuid.Nil

// Runtime is the view of the owning pool a job gets at construction time.
type Runtime interface {
	// State is the caller-supplied object shared by every job of a run.
	State() any
	ThreadCount() int
	// StateLock is nil when the pool runs with a single worker.
	StateLock() sync.Locker
	Logger() logging.Logger
}

// Job is one schedulable unit of work.
type Job interface {
	Execute() error
}

// ChildSpawner is implemented by jobs that fan out after executing. One child
// is constructed per returned param, each parented to the spawning job.
type ChildSpawner interface {
	Children() (*JobType, []JobParam)
}

// Reducer is implemented by jobs that need a follow-up job once their whole
// subtree has drained. The reducer is parented to the trigger's parent.
type Reducer interface {
	Reducer() (*JobType, JobParam)
}

// JobType is a named constructor for jobs.
type JobType struct {
	Name string
	New  func(rt Runtime, param JobParam) (Job, error)
}

func NewJobType(name string, fn func(rt Runtime, param JobParam) (Job, error)) *JobType {
	return &JobType{Name: name, New: fn}
}

// BaseJob is embedded by concrete jobs to keep the pool back-reference. It
// declares no children and no reducer.
type BaseJob struct {
	rt Runtime
}

func NewBaseJob(rt Runtime) BaseJob {
	return BaseJob{rt: rt}
}

func (b BaseJob) Runtime() Runtime {
	return b.rt
}

func (b BaseJob) Children() (*JobType, []JobParam) {
	return nil, nil
}

func (b BaseJob) Reducer() (*JobType, JobParam) {
	return nil, JobParam{}
}

// ChildrenOf returns the children declared by job, if any.
func ChildrenOf(job Job) (*JobType, []JobParam) {
	if spawner, ok := job.(ChildSpawner); ok {
		return spawner.Children()
	}
	return nil, nil
}

// ReducerOf returns the reducer declared by job, if any.
func ReducerOf(job Job) (*JobType, JobParam, bool) {
	if reducer, ok := job.(Reducer); ok {
		jobType, param := reducer.Reducer()
		return jobType, param, jobType != nil
	}
	return nil, JobParam{}, false
}

// Locked runs fn while holding the runtime's state lock, if it has one.
func Locked(rt Runtime, fn func()) {
	if lock := rt.StateLock(); lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}
	fn()
}
