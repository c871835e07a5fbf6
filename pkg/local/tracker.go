package local

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nemanja-m/fanout/pkg/core"
)

// Tracked is a job registered with a SubtreeTracker.
type Tracked struct {
	ID     core.JobID
	Parent core.JobID
	Type   string
	Job    core.Job
}

type trackedNode struct {
	Tracked
	pending map[core.JobID]struct{}
}

// SubtreeTracker maps every live job to its parent and to the set of its
// transitive descendants that have not drained yet. A job's pending set is
// empty iff everything ever spawned under it has executed and, where
// declared, had its reducer drain too.
//
// SubtreeTracker is not safe for concurrent use; the pool serializes access.
type SubtreeTracker struct {
	nodes map[core.JobID]*trackedNode
	newID func() core.JobID
}

func NewSubtreeTracker() *SubtreeTracker {
	return &SubtreeTracker{
		nodes: make(map[core.JobID]*trackedNode),
		newID: uuid.New,
	}
}

// AddJob records job under parent and appends it to the pending set of the
// parent and of every ancestor above it.
func (t *SubtreeTracker) AddJob(id core.JobID, jobType string, job core.Job, parent core.JobID) Tracked {
	node := &trackedNode{
		Tracked: Tracked{ID: id, Parent: parent, Type: jobType, Job: job},
		pending: make(map[core.JobID]struct{}),
	}
	t.nodes[id] = node

	for ancestor := range t.ancestors(parent) {
		ancestor.pending[id] = struct{}{}
	}
	return node.Tracked
}

// TryDrain is called once a job has finished. When the job still has
// undrained descendants nothing happens. Otherwise the job is dropped from
// every structure and either its reducer is registered under the job's
// parent and returned, or the parent itself is tried since it may have just
// become drained.
func (t *SubtreeTracker) TryDrain(rt core.Runtime, id core.JobID) (*Tracked, error) {
	if id == core.RootID {
		return nil, nil
	}
	node, ok := t.nodes[id]
	if !ok || len(node.pending) > 0 {
		return nil, nil
	}

	delete(t.nodes, id)
	parent := node.Parent
	for ancestor := range t.ancestors(parent) {
		delete(ancestor.pending, id)
	}

	reducerType, param, ok := core.ReducerOf(node.Job)
	if !ok {
		return t.TryDrain(rt, parent)
	}

	reducer, err := reducerType.New(rt, param)
	if err != nil {
		// Without a reducer the parent may already be drained.
		if _, drainErr := t.TryDrain(rt, parent); drainErr != nil {
			err = fmt.Errorf("%w; %w", err, drainErr)
		}
		return nil, fmt.Errorf("construct reducer %s for %s %s: %w", reducerType.Name, node.Type, id, err)
	}

	tracked := t.AddJob(t.newID(), reducerType.Name, reducer, parent)
	return &tracked, nil
}

// Pending returns the undrained descendants of id.
func (t *SubtreeTracker) Pending(id core.JobID) []core.JobID {
	node, ok := t.nodes[id]
	if !ok {
		return nil
	}
	ids := make([]core.JobID, 0, len(node.pending))
	for pendingID := range node.pending {
		ids = append(ids, pendingID)
	}
	return ids
}

func (t *SubtreeTracker) Contains(id core.JobID) bool {
	_, ok := t.nodes[id]
	return ok
}

func (t *SubtreeTracker) ParentOf(id core.JobID) (core.JobID, bool) {
	node, ok := t.nodes[id]
	if !ok {
		return core.RootID, false
	}
	return node.Parent, true
}

func (t *SubtreeTracker) Len() int {
	return len(t.nodes)
}

func (t *SubtreeTracker) Reset() {
	clear(t.nodes)
}

// ancestors yields id's node followed by each node above it.
func (t *SubtreeTracker) ancestors(id core.JobID) func(yield func(*trackedNode) bool) {
	return func(yield func(*trackedNode) bool) {
		for id != core.RootID {
			node, ok := t.nodes[id]
			if !ok || !yield(node) {
				return
			}
			id = node.Parent
		}
	}
}
