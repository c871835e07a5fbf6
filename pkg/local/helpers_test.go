package local

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nemanja-m/fanout/pkg/core"
)

var errBoom = errors.New("boom")

// shape describes a job graph: the unique label and the value a job
// records, what it spawns and which reducer fires once its subtree drains.
type shape struct {
	Label    string
	Value    int
	Children []shape
	Reducer  *shape
	Fail     bool
	Panic    bool
}

type recorder struct {
	labels []string
	values []int
}

var shapeType *core.JobType

func init() {
	shapeType = core.NewJobType("shape", func(rt core.Runtime, param core.JobParam) (core.Job, error) {
		v, err := param.Arg(0)
		if err != nil {
			return nil, err
		}
		s, ok := v.(shape)
		if !ok {
			return nil, fmt.Errorf("want shape, got %T", v)
		}
		return &shapeJob{BaseJob: core.NewBaseJob(rt), shape: s}, nil
	})
}

type shapeJob struct {
	core.BaseJob
	shape shape
}

func (j *shapeJob) Execute() error {
	if j.shape.Fail {
		return errBoom
	}
	if j.shape.Panic {
		panic("kaboom")
	}
	rt := j.Runtime()
	core.Locked(rt, func() {
		rec := rt.State().(*recorder)
		rec.labels = append(rec.labels, j.shape.Label)
		rec.values = append(rec.values, j.shape.Value)
	})
	return nil
}

func (j *shapeJob) Children() (*core.JobType, []core.JobParam) {
	if len(j.shape.Children) == 0 {
		return nil, nil
	}
	return shapeType, core.FromSlice(j.shape.Children)
}

func (j *shapeJob) Reducer() (*core.JobType, core.JobParam) {
	if j.shape.Reducer == nil {
		return nil, core.JobParam{}
	}
	return shapeType, core.NewJobParam(*j.shape.Reducer)
}

// fanoutShape builds the graph where the top job records 1, spawns k
// children recording 2, each spawning m grandchildren recording 3. Child
// reducers record 5 and the top reducer records 4.
func fanoutShape(k, m int) shape {
	top := shape{Label: "1", Value: 1, Reducer: &shape{Label: "1/r", Value: 4}}
	for i := range k {
		label := fmt.Sprintf("1.%d", i)
		child := shape{Label: label, Value: 2, Reducer: &shape{Label: label + "/r", Value: 5}}
		for j := range m {
			child.Children = append(child.Children, shape{Label: fmt.Sprintf("%s.%d", label, j), Value: 3})
		}
		top.Children = append(top.Children, child)
	}
	return top
}

// preorder is the sequential execution order: the job, its children's full
// subtrees, then its reducer.
func preorder(s shape) []string {
	out := []string{s.Label}
	for _, child := range s.Children {
		out = append(out, preorder(child)...)
	}
	if s.Reducer != nil {
		out = append(out, preorder(*s.Reducer)...)
	}
	return out
}

func drawShape(t *rapid.T, label string, depth int) shape {
	s := shape{Label: label}
	if depth == 0 {
		return s
	}
	n := rapid.IntRange(0, 3).Draw(t, "children")
	for i := range n {
		s.Children = append(s.Children, drawShape(t, label+"."+strconv.Itoa(i), depth-1))
	}
	if rapid.Bool().Draw(t, "reducer") {
		r := drawShape(t, label+"/r", depth-1)
		s.Reducer = &r
	}
	return s
}

// requireBarrier checks that every reducer was recorded after everything
// its trigger's subtree recorded.
func requireBarrier(t require.TestingT, s shape, labels []string) {
	index := make(map[string]int, len(labels))
	for i, label := range labels {
		index[label] = i
	}

	var walk func(s shape)
	walk = func(s shape) {
		if s.Reducer != nil {
			reducerAt, ok := index[s.Reducer.Label]
			require.True(t, ok, "reducer %s never ran", s.Reducer.Label)
			for label, at := range index {
				if label == s.Label || strings.HasPrefix(label, s.Label+".") {
					require.Less(t, at, reducerAt, "%s recorded after reducer %s", label, s.Reducer.Label)
				}
			}
			walk(*s.Reducer)
		}
		for _, child := range s.Children {
			walk(child)
		}
	}
	walk(s)
}

func sorted[T cmp.Ordered](values []T) []T {
	out := slices.Clone(values)
	slices.Sort(out)
	return out
}

func newTestPool(t *testing.T, threads int) (*Pool, *recorder) {
	t.Helper()
	rec := &recorder{}
	pool, err := NewPool(rec, WithThreadCount(threads), WithWaitInterval(time.Millisecond))
	require.NoError(t, err)
	return pool, rec
}
