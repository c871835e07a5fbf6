package jobs

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/nemanja-m/fanout/pkg/core"
)

var (
	ErrDuplicateJobType = errors.New("job type already registered")
	ErrUnknownJobType   = errors.New("job type not found")
)

// ParamsFunc turns command-line arguments into the params of the root jobs.
type ParamsFunc func(args []string) ([]core.JobParam, error)

// Definition is a runnable entry point: the root job type, a description and
// how to build root params from arguments.
type Definition struct {
	Type        *core.JobType
	Description string
	Params      ParamsFunc
	// NewState returns the shared state for a run.
	NewState func() any
	// Report writes the outcome of a finished run.
	Report func(state any, w io.Writer) error
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Definition)
)

func Register(name string, def Definition) error {
	if def.Type == nil {
		return fmt.Errorf("job %s: %w", name, core.ErrNilJobType)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJobType, name)
	}
	registry[name] = def
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(name string, def Definition) {
	if err := Register(name, def); err != nil {
		panic(err)
	}
}

func Get(name string) (Definition, error) {
	mu.RLock()
	defer mu.RUnlock()
	def, exists := registry[name]
	if !exists {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownJobType, name)
	}
	return def, nil
}

func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
