package local

import (
	"errors"
	"sync"
)

var ErrWorkersClosed = errors.New("worker group is closed")

type Task func()

// Workers is a fixed group of goroutines draining a FIFO of tasks. Submit
// never blocks, so a running task may safely submit follow-up tasks.
type Workers struct {
	numWorkers int
	once       sync.Once
	wg         sync.WaitGroup

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool
}

func NewWorkers(numWorkers int) *Workers {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	w := &Workers{numWorkers: numWorkers}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *Workers) Start() {
	w.once.Do(func() {
		for range w.numWorkers {
			w.wg.Go(w.loop)
		}
	})
}

func (w *Workers) loop() {
	for {
		task, ok := w.next()
		if !ok {
			return
		}
		if task != nil {
			task()
		}
	}
}

func (w *Workers) next() (Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.tasks) == 0 && !w.closed {
		w.cond.Wait()
	}
	if len(w.tasks) == 0 {
		return nil, false
	}
	task := w.tasks[0]
	w.tasks[0] = nil
	w.tasks = w.tasks[1:]
	return task, true
}

func (w *Workers) Submit(task Task) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWorkersClosed
	}
	w.tasks = append(w.tasks, task)
	w.cond.Signal()
	return nil
}

// Close stops accepting tasks and waits until queued and running tasks finish.
func (w *Workers) Close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Workers) Size() int {
	return w.numWorkers
}
