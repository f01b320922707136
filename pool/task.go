package pool

import "context"

// Task is one unit of work executed exactly once by one worker.
type Task interface {
	Run(ctx context.Context)
}

// TaskFunc adapts an ordinary function to a Task.
type TaskFunc func(ctx context.Context)

// Run calls f(ctx).
func (f TaskFunc) Run(ctx context.Context) { f(ctx) }

// Discarder is implemented by tasks that hold resources which must be
// released when the task is dropped without running.
type Discarder interface {
	Discard()
}

// discard releases a task that will never run.
func discard(t Task) {
	if d, ok := t.(Discarder); ok {
		d.Discard()
	}
}

func isNilTask(t Task) bool {
	if t == nil {
		return true
	}
	f, ok := t.(TaskFunc)
	return ok && f == nil
}
