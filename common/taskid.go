package common

import "sync/atomic"

// TaskIDCounter hands out monotonically increasing ImageTask identifiers.
// The zero value is ready to use; a pipeline owns exactly one instance.
type TaskIDCounter struct {
	next int64
}

// Next returns the next unused id, starting at 1 so the zero value of an
// int64 task-id field can mean "no task".
func (c *TaskIDCounter) Next() int64 {
	return atomic.AddInt64(&c.next, 1)
}
