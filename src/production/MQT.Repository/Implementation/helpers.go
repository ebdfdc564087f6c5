package implementation

import (
	"sync"
	"time"
)

// recordClock hands out RecordedAt values: UTC, millisecond precision (the
// coarsest precision of any backing store) and never earlier than the
// previous value, even if the wall clock steps backwards.
type recordClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newRecordClock(now func() time.Time) *recordClock {
	if now == nil {
		now = time.Now
	}
	return &recordClock{now: now}
}

func (c *recordClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Millisecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
