// Package memory provides the in-process work queue shared by session workers.
package memory

import (
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// Queue hands out a fixed set of units exactly once. It is backed by a
// closed, pre-filled channel, so Next never blocks and concurrent receivers
// can never observe the same unit.
type Queue struct {
	ch    chan scraper.WorkUnit
	total int
}

// NewQueue seeds a queue with units in order.
func NewQueue(units []scraper.WorkUnit) *Queue {
	ch := make(chan scraper.WorkUnit, len(units))
	for _, u := range units {
		ch <- u
	}
	close(ch)
	return &Queue{ch: ch, total: len(units)}
}

// Next removes and returns the next unit, or false once the queue is empty.
func (q *Queue) Next() (scraper.WorkUnit, bool) {
	unit, ok := <-q.ch
	return unit, ok
}

// Remaining returns a point-in-time count of units not yet handed out.
func (q *Queue) Remaining() int {
	return len(q.ch)
}

// Total returns the number of units the queue was seeded with.
func (q *Queue) Total() int {
	return q.total
}

// Drain removes and returns every remaining unit.
func (q *Queue) Drain() []scraper.WorkUnit {
	var out []scraper.WorkUnit
	for unit := range q.ch {
		out = append(out, unit)
	}
	return out
}
