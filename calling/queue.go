/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// serialQueue runs submitted operations one at a time in submission order.
// At most one goroutine drains it; the drainer exits when the queue is empty.
type serialQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
	idle    *sync.Cond
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue schedules fn after every previously enqueued operation.
func (q *serialQueue) Enqueue(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Wait blocks until the queue is empty and no operation is running.
func (q *serialQueue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running {
		q.idle.Wait()
	}
}
