/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSerialQueue(t *testing.T) {
	t.Run("runs in submission order", func(t *testing.T) {
		q := newSerialQueue()
		var mu sync.Mutex
		var got []int
		for i := 0; i < 50; i++ {
			q.Enqueue(func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			})
		}
		q.Wait()
		for i, v := range got {
			if v != i {
				t.Fatalf("Expected %d at position %d, got %d", i, i, v)
			}
		}
		if len(got) != 50 {
			t.Fatalf("Expected 50 operations, got %d", len(got))
		}
	})

	t.Run("never runs two operations at once", func(t *testing.T) {
		q := newSerialQueue()
		var running, peak atomic.Int32
		for i := 0; i < 20; i++ {
			q.Enqueue(func() {
				n := running.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
			})
		}
		q.Wait()
		if peak.Load() != 1 {
			t.Errorf("Expected at most one running operation, saw %d", peak.Load())
		}
	})

	t.Run("separate queues run concurrently", func(t *testing.T) {
		a, b := newSerialQueue(), newSerialQueue()
		release := make(chan struct{})
		done := make(chan struct{})
		a.Enqueue(func() { <-release })
		b.Enqueue(func() { close(done) })
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Queue b was blocked by queue a")
		}
		close(release)
		a.Wait()
	})

	t.Run("wait on idle queue returns", func(t *testing.T) {
		newSerialQueue().Wait()
	})
}
