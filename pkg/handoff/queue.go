/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package handoff carries pulse groups and restart notifications from completion
// callbacks to the worker. Producers never block.
package handoff

import (
	"context"
	"time"

	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
)

// GroupQueue transfers ownership of pulse groups.
type GroupQueue struct {
	ch chan *pulse.Group
}

func NewGroupQueue(size int) *GroupQueue {
	return &GroupQueue{ch: make(chan *pulse.Group, size)}
}

// TryPush moves the group out of h into the queue. On success h is empty; on
// failure h still owns the group and the caller must free it.
func (q *GroupQueue) TryPush(h *pulse.Handle) bool {
	g := h.Peek()
	if g == nil {
		return false
	}
	select {
	case q.ch <- g:
		h.Take()
		return true
	default:
		return false
	}
}

// Pop waits at most wait for a group. It returns false on timeout or when ctx is done.
func (q *GroupQueue) Pop(ctx context.Context, wait time.Duration) (*pulse.Handle, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case g := <-q.ch:
		return pulse.NewHandle(g), true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (q *GroupQueue) TryPop() (*pulse.Handle, bool) {
	select {
	case g := <-q.ch:
		return pulse.NewHandle(g), true
	default:
		return nil, false
	}
}

func (q *GroupQueue) Len() int {
	return len(q.ch)
}

func (q *GroupQueue) Cap() int {
	return cap(q.ch)
}

// RestartQueue carries the 0-based index of channels waiting to be re-armed.
type RestartQueue struct {
	ch chan uint8
}

func NewRestartQueue(size int) *RestartQueue {
	return &RestartQueue{ch: make(chan uint8, size)}
}

func (q *RestartQueue) TryPush(channel uint8) bool {
	select {
	case q.ch <- channel:
		return true
	default:
		return false
	}
}

func (q *RestartQueue) TryPop() (uint8, bool) {
	select {
	case c := <-q.ch:
		return c, true
	default:
		return 0, false
	}
}

func (q *RestartQueue) Len() int {
	return len(q.ch)
}

func (q *RestartQueue) Cap() int {
	return cap(q.ch)
}
