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

package telemetry

import (
	"context"
	"errors"
	"time"
)

var ErrSinkFull = errors.New("telemetry: sink queue is full")

// Sink accepts events by ownership transfer. When Send fails the caller still owns
// the event.
type Sink interface {
	Send(ctx context.Context, ev *PulseEvent, wait time.Duration) error
}

// Queue is the bounded in-process sink. Whoever receives from Events must Release
// every event.
type Queue struct {
	ch chan *PulseEvent
}

var _ Sink = &Queue{}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan *PulseEvent, size)}
}

func (q *Queue) Send(ctx context.Context, ev *PulseEvent, wait time.Duration) error {
	select {
	case q.ch <- ev:
		return nil
	default:
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case q.ch <- ev:
		return nil
	case <-timer.C:
		return ErrSinkFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Events() <-chan *PulseEvent {
	return q.ch
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}
