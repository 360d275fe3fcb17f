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

package log

import (
	"sync/atomic"
)

const (
	DefaultBacklogSize = 64
)

// Entry is a diagnostic message whose formatting is deferred until it is drained.
type Entry struct {
	Level  LogLevel
	Key    string
	Format string
	Args   []interface{}
}

// Backlog is a bounded, non-blocking diagnostic queue.
// Post never blocks and never formats; a full backlog drops the entry and
// counts it. The owner drains it from a context where printing may block.
type Backlog struct {
	entries chan Entry
	dropped uint64
}

func NewBacklog(size int) *Backlog {
	if size <= 0 {
		size = DefaultBacklogSize
	}
	return &Backlog{
		entries: make(chan Entry, size),
	}
}

// Post queues a diagnostic message. Key groups messages for throttling when drained.
func (b *Backlog) Post(level LogLevel, key, format string, args ...interface{}) {
	select {
	case b.entries <- Entry{Level: level, Key: key, Format: format, Args: args}:
	default:
		atomic.AddUint64(&b.dropped, 1)
	}
}

// Dropped returns the number of entries lost because the backlog was full.
func (b *Backlog) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Len returns the number of queued entries.
func (b *Backlog) Len() int {
	return len(b.entries)
}

// Drain prints every queued entry and returns how many were taken.
// When throttle is not nil entries are rate limited by their key.
func (b *Backlog) Drain(throttle *Throttle) int {
	n := 0
	for {
		select {
		case e := <-b.entries:
			n++
			if throttle != nil && !throttle.Allow(e.Key) {
				continue
			}
			Print(e.Level, e.Format, e.Args...)
		default:
			return n
		}
	}
}
