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
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits diagnostic output per key, e.g. per capture channel.
// Suppressed lines are counted, not queued.
type Throttle struct {
	mu         sync.Mutex
	every      time.Duration
	limiters   map[string]*rate.Limiter
	suppressed map[string]uint64
}

// NewThrottle allows perSecond lines per key. perSecond <= 0 disables throttling.
func NewThrottle(perSecond int) *Throttle {
	t := &Throttle{
		limiters:   make(map[string]*rate.Limiter),
		suppressed: make(map[string]uint64),
	}
	if perSecond > 0 {
		t.every = time.Second / time.Duration(perSecond)
	}
	return t
}

// Allow reports whether a line for key may be printed now.
func (t *Throttle) Allow(key string) bool {
	if t.every == 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.every), 1)
		t.limiters[key] = l
	}
	if l.Allow() {
		return true
	}
	t.suppressed[key]++
	return false
}

// Suppressed returns how many lines were withheld for key.
func (t *Throttle) Suppressed(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed[key]
}

func (t *Throttle) Info(key, format string, v ...interface{}) {
	if t.Allow(key) {
		Info(format, v...)
	}
}

func (t *Throttle) Warning(key, format string, v ...interface{}) {
	if t.Allow(key) {
		Warning(format, v...)
	}
}
