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

package pulse

import (
	"errors"
	"sync/atomic"
)

var ErrNoMemory = errors.New("pulse: record budget exhausted")

// Allocator hands out groups and record arrays. Implementations must be safe to
// call from completion callbacks: no blocking, failure is an ordinary error.
type Allocator interface {
	NewGroup(channel uint8, numPulses int) (*Group, error)
	FreeGroup(g *Group)
	NewRecords(n int) ([]Record, error)
	FreeRecords(r []Record)
}

type AllocatorStats struct {
	GroupAllocs  uint64 `json:"group_allocs"`
	GroupFrees   uint64 `json:"group_frees"`
	RecordAllocs uint64 `json:"record_allocs"`
	RecordFrees  uint64 `json:"record_frees"`
	Failures     uint64 `json:"failures"`
	DoubleFrees  uint64 `json:"double_frees"`
	InUse        int64  `json:"in_use"`
	Budget       int64  `json:"budget"`
}

// BudgetAllocator limits the number of records alive at once, standing in for a
// small fixed heap. All counters are atomic.
type BudgetAllocator struct {
	budget int64
	inUse  int64

	groupAllocs  uint64
	groupFrees   uint64
	recordAllocs uint64
	recordFrees  uint64
	failures     uint64
	doubleFrees  uint64

	failGroups  int64
	failRecords int64
}

var _ Allocator = &BudgetAllocator{}

func NewBudgetAllocator(records int) *BudgetAllocator {
	return &BudgetAllocator{budget: int64(records)}
}

func (a *BudgetAllocator) reserve(n int) bool {
	for {
		inUse := atomic.LoadInt64(&a.inUse)
		if inUse+int64(n) > a.budget {
			return false
		}
		if atomic.CompareAndSwapInt64(&a.inUse, inUse, inUse+int64(n)) {
			return true
		}
	}
}

// takeFailure consumes one injected failure if any is pending.
func takeFailure(counter *int64) bool {
	for {
		n := atomic.LoadInt64(counter)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(counter, n, n-1) {
			return true
		}
	}
}

func (a *BudgetAllocator) NewGroup(channel uint8, numPulses int) (*Group, error) {
	if numPulses <= 0 {
		return nil, errors.New("pulse: group must hold at least one pulse")
	}
	if takeFailure(&a.failGroups) || !a.reserve(numPulses) {
		atomic.AddUint64(&a.failures, 1)
		return nil, ErrNoMemory
	}
	atomic.AddUint64(&a.groupAllocs, 1)
	return &Group{
		Channel: channel,
		Pulses:  make([]Record, numPulses),
	}, nil
}

func (a *BudgetAllocator) FreeGroup(g *Group) {
	if g == nil {
		return
	}
	if g.Pulses == nil {
		atomic.AddUint64(&a.doubleFrees, 1)
		return
	}
	atomic.AddInt64(&a.inUse, -int64(len(g.Pulses)))
	g.Pulses = nil
	atomic.AddUint64(&a.groupFrees, 1)
}

func (a *BudgetAllocator) NewRecords(n int) ([]Record, error) {
	if n <= 0 {
		return nil, errors.New("pulse: record array must not be empty")
	}
	if takeFailure(&a.failRecords) || !a.reserve(n) {
		atomic.AddUint64(&a.failures, 1)
		return nil, ErrNoMemory
	}
	atomic.AddUint64(&a.recordAllocs, 1)
	return make([]Record, n), nil
}

func (a *BudgetAllocator) FreeRecords(r []Record) {
	if r == nil {
		return
	}
	atomic.AddInt64(&a.inUse, -int64(len(r)))
	atomic.AddUint64(&a.recordFrees, 1)
}

// FailNextGroups makes the next n group allocations fail.
func (a *BudgetAllocator) FailNextGroups(n int) {
	atomic.AddInt64(&a.failGroups, int64(n))
}

// FailNextRecords makes the next n record array allocations fail.
func (a *BudgetAllocator) FailNextRecords(n int) {
	atomic.AddInt64(&a.failRecords, int64(n))
}

func (a *BudgetAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		GroupAllocs:  atomic.LoadUint64(&a.groupAllocs),
		GroupFrees:   atomic.LoadUint64(&a.groupFrees),
		RecordAllocs: atomic.LoadUint64(&a.recordAllocs),
		RecordFrees:  atomic.LoadUint64(&a.recordFrees),
		Failures:     atomic.LoadUint64(&a.failures),
		DoubleFrees:  atomic.LoadUint64(&a.doubleFrees),
		InUse:        atomic.LoadInt64(&a.inUse),
		Budget:       a.budget,
	}
}
