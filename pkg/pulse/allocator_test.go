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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupIsExactlySized(t *testing.T) {
	a := NewBudgetAllocator(100)
	g, err := a.NewGroup(2, 7)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), g.Channel)
	assert.Equal(t, 7, g.NumPulses())
	assert.Equal(t, 7, cap(g.Pulses))

	_, err = a.NewGroup(0, 0)
	assert.Error(t, err)
}

func TestBudgetExhaustion(t *testing.T) {
	a := NewBudgetAllocator(10)

	g, err := a.NewGroup(0, 6)
	require.NoError(t, err)
	_, err = a.NewRecords(5)
	assert.Equal(t, ErrNoMemory, err)

	r, err := a.NewRecords(4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.Stats().InUse)

	a.FreeGroup(g)
	a.FreeRecords(r)

	stats := a.Stats()
	assert.Equal(t, int64(0), stats.InUse)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, stats.GroupAllocs, stats.GroupFrees)
	assert.Equal(t, stats.RecordAllocs, stats.RecordFrees)
}

func TestInjectedFailures(t *testing.T) {
	a := NewBudgetAllocator(100)
	a.FailNextGroups(1)
	a.FailNextRecords(2)

	_, err := a.NewGroup(0, 1)
	assert.Equal(t, ErrNoMemory, err)
	g, err := a.NewGroup(0, 1)
	require.NoError(t, err)

	_, err = a.NewRecords(1)
	assert.Equal(t, ErrNoMemory, err)
	_, err = a.NewRecords(1)
	assert.Equal(t, ErrNoMemory, err)
	r, err := a.NewRecords(1)
	require.NoError(t, err)

	a.FreeGroup(g)
	a.FreeRecords(r)
	assert.Equal(t, uint64(3), a.Stats().Failures)
}

func TestDoubleFreeIsCounted(t *testing.T) {
	a := NewBudgetAllocator(10)
	g, err := a.NewGroup(1, 3)
	require.NoError(t, err)

	a.FreeGroup(g)
	a.FreeGroup(g)
	a.FreeGroup(nil)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.GroupFrees)
	assert.Equal(t, uint64(1), stats.DoubleFrees)
	assert.Equal(t, int64(0), stats.InUse)
}

func TestHandleMovesOwnership(t *testing.T) {
	g := &Group{Channel: 1, Pulses: make([]Record, 1)}
	h := NewHandle(g)
	assert.False(t, h.Empty())
	assert.Same(t, g, h.Peek())

	assert.Same(t, g, h.Take())
	assert.True(t, h.Empty())
	assert.Nil(t, h.Take())
}

func TestConcurrentAllocations(t *testing.T) {
	a := NewBudgetAllocator(64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(ch uint8) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				g, err := a.NewGroup(ch, 4)
				if err != nil {
					continue
				}
				a.FreeGroup(g)
			}
		}(uint8(w))
	}
	wg.Wait()

	stats := a.Stats()
	assert.Equal(t, stats.GroupAllocs, stats.GroupFrees)
	assert.Equal(t, int64(0), stats.InUse)
	assert.Equal(t, uint64(8000), stats.GroupAllocs+stats.Failures)
}
