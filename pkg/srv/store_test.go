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

package srv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
	"jinr.ru/greenlab/go-pulsemon/pkg/telemetry"
)

func newTestStore(t *testing.T, maxEvents int) *Store {
	s, err := NewStore(filepath.Join(t.TempDir(), "events.db"), 3, maxEvents)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func event(channel uint, start int64, durations ...uint32) *telemetry.PulseEvent {
	records := []pulse.Record{}
	for i, d := range durations {
		sep := pulse.NoSeparation
		if i > 0 {
			sep = 20
		}
		records = append(records, pulse.Record{DurationUs: d, SeparationUs: sep})
	}
	return telemetry.NewPulseEvent(channel, start, records, nil)
}

func TestStoreSaveAndQuery(t *testing.T) {
	s := newTestStore(t, 100)
	require.NoError(t, s.Save(event(1, 9410, 200, 300)))
	require.NoError(t, s.Save(event(1, 20000, 50)))
	require.NoError(t, s.Save(event(2, 15000, 10)))

	events, err := s.Events(1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(20000), events[0].StartTimestampUs, "newest first")
	assert.Equal(t, int64(9410), events[1].StartTimestampUs)
	assert.Equal(t, uint8(2), events[1].SymbolCount)
	assert.Equal(t, []pulse.Record{{DurationUs: 200, SeparationUs: -1}, {DurationUs: 300, SeparationUs: 20}}, events[1].Pulses)

	limited, err := s.Events(1, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := s.Count(2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Events(7, 10)
	assert.Equal(t, ErrBucketNotFound{Name: "events_ch7"}, err)
	_, err = s.Count(7)
	assert.Error(t, err)
	assert.Error(t, s.Save(event(9, 1, 1)))
}

func TestStoreRetention(t *testing.T) {
	s := newTestStore(t, 3)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Save(event(3, i*1000, 1)))
	}
	n, err := s.Count(3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events, err := s.Events(3, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(5000), events[0].StartTimestampUs)
	assert.Equal(t, int64(3000), events[2].StartTimestampUs)
	assert.Equal(t, StoreStats{Saved: 5, Pruned: 2}, s.Stats())
}

func TestStoreReopenKeepsCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "events.db")
	s, err := NewStore(path, 1, 10)
	require.NoError(t, err)
	require.NoError(t, s.Save(event(1, 1, 1)))
	require.NoError(t, s.Save(event(1, 1, 1)))
	require.NoError(t, s.Close())

	s, err = NewStore(path, 1, 10)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(1)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "same start time does not overwrite")
}

func TestStoreConsumeReleases(t *testing.T) {
	s := newTestStore(t, 10)
	alloc := pulse.NewBudgetAllocator(10)
	queue := telemetry.NewQueue(4)
	for i := 0; i < 3; i++ {
		records, err := alloc.NewRecords(2)
		require.NoError(t, err)
		require.NoError(t, queue.Send(context.Background(), telemetry.NewPulseEvent(1, int64(i), records, alloc), 0))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Consume(ctx, queue.Events()))

	n, err := s.Count(1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(0), alloc.Stats().InUse)
	assert.Equal(t, uint64(3), alloc.Stats().RecordFrees)
}
