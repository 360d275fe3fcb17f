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

package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
)

func group(start int64) *pulse.Group {
	return &pulse.Group{StartTimestampUs: start, Pulses: make([]pulse.Record, 1)}
}

func TestGroupQueueMovesOwnership(t *testing.T) {
	q := NewGroupQueue(1)

	h := pulse.NewHandle(group(1))
	require.True(t, q.TryPush(h))
	assert.True(t, h.Empty())

	full := pulse.NewHandle(group(2))
	assert.False(t, q.TryPush(full))
	assert.False(t, full.Empty(), "rejected group stays with the producer")

	assert.False(t, q.TryPush(pulse.NewHandle(nil)))

	got, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Take().StartTimestampUs)

	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestGroupQueueFIFO(t *testing.T) {
	q := NewGroupQueue(10)
	for i := int64(0); i < 5; i++ {
		require.True(t, q.TryPush(pulse.NewHandle(group(i))))
	}
	assert.Equal(t, 5, q.Len())
	for i := int64(0); i < 5; i++ {
		h, ok := q.Pop(context.Background(), time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, i, h.Take().StartTimestampUs)
	}
}

func TestGroupQueuePopTimeout(t *testing.T) {
	q := NewGroupQueue(1)

	begin := time.Now()
	_, ok := q.Pop(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(begin), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok = q.Pop(ctx, time.Hour)
	assert.False(t, ok)
}

func TestRestartQueue(t *testing.T) {
	q := NewRestartQueue(2)
	assert.True(t, q.TryPush(0))
	assert.True(t, q.TryPush(2))
	assert.False(t, q.TryPush(1))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())

	c, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, uint8(0), c)
	c, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, uint8(2), c)
	_, ok = q.TryPop()
	assert.False(t, ok)
}
