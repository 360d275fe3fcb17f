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
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	Init(buf, level)
	t.Cleanup(func() { Init(os.Stderr, "info") })
	return buf
}

func TestSetLevel(t *testing.T) {
	buf := captureOutput(t, "warning")

	Info("hidden %d", 1)
	Warning("shown %d", 2)
	Error("shown %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, WarningPrefix+"shown 2")
	assert.Contains(t, out, ErrorPrefix+"shown 3")
	assert.Equal(t, buf, Writer())

	require.Error(t, SetLevel("verbose"))
}

func TestBacklogDropsWhenFull(t *testing.T) {
	buf := captureOutput(t, "debug")
	b := NewBacklog(2)

	b.Post(WarningLevel, "ch1", "first %d", 1)
	b.Post(WarningLevel, "ch1", "second %d", 2)
	b.Post(WarningLevel, "ch1", "third %d", 3)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, uint64(1), b.Dropped())

	assert.Equal(t, 2, b.Drain(nil))
	assert.Equal(t, 0, b.Len())
	out := buf.String()
	assert.Contains(t, out, "first 1")
	assert.Contains(t, out, "second 2")
	assert.NotContains(t, out, "third 3")
}

func TestThrottlePerKey(t *testing.T) {
	buf := captureOutput(t, "info")
	th := NewThrottle(3)

	for i := 0; i < 10; i++ {
		th.Info("ch1", "group ch1 %d", i)
		th.Info("ch2", "group ch2 %d", i)
	}

	out := buf.String()
	// the limiter starts with a burst of one per key
	assert.Equal(t, 1, strings.Count(out, "group ch1"))
	assert.Equal(t, 1, strings.Count(out, "group ch2"))
	assert.Equal(t, uint64(9), th.Suppressed("ch1"))
}

func TestThrottleDisabled(t *testing.T) {
	th := NewThrottle(0)
	for i := 0; i < 100; i++ {
		assert.True(t, th.Allow("any"))
	}
	assert.Zero(t, th.Suppressed("any"))
}

func TestBacklogDrainThrottled(t *testing.T) {
	buf := captureOutput(t, "debug")
	b := NewBacklog(8)
	for i := 0; i < 5; i++ {
		b.Post(WarningLevel, "ch3", "alloc failed %d", i)
	}

	assert.Equal(t, 5, b.Drain(NewThrottle(3)))
	assert.Equal(t, 1, strings.Count(buf.String(), "alloc failed"))
}
