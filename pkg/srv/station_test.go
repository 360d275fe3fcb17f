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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-pulsemon/pkg/capture"
	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
)

func testConfig(t *testing.T, source string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Capture.Source = source
	cfg.Capture.ResolutionHz = 1000000
	cfg.Worker.WaitMs = 5
	cfg.Worker.SettleMs = 0
	cfg.Store.Path = filepath.Join(t.TempDir(), "events.db")
	return cfg
}

func runStation(t *testing.T, s *Station) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "station did not stop")
		}
	}
}

func storedCount(s *Station, channel uint) func() bool {
	return func() bool {
		n, _ := s.store.Count(channel)
		return n > 0
	}
}

func TestStationSimulated(t *testing.T) {
	cfg := testConfig(t, config.SourceSim)
	record := filepath.Join(t.TempDir(), "batches.dump")
	s, err := NewStation(cfg, StationOptions{RecordPath: record, NoApi: true})
	require.NoError(t, err)
	stop := runStation(t, s)

	sims := s.SimPeripherals()
	require.Len(t, sims, 3)
	assert.Eventually(t, sims[2].Armed, time.Second, time.Millisecond)
	sims[2].Inject(layers.Pulse(200, 50), layers.NewSymbol(layers.Deasserted, 10, layers.Asserted, 10), layers.Pulse(300, 20))
	require.True(t, sims[2].Flush())

	assert.Eventually(t, storedCount(s, 3), time.Second, time.Millisecond)
	events, err := s.Events(3, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint(3), events[0].Channel)
	assert.Equal(t, int64(20), events[0].Pulses[1].SeparationUs)

	assert.Eventually(t, sims[2].Armed, time.Second, time.Millisecond)
	channels := s.Channels()
	require.Len(t, channels, 3)
	assert.Equal(t, 1, channels[2].Stored)
	assert.Equal(t, uint64(1), channels[2].Stats.Completions)
	assert.Equal(t, "orca", s.Info().Name)
	stop()

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Worker.Forwarded)
	assert.Equal(t, stats.Allocator.GroupAllocs, stats.Allocator.GroupFrees)
	assert.Equal(t, stats.Allocator.RecordAllocs, stats.Allocator.RecordFrees)

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	block, err := layers.ReadSymbolBlock(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), block.Channel)
	assert.Len(t, block.Symbols, 3)
}

func TestStationReplay(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "input.dump")
	f, err := os.Create(dump)
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, layers.WriteSymbolBlock(f, &layers.SymbolBlockLayer{
			Channel:      0,
			CompletionUs: 1700000000000000 + i*1000,
			Symbols:      []layers.Symbol{layers.Pulse(200, 50)},
		}))
	}
	require.NoError(t, f.Close())

	cfg := testConfig(t, config.SourceReplay)
	s, err := NewStation(cfg, StationOptions{DumpPath: dump, NoApi: true})
	require.NoError(t, err)
	stop := runStation(t, s)

	assert.Eventually(t, func() bool {
		n, _ := s.store.Count(1)
		return n == 3
	}, 2*time.Second, time.Millisecond)

	events, err := s.Events(1, 0)
	require.NoError(t, err)
	stop()
	require.Len(t, events, 3)
	assert.Equal(t, int64(1700000000003000-250), events[0].StartTimestampUs)
	// 750 us between the end of one pulse and the start of the next
	assert.Equal(t, int64(750), events[0].Pulses[0].SeparationUs)
}

func TestStationShutdownFreesEveryGroup(t *testing.T) {
	for run := 0; run < 10; run++ {
		cfg := testConfig(t, config.SourceSim)
		s, err := NewStation(cfg, StationOptions{NoApi: true})
		require.NoError(t, err)
		stop := runStation(t, s)

		quit := make(chan struct{})
		var wg sync.WaitGroup
		for _, sim := range s.SimPeripherals() {
			wg.Add(1)
			go func(sim *capture.SimPeripheral) {
				defer wg.Done()
				for {
					select {
					case <-quit:
						return
					default:
					}
					sim.Inject(layers.Pulse(20, 5), layers.Pulse(30, 5))
					sim.Flush()
					runtime.Gosched()
				}
			}(sim)
		}
		time.Sleep(20 * time.Millisecond)
		stop()
		close(quit)
		wg.Wait()

		stats := s.Stats().Allocator
		assert.Equal(t, stats.GroupAllocs, stats.GroupFrees, "run %d", run)
		assert.Equal(t, stats.RecordAllocs, stats.RecordFrees, "run %d", run)
		assert.Equal(t, int64(0), stats.InUse, "run %d", run)
		assert.Equal(t, 0, s.groups.Len(), "run %d", run)
	}
}

func TestStationRejectsBadSetup(t *testing.T) {
	cfg := testConfig(t, config.SourceReplay)
	_, err := NewStation(cfg, StationOptions{DumpPath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	cfg = testConfig(t, "usb")
	_, err = NewStation(cfg, StationOptions{})
	var invalid config.ErrInvalidConfig
	assert.ErrorAs(t, err, &invalid)
}

func TestStationArmFailureIsRetried(t *testing.T) {
	cfg := testConfig(t, config.SourceSim)
	s, err := NewStation(cfg, StationOptions{NoApi: true})
	require.NoError(t, err)
	s.SimPeripherals()[0].FailNextReceive(1)
	stop := runStation(t, s)

	assert.Eventually(t, func() bool {
		ch, _ := s.manager.Channel(0)
		return ch.State() == capture.StateArmed
	}, time.Second, time.Millisecond)
	stop()
}
