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

// Package decoder turns completed symbol batches into pulse groups. Decode runs on
// the peripheral goroutine: it never blocks and reports trouble only through the
// diagnostic backlog and its counters.
package decoder

import (
	"fmt"
	"sync/atomic"
	"time"

	"jinr.ru/greenlab/go-pulsemon/pkg/capture"
	"jinr.ru/greenlab/go-pulsemon/pkg/handoff"
	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
	"jinr.ru/greenlab/go-pulsemon/pkg/log"
	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
)

// ChannelState is the history carried from one batch of a channel to the next.
// Only the decoder of that channel touches it.
type ChannelState struct {
	LastPulseEndUs int64
	HasHistory     bool
}

type Stats struct {
	Batches       uint64 `json:"batches"`
	EmptyBatches  uint64 `json:"empty_batches"`
	Groups        uint64 `json:"groups"`
	Pulses        uint64 `json:"pulses"`
	Skipped       uint64 `json:"skipped_symbols"`
	AllocFailures uint64 `json:"alloc_failures"`
	GroupDrops    uint64 `json:"group_drops"`
	RestartDrops  uint64 `json:"restart_drops"`
}

type Decoder struct {
	alloc    pulse.Allocator
	groups   *handoff.GroupQueue
	restarts *handoff.RestartQueue
	backlog  *log.Backlog
	states   []ChannelState
	keys     []string
	stats    Stats
}

func New(channels int, alloc pulse.Allocator, groups *handoff.GroupQueue, restarts *handoff.RestartQueue, backlog *log.Backlog) *Decoder {
	keys := make([]string, channels)
	for i := range keys {
		keys[i] = fmt.Sprintf("ch%d", i+1)
	}
	return &Decoder{
		alloc:    alloc,
		groups:   groups,
		restarts: restarts,
		backlog:  backlog,
		states:   make([]ChannelState, channels),
		keys:     keys,
	}
}

// TicksToUs converts peripheral ticks to microseconds, truncating.
func TicksToUs(ticks uint64, resolutionHz uint32) int64 {
	if resolutionHz == 0 {
		return 0
	}
	return int64(ticks * 1000000 / uint64(resolutionHz))
}

// Handle is the capture.Handler of every channel.
func (d *Decoder) Handle(ch *capture.Channel, symbols []layers.Symbol, at time.Time) {
	d.Decode(ch.Index(), ch.ResolutionHz(), symbols, at.UnixMicro())
}

// Decode turns one batch that completed at nowUs into a pulse group and hands it
// to the group queue, then asks for the channel to be re-armed.
func (d *Decoder) Decode(channel uint8, resolutionHz uint32, symbols []layers.Symbol, nowUs int64) {
	atomic.AddUint64(&d.stats.Batches, 1)
	defer d.requestRestart(channel)

	if int(channel) >= len(d.states) {
		d.backlog.Post(log.ErrorLevel, "decoder", "Batch for unknown channel %d dropped", channel)
		return
	}

	count := 0
	var total uint64
	for _, s := range symbols {
		total += uint64(s.Ticks())
		if s.IsPulse() {
			count++
		}
	}
	atomic.AddUint64(&d.stats.Skipped, uint64(len(symbols)-count))
	if count == 0 {
		atomic.AddUint64(&d.stats.EmptyBatches, 1)
		return
	}

	start := nowUs - TicksToUs(total, resolutionHz)

	// a failed allocation still advances the channel history
	g, err := d.alloc.NewGroup(channel, count)
	if err != nil {
		atomic.AddUint64(&d.stats.AllocFailures, 1)
		d.backlog.Post(log.WarningLevel, d.keys[channel],
			"Pulse group of %d pulses dropped on channel %d: %s", count, channel+1, err)
	}

	state := &d.states[channel]
	cursor := start
	var prevEnd int64
	i := 0
	for _, s := range symbols {
		high := TicksToUs(uint64(s.Duration0()), resolutionHz)
		low := TicksToUs(uint64(s.Duration1()), resolutionHz)
		if s.IsPulse() {
			separation := pulse.NoSeparation
			if i > 0 {
				separation = cursor - prevEnd
			} else if state.HasHistory {
				// negative when truncation or clock jitter makes batches overlap
				separation = cursor - state.LastPulseEndUs
			}
			if g != nil {
				if i == 0 {
					g.StartTimestampUs = cursor
				}
				g.Pulses[i] = pulse.Record{DurationUs: uint32(high), SeparationUs: separation}
			}
			prevEnd = cursor + high + low
			i++
		}
		cursor += high + low
	}
	if !state.HasHistory || prevEnd > state.LastPulseEndUs {
		state.LastPulseEndUs = prevEnd
	}
	state.HasHistory = true

	if g == nil {
		return
	}
	h := pulse.NewHandle(g)
	if !d.groups.TryPush(h) {
		d.alloc.FreeGroup(h.Take())
		atomic.AddUint64(&d.stats.GroupDrops, 1)
		d.backlog.Post(log.WarningLevel, d.keys[channel],
			"Group queue full, %d pulses dropped on channel %d", count, channel+1)
		return
	}
	atomic.AddUint64(&d.stats.Groups, 1)
	atomic.AddUint64(&d.stats.Pulses, uint64(count))
}

func (d *Decoder) requestRestart(channel uint8) {
	if d.restarts.TryPush(channel) {
		return
	}
	atomic.AddUint64(&d.stats.RestartDrops, 1)
	d.backlog.Post(log.ErrorLevel, "decoder", "Restart queue full, channel %d may stall", channel+1)
}

func (d *Decoder) Stats() Stats {
	return Stats{
		Batches:       atomic.LoadUint64(&d.stats.Batches),
		EmptyBatches:  atomic.LoadUint64(&d.stats.EmptyBatches),
		Groups:        atomic.LoadUint64(&d.stats.Groups),
		Pulses:        atomic.LoadUint64(&d.stats.Pulses),
		Skipped:       atomic.LoadUint64(&d.stats.Skipped),
		AllocFailures: atomic.LoadUint64(&d.stats.AllocFailures),
		GroupDrops:    atomic.LoadUint64(&d.stats.GroupDrops),
		RestartDrops:  atomic.LoadUint64(&d.stats.RestartDrops),
	}
}
