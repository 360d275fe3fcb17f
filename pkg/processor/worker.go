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

// Package processor holds the event processing worker and the capture restart
// coordinator. Both run on the single worker goroutine.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"jinr.ru/greenlab/go-pulsemon/pkg/capture"
	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/handoff"
	"jinr.ru/greenlab/go-pulsemon/pkg/log"
	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
	"jinr.ru/greenlab/go-pulsemon/pkg/telemetry"
)

// Registry looks channels up by 0-based index. capture.Manager implements it.
type Registry interface {
	Channel(index int) (*capture.Channel, error)
}

var _ Registry = &capture.Manager{}

type Stats struct {
	Groups         uint64 `json:"groups"`
	Forwarded      uint64 `json:"forwarded"`
	SinkFull       uint64 `json:"sink_full"`
	AllocFailures  uint64 `json:"alloc_failures"`
	Rearms         uint64 `json:"rearms"`
	RearmFailures  uint64 `json:"rearm_failures"`
	RearmDeferred  uint64 `json:"rearm_deferred"`
	FreedOnStop    uint64 `json:"freed_on_stop"`
	BacklogDrained uint64 `json:"backlog_drained"`
}

type Worker struct {
	groups   *handoff.GroupQueue
	restarts *handoff.RestartQueue
	sink     telemetry.Sink
	alloc    pulse.Allocator
	backlog  *log.Backlog
	registry Registry
	throttle *log.Throttle

	wait        time.Duration
	forwardWait time.Duration
	settle      time.Duration

	stats Stats
}

func NewWorker(cfg *config.WorkerConfig, groups *handoff.GroupQueue, restarts *handoff.RestartQueue,
	sink telemetry.Sink, alloc pulse.Allocator, backlog *log.Backlog, registry Registry) *Worker {
	return &Worker{
		groups:      groups,
		restarts:    restarts,
		sink:        sink,
		alloc:       alloc,
		backlog:     backlog,
		registry:    registry,
		throttle:    log.NewThrottle(cfg.LogsPerSecond),
		wait:        cfg.Wait(),
		forwardWait: cfg.ForwardWait(),
		settle:      cfg.Settle(),
	}
}

// Run serves both queues until ctx is done. Groups still queued at that point are freed.
func (w *Worker) Run(ctx context.Context) error {
	log.Info("Event processing worker started")
	for {
		w.drainBacklog()
		if ctx.Err() != nil {
			w.stop()
			return nil
		}
		if h, ok := w.groups.Pop(ctx, w.wait); ok {
			w.process(ctx, h)
		}
		w.restartPending(ctx)
	}
}

func (w *Worker) drainBacklog() {
	if n := w.backlog.Drain(w.throttle); n > 0 {
		atomic.AddUint64(&w.stats.BacklogDrained, uint64(n))
	}
}

func channelKey(channel uint8) string {
	return fmt.Sprintf("ch%d", channel+1)
}

// process converts one group into a telemetry event. The group is always freed here.
func (w *Worker) process(ctx context.Context, h *pulse.Handle) {
	g := h.Take()
	if g == nil {
		return
	}
	atomic.AddUint64(&w.stats.Groups, 1)
	key := channelKey(g.Channel)

	records, err := w.alloc.NewRecords(g.NumPulses())
	if err != nil {
		atomic.AddUint64(&w.stats.AllocFailures, 1)
		w.throttle.Warning(key, "Failed to allocate %d pulse records for channel %d: %s", g.NumPulses(), g.Channel+1, err)
		w.alloc.FreeGroup(g)
		return
	}
	copy(records, g.Pulses)
	ev := telemetry.NewPulseEvent(uint(g.Channel)+1, g.StartTimestampUs, records, w.alloc)
	w.alloc.FreeGroup(g)

	if err := w.sink.Send(ctx, ev, w.forwardWait); err != nil {
		atomic.AddUint64(&w.stats.SinkFull, 1)
		w.throttle.Warning(key, "Failed to forward pulse group of channel %d: %s", ev.Channel, err)
		ev.Release()
		return
	}
	atomic.AddUint64(&w.stats.Forwarded, 1)
	w.throttle.Info(key, "Pulse group ch%d: %d pulses, start %d us", ev.Channel, ev.SymbolCount, ev.StartTimestampUs)
}

// restartPending re-arms the channels whose notifications are queued when it
// starts. Notifications put back after a failed arm wait for the next iteration.
func (w *Worker) restartPending(ctx context.Context) {
	pending := w.restarts.Len()
	for i := 0; i < pending; i++ {
		channel, ok := w.restarts.TryPop()
		if !ok {
			return
		}
		if !w.sleep(ctx, w.settle) {
			w.restarts.TryPush(channel)
			return
		}
		w.rearm(channel)
	}
}

func (w *Worker) rearm(channel uint8) {
	ch, err := w.registry.Channel(int(channel))
	if err != nil {
		log.Error("Restart dropped: %s", err)
		return
	}
	err = ch.Arm()
	if err == nil {
		atomic.AddUint64(&w.stats.Rearms, 1)
		log.Debug("Receive restarted on channel %d", channel+1)
		return
	}
	if errors.Is(err, capture.ErrPeripheralClosed) {
		log.Debug("Restart dropped, channel %d is closed", channel+1)
		return
	}
	var busy capture.ErrChannelBusy
	if errors.As(err, &busy) {
		switch busy.State {
		case capture.StateArmed:
			return
		case capture.StateBusy:
			// the completion that sent the notification has not returned yet
			atomic.AddUint64(&w.stats.RearmDeferred, 1)
			if !w.restarts.TryPush(channel) {
				log.Error("Restart queue full, channel %d stays idle", channel+1)
			}
			return
		}
	}
	atomic.AddUint64(&w.stats.RearmFailures, 1)
	w.throttle.Warning(channelKey(channel), "Failed to restart receive on channel %d, will retry: %s", channel+1, err)
	if !w.restarts.TryPush(channel) {
		log.Error("Restart queue full, channel %d stays idle", channel+1)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) stop() {
	w.FreeQueued()
	w.drainBacklog()
	log.Info("Event processing worker stopped")
}

// FreeQueued frees every group left in the queue and returns how many there were.
// Once no channel can complete any more, a final call leaves nothing behind.
func (w *Worker) FreeQueued() int {
	n := 0
	for {
		h, ok := w.groups.TryPop()
		if !ok {
			break
		}
		w.alloc.FreeGroup(h.Take())
		n++
	}
	atomic.AddUint64(&w.stats.FreedOnStop, uint64(n))
	return n
}

func (w *Worker) Stats() Stats {
	return Stats{
		Groups:         atomic.LoadUint64(&w.stats.Groups),
		Forwarded:      atomic.LoadUint64(&w.stats.Forwarded),
		SinkFull:       atomic.LoadUint64(&w.stats.SinkFull),
		AllocFailures:  atomic.LoadUint64(&w.stats.AllocFailures),
		Rearms:         atomic.LoadUint64(&w.stats.Rearms),
		RearmFailures:  atomic.LoadUint64(&w.stats.RearmFailures),
		RearmDeferred:  atomic.LoadUint64(&w.stats.RearmDeferred),
		FreedOnStop:    atomic.LoadUint64(&w.stats.FreedOnStop),
		BacklogDrained: atomic.LoadUint64(&w.stats.BacklogDrained),
	}
}

// Suppressed returns the diagnostic lines withheld for a channel.
func (w *Worker) Suppressed(channel uint8) uint64 {
	return w.throttle.Suppressed(channelKey(channel))
}
