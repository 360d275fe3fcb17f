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

package capture

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
	"jinr.ru/greenlab/go-pulsemon/pkg/log"
)

// ReplayPeripheral delivers recorded batches to one channel.
type ReplayPeripheral struct {
	mu     sync.Mutex
	buf    []layers.Symbol
	done   DoneFunc
	closed bool
	armed  chan struct{}
}

var _ Peripheral = &ReplayPeripheral{}

func NewReplayPeripheral() *ReplayPeripheral {
	return &ReplayPeripheral{armed: make(chan struct{}, 1)}
}

func (p *ReplayPeripheral) Receive(buf []layers.Symbol, _ ReceiveConfig, done DoneFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeripheralClosed
	}
	if p.done != nil {
		return ErrAlreadyReceiving
	}
	p.buf, p.done = buf, done
	select {
	case p.armed <- struct{}{}:
	default:
	}
	return nil
}

// Deliver waits until the channel is armed and completes the receive with the
// recorded symbols and completion time. Symbols beyond the buffer are cut off.
func (p *ReplayPeripheral) Deliver(ctx context.Context, block *layers.SymbolBlockLayer) error {
	select {
	case <-p.armed:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	if p.done == nil {
		p.mu.Unlock()
		return ErrPeripheralClosed
	}
	n := copy(p.buf, block.Symbols)
	done := p.done
	p.buf, p.done = nil, nil
	p.mu.Unlock()

	done(n, time.UnixMicro(block.CompletionUs))
	return nil
}

func (p *ReplayPeripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.buf, p.done = nil, nil
	return nil
}

const (
	DefaultReplayQueueSize    = 64
	DefaultReplayStallTimeout = time.Second
)

// Replayer reads a symbol dump and hands each block to the peripheral of its
// channel. Every channel is fed from its own queue, so a channel that is not
// re-armed holds back only its own blocks.
type Replayer struct {
	source      io.Reader
	peripherals map[uint8]*ReplayPeripheral
	// Pace sleeps between blocks as long as the recorded completion times differ
	Pace bool
	// QueueSize is the number of blocks waiting per channel
	QueueSize int
	// StallTimeout is how long the reader waits on a full channel queue before
	// dropping blocks for that channel
	StallTimeout time.Duration

	dropped uint64
}

func NewReplayer(source io.Reader) *Replayer {
	return &Replayer{
		source:       source,
		peripherals:  make(map[uint8]*ReplayPeripheral),
		QueueSize:    DefaultReplayQueueSize,
		StallTimeout: DefaultReplayStallTimeout,
	}
}

// Peripheral returns the peripheral for a channel, creating it on first use.
func (r *Replayer) Peripheral(channel uint8) *ReplayPeripheral {
	p, ok := r.peripherals[channel]
	if !ok {
		p = NewReplayPeripheral()
		r.peripherals[channel] = p
	}
	return p
}

// Dropped is the number of blocks skipped because their channel stalled.
func (r *Replayer) Dropped() uint64 {
	return atomic.LoadUint64(&r.dropped)
}

// Run replays the whole dump. It returns nil once every block has been delivered
// or dropped.
func (r *Replayer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	queues := make(map[uint8]chan *layers.SymbolBlockLayer, len(r.peripherals))
	for channel, p := range r.peripherals {
		queue := make(chan *layers.SymbolBlockLayer, r.QueueSize)
		queues[channel] = queue
		p := p
		g.Go(func() error {
			return deliverAll(gctx, p, queue)
		})
	}
	g.Go(func() error {
		defer func() {
			for _, queue := range queues {
				close(queue)
			}
		}()
		return r.read(gctx, queues)
	})
	return g.Wait()
}

func deliverAll(ctx context.Context, p *ReplayPeripheral, queue <-chan *layers.SymbolBlockLayer) error {
	for block := range queue {
		err := p.Deliver(ctx, block)
		if err == ErrPeripheralClosed {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Replayer) read(ctx context.Context, queues map[uint8]chan *layers.SymbolBlockLayer) error {
	var last int64
	blocks := 0
	stalled := make(map[uint8]bool)
	for {
		block, err := layers.ReadSymbolBlock(r.source)
		if err == io.EOF {
			log.Info("Replay finished after %d blocks, %d dropped", blocks, r.Dropped())
			return nil
		}
		if err != nil {
			return err
		}
		queue, ok := queues[block.Channel]
		if !ok {
			log.Debug("Skip replay block for unbound channel %d", block.Channel)
			continue
		}
		if r.Pace && last != 0 && block.CompletionUs > last {
			select {
			case <-time.After(time.Duration(block.CompletionUs-last) * time.Microsecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		last = block.CompletionUs
		blocks++

		// a stalled channel gets no more waiting until its queue has room again
		select {
		case queue <- block:
			stalled[block.Channel] = false
			continue
		default:
		}
		if stalled[block.Channel] {
			atomic.AddUint64(&r.dropped, 1)
			continue
		}
		timer := time.NewTimer(r.StallTimeout)
		select {
		case queue <- block:
		case <-timer.C:
			stalled[block.Channel] = true
			atomic.AddUint64(&r.dropped, 1)
			log.Warning("Replay channel %d is not re-armed, dropping its blocks", block.Channel+1)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}
