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
	"errors"
	"math/rand"
	"sync"
	"time"

	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
)

// SimPeripheral is a peripheral driven by the caller. Symbols are injected as if
// the hardware had captured them; Flush plays the idle timeout.
type SimPeripheral struct {
	mu       sync.Mutex
	clock    Clock
	buf      []layers.Symbol
	n        int
	done     DoneFunc
	armed    bool
	closed   bool
	failArms int
	dropped  uint64
}

var _ Peripheral = &SimPeripheral{}

func NewSimPeripheral(clock Clock) *SimPeripheral {
	if clock == nil {
		clock = RealClock{}
	}
	return &SimPeripheral{clock: clock}
}

func (p *SimPeripheral) Receive(buf []layers.Symbol, _ ReceiveConfig, done DoneFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeripheralClosed
	}
	if p.failArms > 0 {
		p.failArms--
		return errors.New("simulated receive failure")
	}
	if p.armed {
		return ErrAlreadyReceiving
	}
	p.buf, p.n, p.done, p.armed = buf, 0, done, true
	return nil
}

// FailNextReceive makes the next n Receive calls fail.
func (p *SimPeripheral) FailNextReceive(n int) {
	p.mu.Lock()
	p.failArms += n
	p.mu.Unlock()
}

// Armed reports whether a receive is in progress.
func (p *SimPeripheral) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Inject captures symbols. A full buffer completes the batch; symbols arriving
// while nothing is armed are dropped. It returns the number captured.
func (p *SimPeripheral) Inject(symbols ...layers.Symbol) int {
	captured := 0
	for _, s := range symbols {
		p.mu.Lock()
		if !p.armed {
			p.dropped++
			p.mu.Unlock()
			continue
		}
		p.buf[p.n] = s
		p.n++
		captured++
		if p.n < len(p.buf) {
			p.mu.Unlock()
			continue
		}
		done, n := p.finish()
		p.mu.Unlock()
		done(n, p.clock.Now())
	}
	return captured
}

// Flush ends a non-empty batch as the idle timeout would. It reports whether a
// completion fired.
func (p *SimPeripheral) Flush() bool {
	p.mu.Lock()
	if !p.armed || p.n == 0 {
		p.mu.Unlock()
		return false
	}
	done, n := p.finish()
	p.mu.Unlock()
	done(n, p.clock.Now())
	return true
}

// finish disarms the peripheral. Called with mu held; the callback runs after unlock.
func (p *SimPeripheral) finish() (DoneFunc, int) {
	done, n := p.done, p.n
	p.armed, p.done, p.buf, p.n = false, nil, nil, 0
	return done, n
}

func (p *SimPeripheral) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *SimPeripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.armed = false
	return nil
}

// Generator feeds a SimPeripheral with random bursts of pulses.
type Generator struct {
	Periph       *SimPeripheral
	ResolutionHz uint32
	// Interval between bursts
	Interval time.Duration
	MaxBurst int
	rnd      *rand.Rand
}

func NewGenerator(periph *SimPeripheral, resolutionHz uint32, interval time.Duration, seed int64) *Generator {
	return &Generator{
		Periph:       periph,
		ResolutionHz: resolutionHz,
		Interval:     interval,
		MaxBurst:     8,
		rnd:          rand.New(rand.NewSource(seed)),
	}
}

// Burst builds one batch worth of symbols: pulses 1-20 us wide separated by
// 5-200 us, with an occasional inverted symbol.
func (g *Generator) Burst() []layers.Symbol {
	ticksPerUs := g.ResolutionHz / 1000000
	if ticksPerUs == 0 {
		ticksPerUs = 1
	}
	k := 1 + g.rnd.Intn(g.MaxBurst)
	symbols := make([]layers.Symbol, 0, k)
	for i := 0; i < k; i++ {
		high := uint32(1+g.rnd.Intn(20)) * ticksPerUs
		low := uint32(5+g.rnd.Intn(196)) * ticksPerUs
		if g.rnd.Intn(16) == 0 {
			symbols = append(symbols, layers.NewSymbol(layers.Deasserted, low, layers.Asserted, high))
			continue
		}
		symbols = append(symbols, layers.Pulse(high, low))
	}
	return symbols
}

func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Periph.Inject(g.Burst()...)
			g.Periph.Flush()
		}
	}
}
