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

//go:build linux

package capture

import (
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
)

// GpioPeripheral builds symbols from both-edge events of a GPIO character device
// line. A pulse is emitted as one symbol once the following rising edge, or the
// idle timeout, tells how long the line stayed low.
type GpioPeripheral struct {
	mu    sync.Mutex
	clock Clock
	line  *gpiocdev.Line

	buf   []layers.Symbol
	n     int
	done  DoneFunc
	cfg   ReceiveConfig
	armed bool

	rise    time.Duration
	fall    time.Duration
	high    bool
	pending bool
	timer   *time.Timer
	gen     uint64

	dropped  uint64
	glitches uint64
}

var _ Peripheral = &GpioPeripheral{}

func NewGpioPeripheral(chip string, offset int, clock Clock) (*GpioPeripheral, error) {
	if clock == nil {
		clock = RealClock{}
	}
	p := &GpioPeripheral{clock: clock}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(p.handleEvent))
	if err != nil {
		return nil, err
	}
	p.line = line
	return p, nil
}

func (p *GpioPeripheral) Receive(buf []layers.Symbol, cfg ReceiveConfig, done DoneFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return ErrPeripheralClosed
	}
	if p.armed {
		return ErrAlreadyReceiving
	}
	p.buf, p.n, p.cfg, p.done, p.armed = buf, 0, cfg, done, true
	p.high, p.pending = false, false
	return nil
}

func (p *GpioPeripheral) handleEvent(evt gpiocdev.LineEvent) {
	p.mu.Lock()
	if !p.armed {
		p.dropped++
		p.mu.Unlock()
		return
	}
	switch evt.Type {
	case gpiocdev.LineEventRisingEdge:
		if p.pending {
			p.emit(evt.Timestamp - p.fall)
		}
		p.rise, p.high = evt.Timestamp, true
	case gpiocdev.LineEventFallingEdge:
		if !p.high {
			break
		}
		p.high = false
		if evt.Timestamp-p.rise < p.cfg.MinWidth {
			p.glitches++
			break
		}
		p.fall, p.pending = evt.Timestamp, true
	}
	if p.armed && p.n >= len(p.buf) {
		p.completeLocked()
		return
	}
	if p.armed {
		p.resetTimerLocked()
	}
	p.mu.Unlock()
}

// emit appends the pending pulse. Called with mu held.
func (p *GpioPeripheral) emit(low time.Duration) {
	high := p.fall - p.rise
	p.buf[p.n] = layers.Pulse(p.cfg.Ticks(high), p.cfg.Ticks(low))
	p.n++
	p.pending = false
}

func (p *GpioPeripheral) resetTimerLocked() {
	p.gen++
	gen := p.gen
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.cfg.MaxWidth, func() { p.idle(gen) })
}

func (p *GpioPeripheral) idle(gen uint64) {
	p.mu.Lock()
	if !p.armed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	if p.pending {
		p.emit(p.cfg.MaxWidth)
	}
	if p.n == 0 {
		p.mu.Unlock()
		return
	}
	p.completeLocked()
}

// completeLocked disarms, releases mu and fires the callback.
func (p *GpioPeripheral) completeLocked() {
	done, n := p.done, p.n
	p.armed, p.done, p.buf, p.n = false, nil, nil, 0
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	done(n, p.clock.Now())
}

func (p *GpioPeripheral) Stats() (dropped, glitches uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped, p.glitches
}

func (p *GpioPeripheral) Close() error {
	p.mu.Lock()
	line := p.line
	p.line, p.armed = nil, false
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	if line == nil {
		return nil
	}
	return line.Close()
}

// NewGpioFactory binds every channel to its line on chip.
func NewGpioFactory(chip string, clock Clock) PeripheralFactory {
	return func(_ uint8, ch config.ChannelConfig) (Peripheral, error) {
		return NewGpioPeripheral(chip, ch.Line, clock)
	}
}
