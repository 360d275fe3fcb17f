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
	"runtime"
	"sync/atomic"
	"time"

	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
)

type State int32

const (
	StateIdle State = iota
	StateArmed
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handler receives a completed batch. symbols is a read-only view of the channel
// buffer and is only valid until Handler returns.
type Handler func(ch *Channel, symbols []layers.Symbol, at time.Time)

type ChannelStats struct {
	Arms        uint64 `json:"arms"`
	ArmFailures uint64 `json:"arm_failures"`
	Completions uint64 `json:"completions"`
	Symbols     uint64 `json:"symbols"`
	Spurious    uint64 `json:"spurious"`
}

// Channel is one monitored line. It is armed from the worker side only; after a
// completion it stays idle until armed again.
type Channel struct {
	index      uint8
	cfg        config.ChannelConfig
	receiveCfg ReceiveConfig
	buf        []layers.Symbol
	periph     Peripheral
	handler    Handler
	state      int32

	arms        uint64
	armFailures uint64
	completions uint64
	symbols     uint64
	spurious    uint64
}

func NewChannel(index uint8, cfg config.ChannelConfig, periph Peripheral, handler Handler) *Channel {
	return &Channel{
		index:      index,
		cfg:        cfg,
		receiveCfg: NewReceiveConfig(cfg),
		buf:        make([]layers.Symbol, cfg.BufferSymbols),
		periph:     periph,
		handler:    handler,
	}
}

// Index is the 0-based channel index.
func (c *Channel) Index() uint8 {
	return c.index
}

func (c *Channel) Name() string {
	return c.cfg.Name
}

func (c *Channel) Config() config.ChannelConfig {
	return c.cfg
}

func (c *Channel) ResolutionHz() uint32 {
	return c.receiveCfg.ResolutionHz
}

func (c *Channel) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Arm starts capture into the channel buffer. Only an idle channel can be armed.
func (c *Channel) Arm() error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(StateIdle), int32(StateArmed)) {
		state := c.State()
		if state == StateClosed {
			return ErrPeripheralClosed
		}
		return ErrChannelBusy{Channel: c.index, State: state}
	}
	if err := c.periph.Receive(c.buf, c.receiveCfg, c.complete); err != nil {
		atomic.CompareAndSwapInt32(&c.state, int32(StateArmed), int32(StateIdle))
		atomic.AddUint64(&c.armFailures, 1)
		return ErrArm{Channel: c.index, Err: err}
	}
	atomic.AddUint64(&c.arms, 1)
	return nil
}

// complete runs on the peripheral goroutine.
func (c *Channel) complete(n int, at time.Time) {
	if !atomic.CompareAndSwapInt32(&c.state, int32(StateArmed), int32(StateBusy)) {
		atomic.AddUint64(&c.spurious, 1)
		return
	}
	if n > len(c.buf) {
		n = len(c.buf)
	}
	if n < 0 {
		n = 0
	}
	atomic.AddUint64(&c.completions, 1)
	atomic.AddUint64(&c.symbols, uint64(n))
	if c.handler != nil {
		c.handler(c, c.buf[:n:n], at)
	}
	atomic.StoreInt32(&c.state, int32(StateIdle))
}

func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		Arms:        atomic.LoadUint64(&c.arms),
		ArmFailures: atomic.LoadUint64(&c.armFailures),
		Completions: atomic.LoadUint64(&c.completions),
		Symbols:     atomic.LoadUint64(&c.symbols),
		Spurious:    atomic.LoadUint64(&c.spurious),
	}
}

// Close stops the channel. A completion already running is waited for; once Close
// returns the handler is never called again.
func (c *Channel) Close() error {
	for {
		state := atomic.LoadInt32(&c.state)
		if state == int32(StateClosed) {
			return nil
		}
		if state != int32(StateBusy) && atomic.CompareAndSwapInt32(&c.state, state, int32(StateClosed)) {
			break
		}
		runtime.Gosched()
	}
	return c.periph.Close()
}
