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

// Package capture binds monitored lines to timing peripherals that deliver
// symbol batches through completion callbacks.
package capture

import (
	"time"

	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
)

// Clock supplies the completion time of a batch.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// DoneFunc is called by a peripheral once per armed receive, from the peripheral's
// own goroutine, with the number of symbols written to the buffer and the
// completion time. It must not block.
type DoneFunc func(n int, at time.Time)

type ReceiveConfig struct {
	ResolutionHz uint32
	// MinWidth is the glitch floor; shorter pulses are not captured
	MinWidth time.Duration
	// MaxWidth is the idle period that ends a batch
	MaxWidth time.Duration
}

func NewReceiveConfig(ch config.ChannelConfig) ReceiveConfig {
	return ReceiveConfig{
		ResolutionHz: ch.ResolutionHz,
		MinWidth:     ch.MinWidth(),
		MaxWidth:     ch.MaxWidth(),
	}
}

// Ticks converts a duration to peripheral ticks, truncating.
func (c ReceiveConfig) Ticks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	t := uint64(d) * uint64(c.ResolutionHz) / uint64(time.Second)
	if t > uint64(layers.MaxDuration) {
		return layers.MaxDuration
	}
	return uint32(t)
}

// Peripheral is a timing peripheral bound to one line. Receive starts capture
// into buf and returns at once; done fires exactly once per successful Receive.
type Peripheral interface {
	Receive(buf []layers.Symbol, cfg ReceiveConfig, done DoneFunc) error
	Close() error
}
