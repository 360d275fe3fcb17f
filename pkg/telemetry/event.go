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

package telemetry

import (
	"fmt"

	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
)

// PulseEvent is one forwarded pulse group. The event owns Pulses until Release.
type PulseEvent struct {
	// Channel is 1-based
	Channel          uint           `json:"channel"`
	StartTimestampUs int64          `json:"start_timestamp_us"`
	SymbolCount      uint8          `json:"symbol_count"`
	Pulses           []pulse.Record `json:"pulses"`

	alloc pulse.Allocator
}

// NewPulseEvent wraps a record array taken from alloc. The event becomes its owner.
func NewPulseEvent(channel uint, start int64, pulses []pulse.Record, alloc pulse.Allocator) *PulseEvent {
	return &PulseEvent{
		Channel:          channel,
		StartTimestampUs: start,
		SymbolCount:      uint8(len(pulses)),
		Pulses:           pulses,
		alloc:            alloc,
	}
}

// Release gives the pulse array back to its allocator. Calling it again is a no-op.
func (e *PulseEvent) Release() {
	if e.Pulses == nil {
		return
	}
	if e.alloc != nil {
		e.alloc.FreeRecords(e.Pulses)
	}
	e.Pulses = nil
}

func (e *PulseEvent) String() string {
	return fmt.Sprintf("ch%d start=%dus pulses=%d", e.Channel, e.StartTimestampUs, e.SymbolCount)
}
