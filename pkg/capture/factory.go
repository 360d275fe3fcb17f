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
	"jinr.ru/greenlab/go-pulsemon/pkg/config"
)

// SimBank keeps the simulator peripherals it creates so they can be driven.
type SimBank struct {
	clock       Clock
	Peripherals []*SimPeripheral
}

func NewSimBank(clock Clock) *SimBank {
	return &SimBank{clock: clock}
}

func (b *SimBank) Factory() PeripheralFactory {
	return func(_ uint8, _ config.ChannelConfig) (Peripheral, error) {
		p := NewSimPeripheral(b.clock)
		b.Peripherals = append(b.Peripherals, p)
		return p, nil
	}
}

func NewReplayFactory(r *Replayer) PeripheralFactory {
	return func(index uint8, _ config.ChannelConfig) (Peripheral, error) {
		return r.Peripheral(index), nil
	}
}

// WithRecording wraps every peripheral made by factory in a RecordingPeripheral.
func WithRecording(factory PeripheralFactory, writer *DumpWriter) PeripheralFactory {
	return func(index uint8, ch config.ChannelConfig) (Peripheral, error) {
		p, err := factory(index, ch)
		if err != nil {
			return nil, err
		}
		return NewRecordingPeripheral(p, index, writer), nil
	}
}
