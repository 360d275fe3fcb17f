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
	"jinr.ru/greenlab/go-pulsemon/pkg/log"
)

// PeripheralFactory binds channel index to a peripheral.
type PeripheralFactory func(index uint8, ch config.ChannelConfig) (Peripheral, error)

// Manager owns the fixed-size channel registry.
type Manager struct {
	channels [config.MaxChannels]*Channel
	count    int
}

// NewManager creates one channel per configured line. Peripherals already created
// are closed when a later one fails.
func NewManager(cfg *config.CaptureConfig, factory PeripheralFactory, handler Handler) (*Manager, error) {
	if len(cfg.Channels) > config.MaxChannels {
		return nil, config.ErrInvalidConfig{Field: "capture.channels", What: "too many channels"}
	}
	m := &Manager{}
	for i := range cfg.Channels {
		chCfg := cfg.Resolve(i)
		periph, err := factory(uint8(i), chCfg)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.channels[i] = NewChannel(uint8(i), chCfg, periph, handler)
		m.count++
		log.Debug("Channel %d (%s) bound to line %d", i, chCfg.Name, chCfg.Line)
	}
	return m, nil
}

func (m *Manager) Count() int {
	return m.count
}

func (m *Manager) Channel(index int) (*Channel, error) {
	if index < 0 || index >= m.count {
		return nil, ErrChannelNotFound{Index: index}
	}
	return m.channels[index], nil
}

func (m *Manager) Channels() []*Channel {
	return m.channels[:m.count]
}

// ArmAll arms every idle channel and returns the indexes that failed.
func (m *Manager) ArmAll() []uint8 {
	failed := []uint8{}
	for _, ch := range m.Channels() {
		if err := ch.Arm(); err != nil {
			log.Warning(err.Error())
			failed = append(failed, ch.Index())
		}
	}
	return failed
}

// Close closes every peripheral and returns the first error.
func (m *Manager) Close() error {
	var first error
	for _, ch := range m.Channels() {
		if err := ch.Close(); err != nil {
			log.Error("Error while closing channel %d: %s", ch.Index(), err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
