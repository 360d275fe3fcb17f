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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
)

type StationConfig struct {
	Name       string `yaml:"name" json:"name"`
	Experiment string `yaml:"experiment" json:"experiment"`
	Device     string `yaml:"device" json:"device"`
}

// ChannelConfig describes one monitored line. Zero capture parameters
// are inherited from CaptureConfig.
type ChannelConfig struct {
	Name          string `yaml:"name,omitempty" json:"name"`
	Line          int    `yaml:"line" json:"line"`
	ResolutionHz  uint32 `yaml:"resolutionHz,omitempty" json:"resolutionHz"`
	MinWidthNs    uint32 `yaml:"minWidthNs,omitempty" json:"minWidthNs"`
	MaxWidthNs    uint32 `yaml:"maxWidthNs,omitempty" json:"maxWidthNs"`
	BufferSymbols int    `yaml:"bufferSymbols,omitempty" json:"bufferSymbols"`
}

func (c *ChannelConfig) MinWidth() time.Duration {
	return time.Duration(c.MinWidthNs) * time.Nanosecond
}

func (c *ChannelConfig) MaxWidth() time.Duration {
	return time.Duration(c.MaxWidthNs) * time.Nanosecond
}

type CaptureConfig struct {
	Source        string           `yaml:"source"`
	Chip          string           `yaml:"chip"`
	ResolutionHz  uint32           `yaml:"resolutionHz"`
	MinWidthNs    uint32           `yaml:"minWidthNs"`
	MaxWidthNs    uint32           `yaml:"maxWidthNs"`
	BufferSymbols int              `yaml:"bufferSymbols"`
	Channels      []*ChannelConfig `yaml:"channels"`
}

// Resolve returns the settings of channel i with defaults filled in.
func (c *CaptureConfig) Resolve(i int) ChannelConfig {
	ch := *c.Channels[i]
	if ch.Name == "" {
		ch.Name = fmt.Sprintf("ch%d", i+1)
	}
	if ch.ResolutionHz == 0 {
		ch.ResolutionHz = c.ResolutionHz
	}
	if ch.MinWidthNs == 0 {
		ch.MinWidthNs = c.MinWidthNs
	}
	if ch.MaxWidthNs == 0 {
		ch.MaxWidthNs = c.MaxWidthNs
	}
	if ch.BufferSymbols == 0 {
		ch.BufferSymbols = c.BufferSymbols
	}
	return ch
}

type QueuesConfig struct {
	Groups    int `yaml:"groups"`
	Restarts  int `yaml:"restarts"`
	Telemetry int `yaml:"telemetry"`
}

type WorkerConfig struct {
	WaitMs        int `yaml:"waitMs"`
	ForwardWaitMs int `yaml:"forwardWaitMs"`
	SettleMs      int `yaml:"settleMs"`
	LogsPerSecond int `yaml:"logsPerSecond"`
}

func (w *WorkerConfig) Wait() time.Duration {
	return time.Duration(w.WaitMs) * time.Millisecond
}

func (w *WorkerConfig) ForwardWait() time.Duration {
	return time.Duration(w.ForwardWaitMs) * time.Millisecond
}

func (w *WorkerConfig) Settle() time.Duration {
	return time.Duration(w.SettleMs) * time.Millisecond
}

type MemoryConfig struct {
	// Records is the number of pulse records that may be allocated at once
	Records int `yaml:"records"`
}

type StoreConfig struct {
	Path                string `yaml:"path"`
	MaxEventsPerChannel int    `yaml:"maxEventsPerChannel"`
}

type ApiConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

func (a *ApiConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Address, a.Port)
}

type Config struct {
	LogLevel string         `yaml:"logLevel"`
	Station  *StationConfig `yaml:"station"`
	Capture  *CaptureConfig `yaml:"capture"`
	Queues   *QueuesConfig  `yaml:"queues"`
	Worker   *WorkerConfig  `yaml:"worker"`
	Memory   *MemoryConfig  `yaml:"memory"`
	Store    *StoreConfig   `yaml:"store"`
	Api      *ApiConfig     `yaml:"api"`
	filepath string
}

func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) SetPath(path string) {
	c.filepath = path
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filepath, data, 0644)
}

// Load reads the config file over the current values.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.filepath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate checks the values the capture pipeline depends on.
func (c *Config) Validate() error {
	if _, ok := map[string]bool{SourceGpio: true, SourceSim: true, SourceReplay: true}[c.Capture.Source]; !ok {
		return ErrInvalidConfig{Field: "capture.source", What: fmt.Sprintf("unknown source %q", c.Capture.Source)}
	}
	n := len(c.Capture.Channels)
	if n == 0 || n > MaxChannels {
		return ErrInvalidConfig{Field: "capture.channels", What: fmt.Sprintf("must have 1..%d channels", MaxChannels)}
	}
	for i := range c.Capture.Channels {
		ch := c.Capture.Resolve(i)
		field := fmt.Sprintf("capture.channels[%d]", i)
		if ch.ResolutionHz == 0 {
			return ErrInvalidConfig{Field: field + ".resolutionHz", What: "must be positive"}
		}
		if ch.BufferSymbols <= 0 || ch.BufferSymbols > MaxBufferSymbols {
			return ErrInvalidConfig{Field: field + ".bufferSymbols", What: fmt.Sprintf("must be 1..%d", MaxBufferSymbols)}
		}
		if ch.MaxWidthNs == 0 || ch.MinWidthNs >= ch.MaxWidthNs {
			return ErrInvalidConfig{Field: field + ".maxWidthNs", What: "must be greater than minWidthNs"}
		}
		// the idle period is stored in one symbol half
		if ticks := uint64(ch.ResolutionHz) * uint64(ch.MaxWidthNs) / 1000000000; ticks > layers.MaxDuration {
			return ErrInvalidConfig{Field: field + ".maxWidthNs",
				What: fmt.Sprintf("%d ticks at %d Hz exceed the symbol limit of %d", ticks, ch.ResolutionHz, layers.MaxDuration)}
		}
	}
	if c.Queues.Groups <= 0 || c.Queues.Telemetry <= 0 {
		return ErrInvalidConfig{Field: "queues", What: "queue sizes must be positive"}
	}
	// every channel holds at most one pending notification
	if c.Queues.Restarts < n {
		return ErrInvalidConfig{Field: "queues.restarts", What: fmt.Sprintf("must be at least the number of channels (%d)", n)}
	}
	if c.Memory.Records <= 0 {
		return ErrInvalidConfig{Field: "memory.records", What: "must be positive"}
	}
	if c.Worker.WaitMs <= 0 {
		return ErrInvalidConfig{Field: "worker.waitMs", What: "must be positive"}
	}
	return nil
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, DBFile)
}

func NewDefaultConfig() *Config {
	channels := []*ChannelConfig{}
	for _, line := range DefaultChannelLines {
		channels = append(channels, &ChannelConfig{Line: line})
	}
	return &Config{
		LogLevel: DefaultLogLevel,
		Station: &StationConfig{
			Name:       DefaultStationName,
			Experiment: DefaultStationExperiment,
			Device:     DefaultStationDevice,
		},
		Capture: &CaptureConfig{
			Source:        DefaultSource,
			Chip:          DefaultChip,
			ResolutionHz:  DefaultResolutionHz,
			MinWidthNs:    DefaultMinWidthNs,
			MaxWidthNs:    DefaultMaxWidthNs,
			BufferSymbols: DefaultBufferSymbols,
			Channels:      channels,
		},
		Queues: &QueuesConfig{
			Groups:    DefaultGroupQueueSize,
			Restarts:  DefaultRestartQueueSize,
			Telemetry: DefaultTelemetryQueueSize,
		},
		Worker: &WorkerConfig{
			WaitMs:        DefaultWaitMs,
			ForwardWaitMs: DefaultForwardWaitMs,
			SettleMs:      DefaultSettleMs,
			LogsPerSecond: DefaultLogsPerSecond,
		},
		Memory: &MemoryConfig{
			Records: DefaultMemoryRecords,
		},
		Store: &StoreConfig{
			Path:                DefaultDBPath(),
			MaxEventsPerChannel: DefaultMaxEventsPerChannel,
		},
		Api: &ApiConfig{
			Address: DefaultApiAddress,
			Port:    DefaultApiPort,
		},
		filepath: DefaultConfigPath(),
	}
}
