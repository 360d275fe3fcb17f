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

const (
	ConfigDir  = ".go-pulsemon"
	ConfigFile = "config"
	DBFile     = "events.db"

	DefaultLogLevel = "info"

	DefaultStationName       = "orca"
	DefaultStationExperiment = "nemo"
	DefaultStationDevice     = "bp28-nemo"

	SourceGpio   = "gpio"
	SourceSim    = "sim"
	SourceReplay = "replay"

	DefaultSource = SourceGpio
	DefaultChip   = "gpiochip0"

	// 2 MHz gives 500 ns ticks and symbols up to ~16 ms long
	DefaultResolutionHz  = 2000000
	DefaultMinWidthNs    = 1000
	DefaultMaxWidthNs    = 10000000
	DefaultBufferSymbols = 64
	MaxBufferSymbols     = 255
	MaxChannels          = 8

	DefaultGroupQueueSize     = 10
	DefaultRestartQueueSize   = 10
	DefaultTelemetryQueueSize = 100

	DefaultWaitMs        = 100
	DefaultForwardWaitMs = 100
	DefaultSettleMs      = 1
	DefaultLogsPerSecond = 3

	DefaultMemoryRecords = 4096

	DefaultMaxEventsPerChannel = 10000

	DefaultApiAddress = "127.0.0.1"
	DefaultApiPort    = 8010
)

var DefaultChannelLines = []int{25, 26, 27}
