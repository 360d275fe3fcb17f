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

package start

import (
	"fmt"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-pulsemon/pkg/command"
	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/srv"
)

const (
	SourceOptionName      = "source"
	DumpOptionName        = "dump"
	RecordOptionName      = "record"
	AddressOptionName     = "address"
	PortOptionName        = "port"
	SimIntervalOptionName = "sim-interval"
	PaceOptionName        = "pace"
	NoApiOptionName       = "no-api"
)

// NewCommand creates a cobra command that starts the capture station
func NewCommand(cfg *config.Config) *cobra.Command {
	var source, address string
	var port int
	opts := srv.StationOptions{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start capturing pulses",
		Example: `
Capture from the GPIO lines listed in the config
# go-pulsemon start

Run on simulated channels and record every batch
# go-pulsemon start --source sim --record /tmp/symbols.dump

Replay a recorded dump at its original speed
# go-pulsemon start --source replay --dump /tmp/symbols.dump --pace
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed(SourceOptionName) {
				cfg.Capture.Source = source
			}
			if cmd.Flags().Changed(AddressOptionName) {
				cfg.Api.Address = address
			}
			if cmd.Flags().Changed(PortOptionName) {
				cfg.Api.Port = port
			}
			if cfg.Capture.Source == config.SourceReplay && opts.DumpPath == "" {
				return fmt.Errorf("--%s is required for the %s source", DumpOptionName, config.SourceReplay)
			}
			return command.StartStation(cfg, opts)
		},
	}
	cmd.Flags().StringVar(&source, SourceOptionName, config.DefaultSource,
		fmt.Sprintf("Capture source: %s, %s or %s", config.SourceGpio, config.SourceSim, config.SourceReplay))
	cmd.Flags().StringVar(&opts.DumpPath, DumpOptionName, "", "Symbol dump to replay")
	cmd.Flags().StringVar(&opts.RecordPath, RecordOptionName, "", "Record every completed batch to this file")
	cmd.Flags().StringVar(&address, AddressOptionName, config.DefaultApiAddress, "API listen address")
	cmd.Flags().IntVar(&port, PortOptionName, config.DefaultApiPort, "API listen port")
	cmd.Flags().DurationVar(&opts.SimInterval, SimIntervalOptionName, srv.DefaultSimInterval, "Interval between simulated bursts")
	cmd.Flags().BoolVar(&opts.PaceReplay, PaceOptionName, false, "Replay at the recorded speed")
	cmd.Flags().BoolVar(&opts.NoApi, NoApiOptionName, false, "Do not serve the HTTP API")
	return cmd
}
