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

package query

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-pulsemon/pkg/command"
	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/srv"
)

const (
	ChannelOptionName = "channel"
	LimitOptionName   = "limit"
)

func printYaml(out io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// NewChannelsCommand creates a cobra command listing the channels of a running station
func NewChannelsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List capture channels of the running station",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := command.NewApiClient(cfg.Api)
			station, err := client.Station()
			if err != nil {
				return err
			}
			channels, err := client.Channels()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, %s): source %s\n", station.Name, station.Experiment, station.Device, station.Source)
			for _, ch := range channels {
				fmt.Fprintf(out, "%d %-8s line %-3d %-5s %dHz stored %d arms %d completions %d\n",
					ch.Channel, ch.Name, ch.Line, ch.State, ch.ResolutionHz, ch.Stored,
					ch.Stats.Arms, ch.Stats.Completions)
			}
			return nil
		},
	}
	return cmd
}

// NewStatsCommand creates a cobra command printing pipeline counters
func NewStatsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print allocator, queue, decoder and worker counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := command.NewApiClient(cfg.Api).Stats()
			if err != nil {
				return err
			}
			return printYaml(cmd.OutOrStdout(), stats)
		},
	}
	return cmd
}

// NewEventsCommand creates a cobra command printing the latest stored events of a channel
func NewEventsCommand(cfg *config.Config) *cobra.Command {
	var channel uint
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the latest pulse events of a channel",
		Example: `
Show the ten newest events of the first channel
# go-pulsemon events --channel 1 --limit 10
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := command.NewApiClient(cfg.Api).Events(channel, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ev := range events {
				fmt.Fprintln(out, ev.String())
				for i, p := range ev.Pulses {
					fmt.Fprintf(out, "  %d: %dus after %dus\n", i, p.DurationUs, p.SeparationUs)
				}
			}
			return nil
		},
	}
	cmd.Flags().UintVar(&channel, ChannelOptionName, 0, "Channel number starting from 1")
	cmd.Flags().IntVar(&limit, LimitOptionName, srv.DefaultEventsLimit, "Maximum number of events")
	_ = cmd.MarkFlagRequired(ChannelOptionName)
	return cmd
}
