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

package command

import (
	"net"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
	"jinr.ru/greenlab/go-pulsemon/pkg/srv"
	"jinr.ru/greenlab/go-pulsemon/pkg/telemetry"
)

type fakeStation struct {
	limits []int
}

func (s *fakeStation) Info() srv.StationInfo {
	return srv.StationInfo{Name: "orca", Experiment: "nemo", Device: "bp28-nemo", Source: "gpio", Channels: 3}
}

func (s *fakeStation) Channels() []srv.ChannelInfo {
	return []srv.ChannelInfo{
		{Channel: 1, Name: "ch1", Line: 25, State: "armed"},
		{Channel: 2, Name: "ch2", Line: 26, State: "idle"},
	}
}

func (s *fakeStation) Stats() srv.StationStats {
	stats := srv.StationStats{}
	stats.Allocator.Budget = 4096
	stats.Worker.Forwarded = 7
	return stats
}

func (s *fakeStation) Events(channel uint, limit int) ([]*telemetry.PulseEvent, error) {
	s.limits = append(s.limits, limit)
	if channel != 1 {
		return nil, srv.ErrBucketNotFound{Name: srv.BucketName(channel)}
	}
	return []*telemetry.PulseEvent{
		telemetry.NewPulseEvent(1, 9410, []pulse.Record{{DurationUs: 200, SeparationUs: -1}}, nil),
	}, nil
}

func newClient(t *testing.T) (*ApiClient, *fakeStation) {
	station := &fakeStation{}
	api, err := srv.NewApiServer(config.NewDefaultConfig().Api, station)
	require.NoError(t, err)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	host, port, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)
	return NewApiClient(&config.ApiConfig{Address: host, Port: portNum}), station
}

func TestClientQueries(t *testing.T) {
	client, _ := newClient(t)

	info, err := client.Station()
	require.NoError(t, err)
	assert.Equal(t, "bp28-nemo", info.Device)

	channels, err := client.Channels()
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, 26, channels[1].Line)

	stats, err := client.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), stats.Allocator.Budget)
	assert.Equal(t, uint64(7), stats.Worker.Forwarded)
}

func TestClientEvents(t *testing.T) {
	client, station := newClient(t)

	events, err := client.Events(1, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(9410), events[0].StartTimestampUs)
	assert.Equal(t, int64(-1), events[0].Pulses[0].SeparationUs)

	_, err = client.Events(1, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{5, srv.DefaultEventsLimit}, station.limits)

	_, err = client.Events(3, 0)
	var reqErr ErrRequest
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Status, "404")
	assert.Contains(t, reqErr.Message, "events_ch3")
}
