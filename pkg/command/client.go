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
	"fmt"

	"github.com/imroc/req"

	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/srv"
	"jinr.ru/greenlab/go-pulsemon/pkg/telemetry"
)

// ErrRequest returned when the API answers with a status other than 200
type ErrRequest struct {
	Url     string
	Status  string
	Message string
}

func (e ErrRequest) Error() string {
	return fmt.Sprintf("Request %s failed: %s: %s", e.Url, e.Status, e.Message)
}

type ApiClient struct {
	*config.ApiConfig
	ApiPrefix string
}

func NewApiClient(cfg *config.ApiConfig) *ApiClient {
	return &ApiClient{
		ApiConfig: cfg,
		ApiPrefix: fmt.Sprintf("http://%s/api", cfg.Addr()),
	}
}

func (c *ApiClient) eventsUrl(channel uint) string {
	return fmt.Sprintf("%s/events/%d", c.ApiPrefix, channel)
}

func (c *ApiClient) get(url string, result interface{}, v ...interface{}) error {
	r, err := req.Get(url, v...)
	if err != nil {
		return err
	}
	if r.Response().StatusCode != 200 {
		return ErrRequest{Url: url, Status: r.Response().Status, Message: r.String()}
	}
	return r.ToJSON(result)
}

// Station requests the station identity
func (c *ApiClient) Station() (*srv.StationInfo, error) {
	info := &srv.StationInfo{}
	if err := c.get(c.ApiPrefix+"/station", info); err != nil {
		return nil, err
	}
	return info, nil
}

// Channels requests configuration and state of all capture channels
func (c *ApiClient) Channels() ([]srv.ChannelInfo, error) {
	var channels []srv.ChannelInfo
	if err := c.get(c.ApiPrefix+"/channels", &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// Stats requests the pipeline counters
func (c *ApiClient) Stats() (*srv.StationStats, error) {
	stats := &srv.StationStats{}
	if err := c.get(c.ApiPrefix+"/stats", stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Events requests the newest stored events of a channel. limit <= 0 uses the server default.
func (c *ApiClient) Events(channel uint, limit int) ([]*telemetry.PulseEvent, error) {
	var events []*telemetry.PulseEvent
	params := req.Param{}
	if limit > 0 {
		params["limit"] = limit
	}
	if err := c.get(c.eventsUrl(channel), &events, params); err != nil {
		return nil, err
	}
	return events, nil
}
