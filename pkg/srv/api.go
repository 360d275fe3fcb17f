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

// go-pulsemon API
//
// Station, channel and counter views plus the stored pulse events. The
// description served at /swagger.json is embedded from swagger.json.
package srv

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-openapi/loads"
	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"jinr.ru/greenlab/go-pulsemon/pkg/capture"
	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/decoder"
	"jinr.ru/greenlab/go-pulsemon/pkg/log"
	"jinr.ru/greenlab/go-pulsemon/pkg/processor"
	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
	"jinr.ru/greenlab/go-pulsemon/pkg/telemetry"
)

const (
	DefaultEventsLimit = 100
	shutdownTimeout    = 5 * time.Second
)

//go:embed swagger.json
var swaggerJSON []byte

type StationInfo struct {
	Name       string `json:"name"`
	Experiment string `json:"experiment"`
	Device     string `json:"device"`
	Source     string `json:"source"`
	Channels   int    `json:"channels"`
}

type ChannelInfo struct {
	// Channel is 1-based
	Channel       uint                 `json:"channel"`
	Name          string               `json:"name"`
	Line          int                  `json:"line"`
	ResolutionHz  uint32               `json:"resolution_hz"`
	MinWidthNs    uint32               `json:"min_width_ns"`
	MaxWidthNs    uint32               `json:"max_width_ns"`
	BufferSymbols int                  `json:"buffer_symbols"`
	State         string               `json:"state"`
	Stored        int                  `json:"stored"`
	Stats         capture.ChannelStats `json:"stats"`
}

type QueueStats struct {
	Groups       int `json:"groups"`
	GroupsCap    int `json:"groups_cap"`
	Restarts     int `json:"restarts"`
	RestartsCap  int `json:"restarts_cap"`
	Telemetry    int `json:"telemetry"`
	TelemetryCap int `json:"telemetry_cap"`
}

type StationStats struct {
	Allocator      pulse.AllocatorStats `json:"allocator"`
	Queues         QueueStats           `json:"queues"`
	BacklogDropped uint64               `json:"backlog_dropped"`
	Decoder        decoder.Stats        `json:"decoder"`
	Worker         processor.Stats      `json:"worker"`
	Store          StoreStats           `json:"store"`
}

// StationState is what the API server reads from the running station.
type StationState interface {
	Info() StationInfo
	Channels() []ChannelInfo
	Stats() StationStats
	Events(channel uint, limit int) ([]*telemetry.PulseEvent, error)
}

type ApiServer struct {
	*config.ApiConfig
	*mux.Router
	station StationState
	title   string
}

// NewApiServer validates the embedded API description and builds the router.
func NewApiServer(cfg *config.ApiConfig, station StationState) (*ApiServer, error) {
	doc, err := loads.Analyzed(json.RawMessage(swaggerJSON), "")
	if err != nil {
		return nil, ErrSpec{Err: err}
	}
	s := &ApiServer{
		ApiConfig: cfg,
		station:   station,
		title:     doc.Spec().Info.Title,
	}
	s.configureRouter()
	return s, nil
}

func (s *ApiServer) configureRouter() {
	s.Router = mux.NewRouter()
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/station", s.handleStation()).Methods("GET")
	subRouter.HandleFunc("/channels", s.handleChannels()).Methods("GET")
	subRouter.HandleFunc("/stats", s.handleStats()).Methods("GET")
	subRouter.HandleFunc("/events/{channel:[0-9]+}", s.handleEvents()).Methods("GET")
	s.Router.HandleFunc("/swagger.json", s.handleSwagger()).Methods("GET")
	s.Router.Handle("/docs", middleware.Redoc(middleware.RedocOpts{
		BasePath: "/",
		Path:     "docs",
		SpecURL:  "/swagger.json",
		Title:    s.title,
	}, http.NotFoundHandler())).Methods("GET")
}

// Handler is the router wrapped with access logging and panic recovery.
func (s *ApiServer) Handler() http.Handler {
	logged := handlers.CombinedLoggingHandler(log.Writer(), s.Router)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(logged)
}

// Run serves HTTP until ctx is done.
func (s *ApiServer) Run(ctx context.Context) error {
	log.Info("Starting API server: address: %s port: %d", s.Address, s.Port)
	httpServer := &http.Server{
		Handler: s.Handler(),
		Addr:    s.Addr(),
	}
	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error while encoding response: %s", err)
	}
}

func (s *ApiServer) handleStation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.station.Info())
	}
}

func (s *ApiServer) handleChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.station.Channels())
	}
}

func (s *ApiServer) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.station.Stats())
	}
}

func (s *ApiServer) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		log.Debug("Handling events request: channel: %s", vars["channel"])

		channel, err := strconv.ParseUint(vars["channel"], 10, 8)
		if err != nil || channel == 0 {
			http.Error(w, "channel must be a number from 1", http.StatusBadRequest)
			return
		}
		limit := DefaultEventsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit <= 0 {
				http.Error(w, "limit must be a positive number", http.StatusBadRequest)
				return
			}
		}

		events, err := s.station.Events(uint(channel), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, events)
	}
}

func (s *ApiServer) handleSwagger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(swaggerJSON)
	}
}
