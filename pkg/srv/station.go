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

package srv

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"jinr.ru/greenlab/go-pulsemon/pkg/capture"
	"jinr.ru/greenlab/go-pulsemon/pkg/config"
	"jinr.ru/greenlab/go-pulsemon/pkg/decoder"
	"jinr.ru/greenlab/go-pulsemon/pkg/handoff"
	"jinr.ru/greenlab/go-pulsemon/pkg/log"
	"jinr.ru/greenlab/go-pulsemon/pkg/processor"
	"jinr.ru/greenlab/go-pulsemon/pkg/pulse"
	"jinr.ru/greenlab/go-pulsemon/pkg/telemetry"
)

const (
	DumpQueueSize      = 64
	DefaultSimInterval = 200 * time.Millisecond
)

type StationOptions struct {
	// DumpPath is the symbol dump read by the replay source
	DumpPath string
	// RecordPath, when set, receives every completed batch
	RecordPath string
	// SimInterval between generated bursts; zero leaves the simulators idle
	SimInterval time.Duration
	// PaceReplay replays at the recorded speed
	PaceReplay bool
	Clock      capture.Clock
	NoApi      bool
}

// Station wires capture channels, decoder, worker, store and API together.
type Station struct {
	cfg  *config.Config
	opts StationOptions

	alloc    *pulse.BudgetAllocator
	groups   *handoff.GroupQueue
	restarts *handoff.RestartQueue
	sink     *telemetry.Queue
	backlog  *log.Backlog
	decoder  *decoder.Decoder
	manager  *capture.Manager
	worker   *processor.Worker
	store    *Store
	api      *ApiServer

	sims     *capture.SimBank
	replayer *capture.Replayer
	dump     *capture.DumpWriter
	files    []*os.File
}

var _ StationState = &Station{}

func NewStation(cfg *config.Config, opts StationOptions) (*Station, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = capture.RealClock{}
	}
	n := len(cfg.Capture.Channels)
	s := &Station{
		cfg:      cfg,
		opts:     opts,
		alloc:    pulse.NewBudgetAllocator(cfg.Memory.Records),
		groups:   handoff.NewGroupQueue(cfg.Queues.Groups),
		restarts: handoff.NewRestartQueue(cfg.Queues.Restarts),
		sink:     telemetry.NewQueue(cfg.Queues.Telemetry),
		backlog:  log.NewBacklog(log.DefaultBacklogSize),
	}
	s.decoder = decoder.New(n, s.alloc, s.groups, s.restarts, s.backlog)

	factory, err := s.peripheralFactory()
	if err != nil {
		s.closeFiles()
		return nil, err
	}
	s.manager, err = capture.NewManager(cfg.Capture, factory, s.decoder.Handle)
	if err != nil {
		s.closeFiles()
		return nil, err
	}
	s.worker = processor.NewWorker(cfg.Worker, s.groups, s.restarts, s.sink, s.alloc, s.backlog, s.manager)

	s.store, err = NewStore(cfg.Store.Path, n, cfg.Store.MaxEventsPerChannel)
	if err != nil {
		s.manager.Close()
		s.closeFiles()
		return nil, err
	}
	s.api, err = NewApiServer(cfg.Api, s)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Station) peripheralFactory() (capture.PeripheralFactory, error) {
	var factory capture.PeripheralFactory
	switch s.cfg.Capture.Source {
	case config.SourceGpio:
		factory = capture.NewGpioFactory(s.cfg.Capture.Chip, s.opts.Clock)
	case config.SourceSim:
		s.sims = capture.NewSimBank(s.opts.Clock)
		factory = s.sims.Factory()
	case config.SourceReplay:
		f, err := os.Open(s.opts.DumpPath)
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, f)
		s.replayer = capture.NewReplayer(f)
		s.replayer.Pace = s.opts.PaceReplay
		factory = capture.NewReplayFactory(s.replayer)
	default:
		return nil, capture.ErrUnknownSource{Source: s.cfg.Capture.Source}
	}
	if s.opts.RecordPath != "" {
		f, err := os.Create(s.opts.RecordPath)
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, f)
		s.dump = capture.NewDumpWriter(f, DumpQueueSize)
		factory = capture.WithRecording(factory, s.dump)
	}
	return factory, nil
}

// Run arms every channel and serves until ctx is done or a component fails.
func (s *Station) Run(ctx context.Context) error {
	defer s.close()
	log.Info("Starting station %s (%s/%s) with %d channels from %s source",
		s.cfg.Station.Name, s.cfg.Station.Experiment, s.cfg.Station.Device,
		s.manager.Count(), s.cfg.Capture.Source)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.worker.Run(gctx)
	})
	g.Go(func() error {
		return s.store.Consume(gctx, s.sink.Events())
	})
	if !s.opts.NoApi {
		g.Go(func() error {
			return s.api.Run(gctx)
		})
	}
	if s.dump != nil {
		g.Go(func() error {
			return s.dump.Run(gctx)
		})
	}

	// channels that refuse to start are retried by the worker
	for _, index := range s.manager.ArmAll() {
		s.restarts.TryPush(index)
	}

	if s.replayer != nil {
		g.Go(func() error {
			return s.replayer.Run(gctx)
		})
	}
	if s.sims != nil && s.opts.SimInterval > 0 {
		for i, p := range s.sims.Peripherals {
			ch, _ := s.manager.Channel(i)
			gen := capture.NewGenerator(p, ch.ResolutionHz(), s.opts.SimInterval, time.Now().UnixNano()+int64(i))
			g.Go(func() error {
				return gen.Run(gctx)
			})
		}
	}

	err := g.Wait()
	// no completion can run past this point, so the final drain leaves no group behind
	if cerr := s.manager.Close(); cerr != nil {
		log.Error("Error while closing channels: %s", cerr)
	}
	if n := s.worker.FreeQueued(); n > 0 {
		log.Debug("Freed %d pulse groups queued during shutdown", n)
	}
	// the worker may have forwarded after the store stopped draining
drain:
	for {
		select {
		case ev := <-s.sink.Events():
			s.store.consume(ev)
		default:
			break drain
		}
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("Station stopped")
	return err
}

func (s *Station) close() {
	if err := s.manager.Close(); err != nil {
		log.Error("Error while closing channels: %s", err)
	}
	if err := s.store.Close(); err != nil {
		log.Error("Error while closing store: %s", err)
	}
	s.closeFiles()
}

func (s *Station) closeFiles() {
	for _, f := range s.files {
		f.Close()
	}
	s.files = nil
}

// SimPeripherals returns the simulator peripherals of a sim station.
func (s *Station) SimPeripherals() []*capture.SimPeripheral {
	if s.sims == nil {
		return nil
	}
	return s.sims.Peripherals
}

func (s *Station) Api() *ApiServer {
	return s.api
}

func (s *Station) Info() StationInfo {
	return StationInfo{
		Name:       s.cfg.Station.Name,
		Experiment: s.cfg.Station.Experiment,
		Device:     s.cfg.Station.Device,
		Source:     s.cfg.Capture.Source,
		Channels:   s.manager.Count(),
	}
}

func (s *Station) Channels() []ChannelInfo {
	infos := []ChannelInfo{}
	for _, ch := range s.manager.Channels() {
		cfg := ch.Config()
		number := uint(ch.Index()) + 1
		stored, _ := s.store.Count(number)
		infos = append(infos, ChannelInfo{
			Channel:       number,
			Name:          cfg.Name,
			Line:          cfg.Line,
			ResolutionHz:  cfg.ResolutionHz,
			MinWidthNs:    cfg.MinWidthNs,
			MaxWidthNs:    cfg.MaxWidthNs,
			BufferSymbols: cfg.BufferSymbols,
			State:         ch.State().String(),
			Stored:        stored,
			Stats:         ch.Stats(),
		})
	}
	return infos
}

func (s *Station) Stats() StationStats {
	return StationStats{
		Allocator: s.alloc.Stats(),
		Queues: QueueStats{
			Groups:       s.groups.Len(),
			GroupsCap:    s.groups.Cap(),
			Restarts:     s.restarts.Len(),
			RestartsCap:  s.restarts.Cap(),
			Telemetry:    s.sink.Len(),
			TelemetryCap: s.sink.Cap(),
		},
		BacklogDropped: s.backlog.Dropped(),
		Decoder:        s.decoder.Stats(),
		Worker:         s.worker.Stats(),
		Store:          s.store.Stats(),
	}
}

func (s *Station) Events(channel uint, limit int) ([]*telemetry.PulseEvent, error) {
	return s.store.Events(channel, limit)
}
