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
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-pulsemon/pkg/log"
	"jinr.ru/greenlab/go-pulsemon/pkg/telemetry"
)

const (
	BucketPrefix = "events_ch"
)

// Store keeps forwarded pulse events per channel. Keys sort by start time so the
// oldest events are pruned first.
type Store struct {
	DB        *bbolt.DB
	maxEvents int

	mu     sync.Mutex
	counts map[uint]int
	saved  uint64
	pruned uint64
}

// NewStore opens the database and creates a bucket for channels 1..channels.
func NewStore(path string, channels int, maxEvents int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	s := &Store{
		DB:        db,
		maxEvents: maxEvents,
		counts:    make(map[uint]int),
	}
	if err = db.Update(func(tx *bbolt.Tx) error {
		for ch := 1; ch <= channels; ch++ {
			b, err := tx.CreateBucketIfNotExists([]byte(BucketName(uint(ch))))
			if err != nil {
				return err
			}
			s.counts[uint(ch)] = b.Stats().KeyN
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func BucketName(channel uint) string {
	return fmt.Sprintf("%s%d", BucketPrefix, channel)
}

func eventKey(start int64, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(start))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Save stores one event and prunes the channel down to the retention limit.
func (s *Store) Save(ev *telemetry.PulseEvent) error {
	data, err := yaml.Marshal(ev)
	if err != nil {
		return err
	}
	name := BucketName(ev.Channel)
	pruned := 0
	if err := s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return ErrBucketNotFound{Name: name}
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(eventKey(ev.StartTimestampUs, seq), data); err != nil {
			return err
		}
		s.mu.Lock()
		excess := s.counts[ev.Channel] + 1 - s.maxEvents
		s.mu.Unlock()
		if s.maxEvents <= 0 || excess <= 0 {
			return nil
		}
		oldest := [][]byte{}
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(oldest) < excess; k, _ = c.Next() {
			oldest = append(oldest, append([]byte(nil), k...))
		}
		for _, k := range oldest {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	}); err != nil {
		return err
	}
	s.mu.Lock()
	s.counts[ev.Channel] += 1 - pruned
	s.saved++
	s.pruned += uint64(pruned)
	s.mu.Unlock()
	return nil
}

// Events returns up to limit events of a channel, newest first.
func (s *Store) Events(channel uint, limit int) ([]*telemetry.PulseEvent, error) {
	name := BucketName(channel)
	events := []*telemetry.PulseEvent{}
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return ErrBucketNotFound{Name: name}
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(events) < limit); k, v = c.Prev() {
			ev := &telemetry.PulseEvent{}
			if err := yaml.Unmarshal(v, ev); err != nil {
				log.Error("Error while decoding stored event %x: %s", k, err)
				return err
			}
			events = append(events, ev)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) Count(channel uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[channel]
	if !ok {
		return 0, ErrBucketNotFound{Name: BucketName(channel)}
	}
	return n, nil
}

type StoreStats struct {
	Saved  uint64 `json:"saved"`
	Pruned uint64 `json:"pruned"`
}

func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{Saved: s.saved, Pruned: s.pruned}
}

// Consume saves and releases every event from events until ctx is done, then
// takes whatever is still queued.
func (s *Store) Consume(ctx context.Context, events <-chan *telemetry.PulseEvent) error {
	for {
		select {
		case ev := <-events:
			s.consume(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-events:
					s.consume(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (s *Store) consume(ev *telemetry.PulseEvent) {
	defer ev.Release()
	if err := s.Save(ev); err != nil {
		log.Error("Error while saving event %s: %s", ev, err)
	}
}
