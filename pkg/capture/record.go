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
	"context"
	"io"
	"sync/atomic"
	"time"

	"jinr.ru/greenlab/go-pulsemon/pkg/layers"
	"jinr.ru/greenlab/go-pulsemon/pkg/log"
)

// RecordingPeripheral copies every completed batch to a DumpWriter before
// passing it on.
type RecordingPeripheral struct {
	Peripheral
	channel uint8
	writer  *DumpWriter
}

func NewRecordingPeripheral(inner Peripheral, channel uint8, writer *DumpWriter) *RecordingPeripheral {
	return &RecordingPeripheral{Peripheral: inner, channel: channel, writer: writer}
}

func (p *RecordingPeripheral) Receive(buf []layers.Symbol, cfg ReceiveConfig, done DoneFunc) error {
	return p.Peripheral.Receive(buf, cfg, func(n int, at time.Time) {
		block := &layers.SymbolBlockLayer{
			Channel:      p.channel,
			CompletionUs: at.UnixMicro(),
			Symbols:      append([]layers.Symbol(nil), buf[:n]...),
		}
		if n == len(buf) {
			block.Flags |= layers.SymbolBlockFlagFull
		}
		p.writer.Record(block)
		done(n, at)
	})
}

// DumpWriter serializes recorded batches on its own goroutine.
type DumpWriter struct {
	out     io.Writer
	blocks  chan *layers.SymbolBlockLayer
	written uint64
	dropped uint64
}

func NewDumpWriter(out io.Writer, size int) *DumpWriter {
	return &DumpWriter{
		out:    out,
		blocks: make(chan *layers.SymbolBlockLayer, size),
	}
}

// Record queues a block without blocking. It reports false when the block was dropped.
func (w *DumpWriter) Record(block *layers.SymbolBlockLayer) bool {
	select {
	case w.blocks <- block:
		return true
	default:
		atomic.AddUint64(&w.dropped, 1)
		return false
	}
}

// Run writes queued blocks until ctx is done, then flushes what is left.
func (w *DumpWriter) Run(ctx context.Context) error {
	for {
		select {
		case block := <-w.blocks:
			if err := w.write(block); err != nil {
				return err
			}
		case <-ctx.Done():
			for {
				select {
				case block := <-w.blocks:
					if err := w.write(block); err != nil {
						return err
					}
				default:
					log.Info("Symbol dump closed, %d blocks written, %d dropped", w.Written(), w.Dropped())
					return nil
				}
			}
		}
	}
}

func (w *DumpWriter) write(block *layers.SymbolBlockLayer) error {
	if err := layers.WriteSymbolBlock(w.out, block); err != nil {
		return err
	}
	atomic.AddUint64(&w.written, 1)
	return nil
}

func (w *DumpWriter) Written() uint64 {
	return atomic.LoadUint64(&w.written)
}

func (w *DumpWriter) Dropped() uint64 {
	return atomic.LoadUint64(&w.dropped)
}
