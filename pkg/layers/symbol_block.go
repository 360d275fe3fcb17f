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

package layers

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// SymbolBlockLayerNum identifies the layer
	SymbolBlockLayerNum = 2001

	SymbolBlockMagic        = 0x534d5953
	SymbolBlockHeaderLength = 16
	SymbolLength            = 4

	// SymbolBlockFlagFull marks a batch ended by a full buffer rather than by idle timeout
	SymbolBlockFlagFull uint8 = 1
)

// SymbolBlockLayer is one completed peripheral batch as stored in a dump file.
//
//	0:4   magic
//	4     channel (0-based)
//	5     flags
//	6:8   number of symbols
//	8:16  completion time, epoch microseconds
//	16:   symbols, 4 bytes each
//
// All fields are little endian.
type SymbolBlockLayer struct {
	layers.BaseLayer
	Channel      uint8
	Flags        uint8
	CompletionUs int64
	Symbols      []Symbol
}

var SymbolBlockLayerType = gopacket.RegisterLayerType(SymbolBlockLayerNum,
	gopacket.LayerTypeMetadata{Name: "SymbolBlockLayerType", Decoder: gopacket.DecodeFunc(decodeSymbolBlockLayer)})

// LayerType returns the type of the SymbolBlock layer in the layer catalog
func (b *SymbolBlockLayer) LayerType() gopacket.LayerType {
	return SymbolBlockLayerType
}

func (b *SymbolBlockLayer) CanDecode() gopacket.LayerClass {
	return SymbolBlockLayerType
}

func (b *SymbolBlockLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

// Length is the serialized size of the block.
func (b *SymbolBlockLayer) Length() int {
	return SymbolBlockHeaderLength + SymbolLength*len(b.Symbols)
}

// PayloadLength parses a block header and returns the number of symbol bytes that follow it.
func PayloadLength(header []byte) (int, error) {
	if len(header) < SymbolBlockHeaderLength {
		return 0, ErrSymbolBlock{What: fmt.Sprintf("header too short: %d bytes", len(header))}
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != SymbolBlockMagic {
		return 0, ErrSymbolBlock{What: fmt.Sprintf("wrong magic: %08x", magic)}
	}
	return SymbolLength * int(binary.LittleEndian.Uint16(header[6:8])), nil
}

func (b *SymbolBlockLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	payloadLength, err := PayloadLength(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	total := SymbolBlockHeaderLength + payloadLength
	if len(data) < total {
		df.SetTruncated()
		return ErrSymbolBlock{What: fmt.Sprintf("block truncated: %d of %d bytes", len(data), total)}
	}

	b.Channel = data[4]
	b.Flags = data[5]
	b.CompletionUs = int64(binary.LittleEndian.Uint64(data[8:16]))
	b.Symbols = make([]Symbol, payloadLength/SymbolLength)
	for i := range b.Symbols {
		offset := SymbolBlockHeaderLength + i*SymbolLength
		b.Symbols[i] = Symbol(binary.LittleEndian.Uint32(data[offset : offset+SymbolLength]))
	}
	b.BaseLayer = layers.BaseLayer{Contents: data[:total], Payload: data[total:]}
	return nil
}

// SerializeTo serializes the SymbolBlock layer into bytes and writes the bytes to the SerializeBuffer
func (b *SymbolBlockLayer) SerializeTo(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if len(b.Symbols) > 0xffff {
		return ErrSymbolBlock{What: fmt.Sprintf("too many symbols: %d", len(b.Symbols))}
	}
	bytes, err := buf.AppendBytes(b.Length())
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(bytes[0:4], SymbolBlockMagic)
	bytes[4] = b.Channel
	bytes[5] = b.Flags
	binary.LittleEndian.PutUint16(bytes[6:8], uint16(len(b.Symbols)))
	binary.LittleEndian.PutUint64(bytes[8:16], uint64(b.CompletionUs))
	for i, s := range b.Symbols {
		offset := SymbolBlockHeaderLength + i*SymbolLength
		binary.LittleEndian.PutUint32(bytes[offset:offset+SymbolLength], uint32(s))
	}
	return nil
}

func decodeSymbolBlockLayer(data []byte, p gopacket.PacketBuilder) error {
	b := &SymbolBlockLayer{}
	if err := b.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(b)
	return nil
}

// WriteSymbolBlock serializes one block to w.
func WriteSymbolBlock(w io.Writer, b *SymbolBlockLayer) error {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, b); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadSymbolBlock reads the next block from r. It returns io.EOF at a clean end of stream.
func ReadSymbolBlock(r io.Reader) (*SymbolBlockLayer, error) {
	header := make([]byte, SymbolBlockHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	payloadLength, err := PayloadLength(header)
	if err != nil {
		return nil, err
	}
	data := make([]byte, SymbolBlockHeaderLength+payloadLength)
	copy(data, header)
	if _, err = io.ReadFull(r, data[SymbolBlockHeaderLength:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	packet := gopacket.NewPacket(data, SymbolBlockLayerType, gopacket.NoCopy)
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, errLayer.Error()
	}
	layer := packet.Layer(SymbolBlockLayerType)
	if layer == nil {
		return nil, ErrSymbolBlock{What: "no symbol block in frame"}
	}
	block, ok := layer.(*SymbolBlockLayer)
	if !ok {
		return nil, ErrSymbolBlock{What: "can not cast layer to SymbolBlockLayer"}
	}
	return block, nil
}
