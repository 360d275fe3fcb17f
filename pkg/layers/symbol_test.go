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
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolPacking(t *testing.T) {
	s := NewSymbol(Asserted, 200, Deasserted, 50)
	assert.Equal(t, Symbol(200|1<<15|50<<16), s)
	assert.Equal(t, uint32(200), s.Duration0())
	assert.Equal(t, Asserted, s.Level0())
	assert.Equal(t, uint32(50), s.Duration1())
	assert.Equal(t, Deasserted, s.Level1())
	assert.True(t, s.IsPulse())
	assert.Equal(t, uint32(250), s.Ticks())
	assert.Equal(t, "{1:200 0:50}", s.String())

	inverted := NewSymbol(Deasserted, 10, Asserted, 10)
	assert.False(t, inverted.IsPulse())
	assert.Equal(t, Asserted, inverted.Level1())

	saturated := Pulse(100000, 40000)
	assert.Equal(t, uint32(MaxDuration), saturated.Duration0())
	assert.Equal(t, uint32(MaxDuration), saturated.Duration1())
	assert.True(t, saturated.IsPulse())
}

func TestSymbolBlockStream(t *testing.T) {
	blocks := []*SymbolBlockLayer{
		{Channel: 0, CompletionUs: 10000, Symbols: []Symbol{Pulse(200, 50), NewSymbol(Deasserted, 10, Asserted, 10)}},
		{Channel: 2, Flags: 1, CompletionUs: 1700000000000000, Symbols: []Symbol{}},
	}

	buf := &bytes.Buffer{}
	for _, b := range blocks {
		require.NoError(t, WriteSymbolBlock(buf, b))
	}
	assert.Equal(t, blocks[0].Length()+blocks[1].Length(), buf.Len())

	first, err := ReadSymbolBlock(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), first.Channel)
	assert.Equal(t, int64(10000), first.CompletionUs)
	assert.Equal(t, blocks[0].Symbols, first.Symbols)

	second, err := ReadSymbolBlock(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), second.Channel)
	assert.Equal(t, uint8(1), second.Flags)
	assert.Equal(t, int64(1700000000000000), second.CompletionUs)
	assert.Empty(t, second.Symbols)

	_, err = ReadSymbolBlock(buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadSymbolBlockErrors(t *testing.T) {
	t.Run("wrong magic", func(t *testing.T) {
		_, err := ReadSymbolBlock(bytes.NewReader(make([]byte, SymbolBlockHeaderLength)))
		var blockErr ErrSymbolBlock
		assert.True(t, errors.As(err, &blockErr))
	})

	t.Run("truncated payload", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, WriteSymbolBlock(buf, &SymbolBlockLayer{Symbols: []Symbol{Pulse(1, 1), Pulse(2, 2)}}))
		data := buf.Bytes()[:buf.Len()-3]
		_, err := ReadSymbolBlock(bytes.NewReader(data))
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})
}
