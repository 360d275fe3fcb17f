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
	"fmt"
)

const (
	Deasserted uint8 = 0
	Asserted   uint8 = 1

	// MaxDuration is the largest duration a symbol half can hold (15 bits)
	MaxDuration = 0x7fff
)

// Symbol is one level/duration pair captured by the timing peripheral.
// The layout follows the peripheral memory word:
//
//	bits  0-14 duration0
//	bit     15 level0
//	bits 16-30 duration1
//	bit     31 level1
//
// Durations are peripheral ticks.
type Symbol uint32

// NewSymbol packs a level pair. Durations above MaxDuration are saturated.
func NewSymbol(level0 uint8, duration0 uint32, level1 uint8, duration1 uint32) Symbol {
	if duration0 > MaxDuration {
		duration0 = MaxDuration
	}
	if duration1 > MaxDuration {
		duration1 = MaxDuration
	}
	return Symbol(duration0 | uint32(level0&1)<<15 | duration1<<16 | uint32(level1&1)<<31)
}

// Pulse returns an asserted-then-deasserted symbol.
func Pulse(high, low uint32) Symbol {
	return NewSymbol(Asserted, high, Deasserted, low)
}

func (s Symbol) Duration0() uint32 {
	return uint32(s) & MaxDuration
}

func (s Symbol) Level0() uint8 {
	return uint8(uint32(s)>>15) & 1
}

func (s Symbol) Duration1() uint32 {
	return (uint32(s) >> 16) & MaxDuration
}

func (s Symbol) Level1() uint8 {
	return uint8(uint32(s) >> 31)
}

// IsPulse reports whether the symbol is an asserted level followed by a deasserted one.
func (s Symbol) IsPulse() bool {
	return s.Level0() == Asserted && s.Level1() == Deasserted
}

// Ticks is the total length of the symbol.
func (s Symbol) Ticks() uint32 {
	return s.Duration0() + s.Duration1()
}

func (s Symbol) String() string {
	return fmt.Sprintf("{%d:%d %d:%d}", s.Level0(), s.Duration0(), s.Level1(), s.Duration1())
}
