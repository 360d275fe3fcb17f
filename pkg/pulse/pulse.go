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

// Package pulse holds the decoded pulse records, the groups they travel in and the
// allocator both are taken from.
package pulse

const (
	// NoSeparation marks a pulse without a known predecessor
	NoSeparation int64 = -1
)

// Record is one decoded pulse.
type Record struct {
	// DurationUs is how long the line stayed asserted
	DurationUs uint32 `json:"duration_us"`
	// SeparationUs is the gap from the end of the previous pulse on the same
	// channel to the start of this one, or NoSeparation
	SeparationUs int64 `json:"separation_us"`
}

// Group holds the pulses decoded from one peripheral batch.
// len(Pulses) is the exact number of pulses; the allocator never hands out
// more capacity than that.
type Group struct {
	Channel          uint8
	StartTimestampUs int64
	Pulses           []Record
}

// NumPulses is the number of records in the group.
func (g *Group) NumPulses() int {
	return len(g.Pulses)
}

// Handle is the single owner of a Group while it crosses from the completion
// callback to the worker. Moving the group out empties the handle, so whoever
// gave it away can no longer reach it.
type Handle struct {
	group *Group
}

func NewHandle(g *Group) *Handle {
	return &Handle{group: g}
}

// Take moves the group out of the handle. A second Take returns nil.
func (h *Handle) Take() *Group {
	g := h.group
	h.group = nil
	return g
}

// Empty reports whether the group has been moved out.
func (h *Handle) Empty() bool {
	return h.group == nil
}

// Peek gives read access to the owned group without taking it.
func (h *Handle) Peek() *Group {
	return h.group
}
