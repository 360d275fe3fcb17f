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
	"errors"
	"fmt"
)

var (
	ErrPeripheralClosed = errors.New("capture: peripheral is closed")
	ErrAlreadyReceiving = errors.New("capture: peripheral is already receiving")
)

// ErrChannelBusy returned when a channel is armed while it is not idle
type ErrChannelBusy struct {
	Channel uint8
	State   State
}

func (e ErrChannelBusy) Error() string {
	return fmt.Sprintf("Channel %d can not be armed while %s", e.Channel, e.State)
}

// ErrArm returned when the peripheral refuses to start receiving
type ErrArm struct {
	Channel uint8
	Err     error
}

func (e ErrArm) Error() string {
	return fmt.Sprintf("Error while arming channel %d: %s", e.Channel, e.Err)
}

func (e ErrArm) Unwrap() error {
	return e.Err
}

// ErrChannelNotFound returned when a channel index is outside the registry
type ErrChannelNotFound struct {
	Index int
}

func (e ErrChannelNotFound) Error() string {
	return fmt.Sprintf("Channel not found: %d", e.Index)
}

// ErrUnknownSource returned when no peripheral binding exists for a capture source
type ErrUnknownSource struct {
	Source string
}

func (e ErrUnknownSource) Error() string {
	return fmt.Sprintf("Unknown capture source: %s", e.Source)
}
