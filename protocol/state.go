// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import "fmt"

// Handshake directions
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

type State struct {
	Id   uint
	Name string
}

func NewState(id uint, name string) State {
	return State{
		Id:   id,
		Name: name,
	}
}

func (s State) String() string {
	return s.Name
}

// Trigger identifies what moved a handshake attempt to a new state. Bridge
// events use their event name, local actions use the names below.
type Trigger string

const (
	TriggerVersionAccepted Trigger = "versionAccepted"
	TriggerVersionRejected Trigger = "versionRejected"
	TriggerRevoke          Trigger = "revoke"
	TriggerCancel          Trigger = "cancel"
	TriggerClose           Trigger = "close"
)

type StateTransition struct {
	Trigger  Trigger
	NewState State
}

type StateMapEntry struct {
	Transitions []StateTransition
}

type StateMap map[State]StateMapEntry

// Copy returns a copy of the state map
func (s StateMap) Copy() StateMap {
	ret := StateMap{}
	for k, v := range s {
		ret[k] = v
	}
	return ret
}

// Next returns the state reached from the current state by the given trigger
func (s StateMap) Next(current State, trigger Trigger) (State, error) {
	entry, ok := s[current]
	if !ok {
		return current, fmt.Errorf(
			"%w: unknown state %s",
			ErrInvalidTransition,
			current,
		)
	}
	for _, transition := range entry.Transitions {
		if transition.Trigger == trigger {
			return transition.NewState, nil
		}
	}
	return current, fmt.Errorf(
		"%w: %s does not accept %s",
		ErrInvalidTransition,
		current,
		trigger,
	)
}

// Terminal reports whether no transitions leave the given state
func (s StateMap) Terminal(state State) bool {
	entry, ok := s[state]
	return !ok || len(entry.Transitions) == 0
}
