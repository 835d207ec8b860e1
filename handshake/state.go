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

package handshake

import (
	"github.com/blinklabs-io/goibc/bridge"
	"github.com/blinklabs-io/goibc/protocol"
)

var (
	// StateRequested is an outbound attempt waiting for channelOpenAck
	StateRequested = protocol.NewState(1, "Requested")
	// StateTrying is an inbound attempt whose version is being negotiated
	StateTrying = protocol.NewState(2, "Trying")
	// StateConfirming is an inbound attempt waiting for channelOpenConfirm
	StateConfirming = protocol.NewState(3, "Confirming")
	StateOpen       = protocol.NewState(4, "Open")
	StateFailed     = protocol.NewState(5, "Failed")
	StateRejected   = protocol.NewState(6, "Rejected")
	StateClosed     = protocol.NewState(7, "Closed")
)

// OutboundStateMap defines the transitions of a locally initiated handshake
var OutboundStateMap = protocol.StateMap{
	StateRequested: protocol.StateMapEntry{
		Transitions: []protocol.StateTransition{
			{
				Trigger:  protocol.Trigger(bridge.EventChannelOpenAck),
				NewState: StateOpen,
			},
			{
				Trigger:  protocol.TriggerRevoke,
				NewState: StateFailed,
			},
			{
				Trigger:  protocol.TriggerCancel,
				NewState: StateFailed,
			},
		},
	},
	StateOpen: protocol.StateMapEntry{
		Transitions: []protocol.StateTransition{
			{
				Trigger:  protocol.TriggerClose,
				NewState: StateClosed,
			},
		},
	},
	StateFailed: protocol.StateMapEntry{},
	StateClosed: protocol.StateMapEntry{},
}

// InboundStateMap defines the transitions of a remote initiated handshake
var InboundStateMap = protocol.StateMap{
	StateTrying: protocol.StateMapEntry{
		Transitions: []protocol.StateTransition{
			{
				Trigger:  protocol.TriggerVersionAccepted,
				NewState: StateConfirming,
			},
			{
				Trigger:  protocol.TriggerVersionRejected,
				NewState: StateRejected,
			},
		},
	},
	StateConfirming: protocol.StateMapEntry{
		Transitions: []protocol.StateTransition{
			{
				Trigger:  protocol.Trigger(bridge.EventChannelOpenConfirm),
				NewState: StateOpen,
			},
			{
				Trigger:  protocol.TriggerRevoke,
				NewState: StateRejected,
			},
			{
				Trigger:  protocol.TriggerClose,
				NewState: StateRejected,
			},
		},
	},
	StateOpen: protocol.StateMapEntry{
		Transitions: []protocol.StateTransition{
			{
				Trigger:  protocol.TriggerClose,
				NewState: StateClosed,
			},
		},
	},
	StateRejected: protocol.StateMapEntry{},
	StateClosed:   protocol.StateMapEntry{},
}
