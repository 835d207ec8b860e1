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

import "errors"

var ErrHandlerShuttingDown = errors.New("ibc handler is shutting down")

// Error kinds surfaced to network-stack callers and logged for bridge events
var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrUnexpectedAck     = errors.New("unexpected channelOpenAck")
	ErrUnexpectedConfirm = errors.New("unexpected channelOpenConfirm")
	ErrVersionMismatch   = errors.New("negotiated version mismatch")
	ErrPortRevoked       = errors.New("port revoked")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrPacketTimedOut    = errors.New("packet timed out")
	ErrUnrecognizedEvent = errors.New("unrecognized bridge event")
)

var (
	ErrUnknownPort       = errors.New("unknown port")
	ErrChannelExists     = errors.New("channel already registered")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ErrCommitmentMismatch means the bridge settled a sequence with a packet
// other than the one sent under it
var ErrCommitmentMismatch = errors.New("packet commitment mismatch")
