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

package netstack

import (
	"context"
)

// EchoHandler acknowledges every packet with its own data
type EchoHandler struct{}

func (EchoHandler) OnOpen(context.Context, Connection, string, string) {}

func (EchoHandler) OnReceive(_ context.Context, _ Connection, data []byte, _ PacketOptions) ([]byte, error) {
	return data, nil
}

func (EchoHandler) OnClose(context.Context, Connection, error) {}

// EchoListener accepts every inbound connection at the proposed address and
// answers it with an EchoHandler
type EchoListener struct{}

func (EchoListener) OnInbound(_ context.Context, localAddr string, _ string) (string, error) {
	return localAddr, nil
}

func (EchoListener) OnAccept(context.Context, string, string) (ConnectionHandler, error) {
	return EchoHandler{}, nil
}
