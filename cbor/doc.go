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

// Package cbor provides the CBOR encoding used on the bridge wire and in the
// channel metadata store.
//
// This package wraps github.com/fxamacker/cbor/v2. Encoding is deterministic
// (core deterministic map key ordering) so that identical messages produce
// identical bytes. Struct fields use their `json` tags as CBOR map keys, which
// keeps bridge messages readable by JSON-speaking relayers after a trivial
// transcoding.
package cbor
