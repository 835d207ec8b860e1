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

package cbor

import (
	"errors"
	"fmt"

	_cbor "github.com/fxamacker/cbor/v2"
)

// Create an alias for RawMessage for convenience
type RawMessage = _cbor.RawMessage

// ErrMissingKey is returned when a map lookup finds no entry for the key
var ErrMissingKey = errors.New("key not present in CBOR map")

// DecodeMapString extracts the string value stored under key in a CBOR map
// without decoding the remaining values
func DecodeMapString(cborData []byte, key string) (string, error) {
	var tmp map[string]RawMessage
	if _, err := Decode(cborData, &tmp); err != nil {
		return "", err
	}
	raw, ok := tmp[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	var ret string
	if _, err := Decode(raw, &ret); err != nil {
		return "", fmt.Errorf("decode %s: %w", key, err)
	}
	return ret, nil
}
