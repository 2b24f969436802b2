// Copyright 2025 Tom Barlow
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

// Package serialize provides the serializability probe used to keep live
// transport handles and other unserializable values out of persisted
// workflow state. A value passes the probe iff it survives a round trip
// through a portable binary encoding (encoding/gob).
package serialize

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// gob requires every concrete type that will ever occupy an interface{}
// slot to be registered up front. Tool results and context values are
// JSON-shaped (string/float64/bool/nil/[]interface{}/map[string]interface{}),
// so those are the only concrete types Probe needs to know about; anything
// else (session handles, channels, functions) is deliberately left
// unregistered and fails the probe.
func init() {
	gob.Register("")
	gob.Register(float64(0))
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(false)
	gob.Register([]interface{}{})
	gob.Register(map[string]interface{}{})
}

// Probe eagerly round-trips v through gob, returning an error if v (or
// anything it references) cannot be encoded and decoded faithfully. Types
// that must never be persisted, such as mcp.SessionHandle, implement
// GobEncode to guarantee Probe rejects them.
func Probe(v any) error {
	if v == nil {
		return nil
	}

	// Encoding &v sends v as an interface value (registered type name plus
	// value), which is what decoding into an interface{} requires.
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return fmt.Errorf("value failed serializability probe: %w", err)
	}

	var out any
	if err := gob.NewDecoder(&buf).Decode(&out); err != nil {
		return fmt.Errorf("value failed serializability round-trip: %w", err)
	}

	return nil
}
