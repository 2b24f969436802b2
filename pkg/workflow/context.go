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

package workflow

import (
	"sync"
	"time"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
	"github.com/stepwise/stepwise/pkg/serialize"
)

// WorkflowContext is the serialization-safe key/value store shared by every
// step in one execution. Every value accepted by Set has passed an eager
// round-trip through a portable binary encoding, so no live transport
// handle can ever be smuggled through it into persisted state.
type WorkflowContext struct {
	mu          sync.RWMutex
	data        map[string]any
	metadata    map[string]any
	createdAt   time.Time
	lastUpdated time.Time
	cancelled   bool
}

// NewContext constructs an empty WorkflowContext.
func NewContext() *WorkflowContext {
	now := time.Now()
	return &WorkflowContext{
		data:        make(map[string]any),
		metadata:    make(map[string]any),
		createdAt:   now,
		lastUpdated: now,
	}
}

// Set stores value under key after it passes the serializability probe.
func (c *WorkflowContext) Set(key string, value any) error {
	if err := serialize.Probe(value); err != nil {
		return &conductorerrors.NonSerializableValue{Key: key, Cause: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.lastUpdated = time.Now()
	return nil
}

// Get returns the value stored under key, or def if absent.
func (c *WorkflowContext) Get(key string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// Has reports whether key is present.
func (c *WorkflowContext) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[key]
	return ok
}

// Remove deletes key, if present.
func (c *WorkflowContext) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.lastUpdated = time.Now()
}

// UpdateMetadata merges fields into the context's metadata.
func (c *WorkflowContext) UpdateMetadata(fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range fields {
		c.metadata[k] = v
	}
	c.lastUpdated = time.Now()
}

// Cancel sets the cooperative cancellation flag for custom steps that
// cannot observe a context.Context directly.
func (c *WorkflowContext) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (c *WorkflowContext) Cancelled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancelled
}

// ToMap returns a deterministic representation of the context's data,
// suitable for persistence or for crossing a step boundary.
func (c *WorkflowContext) ToMap() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data := make(map[string]any, len(c.data))
	for k, v := range c.data {
		data[k] = v
	}
	metadata := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}

	return map[string]any{
		"data":        data,
		"metadata":    metadata,
		"createdAt":   c.createdAt,
		"lastUpdated": c.lastUpdated,
	}
}

// FromMap reconstructs a WorkflowContext from the representation produced
// by ToMap.
func FromMap(m map[string]any) *WorkflowContext {
	c := NewContext()

	if data, ok := m["data"].(map[string]any); ok {
		for k, v := range data {
			c.data[k] = v
		}
	}
	if metadata, ok := m["metadata"].(map[string]any); ok {
		for k, v := range metadata {
			c.metadata[k] = v
		}
	}
	if createdAt, ok := m["createdAt"].(time.Time); ok {
		c.createdAt = createdAt
	}
	if lastUpdated, ok := m["lastUpdated"].(time.Time); ok {
		c.lastUpdated = lastUpdated
	}

	return c
}
