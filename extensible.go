/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import "sync"

// Extensible is embedded by any entity (User, Channel, Membership) that
// allows arbitrary keyed data to be attached to it without widening the
// entity's own struct for every feature that wants to stash something on
// it. It is the Go-generics equivalent of a virtual-dispatch extension
// item: instead of each extension type implementing serialize/unserialize,
// callers use the typed ExtItem[T] handle below to get/set/unset their own
// key with compile-time type safety.
type Extensible struct {
	mu   sync.RWMutex
	data map[string]any
}

func (e *Extensible) ensure() {
	if e.data == nil {
		e.data = make(map[string]any)
	}
}

// ExtGet returns the raw value stored under key, if any.
func (e *Extensible) ExtGet(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[key]
	return v, ok
}

// ExtSet stores value under key, returning the previous value if any. A
// replaced value is handed to its provider's disposer first.
func (e *Extensible) ExtSet(key string, value any) (any, bool) {
	e.mu.Lock()
	e.ensure()
	old, had := e.data[key]
	e.data[key] = value
	e.mu.Unlock()

	if had {
		disposeExtValue(key, old)
	}
	return old, had
}

// ExtUnset removes key, disposing and returning the previous value if any.
func (e *Extensible) ExtUnset(key string) (any, bool) {
	e.mu.Lock()
	old, had := e.data[key]
	delete(e.data, key)
	e.mu.Unlock()

	if had {
		disposeExtValue(key, old)
	}
	return old, had
}

// DisposeExtensions disposes every attached value, in no particular order.
// Called from the owning entity's cull finalizer.
func (e *Extensible) DisposeExtensions() {
	e.mu.Lock()
	data := e.data
	e.data = nil
	e.mu.Unlock()

	for key, value := range data {
		disposeExtValue(key, value)
	}
}

// ExtKeys lists the keys currently set, for metadata enumeration.
func (e *Extensible) ExtKeys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.data))
	for k := range e.data {
		keys = append(keys, k)
	}
	return keys
}

// ExtItem is a typed handle onto one extension key, generalizing
// SimpleExtItem<T>: a single package-level ExtItem[T] value is shared by
// every Extensible instance, and carries no per-instance state itself.
type ExtItem[T any] struct {
	Key string
}

// NewExtItem declares a new typed extension under the given key. Keys are
// conventionally namespaced by owning concern, e.g. "throttle.joints".
func NewExtItem[T any](key string) ExtItem[T] {
	return ExtItem[T]{Key: key}
}

// Get returns the typed value stored on target, and whether it was present.
func (x ExtItem[T]) Get(target *Extensible) (T, bool) {
	var zero T
	v, ok := target.ExtGet(x.Key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// GetOrDefault returns the stored value, or def if unset.
func (x ExtItem[T]) GetOrDefault(target *Extensible, def T) T {
	if v, ok := x.Get(target); ok {
		return v
	}
	return def
}

// Set stores value under x's key on target.
func (x ExtItem[T]) Set(target *Extensible, value T) {
	target.ExtSet(x.Key, value)
}

// Unset removes x's key from target.
func (x ExtItem[T]) Unset(target *Extensible) {
	target.ExtUnset(x.Key)
}

// ExtFormat selects the audience a serialized extension value is meant
// for; providers may decline any format.
type ExtFormat uint8

const (
	ExtFormatUser ExtFormat = iota
	ExtFormatInternal
	ExtFormatNetwork
	ExtFormatPersist
)

// ExtTargetKind names the entity kind a provider attaches to.
type ExtTargetKind uint8

const (
	ExtTargetUser ExtTargetKind = iota
	ExtTargetChannel
	ExtTargetMembership
)

// ExtProvider describes one registered extension: its globally unique key,
// the owning concern, the entity kind it targets, and optional behavior
// slots. A nil Serialize declines every format; Serialize returning false
// declines that one.
type ExtProvider struct {
	Key       string
	Owner     string
	Target    ExtTargetKind
	Serialize func(value any, format ExtFormat) (string, bool)
	Parse     func(raw string, format ExtFormat) (any, bool)
	Dispose   func(value any)
}

var extRegistry = struct {
	mu        sync.RWMutex
	providers map[string]*ExtProvider
}{providers: make(map[string]*ExtProvider)}

// RegisterExtension installs a provider at startup. Keys are globally
// unique; a duplicate registration is rejected.
func RegisterExtension(p ExtProvider) error {
	extRegistry.mu.Lock()
	defer extRegistry.mu.Unlock()
	if _, dup := extRegistry.providers[p.Key]; dup {
		return ErrExtensionExists
	}
	copied := p
	extRegistry.providers[p.Key] = &copied
	return nil
}

// LookupExtension returns the provider registered under key, if any.
func LookupExtension(key string) (*ExtProvider, bool) {
	extRegistry.mu.RLock()
	defer extRegistry.mu.RUnlock()
	p, ok := extRegistry.providers[key]
	return p, ok
}

func disposeExtValue(key string, value any) {
	if p, ok := LookupExtension(key); ok && p.Dispose != nil {
		p.Dispose(value)
	}
}
