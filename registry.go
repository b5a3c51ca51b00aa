// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import "sync"

// Registry is a minimal stand-in for the out-of-scope kernel object
// registry (spec.md §1/§6): a name table used only to register and list
// timer and heap objects by name, not a port of a class/tag object system.
type Registry struct {
	mu      sync.Mutex
	objects map[string]interface{}
}

func (r *Registry) init() {
	r.objects = make(map[string]interface{})
}

// Register adds obj under name, replacing any previous entry of the same
// name (matching rt_object_init's "re-init" tolerance rather than erroring
// on collision, since the registry itself carries no uniqueness
// invariant the spec binds us to).
func (r *Registry) Register(name string, obj interface{}) {
	r.mu.Lock()
	if r.objects == nil {
		r.objects = make(map[string]interface{})
	}
	r.objects[name] = obj
	r.mu.Unlock()
}

// Detach removes name from the registry.
func (r *Registry) Detach(name string) {
	r.mu.Lock()
	delete(r.objects, name)
	r.mu.Unlock()
}

// Lookup returns the object registered under name, if any.
func (r *Registry) Lookup(name string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[name]
	return obj, ok
}

// Names returns a snapshot of every registered name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.objects))
	for n := range r.objects {
		names = append(names, n)
	}
	return names
}
