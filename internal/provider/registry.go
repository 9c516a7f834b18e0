// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package provider

import (
	"slices"
	"sync"

	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

// Factory builds a Provider from connection parameters.
type Factory func(cfg Config) (Provider, error)

var (
	factories   = map[Name]Factory{}
	factoriesMu sync.RWMutex
)

// Register makes a backend available to New. Backend packages call this
// from init(). This function is goroutine-safe.
func Register(name Name, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New builds the backend registered under name.
func New(name string, cfg Config) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[Name(name)]
	factoriesMu.RUnlock()
	if !ok {
		return nil, dmerr.New(dmerr.CodeProviderNotFound, "provider not registered", dmerr.FieldProvider(name))
	}
	return f(cfg)
}

// Registered returns the sorted names of all registered backends.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, string(n))
	}
	slices.Sort(names)
	return names
}
