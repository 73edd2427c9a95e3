package qba

import (
	"sync"

	"github.com/dolthub/swiss"
)

// linkRegistry tracks this process's live Directors by link name, so a
// second Create call naming a LinkName already open in this process
// attaches to the existing Go object directly instead of re-deriving one
// by replaying the Arena sequence against shared memory it already has a
// perfectly good handle for. Cross-process attach still goes through the
// shared-memory path in Create; this registry only short-circuits the
// same-process case.
var (
	linkRegistryMu sync.Mutex
	linkRegistry   = swiss.NewMap[string, *Director](8)
)

func lookupLink(name string) (*Director, bool) {
	if name == "" {
		return nil, false
	}
	linkRegistryMu.Lock()
	defer linkRegistryMu.Unlock()
	return linkRegistry.Get(name)
}

func registerLink(name string, d *Director) {
	if name == "" {
		return
	}
	linkRegistryMu.Lock()
	defer linkRegistryMu.Unlock()
	linkRegistry.Put(name, d)
}

func unregisterLink(name string) {
	if name == "" {
		return
	}
	linkRegistryMu.Lock()
	defer linkRegistryMu.Unlock()
	linkRegistry.Delete(name)
}
