// Package memory provides in-process, version-checked implementations of every store
// used by the engine. Values are deep-copied on the way in and out so callers never
// share state with the store.
package memory

import (
	"encoding/json"
	"sync"
)

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(err)
	}
	return out
}

// conflicts injects version conflicts into the next n updates.
type conflicts struct {
	mu     sync.Mutex
	remain int
	hook   func()
}

// ForceConflicts makes the next n updates fail with a version conflict. When hook is
// non-nil it runs before each forced failure, letting tests simulate the concurrent
// writer that won the race.
func (c *conflicts) ForceConflicts(n int, hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remain = n
	c.hook = hook
}

func (c *conflicts) take() (bool, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remain <= 0 {
		return false, nil
	}
	c.remain--
	return true, c.hook
}
