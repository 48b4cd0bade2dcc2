//go:build debug

// Package lockutil re-exports a Mutex type that is a plain sync.Mutex
// in ordinary builds and a deadlock-detecting one under the `debug`
// build tag, so the same field declarations in the response cache, the
// proxy pool and the backend health tracker can opt into detection
// without an `if debug` branch at every lock site.
package lockutil

import "github.com/sasha-s/go-deadlock"

type Mutex = deadlock.Mutex
type RWMutex = deadlock.RWMutex
