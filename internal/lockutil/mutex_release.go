//go:build !debug

package lockutil

import "sync"

type Mutex = sync.Mutex
type RWMutex = sync.RWMutex
