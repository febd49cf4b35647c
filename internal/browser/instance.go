// Package browser starts and tears down the Chrome process backing a single
// browser session.
package browser

import (
	"context"
	"sync"
)

// Instance is one running Chrome reachable over the DevTools protocol.
type Instance struct {
	ID         string
	ControlURL string

	release func(ctx context.Context) error
	once    sync.Once
	err     error
}

// NewInstance wraps a running browser. release is invoked at most once.
func NewInstance(id, controlURL string, release func(ctx context.Context) error) *Instance {
	return &Instance{ID: id, ControlURL: controlURL, release: release}
}

// Release stops the browser and frees its OS resources. Only the first call
// does any work; later calls return the first call's result.
func (i *Instance) Release(ctx context.Context) error {
	i.once.Do(func() {
		if i.release != nil {
			i.err = i.release(ctx)
		}
	})
	return i.err
}

// Launcher starts a fresh browser per call.
type Launcher interface {
	Launch(ctx context.Context) (*Instance, error)
}
