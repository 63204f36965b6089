package loghub

import (
	"context"
	"sync"
	"time"
)

// Process-wide default hub. Created on first use, replaceable through Init
// and reset by Shutdown, guarded by single-writer discipline.
var (
	defaultMu  sync.Mutex
	defaultHub *Hub
)

// Init creates the default hub from config, shutting down any previous one.
func Init(cfg Config) (*Hub, error) {
	h, err := New(cfg)
	if err != nil {
		return nil, err
	}

	defaultMu.Lock()
	prev := defaultHub
	defaultHub = h
	defaultMu.Unlock()

	if prev != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := prev.Shutdown(ctx); err != nil {
			h.reportError("init", "", "shutting down previous hub", err)
		}
	}
	return h, nil
}

// Default returns the default hub, creating one with DefaultConfig on first
// use.
func Default() *Hub {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHub == nil {
		h, err := New(DefaultConfig())
		if err != nil {
			// DefaultConfig always validates; reaching here is a bug.
			panic(err)
		}
		defaultHub = h
	}
	return defaultHub
}

// GetLogger returns a module-scoped logger on the default hub.
func GetLogger(module string) *Logger {
	return Default().Logger(module)
}

// Shutdown flushes and closes the default hub and clears it, leaving the
// package re-initializable.
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	h := defaultHub
	defaultHub = nil
	defaultMu.Unlock()

	if h == nil {
		return nil
	}
	return h.Shutdown(ctx)
}
