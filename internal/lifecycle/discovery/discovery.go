// Package discovery implements the §4.1 pluggable discovery
// strategies: an in-process registry scan, a directory scan (one
// isolated candidate per module file), and an fsnotify-based watcher
// that emits debounced add/modify/remove events.
package discovery

import (
	"context"

	"github.com/conduit-bus/conduit/internal/lifecycle"
)

// DiscoveredComponent is a candidate surfaced by a Strategy, carrying
// enough provenance to load and validate it.
type DiscoveredComponent struct {
	Manifest   lifecycle.Manifest
	SourceName string
	OriginPath string
	Factory    func() lifecycle.Hooks
}

// Strategy is a pluggable discovery source. Priority ranks a strategy
// (higher first); nothing in this module runs several strategies or
// orders them by it.
type Strategy interface {
	Name() string
	Priority() int
	Enabled() bool
	DefaultIsolation() lifecycle.IsolationLevel
	Discover(ctx context.Context) ([]DiscoveredComponent, error)
}
