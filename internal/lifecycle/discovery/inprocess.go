package discovery

import (
	"context"

	"github.com/conduit-bus/conduit/internal/lifecycle"
)

// Registration is a component manually registered with the in-process
// strategy, standing in for a compiled-in module scan.
type Registration struct {
	Manifest lifecycle.Manifest
	Factory  func() lifecycle.Hooks
}

// InProcess is the highest-priority reference strategy of §4.1: it
// scans components already registered in the running process rather
// than touching the filesystem.
type InProcess struct {
	registrations []Registration
}

// NewInProcess constructs an empty in-process strategy; call Register
// to add candidates before Discover is invoked.
func NewInProcess() *InProcess {
	return &InProcess{}
}

// Register adds a manifest/factory pair to the scan set.
func (s *InProcess) Register(manifest lifecycle.Manifest, factory func() lifecycle.Hooks) {
	s.registrations = append(s.registrations, Registration{Manifest: manifest, Factory: factory})
}

func (s *InProcess) Name() string     { return "in-process" }
func (s *InProcess) Priority() int    { return 100 }
func (s *InProcess) Enabled() bool    { return true }
func (s *InProcess) DefaultIsolation() lifecycle.IsolationLevel {
	return lifecycle.IsolationNone
}

func (s *InProcess) Discover(ctx context.Context) ([]DiscoveredComponent, error) {
	out := make([]DiscoveredComponent, 0, len(s.registrations))
	for _, r := range s.registrations {
		out = append(out, DiscoveredComponent{
			Manifest:   r.Manifest,
			SourceName: "in-process",
			OriginPath: "",
			Factory:    r.Factory,
		})
	}
	return out, nil
}
