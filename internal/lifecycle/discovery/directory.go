package discovery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/conduit-bus/conduit/internal/lifecycle"
)

// manifestFile is the on-disk JSON shape of a directory-scanned
// manifest, one per candidate module file.
type manifestFile struct {
	ID                  string                  `json:"id"`
	Name                string                  `json:"name"`
	Version             string                  `json:"version"`
	Description         string                  `json:"description"`
	Author              string                  `json:"author"`
	Tags                []string                `json:"tags"`
	Dependencies        []manifestDependency    `json:"dependencies"`
	MinFrameworkVersion string                  `json:"minFrameworkVersion"`
	MaxFrameworkVersion string                  `json:"maxFrameworkVersion"`
	Isolation           string                  `json:"isolation"`
}

type manifestDependency struct {
	ID         string `json:"id"`
	Constraint string `json:"constraint"`
	Optional   bool   `json:"optional"`
}

// FactoryResolver maps a manifest id to the hook constructor that
// implements it. Go has no equivalent of a reflection-driven assembly
// load context, so the directory strategy relies on a process-wide
// lookup table rather than truly dynamic loading.
type FactoryResolver func(id string) (func() lifecycle.Hooks, bool)

// DirectorySource isolates each candidate to its own manifest file,
// per §4.1's "one isolated load context per module file."
type DirectorySource struct {
	Dir      string
	Resolve  FactoryResolver
	priority int
}

// NewDirectorySource scans dir for *.json files on Discover.
func NewDirectorySource(dir string, resolve FactoryResolver) *DirectorySource {
	return &DirectorySource{Dir: dir, Resolve: resolve, priority: 50}
}

func (s *DirectorySource) Name() string  { return "directory" }
func (s *DirectorySource) Priority() int { return s.priority }
func (s *DirectorySource) Enabled() bool { return s.Dir != "" }
func (s *DirectorySource) DefaultIsolation() lifecycle.IsolationLevel {
	return lifecycle.IsolationStandard
}

func (s *DirectorySource) Discover(ctx context.Context) ([]DiscoveredComponent, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}

	var out []DiscoveredComponent
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var mf manifestFile
		if err := json.Unmarshal(data, &mf); err != nil {
			continue
		}

		manifest := toManifest(mf)
		var factory func() lifecycle.Hooks
		if s.Resolve != nil {
			factory, _ = s.Resolve(manifest.ID)
		}
		out = append(out, DiscoveredComponent{
			Manifest:   manifest,
			SourceName: entry.Name(),
			OriginPath: path,
			Factory:    factory,
		})
	}
	return out, nil
}

func toManifest(mf manifestFile) lifecycle.Manifest {
	deps := make([]lifecycle.Dependency, 0, len(mf.Dependencies))
	for _, d := range mf.Dependencies {
		deps = append(deps, lifecycle.Dependency{ID: d.ID, Constraint: d.Constraint, Optional: d.Optional})
	}

	isolation := lifecycle.IsolationStandard
	switch mf.Isolation {
	case "none":
		isolation = lifecycle.IsolationNone
	case "plugin":
		isolation = lifecycle.IsolationPlugin
	}

	return lifecycle.Manifest{
		ID:                  mf.ID,
		Name:                mf.Name,
		Version:             mf.Version,
		Description:         mf.Description,
		Author:              mf.Author,
		Tags:                mf.Tags,
		Dependencies:        deps,
		MinFrameworkVersion: mf.MinFrameworkVersion,
		MaxFrameworkVersion: mf.MaxFrameworkVersion,
		Isolation:           isolation,
	}
}
