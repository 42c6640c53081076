package dependency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/lifecycle"
)

func manifest(id string, deps ...lifecycle.Dependency) lifecycle.Manifest {
	return lifecycle.Manifest{ID: id, Version: "1.0.0", Dependencies: deps}
}

func dep(id string) lifecycle.Dependency { return lifecycle.Dependency{ID: id} }

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTopologicalSort_LeavesFirst(t *testing.T) {
	g := Build([]lifecycle.Manifest{
		manifest("app", dep("db"), dep("cache")),
		manifest("db"),
		manifest("cache"),
	})
	require.NoError(t, g.DetectCycle())

	order := g.TopologicalSort()
	assert.Less(t, indexOf(order, "db"), indexOf(order, "app"))
	assert.Less(t, indexOf(order, "cache"), indexOf(order, "app"))
}

// TestDependencyCycleDetection implements the §8 scenario 6: A->B,
// B->A must fail with an error whose path contains both A and B.
func TestDependencyCycleDetection(t *testing.T) {
	g := Build([]lifecycle.Manifest{
		manifest("A", dep("B")),
		manifest("B", dep("A")),
	})

	err := g.DetectCycle()
	require.Error(t, err)
	assert.True(t, errors.Is(err, buserrors.ErrDependencyCycle))
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "B")
}

func TestCheckMissing_NonOptionalDependency(t *testing.T) {
	g := Build([]lifecycle.Manifest{
		manifest("app", lifecycle.Dependency{ID: "ghost", Optional: false}),
	})
	errs := g.CheckMissing()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], buserrors.ErrDependencyMissing))
}

func TestCheckMissing_OptionalDependencyIgnored(t *testing.T) {
	g := Build([]lifecycle.Manifest{
		manifest("app", lifecycle.Dependency{ID: "ghost", Optional: true}),
	})
	assert.Empty(t, g.CheckMissing())
}

func TestCheckVersionConstraints_Satisfied(t *testing.T) {
	g := Build([]lifecycle.Manifest{
		manifest("app", lifecycle.Dependency{ID: "db", Constraint: ">=1.0.0, <2.0.0"}),
		manifest("db"),
	})
	assert.Empty(t, g.CheckVersionConstraints())
}

func TestCheckVersionConstraints_Violated(t *testing.T) {
	g := Build([]lifecycle.Manifest{
		{ID: "app", Version: "1.0.0", Dependencies: []lifecycle.Dependency{{ID: "db", Constraint: ">=2.0.0"}}},
		{ID: "db", Version: "1.5.0"},
	})
	errs := g.CheckVersionConstraints()
	require.Len(t, errs, 1)
}
