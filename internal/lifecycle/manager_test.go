package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_StartAllRespectsOrder(t *testing.T) {
	var started []string

	m := NewManager()
	candidates := []DiscoveredComponent{
		{Manifest: Manifest{ID: "db"}, Factory: func() Hooks {
			return Hooks{OnStart: func(ctx context.Context) error { started = append(started, "db"); return nil }}
		}},
		{Manifest: Manifest{ID: "app"}, Factory: func() Hooks {
			return Hooks{OnStart: func(ctx context.Context) error { started = append(started, "app"); return nil }}
		}},
	}
	require.NoError(t, m.Load(candidates, []string{"db", "app"}))
	require.NoError(t, m.StartAll(context.Background()))

	assert.Equal(t, []string{"db", "app"}, started)

	c, ok := m.Component("app")
	require.True(t, ok)
	assert.Equal(t, StateStarted, c.State())
}

func TestManager_StopAllReversesOrder(t *testing.T) {
	var stopped []string
	m := NewManager()
	candidates := []DiscoveredComponent{
		{Manifest: Manifest{ID: "db"}, Factory: func() Hooks {
			return Hooks{OnStop: func(ctx context.Context) error { stopped = append(stopped, "db"); return nil }}
		}},
		{Manifest: Manifest{ID: "app"}, Factory: func() Hooks {
			return Hooks{OnStop: func(ctx context.Context) error { stopped = append(stopped, "app"); return nil }}
		}},
	}
	require.NoError(t, m.Load(candidates, []string{"db", "app"}))
	require.NoError(t, m.StartAll(context.Background()))

	errs := m.StopAll(context.Background())
	assert.Empty(t, errs)
	assert.Equal(t, []string{"app", "db"}, stopped)
}

func TestManager_StartFailureAbortsRemaining(t *testing.T) {
	var started []string
	m := NewManager()
	candidates := []DiscoveredComponent{
		{Manifest: Manifest{ID: "db"}, Factory: func() Hooks {
			return Hooks{OnStart: func(ctx context.Context) error { return assert.AnError }}
		}},
		{Manifest: Manifest{ID: "app"}, Factory: func() Hooks {
			return Hooks{OnStart: func(ctx context.Context) error { started = append(started, "app"); return nil }}
		}},
	}
	require.NoError(t, m.Load(candidates, []string{"db", "app"}))

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Empty(t, started, "dependent component must not start after an earlier failure")
}
