package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/agentcore/internal/swarm"
	"github.com/arcbridge/agentcore/models"
)

const testCatalog = `
models:
  - id: test-model
    provider_id: test-vendor
    display_name: Test Model
    quality_score: 0.8
    cost_per_1k_input: 0.001
    cost_per_1k_output: 0.002
    context_window: 8000
`

func writeTestCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))
	return path
}

func noopExecutor() swarm.Executor {
	return swarm.ExecutorFunc(func(_ context.Context, _ *models.SubTask) (map[string]any, error) {
		return map[string]any{}, nil
	})
}

func TestNewCore_InMemory(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.ModelCatalogPath = writeTestCatalog(t)
	cfg.MetricsEnabled = false

	core, err := NewCore(context.Background(), cfg, noopExecutor(), "")
	require.NoError(t, err)
	require.NotNil(t, core)

	assert.Nil(t, core.Store)
	assert.Nil(t, core.TSDB)
	assert.NotNil(t, core.Registry)
	assert.NotNil(t, core.MoERouter)
	assert.NotNil(t, core.HybridRouter)
	assert.NotNil(t, core.Swarm)
	assert.NotNil(t, core.Quota)
	assert.NotNil(t, core.AuditLog)

	_, ok := core.Registry.Get("test-model")
	assert.True(t, ok)

	require.NoError(t, core.Close(context.Background()))
}

func TestNewCore_WithDurableStore(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.ModelCatalogPath = writeTestCatalog(t)
	cfg.MetricsEnabled = false

	dsn := filepath.Join(t.TempDir(), "agentcore.db")
	core, err := NewCore(context.Background(), cfg, noopExecutor(), dsn)
	require.NoError(t, err)
	require.NotNil(t, core)

	assert.NotNil(t, core.Store)
	assert.NotNil(t, core.TSDB)

	require.NoError(t, core.Close(context.Background()))
}

func TestNewCore_InvalidCatalogPathErrors(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.ModelCatalogPath = filepath.Join(t.TempDir(), "does-not-exist.yaml")

	_, err = NewCore(context.Background(), cfg, noopExecutor(), "")
	assert.Error(t, err)
}
