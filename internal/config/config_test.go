package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhyanyan/bbagraph/nonlinear"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bba.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, nonlinear.DefaultLevenbergMarquardtParams().MaxIterations, cfg.Optimizer.MaxIterations)
	assert.True(t, cfg.Solve.Precision)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Optimizer.LambdaInitial, cfg.Optimizer.LambdaInitial)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
optimizer:
  max_iterations: 25
  lambda_initial: 0.001
  diagonal_damping: true
  ordering: natural
  workers: 4
solve:
  precision: false
  output_dir: out
log:
  level: debug
  format: json
metrics:
  textfile_path: /tmp/bba.prom
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Optimizer.MaxIterations)
	assert.Equal(t, 0.001, cfg.Optimizer.LambdaInitial)
	assert.True(t, cfg.Optimizer.DiagonalDamping)
	assert.Equal(t, nonlinear.OrderingNatural, cfg.Optimizer.Ordering)
	assert.Equal(t, 4, cfg.Optimizer.Workers)
	assert.False(t, cfg.Solve.Precision)
	assert.Equal(t, "out", cfg.Solve.OutputDir)
	assert.Equal(t, "/tmp/bba.prom", cfg.Metrics.TextfilePath)
	assert.Equal(t, "bba", cfg.Metrics.Namespace, "unset keys keep their defaults")
	// 未设置的优化器字段保持默认值
	assert.Equal(t, 10.0, cfg.Optimizer.LambdaFactor)

	l, err := cfg.Log.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "optimizer:\n  max_iterations: 25\n")
	t.Setenv("BBA_MAX_ITERATIONS", "7")
	t.Setenv("BBA_LAMBDA_INITIAL", "0.5")
	t.Setenv("BBA_WORKERS", "2")
	t.Setenv("BBA_ORDERING", "natural")
	t.Setenv("BBA_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Optimizer.MaxIterations)
	assert.Equal(t, 0.5, cfg.Optimizer.LambdaInitial)
	assert.Equal(t, 2, cfg.Optimizer.Workers)
	assert.Equal(t, nonlinear.OrderingNatural, cfg.Optimizer.Ordering)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    string
	}{
		{name: "bad yaml", content: "optimizer: [", want: "parse"},
		{name: "invalid optimizer", content: "optimizer:\n  lambda_factor: 0.5\n", want: "lambda_factor"},
		{name: "unknown ordering", content: "optimizer:\n  ordering: colamd\n", want: "unknown ordering"},
		{name: "bad level", content: "log:\n  level: loud\n", want: "log.level"},
		{name: "bad format", content: "log:\n  format: xml\n", want: "log.format"},
		{name: "bad env", content: "", env: map[string]string{"BBA_WORKERS": "many"}, want: "BBA_WORKERS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
