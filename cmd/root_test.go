package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/config"
	"github.com/JakeFAU/landrecord-scraper/internal/report"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
	"github.com/JakeFAU/landrecord-scraper/internal/server"
)

const zoneJSON = `{
  "districts": [
    {"value": "02", "label": "Ahmedabad", "talukas": [
      {"value": "04", "label": "Sanand", "villages": [{"value": "001", "label": "Bakrana"}]}
    ]},
    {"value": "07", "label": "Banaskantha", "talukas": []}
  ]
}`

type noSessions struct{}

func (noSessions) NewSession(context.Context, int, int) (scraper.Session, error) {
	return nil, errors.New("browser unavailable")
}

type fixedSolver struct{}

func (fixedSolver) Solve(context.Context, []byte) (string, error) { return "ABCD", nil }

// setup writes a config and reference file and swaps in a browserless app factory.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	refPath := filepath.Join(dir, "reference.json")
	require.NoError(t, os.WriteFile(refPath, []byte(zoneJSON), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "reference:\n  path: " + refPath + "\nstorage:\n  backend: memory\nlogging:\n  development: true\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	prev := buildApp
	buildApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*server.App, error) {
		return server.Build(ctx, cfg, logger, server.Options{
			Registerer: prometheus.NewRegistry(),
			Sessions:   noSessions{},
			Solver:     fixedSolver{},
		})
	}
	t.Cleanup(func() { buildApp = prev })
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDistrictsCommand(t *testing.T) {
	cfgPath := setup(t)

	out, err := execute(t, "districts", "--config", cfgPath, "--talukas")
	require.NoError(t, err)
	require.Contains(t, out, "02")
	require.Contains(t, out, "Ahmedabad")
	require.Contains(t, out, "Sanand")
	require.Contains(t, out, "Banaskantha")
}

func TestRunCommandWritesReport(t *testing.T) {
	cfgPath := setup(t)

	out, err := execute(t, "run", "--config", cfgPath, "--district", "07")
	require.NoError(t, err)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Equal(t, "07", rep.Scope.District)
	require.Zero(t, rep.Total)
}

func TestRunCommandWritesCSVFile(t *testing.T) {
	cfgPath := setup(t)
	outPath := filepath.Join(t.TempDir(), "report.csv")

	_, err := execute(t, "run", "--config", cfgPath, "--district", "07", "--format", "csv", "-o", outPath)
	require.NoError(t, err)
	info, err := os.Stat(outPath)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestRunCommandErrors(t *testing.T) {
	cfgPath := setup(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing district", []string{"run", "--config", cfgPath}, "district"},
		{"bad format", []string{"run", "--config", cfgPath, "--district", "07", "--format", "xml"}, "--format"},
		{"negative max units", []string{"run", "--config", cfgPath, "--district", "07", "--max-units", "-1"}, "--max-units"},
		{"unknown district", []string{"run", "--config", cfgPath, "--district", "99"}, "start run"},
		{"no sessions", []string{"run", "--config", cfgPath, "--district", "02"}, "no sessions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "districts", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "load config")
}
