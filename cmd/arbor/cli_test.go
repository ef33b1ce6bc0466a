package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/arbor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, "arbor version "+arbor.Version+"\n", execute(t, "version"))
}

func TestGraphCommand(t *testing.T) {
	out := execute(t, "graph")
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "Guard_Spotted{{")
	assert.Contains(t, out, "subgraph Guard_Combat")
}

func TestDemoCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_interval: 10ms\nasync_initialize: true\n"), 0o600))

	out := execute(t, "demo", "--config", path, "--rounds", "1", "--log-level", "warn")
	assert.Contains(t, out, "start Guard/Patrol")
	assert.Contains(t, out, "Patrol -> Combat")
	assert.Contains(t, out, "Patrol -> OffDuty")
	assert.Contains(t, out, "over 2 patrols")
}
