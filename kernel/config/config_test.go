package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"microkern/kernel/mem/pmm"
)

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, _, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernelsim.yaml")
	yamlBody := "tickhz: 500\nmaxtasks: 32\nmemorymap:\n  - base: 0\n    length: 65536\n    type: available\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 500, cfg.TickHz)
	require.Equal(t, 32, cfg.MaxTasks)
	require.Len(t, cfg.MemoryMap, 1)
	require.Equal(t, uint64(65536), cfg.MemoryMap[0].Length)

	// values not present in the file keep their defaults
	require.Equal(t, Defaults().QueueCapacity, cfg.QueueCapacity)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernelsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tickhz: 500\n"), 0o600))

	t.Setenv("KERNELSIM_TICKHZ", "250")
	cfg, _, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 250, cfg.TickHz)
}

func TestRegionsConvertsType(t *testing.T) {
	cfg := Config{MemoryMap: []MemoryRegion{
		{Base: 0, Length: 4096, Type: "available"},
		{Base: 4096, Length: 4096, Type: "reserved"},
		{Base: 8192, Length: 4096, Type: "bogus"},
	}}

	regions := cfg.Regions()
	require.Equal(t, pmm.RegionAvailable, regions[0].Type)
	require.Equal(t, pmm.RegionReserved, regions[1].Type)
	require.Equal(t, pmm.RegionUnusable, regions[2].Type)
}
