// Package config loads cmd/kernelsim's boot configuration: tick rate,
// default scheduler time slice, task-table size, IPC queue capacities, and
// the simulated physical memory map. It layers defaults, an optional YAML
// file, and environment-variable overrides through koanf, the pack-wide
// configuration idiom for receiver/exporter config.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"microkern/kernel/mem/pmm"
)

// EnvPrefix is stripped (and the remainder lower-cased) from environment
// variables consulted by Load, e.g. KERNELSIM_TICKHZ.
const EnvPrefix = "KERNELSIM_"

// MemoryRegion is the YAML/env-friendly mirror of pmm.Region: Type is a
// name ("available", "reserved", "acpi", "unusable") instead of the
// numeric RegionType the allocator consumes directly.
type MemoryRegion struct {
	Base   uint64 `koanf:"base"`
	Length uint64 `koanf:"length"`
	Type   string `koanf:"type"`
}

// ToRegion converts the mirror into the pmm.Region SetMemoryMap expects.
func (r MemoryRegion) ToRegion() pmm.Region {
	var t pmm.RegionType
	switch strings.ToLower(r.Type) {
	case "", "available":
		t = pmm.RegionAvailable
	case "reserved":
		t = pmm.RegionReserved
	case "acpi":
		t = pmm.RegionACPI
	default:
		t = pmm.RegionUnusable
	}
	return pmm.Region{Base: uintptr(r.Base), Length: r.Length, Type: t}
}

// Config is the fully-resolved boot configuration for a kernelsim run.
type Config struct {
	// TickHz is the nominal frequency of the simulated Local-APIC periodic
	// timer that drives Scheduler.Tick.
	TickHz int `koanf:"tickhz"`

	// DefaultTimeSlice is the number of ticks a task runs before the
	// scheduler preempts it for the next ready task.
	DefaultTimeSlice uint64 `koanf:"defaulttimeslice"`

	// MaxTasks bounds the scheduler's fixed-size task table.
	MaxTasks int `koanf:"maxtasks"`

	// QueueCapacity is the default per-destination IPC queue depth.
	QueueCapacity int `koanf:"queuecapacity"`

	// SystemQueueCapacity is the IPC system queue's depth.
	SystemQueueCapacity int `koanf:"systemqueuecapacity"`

	// NumCPU is the number of logical processors kernel/smp discovers.
	NumCPU int `koanf:"numcpu"`

	// MemoryMap is the simulated physical memory map handed to the PFA.
	MemoryMap []MemoryRegion `koanf:"memorymap"`
}

// Regions converts MemoryMap into the pmm.Region slice SetMemoryMap wants.
func (c Config) Regions() []pmm.Region {
	out := make([]pmm.Region, len(c.MemoryMap))
	for i, r := range c.MemoryMap {
		out[i] = r.ToRegion()
	}
	return out
}

// Defaults returns the configuration used when no file or environment
// override is present. The scheduling/IPC numbers match the documented
// package constants (sched.DefaultTimeSlice, ipc.DefaultQueueCapacity,
// ipc.SystemQueueCapacity); the 128 MiB single-region memory map is large
// enough to exercise every pmm.MaxOrder block size kernelsim's scenarios
// need.
func Defaults() Config {
	return Config{
		TickHz:              1000,
		DefaultTimeSlice:    3,
		MaxTasks:            256,
		QueueCapacity:       64,
		SystemQueueCapacity: 1024,
		NumCPU:              1,
		MemoryMap: []MemoryRegion{
			{Base: 0, Length: 128 * 1024 * 1024, Type: "available"},
		},
	}
}

// Load builds a Config by layering Defaults(), an optional YAML file at
// path (skipped entirely if path is empty or does not exist), and any
// KERNELSIM_-prefixed environment variables, in that order of increasing
// precedence.
func Load(path string) (Config, *koanf.Koanf, error) {
	k := koanf.New(".")

	defaults := Defaults()
	defaultsMap, err := toMap(defaults)
	if err != nil {
		return Config{}, nil, fmt.Errorf("config: marshaling defaults: %w", err)
	}
	if err := k.Load(confmap.Provider(defaultsMap, "."), nil); err != nil {
		return Config{}, nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, nil, fmt.Errorf("config: loading %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, nil, fmt.Errorf("config: loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return cfg, k, nil
}

// toMap round-trips v through koanf's own confmap provider format by
// marshaling its koanf tags into a generic map, so Defaults() participates
// in the same layered-precedence resolution as the file and environment
// sources instead of being special-cased.
func toMap(c Config) (map[string]interface{}, error) {
	memMap := make([]interface{}, len(c.MemoryMap))
	for i, r := range c.MemoryMap {
		memMap[i] = map[string]interface{}{
			"base":   r.Base,
			"length": r.Length,
			"type":   r.Type,
		}
	}
	return map[string]interface{}{
		"tickhz":              c.TickHz,
		"defaulttimeslice":    c.DefaultTimeSlice,
		"maxtasks":            c.MaxTasks,
		"queuecapacity":       c.QueueCapacity,
		"systemqueuecapacity": c.SystemQueueCapacity,
		"numcpu":              c.NumCPU,
		"memorymap":           memMap,
	}, nil
}
