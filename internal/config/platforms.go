package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlatformsFile is the optional YAML description of target platforms:
//
//	platforms:
//	  - name: telegram
//	    enabled: true
//	    priority: 2
type PlatformsFile struct {
	Platforms []PlatformEntry `yaml:"platforms"`
}

type PlatformEntry struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Priority int    `yaml:"priority"`
}

// LoadPlatforms reads and validates a platforms file
func LoadPlatforms(path string) (*PlatformsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platforms file: %w", err)
	}
	return ParsePlatforms(raw)
}

func ParsePlatforms(raw []byte) (*PlatformsFile, error) {
	var f PlatformsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse platforms file: %w", err)
	}

	seen := make(map[string]bool, len(f.Platforms))
	for i, p := range f.Platforms {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return nil, fmt.Errorf("platforms[%d]: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("platforms[%d]: duplicate platform %q", i, name)
		}
		seen[name] = true
		f.Platforms[i].Name = name
	}
	return &f, nil
}

// Enabled returns enabled platform names in file order
func (f *PlatformsFile) Enabled() []string {
	var out []string
	for _, p := range f.Platforms {
		if p.Enabled {
			out = append(out, p.Name)
		}
	}
	return out
}

// Priority returns platforms with a positive priority, highest first.
// Equal priorities keep file order.
func (f *PlatformsFile) Priority() []string {
	ranked := make([]PlatformEntry, 0, len(f.Platforms))
	for _, p := range f.Platforms {
		if p.Priority > 0 {
			ranked = append(ranked, p)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Priority > ranked[j].Priority })

	out := make([]string, len(ranked))
	for i, p := range ranked {
		out[i] = p.Name
	}
	return out
}

// Apply overrides the env derived platform settings
func (f *PlatformsFile) Apply(cfg *Config) {
	cfg.EnabledPlatforms = f.Enabled()
	if prio := f.Priority(); len(prio) > 0 {
		cfg.PlatformPriority = prio
	}
}
