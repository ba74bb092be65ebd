package config

import (
	"embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/claude-flow/core/pkg/flow"
)

//go:embed presets/*.yaml
var presetsFS embed.FS

type presetYAML struct {
	Type               string   `yaml:"type"`
	Capabilities       []string `yaml:"capabilities"`
	SupportedTaskTypes []string `yaml:"supportedTaskTypes"`
	MaxConcurrentTasks int      `yaml:"maxConcurrentTasks"`
	Priority           int      `yaml:"priority"`
	Retry              struct {
		MaxRetries int    `yaml:"maxRetries"`
		BaseDelay  string `yaml:"baseDelay"`
	} `yaml:"retry"`
}

// AgentPresets are built-in AgentConfig templates for common agent roles,
// keyed by type name, loaded from embedded YAML at package init.
var AgentPresets map[string]flow.AgentConfig

func init() {
	presets, err := loadPresets()
	if err != nil {
		panic(fmt.Sprintf("config: invalid embedded agent presets: %v", err))
	}
	AgentPresets = presets
}

func loadPresets() (map[string]flow.AgentConfig, error) {
	entries, err := presetsFS.ReadDir("presets")
	if err != nil {
		return nil, err
	}

	out := make(map[string]flow.AgentConfig, len(entries))
	for _, entry := range entries {
		raw, err := presetsFS.ReadFile("presets/" + entry.Name())
		if err != nil {
			return nil, err
		}

		var p presetYAML
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}

		delay, err := time.ParseDuration(p.Retry.BaseDelay)
		if err != nil {
			return nil, fmt.Errorf("%s: retry.baseDelay: %w", entry.Name(), err)
		}

		out[p.Type] = flow.AgentConfig{
			Type:               p.Type,
			Capabilities:       p.Capabilities,
			SupportedTaskTypes: p.SupportedTaskTypes,
			MaxConcurrentTasks: p.MaxConcurrentTasks,
			Priority:           p.Priority,
			Retry: flow.RetryPolicy{
				MaxRetries: p.Retry.MaxRetries,
				BaseDelay:  delay,
			},
		}
	}
	return out, nil
}

// Preset returns the built-in AgentConfig for a role name and whether it
// was found.
func Preset(roleType string) (flow.AgentConfig, bool) {
	cfg, ok := AgentPresets[roleType]
	return cfg, ok
}
