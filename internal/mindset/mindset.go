// Package mindset loads the .minds/ inputs: team roster, LLM metadata, member
// persona files, environment intro, and diligence text. Loads are cached and
// invalidated by an fsnotify watcher so edits take effect on the next drive.
package mindset

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/teamdrive/internal/provider"
)

// Member is one team roster entry from .minds/team.yaml.
type Member struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Role             string   `yaml:"role,omitempty"`
	Hidden           bool     `yaml:"hidden,omitempty"`
	DiligencePushMax *int     `yaml:"diligence_push_max,omitempty"`
	Toolsets         []string `yaml:"toolsets,omitempty"` // allow-list of base tools; empty = all

	// FreshBootsReasoning mandates at least one tool call per generation;
	// a tool-less generation is a policy violation.
	FreshBootsReasoning bool `yaml:"fresh_boots_reasoning,omitempty"`
}

// TeamDefaults apply to members that do not override them.
type TeamDefaults struct {
	DiligencePushMax int `yaml:"diligence_push_max"`
}

// Team is the parsed .minds/team.yaml.
type Team struct {
	Defaults         TeamDefaults `yaml:"defaults"`
	ShellSpecialists []string     `yaml:"shell_specialists,omitempty"`
	Members          []Member     `yaml:"members"`
}

// Member resolves a roster entry by id.
func (t *Team) Member(id string) (*Member, bool) {
	for i := range t.Members {
		if t.Members[i].ID == id {
			return &t.Members[i], true
		}
	}
	return nil, false
}

// DefaultMember returns the first non-hidden roster entry, used when an input
// names no agent.
func (t *Team) DefaultMember() (*Member, bool) {
	for i := range t.Members {
		if !t.Members[i].Hidden {
			return &t.Members[i], true
		}
	}
	return nil, false
}

// IsShellSpecialist reports whether the member may carry shell tools.
func (t *Team) IsShellSpecialist(id string) bool {
	for _, s := range t.ShellSpecialists {
		if s == id {
			return true
		}
	}
	return false
}

// DiligencePushMax resolves the member's budget ceiling, falling back to the
// team default.
func (t *Team) DiligencePushMax(id string) int {
	if m, ok := t.Member(id); ok && m.DiligencePushMax != nil {
		return *m.DiligencePushMax
	}
	return t.Defaults.DiligencePushMax
}

// RetryCfg mirrors the retry block of a provider entry in .minds/llm.yaml.
type RetryCfg struct {
	MaxRetries        int     `yaml:"max_retries"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
}

// ToRetryConfig converts to the provider wrapper's config, applying defaults.
func (r RetryCfg) ToRetryConfig() provider.RetryConfig {
	cfg := provider.DefaultRetryConfig()
	if r.MaxRetries > 0 {
		cfg.MaxRetries = r.MaxRetries
	}
	if r.InitialDelayMs > 0 {
		cfg.InitialDelay = time.Duration(r.InitialDelayMs) * time.Millisecond
	}
	if r.BackoffMultiplier > 1 {
		cfg.BackoffMultiplier = r.BackoffMultiplier
	}
	if r.MaxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(r.MaxDelayMs) * time.Millisecond
	}
	return cfg
}

// ModelCfg is the per-model metadata block.
type ModelCfg struct {
	ContextLength                        int `yaml:"context_length"`
	OptimalMaxTokens                     int `yaml:"optimal_max_tokens"`
	CriticalMaxTokens                    int `yaml:"critical_max_tokens"`
	CautionRemediationCadenceGenerations int `yaml:"caution_remediation_cadence_generations"`
}

// Meta projects the model config into the health evaluator's shape.
func (m ModelCfg) Meta() *provider.ModelMeta {
	return &provider.ModelMeta{
		ContextLength:     m.ContextLength,
		OptimalMaxTokens:  m.OptimalMaxTokens,
		CriticalMaxTokens: m.CriticalMaxTokens,
	}
}

// ProviderCfg is one provider entry in .minds/llm.yaml.
type ProviderCfg struct {
	Kind         string              `yaml:"kind"`
	APIKeyEnv    string              `yaml:"api_key_env,omitempty"`
	BaseURL      string              `yaml:"base_url,omitempty"`
	RateLimitRPM int                 `yaml:"rate_limit_rpm,omitempty"`
	Retry        RetryCfg            `yaml:"retry,omitempty"`
	Models       map[string]ModelCfg `yaml:"models"`
}

// LLM is the parsed .minds/llm.yaml.
type LLM struct {
	Providers       map[string]ProviderCfg `yaml:"providers"`
	DefaultProvider string                 `yaml:"default_provider"`
	DefaultModel    string                 `yaml:"default_model"`
}

// Model resolves the default provider's model metadata.
func (l *LLM) Model(name string) (*ModelCfg, bool) {
	p, ok := l.Providers[l.DefaultProvider]
	if !ok {
		return nil, false
	}
	if name == "" {
		name = l.DefaultModel
	}
	m, ok := p.Models[name]
	if !ok {
		return nil, false
	}
	return &m, true
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("mindset: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
