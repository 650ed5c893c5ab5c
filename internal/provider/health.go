package provider

// HealthLevel grades context-window pressure after a generation.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"  // under optimal
	HealthCaution  HealthLevel = "caution"  // over optimal, under critical
	HealthCritical HealthLevel = "critical" // over critical
)

// ModelMeta is the model metadata needed for context-health projection,
// loaded from .minds/llm.yaml.
type ModelMeta struct {
	ContextLength     int `yaml:"context_length"`
	OptimalMaxTokens  int `yaml:"optimal_max_tokens"`
	CriticalMaxTokens int `yaml:"critical_max_tokens"`
}

// HealthSnapshot projects token usage against model limits. Unavailable
// carries a reason when the projection cannot be computed.
type HealthSnapshot struct {
	Unavailable       bool        `yaml:"unavailable,omitempty" json:"unavailable,omitempty"`
	UnavailableReason string      `yaml:"unavailable_reason,omitempty" json:"unavailable_reason,omitempty"`
	PromptTokens      int         `yaml:"prompt_tokens,omitempty" json:"prompt_tokens,omitempty"`
	CompletionTokens  int         `yaml:"completion_tokens,omitempty" json:"completion_tokens,omitempty"`
	ModelContextLimit int         `yaml:"model_context_limit,omitempty" json:"model_context_limit,omitempty"`
	OptimalMaxTokens  int         `yaml:"optimal_max_tokens,omitempty" json:"optimal_max_tokens,omitempty"`
	CriticalMaxTokens int         `yaml:"critical_max_tokens,omitempty" json:"critical_max_tokens,omitempty"`
	Level             HealthLevel `yaml:"level,omitempty" json:"level,omitempty"`
}

// EvaluateHealth computes a snapshot from the last generation's usage and the
// model's metadata. A missing context_length yields an unavailable snapshot;
// effective optimal/critical ceilings fall back to fractions of the limit.
func EvaluateHealth(usage Usage, meta *ModelMeta) HealthSnapshot {
	if meta == nil || meta.ContextLength <= 0 {
		return HealthSnapshot{Unavailable: true, UnavailableReason: "model_limit_unavailable"}
	}

	optimal := meta.OptimalMaxTokens
	if optimal <= 0 {
		optimal = meta.ContextLength * 6 / 10
	}
	critical := meta.CriticalMaxTokens
	if critical <= 0 {
		critical = meta.ContextLength * 9 / 10
	}

	level := HealthHealthy
	switch {
	case usage.PromptTokens > critical:
		level = HealthCritical
	case usage.PromptTokens > optimal:
		level = HealthCaution
	}

	return HealthSnapshot{
		PromptTokens:      usage.PromptTokens,
		CompletionTokens:  usage.CompletionTokens,
		ModelContextLimit: meta.ContextLength,
		OptimalMaxTokens:  optimal,
		CriticalMaxTokens: critical,
		Level:             level,
	}
}
