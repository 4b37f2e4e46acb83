package models

// SideEffect classifies what a tool may do to the outside world.
type SideEffect string

const (
	SideEffectPure        SideEffect = "PURE"
	SideEffectRead        SideEffect = "READ"
	SideEffectWrite       SideEffect = "WRITE"
	SideEffectDestructive SideEffect = "DESTRUCTIVE"
)

// Deterministic reports whether a tool of this class may be re-executed
// during replay and compared against its recorded output.
func (s SideEffect) Deterministic() bool {
	return s == SideEffectPure || s == SideEffectRead
}

// PolicyAction is the verdict of a policy evaluation.
type PolicyAction string

const (
	PolicyAllow           PolicyAction = "ALLOW"
	PolicyDeny            PolicyAction = "DENY"
	PolicyRequireApproval PolicyAction = "REQUIRE_APPROVAL"
)

// PolicyRule matches a side-effect class, optionally narrowed to a single
// tool name. A tool-specific rule always beats a class-wide rule.
type PolicyRule struct {
	SideEffect SideEffect   `json:"side_effect"`
	Tool       string       `json:"tool,omitempty"`
	Action     PolicyAction `json:"action"`
	Reason     string       `json:"reason,omitempty"`
}

// Policy maps side-effect classes (and optionally tool names) to verdicts.
// It is read-only for the life of a run.
type Policy struct {
	Rules         []PolicyRule `json:"rules,omitempty"`
	DefaultAction PolicyAction `json:"default_action"`
}

// Evaluate returns the verdict for a tool call. Tool-specific rules are
// consulted first, then class rules in declaration order, then the default.
func (p Policy) Evaluate(tool string, sideEffect SideEffect) (PolicyAction, string) {
	for _, rule := range p.Rules {
		if rule.Tool != "" && rule.Tool == tool && rule.SideEffect == sideEffect {
			return rule.Action, rule.Reason
		}
	}
	for _, rule := range p.Rules {
		if rule.Tool == "" && rule.SideEffect == sideEffect {
			return rule.Action, rule.Reason
		}
	}
	action := p.DefaultAction
	if action == "" {
		action = PolicyDeny
	}
	return action, "default policy"
}

// AllowAll is a permissive policy useful for tests and trusted runs.
func AllowAll() Policy {
	return Policy{DefaultAction: PolicyAllow}
}
