package catalog

import "github.com/hypothesize-tech/courier/event"

// Built-in platform event type names.
const (
	TypeCostAlert             = "cost.alert"
	TypeCostThresholdExceeded = "cost.threshold_exceeded"
	TypeCostSpikeDetected     = "cost.spike_detected"
	TypeBudgetExceeded        = "budget.exceeded"
	TypeOptimizationCompleted = "optimization.completed"
	TypeOptimizationSuggested = "optimization.suggested"
	TypeSecurityAlert         = "security.alert"
	TypeSecurityKeyCompromise = "security.key_compromised"
	TypeWorkflowCompleted     = "workflow.completed"
	TypeWorkflowFailed        = "workflow.failed"
	TypeAgentRunCompleted     = "agent.run_completed"
	TypeSystemHealth          = "system.health_degraded"
)

// Builtin returns the platform's built-in event type definitions with
// their enrichment defaults. Dynamic-severity types derive urgency from
// the magnitude of the event's change-percentage metric.
func Builtin() []Definition {
	return []Definition{
		{
			Name:               TypeCostAlert,
			Description:        "A tracked spend figure crossed an alerting rule.",
			Group:              "cost",
			DefaultTitle:       "Cost alert",
			DefaultDescription: "A cost alert rule was triggered.",
			DefaultSeverity:    event.SeverityMedium,
			SeverityMode:       SeverityDynamic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeCostThresholdExceeded,
			Description:        "Accumulated spend exceeded a configured threshold.",
			Group:              "cost",
			DefaultTitle:       "Cost threshold exceeded",
			DefaultDescription: "Spend passed a configured threshold.",
			DefaultSeverity:    event.SeverityHigh,
			SeverityMode:       SeverityDynamic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeCostSpikeDetected,
			Description:        "Spend increased sharply relative to the trailing baseline.",
			Group:              "cost",
			DefaultTitle:       "Cost spike detected",
			DefaultDescription: "An unusual increase in spend was detected.",
			DefaultSeverity:    event.SeverityHigh,
			SeverityMode:       SeverityDynamic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeBudgetExceeded,
			Description:        "A project budget was fully consumed.",
			Group:              "cost",
			DefaultTitle:       "Budget exceeded",
			DefaultDescription: "A project budget has been exhausted.",
			DefaultSeverity:    event.SeverityCritical,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeOptimizationCompleted,
			Description:        "An optimization run finished and produced results.",
			Group:              "optimization",
			DefaultTitle:       "Optimization completed",
			DefaultDescription: "An optimization run has finished.",
			DefaultSeverity:    event.SeverityLow,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeOptimizationSuggested,
			Description:        "The optimization engine produced a new suggestion.",
			Group:              "optimization",
			DefaultTitle:       "New optimization suggestion",
			DefaultDescription: "A new optimization suggestion is available.",
			DefaultSeverity:    event.SeverityLow,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeSecurityAlert,
			Description:        "A security rule fired for the account.",
			Group:              "security",
			DefaultTitle:       "Security alert",
			DefaultDescription: "A security rule was triggered.",
			DefaultSeverity:    event.SeverityCritical,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeSecurityKeyCompromise,
			Description:        "An API key showed signs of compromise.",
			Group:              "security",
			DefaultTitle:       "API key compromised",
			DefaultDescription: "An API key is suspected to be compromised.",
			DefaultSeverity:    event.SeverityCritical,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeWorkflowCompleted,
			Description:        "A workflow run completed successfully.",
			Group:              "workflow",
			DefaultTitle:       "Workflow completed",
			DefaultDescription: "A workflow run has completed.",
			DefaultSeverity:    event.SeverityLow,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeWorkflowFailed,
			Description:        "A workflow run terminated with an error.",
			Group:              "workflow",
			DefaultTitle:       "Workflow failed",
			DefaultDescription: "A workflow run has failed.",
			DefaultSeverity:    event.SeverityHigh,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeAgentRunCompleted,
			Description:        "A chat agent run finished.",
			Group:              "agent",
			DefaultTitle:       "Agent run completed",
			DefaultDescription: "A chat agent run has finished.",
			DefaultSeverity:    event.SeverityLow,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
		{
			Name:               TypeSystemHealth,
			Description:        "A platform component reported degraded health.",
			Group:              "system",
			DefaultTitle:       "System health degraded",
			DefaultDescription: "A platform component is degraded.",
			DefaultSeverity:    event.SeverityHigh,
			SeverityMode:       SeverityStatic,
			Version:            "2025-06-01",
		},
	}
}
