package introspect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"opsagent/internal/domain"
	"opsagent/internal/infra/breaker"
	"opsagent/internal/infra/toolreg"
)

const (
	RegistryName    = "ops"
	RegistryVersion = "1.0.0"

	ToolUsageStats    = "usage_stats"
	ToolBreakerStatus = "breaker_status"
	ToolResetBreaker  = "reset_breaker"
)

// StatsSource reports tool usage across registries.
type StatsSource interface {
	AggregatedStats(topN int) domain.UsageStats
}

type breakerView struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	FailureThreshold    int    `json:"failureThreshold"`
	OpenSeconds         int    `json:"openSeconds"`
	LastFailureAt       string `json:"lastFailureAt,omitempty"`
}

// NewRegistry exposes usage statistics and breaker state as tools.
func NewRegistry(stats StatsSource, breakers *breaker.Set, opts toolreg.Options) (*toolreg.Registry, error) {
	reg := toolreg.New(RegistryName, RegistryVersion, opts)
	readOnly := &domain.ToolAnnotations{ReadOnlyHint: true}

	tools := []toolreg.Tool{
		{
			Definition: domain.ToolDefinition{
				Name:        ToolUsageStats,
				Description: "Tool usage counts, success rate, average duration and recent errors.",
				Input: domain.InputShape{Fields: []domain.InputField{
					{Name: "topN", Type: domain.FieldInteger, Description: "Number of top tools and errors to return."},
				}},
				Annotations: readOnly,
			},
			Invoke: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
				var params struct {
					TopN int `json:"topN"`
				}
				if len(raw) > 0 {
					if err := json.Unmarshal(raw, &params); err != nil {
						return nil, domain.E(domain.CodeInvalidArgument, "usage stats", err.Error(), domain.ErrValidation)
					}
				}
				if params.TopN <= 0 {
					params.TopN = domain.DefaultUsageTopN
				}
				return json.Marshal(stats.AggregatedStats(params.TopN))
			},
		},
		{
			Definition: domain.ToolDefinition{
				Name:        ToolBreakerStatus,
				Description: "State of every circuit breaker.",
				Annotations: readOnly,
			},
			Invoke: func(context.Context, json.RawMessage) (json.RawMessage, error) {
				snapshots := breakers.Snapshots()
				out := make([]breakerView, 0, len(snapshots))
				for _, snap := range snapshots {
					view := breakerView{
						Name:                snap.Name,
						State:               string(snap.State),
						ConsecutiveFailures: snap.ConsecutiveFailures,
						FailureThreshold:    snap.FailureThreshold,
						OpenSeconds:         int(snap.OpenDuration.Seconds()),
					}
					if !snap.LastFailureAt.IsZero() {
						view.LastFailureAt = snap.LastFailureAt.UTC().Format(time.RFC3339)
					}
					out = append(out, view)
				}
				return json.Marshal(out)
			},
		},
		{
			Definition: domain.ToolDefinition{
				Name:        ToolResetBreaker,
				Description: "Close the circuit breaker of a dependency.",
				Input: domain.InputShape{Fields: []domain.InputField{
					{Name: "dependency", Type: domain.FieldString, Required: true},
				}},
				Annotations: &domain.ToolAnnotations{IdempotentHint: true},
			},
			Invoke: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
				var params struct {
					Dependency string `json:"dependency"`
				}
				if err := json.Unmarshal(raw, &params); err != nil {
					return nil, domain.E(domain.CodeInvalidArgument, "reset breaker", err.Error(), domain.ErrValidation)
				}
				if !breakers.Reset(params.Dependency) {
					return nil, domain.E(domain.CodeNotFound, "reset breaker", fmt.Sprintf("no breaker for dependency %q", params.Dependency), nil)
				}
				return json.Marshal(map[string]string{"dependency": params.Dependency, "state": string(breaker.StateClosed)})
			},
		},
	}
	for _, tool := range tools {
		if err := reg.RegisterTool(tool); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
