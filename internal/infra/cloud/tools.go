package cloud

import (
	"context"
	"encoding/json"
	"fmt"

	"opsagent/internal/domain"
	"opsagent/internal/infra/toolreg"
)

const (
	RegistryName    = "cloud"
	RegistryVersion = "1.0.0"

	ToolListResources = "list_resources"
	ToolGetCosts      = "get_costs"
	ToolSyncAccount   = "sync_account"

	SummaryResourceURI = "inventory://summary"
	PromptCostReview   = "cost_review"
)

type listResourcesParams struct {
	AccountID string `json:"accountId"`
	Type      string `json:"type"`
	Refresh   bool   `json:"refresh"`
}

type costsParams struct {
	AccountID string `json:"accountId"`
	Days      int    `json:"days"`
}

type syncParams struct {
	AccountID string `json:"accountId"`
}

const costReviewTemplate = `Review the cloud spend of account {{.accountId}} over the last {{if .days}}{{.days}}{{else}}30{{end}} days.
Call get_costs first, then list_resources to match the most expensive services to running resources.
Point out idle or oversized resources and estimate the monthly saving of each suggestion.`

// NewRegistry exposes svc as tools, a summary resource and a review prompt.
func NewRegistry(svc *Service, opts toolreg.Options) (*toolreg.Registry, error) {
	reg := toolreg.New(RegistryName, RegistryVersion, opts)
	readOnly := &domain.ToolAnnotations{ReadOnlyHint: true}

	tools := []toolreg.Tool{
		{
			Definition: domain.ToolDefinition{
				Name:        ToolListResources,
				Description: "List the resources discovered in a cloud account, optionally filtered by type.",
				Input: domain.InputShape{Fields: []domain.InputField{
					{Name: "accountId", Type: domain.FieldString, Required: true, Description: "Cloud account id."},
					{Name: "type", Type: domain.FieldString, Description: "Only return resources of this type."},
					{Name: "refresh", Type: domain.FieldBoolean, Description: "Bypass the cache."},
				}},
				Annotations: readOnly,
			},
			Invoke: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
				var params listResourcesParams
				if err := decodeParams(raw, &params); err != nil {
					return nil, err
				}
				resources, err := svc.ListResources(ctx, params.AccountID, params.Refresh)
				if err != nil {
					return nil, err
				}
				if params.Type != "" {
					filtered := resources[:0:0]
					for _, resource := range resources {
						if resource.Type == params.Type {
							filtered = append(filtered, resource)
						}
					}
					resources = filtered
				}
				return json.Marshal(map[string]any{"count": len(resources), "resources": resources})
			},
		},
		{
			Definition: domain.ToolDefinition{
				Name:        ToolGetCosts,
				Description: "Summarize billing of a cloud account by service over the last N days.",
				Input: domain.InputShape{Fields: []domain.InputField{
					{Name: "accountId", Type: domain.FieldString, Required: true, Description: "Cloud account id."},
					{Name: "days", Type: domain.FieldInteger, Description: "Window length in days, default 30."},
				}},
				Annotations: readOnly,
			},
			Invoke: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
				var params costsParams
				if err := decodeParams(raw, &params); err != nil {
					return nil, err
				}
				summary, err := svc.Costs(ctx, params.AccountID, params.Days)
				if err != nil {
					return nil, err
				}
				return json.Marshal(summary)
			},
		},
		{
			Definition: domain.ToolDefinition{
				Name:        ToolSyncAccount,
				Description: "Pull resources and billing of a cloud account into the local inventory.",
				Input: domain.InputShape{Fields: []domain.InputField{
					{Name: "accountId", Type: domain.FieldString, Required: true, Description: "Cloud account id."},
				}},
				Annotations: &domain.ToolAnnotations{IdempotentHint: true},
			},
			Invoke: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
				var params syncParams
				if err := decodeParams(raw, &params); err != nil {
					return nil, err
				}
				result, err := svc.SyncAccount(ctx, params.AccountID)
				if err != nil {
					return nil, err
				}
				return json.Marshal(result)
			},
		},
	}
	for _, tool := range tools {
		if err := reg.RegisterTool(tool); err != nil {
			return nil, err
		}
	}

	if err := reg.RegisterResource(toolreg.Resource{
		Definition: domain.ResourceDefinition{
			URI:         SummaryResourceURI,
			Name:        "inventory summary",
			Description: "Resource counts per account and type from the last sync.",
			MimeType:    "text/plain",
		},
		Read: svc.InventorySummary,
	}); err != nil {
		return nil, err
	}

	if err := reg.RegisterPrompt(toolreg.Prompt{Definition: domain.PromptDefinition{
		Name:        PromptCostReview,
		Description: "Guide a cost review of one account.",
		Arguments: []domain.PromptArgument{
			{Name: "accountId", Description: "Cloud account id.", Required: true},
			{Name: "days", Description: "Window length in days."},
		},
		Template: costReviewTemplate,
	}}); err != nil {
		return nil, err
	}
	return reg, nil
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.E(domain.CodeInvalidArgument, "decode params", fmt.Sprintf("invalid params: %v", err), domain.ErrValidation)
	}
	return nil
}
