package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CloudResource is a discovered infrastructure resource.
type CloudResource struct {
	ID        string            `json:"id"`
	AccountID string            `json:"accountId"`
	Provider  string            `json:"provider"`
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Region    string            `json:"region,omitempty"`
	State     string            `json:"state,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// BillingRecord is one line of raw billing data.
type BillingRecord struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	ResourceID string    `json:"resourceId,omitempty"`
	Service    string    `json:"service"`
	Date       time.Time `json:"date"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
}

// CloudProvider discovers resources and returns billing records for an account.
type CloudProvider interface {
	Name() string
	DiscoverResources(ctx context.Context, accountID string) ([]CloudResource, error)
	FetchBilling(ctx context.Context, accountID string, from, to time.Time) ([]BillingRecord, error)
}

// Provider error codes that signal transient conditions.
var retryableProviderCodes = map[string]struct{}{
	"throttling":                  {},
	"throttlingexception":         {},
	"toomanyrequests":             {},
	"toomanyrequestsexception":    {},
	"requestlimitexceeded":        {},
	"ratelimitexceeded":           {},
	"serviceunavailable":          {},
	"serviceunavailableexception": {},
	"internalerror":               {},
	"internalfailure":             {},
	"requesttimeout":              {},
	"requesttimeoutexception":     {},
	"timeout":                     {},
	"429":                         {},
	"500":                         {},
	"502":                         {},
	"503":                         {},
	"504":                         {},
}

// ProviderError is an error reported by a cloud provider API.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

// Retryable classifies the error by provider error code.
func (e *ProviderError) Retryable() bool {
	if e == nil {
		return false
	}
	code := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(e.Code))
	_, ok := retryableProviderCodes[code]
	return ok
}
