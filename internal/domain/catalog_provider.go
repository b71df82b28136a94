package domain

import (
	"context"
	"time"
)

// ConversationStore persists conversation turns per session.
// Appends must be safe to retry.
type ConversationStore interface {
	LoadTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	AppendTurns(ctx context.Context, sessionID string, turns []Turn) error
}

// InventoryStore persists discovered resources and billing records.
// Writes are keyed by record id, so replays overwrite instead of duplicating.
type InventoryStore interface {
	PutResources(ctx context.Context, resources []CloudResource) error
	ListResources(ctx context.Context, accountID string) ([]CloudResource, error)
	PutBilling(ctx context.Context, records []BillingRecord) error
	ListBilling(ctx context.Context, accountID string, from, to time.Time) ([]BillingRecord, error)
}

// ConfigProvider exposes the current runtime config and its updates.
type ConfigProvider interface {
	Snapshot() RuntimeConfig
	Watch(ctx context.Context) (<-chan RuntimeConfig, error)
}
