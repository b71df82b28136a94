package cloud

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/cache"
	"opsagent/internal/infra/resilience"
	"opsagent/internal/infra/telemetry"
)

// Retry config names for provider calls.
const (
	OperationDiscover = "cloud_discover"
	OperationBilling  = "cloud_billing"

	DefaultCostWindowDays = 30
)

// CostSummary aggregates billing records over a window.
type CostSummary struct {
	AccountID string        `json:"accountId"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Total     float64       `json:"total"`
	Currency  string        `json:"currency,omitempty"`
	ByService []ServiceCost `json:"byService"`
	Records   int           `json:"records"`
}

type ServiceCost struct {
	Service string  `json:"service"`
	Amount  float64 `json:"amount"`
}

type SyncResult struct {
	AccountID      string    `json:"accountId"`
	Resources      int       `json:"resources"`
	BillingRecords int       `json:"billingRecords"`
	Invalidated    int       `json:"invalidated"`
	SyncedAt       time.Time `json:"syncedAt"`
}

type Options struct {
	Logger *zap.Logger
	Clock  func() time.Time
}

// Service reads inventory and billing from a provider through the guard,
// keeps hot results in caches and persists synced data to the store.
type Service struct {
	provider  domain.CloudProvider
	guard     *resilience.Guard
	store     domain.InventoryStore
	resources *cache.Cache[[]domain.CloudResource]
	costs     *cache.Cache[CostSummary]

	logger *zap.Logger
	now    func() time.Time
}

func NewService(provider domain.CloudProvider, guard *resilience.Guard, store domain.InventoryStore, resources *cache.Cache[[]domain.CloudResource], costs *cache.Cache[CostSummary], opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		provider:  provider,
		guard:     guard,
		store:     store,
		resources: resources,
		costs:     costs,
		logger:    logger.Named("cloud"),
		now:       clock,
	}
}

func (s *Service) Provider() string {
	return s.provider.Name()
}

// ListResources returns the account inventory. refresh bypasses the cache.
// When the provider circuit is open, the last synced inventory is served.
func (s *Service) ListResources(ctx context.Context, accountID string, refresh bool) ([]domain.CloudResource, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, domain.E(domain.CodeInvalidArgument, "list resources", "accountId is required", domain.ErrValidation)
	}
	key := resourcesKey(accountID)
	if refresh && s.resources != nil {
		s.resources.Delete(key)
	}

	resources, err := resilience.Cached(ctx, s.guard, s.resources, key, 0, s.policy(OperationDiscover, domain.LimiterAPI, accountID),
		func(ctx context.Context) ([]domain.CloudResource, error) {
			return s.provider.DiscoverResources(ctx, accountID)
		})
	if err == nil {
		return resources, nil
	}
	if !errors.Is(err, domain.ErrCircuitOpen) || s.store == nil {
		return nil, err
	}

	stored, storeErr := s.store.ListResources(ctx, accountID)
	if storeErr != nil || len(stored) == 0 {
		return nil, err
	}
	telemetry.LoggerWithRequest(ctx, s.logger).Warn("serving stored inventory while provider circuit is open",
		zap.String("account", accountID),
		zap.Int("resources", len(stored)),
	)
	return stored, nil
}

// Costs summarizes billing for the last days days, ending today.
func (s *Service) Costs(ctx context.Context, accountID string, days int) (CostSummary, error) {
	if strings.TrimSpace(accountID) == "" {
		return CostSummary{}, domain.E(domain.CodeInvalidArgument, "get costs", "accountId is required", domain.ErrValidation)
	}
	if days <= 0 {
		days = DefaultCostWindowDays
	}
	to := s.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.AddDate(0, 0, -days)
	key := costsKey(accountID, from, to)

	return resilience.Cached(ctx, s.guard, s.costs, key, 0, s.policy(OperationBilling, domain.LimiterAPI, accountID),
		func(ctx context.Context) (CostSummary, error) {
			records, err := s.provider.FetchBilling(ctx, accountID, from, to)
			if err != nil {
				return CostSummary{}, err
			}
			return summarize(accountID, from, to, records), nil
		})
}

// SyncAccount pulls inventory and billing for an account, persists both and
// drops cached results for it. Writes are keyed, so repeated syncs converge.
func (s *Service) SyncAccount(ctx context.Context, accountID string) (SyncResult, error) {
	if strings.TrimSpace(accountID) == "" {
		return SyncResult{}, domain.E(domain.CodeInvalidArgument, "sync account", "accountId is required", domain.ErrValidation)
	}
	if s.store == nil {
		return SyncResult{}, domain.E(domain.CodeUnavailable, "sync account", "no inventory store configured", nil)
	}
	logger := telemetry.LoggerWithRequest(ctx, s.logger)

	var resources []domain.CloudResource
	err := s.guard.Run(ctx, s.policy(OperationDiscover, domain.LimiterSync, accountID), func(ctx context.Context) error {
		found, err := s.provider.DiscoverResources(ctx, accountID)
		resources = found
		return err
	})
	if err != nil {
		return SyncResult{}, err
	}

	to := s.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.AddDate(0, 0, -DefaultCostWindowDays)
	var billing []domain.BillingRecord
	err = s.guard.Run(ctx, s.policy(OperationBilling, domain.LimiterSync, accountID), func(ctx context.Context) error {
		records, err := s.provider.FetchBilling(ctx, accountID, from, to)
		billing = records
		return err
	})
	if err != nil {
		return SyncResult{}, err
	}

	for i := range resources {
		if resources[i].AccountID == "" {
			resources[i].AccountID = accountID
		}
	}
	for i := range billing {
		if billing[i].AccountID == "" {
			billing[i].AccountID = accountID
		}
	}
	if err := s.store.PutResources(ctx, resources); err != nil {
		return SyncResult{}, fmt.Errorf("persist resources: %w", err)
	}
	if err := s.store.PutBilling(ctx, billing); err != nil {
		return SyncResult{}, fmt.Errorf("persist billing: %w", err)
	}

	result := SyncResult{
		AccountID:      accountID,
		Resources:      len(resources),
		BillingRecords: len(billing),
		Invalidated:    s.invalidate(accountID),
		SyncedAt:       s.now(),
	}
	logger.Info("account synced",
		zap.String("account", accountID),
		zap.Int("resources", result.Resources),
		zap.Int("billing_records", result.BillingRecords),
		zap.Int("invalidated", result.Invalidated),
	)
	return result, nil
}

// InventorySummary renders stored resource counts per account and type.
func (s *Service) InventorySummary(ctx context.Context) (string, error) {
	if s.store == nil {
		return "No inventory store configured.", nil
	}
	resources, err := s.store.ListResources(ctx, "")
	if err != nil {
		return "", err
	}
	if len(resources) == 0 {
		return "No resources synced yet.", nil
	}

	counts := make(map[string]map[string]int)
	for _, resource := range resources {
		byType, ok := counts[resource.AccountID]
		if !ok {
			byType = make(map[string]int)
			counts[resource.AccountID] = byType
		}
		byType[resource.Type]++
	}

	accounts := make([]string, 0, len(counts))
	for account := range counts {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	var b strings.Builder
	fmt.Fprintf(&b, "%d resources across %d accounts\n", len(resources), len(accounts))
	for _, account := range accounts {
		types := make([]string, 0, len(counts[account]))
		for typ := range counts[account] {
			types = append(types, typ)
		}
		sort.Strings(types)
		parts := make([]string, 0, len(types))
		for _, typ := range types {
			parts = append(parts, fmt.Sprintf("%s=%d", typ, counts[account][typ]))
		}
		fmt.Fprintf(&b, "- %s: %s\n", account, strings.Join(parts, ", "))
	}
	return b.String(), nil
}

func (s *Service) invalidate(accountID string) int {
	pattern := regexp.MustCompile("^(resources|costs):" + regexp.QuoteMeta(accountID) + "(:|$)")
	removed := 0
	if s.resources != nil {
		removed += s.resources.InvalidatePattern(pattern)
	}
	if s.costs != nil {
		removed += s.costs.InvalidatePattern(pattern)
	}
	return removed
}

func (s *Service) policy(operation, limiter, accountID string) resilience.Policy {
	return resilience.Policy{
		Operation:  operation,
		Dependency: domain.DependencyCloud,
		Limiter:    limiter,
		LimitKey:   accountID,
	}
}

func resourcesKey(accountID string) string {
	return "resources:" + accountID
}

func costsKey(accountID string, from, to time.Time) string {
	return fmt.Sprintf("costs:%s:%s:%s", accountID, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func summarize(accountID string, from, to time.Time, records []domain.BillingRecord) CostSummary {
	summary := CostSummary{AccountID: accountID, From: from, To: to, Records: len(records)}
	byService := make(map[string]float64)
	for _, record := range records {
		summary.Total += record.Amount
		byService[record.Service] += record.Amount
		if summary.Currency == "" {
			summary.Currency = record.Currency
		}
	}
	summary.ByService = make([]ServiceCost, 0, len(byService))
	for service, amount := range byService {
		summary.ByService = append(summary.ByService, ServiceCost{Service: service, Amount: amount})
	}
	sort.Slice(summary.ByService, func(i, j int) bool {
		if summary.ByService[i].Amount != summary.ByService[j].Amount {
			return summary.ByService[i].Amount > summary.ByService[j].Amount
		}
		return summary.ByService[i].Service < summary.ByService[j].Service
	})
	return summary
}
