package cloud

import (
	"context"
	"fmt"
	"time"

	"opsagent/internal/domain"
)

const StaticProviderName = "static"

// StaticProvider serves accounts declared in the config file.
type StaticProvider struct {
	accounts map[string]domain.ProviderAccount
}

func NewStaticProvider(accounts []domain.ProviderAccount) *StaticProvider {
	index := make(map[string]domain.ProviderAccount, len(accounts))
	for _, account := range accounts {
		index[account.ID] = account
	}
	return &StaticProvider{accounts: index}
}

func (p *StaticProvider) Name() string {
	return StaticProviderName
}

func (p *StaticProvider) DiscoverResources(ctx context.Context, accountID string) ([]domain.CloudResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	account, err := p.account(accountID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CloudResource, 0, len(account.Resources))
	for _, resource := range account.Resources {
		resource.AccountID = accountID
		if resource.Provider == "" {
			resource.Provider = account.Provider
		}
		out = append(out, resource)
	}
	return out, nil
}

func (p *StaticProvider) FetchBilling(ctx context.Context, accountID string, from, to time.Time) ([]domain.BillingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	account, err := p.account(accountID)
	if err != nil {
		return nil, err
	}
	var out []domain.BillingRecord
	for _, record := range account.Billing {
		if record.Date.Before(from) || !record.Date.Before(to) {
			continue
		}
		record.AccountID = accountID
		out = append(out, record)
	}
	return out, nil
}

func (p *StaticProvider) account(accountID string) (domain.ProviderAccount, error) {
	account, ok := p.accounts[accountID]
	if !ok {
		return domain.ProviderAccount{}, &domain.ProviderError{
			Provider: StaticProviderName,
			Code:     "AccountNotFound",
			Message:  fmt.Sprintf("account %q is not configured", accountID),
		}
	}
	return account, nil
}

var _ domain.CloudProvider = (*StaticProvider)(nil)
