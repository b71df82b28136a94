package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"opsagent/internal/domain"
)

// PutResources upserts resources keyed by account and resource id.
func (s *Store) PutResources(ctx context.Context, resources []domain.CloudResource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, resource := range resources {
		if strings.TrimSpace(resource.AccountID) == "" {
			return invalid("put resources", ErrMissingAccount)
		}
		if strings.TrimSpace(resource.ID) == "" {
			return invalid("put resources", ErrMissingRecordKey)
		}
	}
	return s.update(func(tx *bolt.Tx) error {
		for _, resource := range resources {
			if err := putJSON(tx, resourcesBucketName, resource.AccountID, resource.ID, resource); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListResources returns resources of one account, or of every account when
// accountID is empty, ordered by account then id.
func (s *Store) ListResources(ctx context.Context, accountID string) ([]domain.CloudResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.CloudResource
	err := s.view(func(tx *bolt.Tx) error {
		return eachRecord(tx, resourcesBucketName, accountID, func(raw []byte) error {
			var resource domain.CloudResource
			if err := json.Unmarshal(raw, &resource); err != nil {
				return fmt.Errorf("decode resource: %w", err)
			}
			out = append(out, resource)
			return nil
		})
	})
	return out, err
}

// PutBilling upserts billing records keyed by account and record id.
func (s *Store) PutBilling(ctx context.Context, records []domain.BillingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, record := range records {
		if strings.TrimSpace(record.AccountID) == "" {
			return invalid("put billing", ErrMissingAccount)
		}
		if strings.TrimSpace(record.ID) == "" {
			return invalid("put billing", ErrMissingRecordKey)
		}
	}
	return s.update(func(tx *bolt.Tx) error {
		for _, record := range records {
			if err := putJSON(tx, billingBucketName, record.AccountID, record.ID, record); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListBilling returns records dated in [from, to). A zero bound is open.
func (s *Store) ListBilling(ctx context.Context, accountID string, from, to time.Time) ([]domain.BillingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.BillingRecord
	err := s.view(func(tx *bolt.Tx) error {
		return eachRecord(tx, billingBucketName, accountID, func(raw []byte) error {
			var record domain.BillingRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("decode billing record: %w", err)
			}
			if !from.IsZero() && record.Date.Before(from) {
				return nil
			}
			if !to.IsZero() && !record.Date.Before(to) {
				return nil
			}
			out = append(out, record)
			return nil
		})
	})
	return out, err
}

func putJSON(tx *bolt.Tx, parent, accountID, id string, value any) error {
	bucket, err := childBucket(tx, parent, accountID, true)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s record %s: %w", parent, id, err)
	}
	if err := bucket.Put([]byte(id), raw); err != nil {
		return fmt.Errorf("write %s record %s: %w", parent, id, err)
	}
	return nil
}

func eachRecord(tx *bolt.Tx, parent, accountID string, fn func([]byte) error) error {
	if accountID != "" {
		bucket, err := childBucket(tx, parent, accountID, false)
		if err != nil || bucket == nil {
			return err
		}
		return bucket.ForEach(func(_, value []byte) error {
			return fn(value)
		})
	}
	top, err := topBucket(tx, parent)
	if err != nil {
		return err
	}
	return top.ForEach(func(key, value []byte) error {
		if value != nil {
			return nil
		}
		account := top.Bucket(key)
		if account == nil {
			return nil
		}
		return account.ForEach(func(_, raw []byte) error {
			return fn(raw)
		})
	})
}
