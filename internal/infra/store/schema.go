package store

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const (
	schemaVersion = 1

	rootBucketName          = "opsagent"
	metaBucketName          = "meta"
	conversationsBucketName = "conversations"
	resourcesBucketName     = "resources"
	billingBucketName       = "billing"
	versionKey              = "version"
)

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootBucketName))
		if err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		meta, err := root.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		for _, name := range []string{conversationsBucketName, resourcesBucketName, billingBucketName} {
			if _, err := root.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}

		current := readSchemaVersion(meta)
		switch {
		case current == 0:
			return writeSchemaVersion(meta, schemaVersion)
		case current > schemaVersion:
			return fmt.Errorf("unsupported store schema version %d", current)
		case current < schemaVersion:
			return fmt.Errorf("missing migration path from %d to %d", current, schemaVersion)
		default:
			return nil
		}
	})
}

func readSchemaVersion(meta *bolt.Bucket) int {
	if meta == nil {
		return 0
	}
	raw := meta.Get([]byte(versionKey))
	if len(raw) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(raw))
}

func writeSchemaVersion(meta *bolt.Bucket, version int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(version))
	return meta.Put([]byte(versionKey), buf)
}

// topBucket returns a bucket directly under the root bucket.
func topBucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(rootBucketName))
	if root == nil {
		return nil, fmt.Errorf("missing root bucket")
	}
	bucket := root.Bucket([]byte(name))
	if bucket == nil {
		return nil, fmt.Errorf("missing %s bucket", name)
	}
	return bucket, nil
}

// childBucket returns the nested bucket for key, creating it when asked.
func childBucket(tx *bolt.Tx, parent, key string, create bool) (*bolt.Bucket, error) {
	top, err := topBucket(tx, parent)
	if err != nil {
		return nil, err
	}
	if !create {
		return top.Bucket([]byte(key)), nil
	}
	bucket, err := top.CreateBucketIfNotExists([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("create %s/%s bucket: %w", parent, key, err)
	}
	return bucket, nil
}
