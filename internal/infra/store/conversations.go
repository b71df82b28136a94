package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"

	"opsagent/internal/domain"
)

// Turn keys are createdAt nanos, position in the batch and a content hash.
// Replaying the same batch writes the same keys.
const turnKeyLen = 8 + 4 + 8

func (s *Store) LoadTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, invalid("load turns", ErrMissingSession)
	}

	var turns []domain.Turn
	err := s.view(func(tx *bolt.Tx) error {
		bucket, err := childBucket(tx, conversationsBucketName, sessionID, false)
		if err != nil || bucket == nil {
			return err
		}
		cursor := bucket.Cursor()
		for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
			if limit > 0 && len(turns) >= limit {
				break
			}
			var turn domain.Turn
			if err := json.Unmarshal(value, &turn); err != nil {
				return fmt.Errorf("decode turn: %w", err)
			}
			turns = append(turns, turn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return invalid("append turns", ErrMissingSession)
	}
	if len(turns) == 0 {
		return nil
	}
	return s.update(func(tx *bolt.Tx) error {
		bucket, err := childBucket(tx, conversationsBucketName, sessionID, true)
		if err != nil {
			return err
		}
		for i, turn := range turns {
			raw, err := json.Marshal(turn)
			if err != nil {
				return fmt.Errorf("encode turn: %w", err)
			}
			if err := bucket.Put(turnKey(turn, i), raw); err != nil {
				return fmt.Errorf("write turn: %w", err)
			}
		}
		return nil
	})
}

// Sessions lists the stored conversation ids.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sessions []string
	err := s.view(func(tx *bolt.Tx) error {
		top, err := topBucket(tx, conversationsBucketName)
		if err != nil {
			return err
		}
		return top.ForEach(func(key, value []byte) error {
			if value == nil {
				sessions = append(sessions, string(key))
			}
			return nil
		})
	})
	return sessions, err
}

// DeleteSession removes a conversation. Missing sessions are not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		top, err := topBucket(tx, conversationsBucketName)
		if err != nil {
			return err
		}
		if top.Bucket([]byte(sessionID)) == nil {
			return nil
		}
		return top.DeleteBucket([]byte(sessionID))
	})
}

func turnKey(turn domain.Turn, position int) []byte {
	key := make([]byte, turnKeyLen)
	binary.BigEndian.PutUint64(key[0:8], uint64(turn.CreatedAt.UnixNano()))
	binary.BigEndian.PutUint32(key[8:12], uint32(position))
	sum := sha256.Sum256([]byte(string(turn.Role) + "\x00" + turn.ToolCallID + "\x00" + turn.Content))
	copy(key[12:], sum[:8])
	return key
}
